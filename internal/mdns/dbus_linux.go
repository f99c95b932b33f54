package mdns

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	avahiService    = "org.freedesktop.Avahi"
	avahiServer     = "org.freedesktop.Avahi.Server"
	avahiEntryGroup = "org.freedesktop.Avahi.EntryGroup"
)

// DBusPublisher publishes services using Avahi's DBus interface
type DBusPublisher struct {
	conn           *dbus.Conn
	entryGroupPath dbus.ObjectPath
}

// NewDBusPublisher connects to the system bus.
func NewDBusPublisher() (*DBusPublisher, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &DBusPublisher{conn: conn}, nil
}

// txtBytes converts TXT records to the aay DBus argument.
func txtBytes(records []string) [][]byte {
	out := make([][]byte, len(records))
	for i, r := range records {
		out[i] = []byte(r)
	}
	return out
}

// PublishService registers s in a new entry group and commits it.
func (p *DBusPublisher) PublishService(s *Service) error {
	server := p.conn.Object(avahiService, "/")

	var group dbus.ObjectPath
	if err := server.Call(avahiServer+".EntryGroupNew", 0).Store(&group); err != nil {
		return fmt.Errorf("failed to create entry group: %w", err)
	}
	p.entryGroupPath = group

	entryGroup := p.conn.Object(avahiService, group)

	// interface, protocol, flags, name, type, domain, host, port, txt
	err := entryGroup.Call(avahiEntryGroup+".AddService", 0,
		int32(-1), // all interfaces
		int32(-1), // IPv4 and IPv6
		uint32(0),
		s.Name,
		s.Type,
		s.Domain,
		s.Host,
		uint16(s.Port),
		txtBytes(s.TXTRecords),
	).Store()
	if err != nil {
		return fmt.Errorf("failed to add service: %w", err)
	}

	if err := entryGroup.Call(avahiEntryGroup+".Commit", 0).Store(); err != nil {
		return fmt.Errorf("failed to commit entry group: %w", err)
	}
	return nil
}

// Stop unpublishes the service and closes the bus connection.
func (p *DBusPublisher) Stop() error {
	if p.entryGroupPath != "" {
		entryGroup := p.conn.Object(avahiService, p.entryGroupPath)
		if err := entryGroup.Call(avahiEntryGroup+".Reset", 0).Store(); err != nil {
			return fmt.Errorf("failed to reset entry group: %w", err)
		}
		if err := entryGroup.Call(avahiEntryGroup+".Free", 0).Store(); err != nil {
			return fmt.Errorf("failed to free entry group: %w", err)
		}
		p.entryGroupPath = ""
	}

	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

// IsAvahiDBusAvailable checks if Avahi answers on the system bus
func IsAvahiDBusAvailable() bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var version string
	err = conn.Object(avahiService, "/").Call(avahiServer+".GetVersionString", 0).Store(&version)
	return err == nil
}
