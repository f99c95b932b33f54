// Package mdns advertises the control API on the local network through
// Avahi.
package mdns

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// HTTPType is the DNS-SD type of the control API.
const HTTPType = "_http._tcp"

// Service represents an Avahi service registration
type Service struct {
	Name   string // Service name (e.g., "oLinky")
	Type   string // Service type (e.g., "_http._tcp")
	Port   int
	Domain string // Domain, empty for .local
	Host   string // Hostname, empty for the system hostname
	// TXT records, key=value
	TXTRecords []string
}

// Advertiser is a running service registration.
type Advertiser interface {
	Stop() error
}

// ControlAPI returns the service describing the HTTP API. A path record
// pointing at /api is added unless txt already has one.
func ControlAPI(name string, port int, txt ...string) Service {
	records := append([]string(nil), txt...)
	hasPath := false
	for _, r := range records {
		if strings.HasPrefix(r, "path=") {
			hasPath = true
		}
	}
	if !hasPath {
		records = append([]string{"path=/api"}, records...)
	}
	return Service{Name: name, Type: HTTPType, Port: port, TXTRecords: records}
}

// Validate rejects registrations Avahi would refuse.
func (s Service) Validate() error {
	if s.Name == "" || len(s.Name) > 63 {
		return fmt.Errorf("invalid service name %q", s.Name)
	}
	if !strings.HasPrefix(s.Type, "_") || !strings.Contains(s.Type, "._") {
		return fmt.Errorf("invalid service type %q", s.Type)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("invalid port %d", s.Port)
	}
	for _, r := range s.TXTRecords {
		if len(r) > 255 || strings.HasPrefix(r, "=") || r == "" {
			return fmt.Errorf("invalid TXT record %q", r)
		}
	}
	return nil
}

// Advertise publishes s through the Avahi DBus API when preferDBus is set
// and the daemon answers, falling back to avahi-publish-service.
func Advertise(s Service, preferDBus bool) (Advertiser, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"service": s.Name, "type": s.Type, "port": s.Port})

	if preferDBus && IsAvahiDBusAvailable() {
		p, err := NewDBusPublisher()
		if err == nil {
			if err = p.PublishService(&s); err == nil {
				log.Info("Advertising over Avahi DBus")
				return p, nil
			}
			p.Stop()
		}
		log.WithError(err).Warn("Avahi DBus publish failed, trying avahi-publish-service")
	}

	p := NewPublisher()
	if err := p.Publish(&s); err != nil {
		return nil, err
	}
	log.Info("Advertising with avahi-publish-service")
	return p, nil
}
