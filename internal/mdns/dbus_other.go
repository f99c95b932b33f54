//go:build !linux

package mdns

import "errors"

var errNoDBus = errors.New("DBus-based Avahi publishing is only available on Linux")

// DBusPublisher stub for non-Linux platforms
type DBusPublisher struct{}

func NewDBusPublisher() (*DBusPublisher, error) {
	return nil, errNoDBus
}

func (p *DBusPublisher) PublishService(*Service) error {
	return errNoDBus
}

func (p *DBusPublisher) Stop() error {
	return nil
}

// IsAvahiDBusAvailable always returns false on non-Linux platforms
func IsAvahiDBusAvailable() bool {
	return false
}
