//go:build !linux

package network

import "errors"

func newNetlinkConfigurator() (Configurator, error) {
	return nil, errors.New("netlink network mode is only supported on Linux")
}
