//go:build linux

package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// NetlinkConfigurator configures the interface in-process over netlink.
type NetlinkConfigurator struct{}

func newNetlinkConfigurator() (Configurator, error) {
	return &NetlinkConfigurator{}, nil
}

func (c *NetlinkConfigurator) Configure(ctx context.Context, iface, cidr string) error {
	if err := ValidateInterface(iface); err != nil {
		return err
	}

	addr, err := netlink.ParseAddr(cidr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", cidr, err)
	}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return fmt.Errorf("failed to find interface %s: %w", iface, err)
	}

	log := logrus.WithField("interface", iface)

	if err := netlink.LinkSetDown(link); err != nil {
		log.WithError(err).Debug("Unable to bring link down before configuring")
	}
	flush(link, log)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("failed to add %s to %s: %w", cidr, iface, err)
	}
	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("failed to bring %s up: %w", iface, err)
	}

	log.WithField("address", cidr).Info("Network interface configured")
	return nil
}

func (c *NetlinkConfigurator) Teardown(ctx context.Context, iface string) error {
	if err := ValidateInterface(iface); err != nil {
		return err
	}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		var notFound netlink.LinkNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to find interface %s: %w", iface, err)
	}

	log := logrus.WithField("interface", iface)
	flush(link, log)
	if err := netlink.LinkSetDown(link); err != nil {
		log.WithError(err).Warn("Unable to bring link down")
	}
	return nil
}

func flush(link netlink.Link, log *logrus.Entry) {
	addrs, err := netlink.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		log.WithError(err).Warn("Unable to list addresses")
		return
	}

	for i := range addrs {
		if err := netlink.AddrDel(link, &addrs[i]); err != nil {
			log.WithError(err).WithField("address", addrs[i].IPNet.String()).Debug("Unable to remove address")
		}
	}
}
