package config

import (
	"fmt"
	"path/filepath"

	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/network"
)

// Layout resolves the configfs locations.
func (c *Config) Layout() (gadget.Layout, error) {
	mount, err := ResolveConfigFSMount(c.ConfigFS.Mount)
	if err != nil {
		return gadget.Layout{}, err
	}

	l := gadget.DefaultLayout()
	if mount != "" {
		l.ConfigFSMount = mount
		l.GadgetRoot = filepath.Join(mount, "usb_gadget")
	}
	if c.ConfigFS.UDCClass != "" {
		l.UDCClass = c.ConfigFS.UDCClass
	}
	return l, nil
}

// GadgetOptions returns the execution options shared by both managers.
func (c *Config) GadgetOptions() gadget.Options {
	opts := gadget.Options{
		Timeout: c.ShellTimeout(),
		Settle:  c.ConfigFS.Settle,
	}
	if c.ConfigFS.VerifyAttempts > 0 {
		opts.VerifyAttempts = uint(c.ConfigFS.VerifyAttempts)
	}
	return opts
}

// PreferredUDCs returns the controllers of the configured profile.
func (c *Config) PreferredUDCs() ([]string, error) {
	if c.ConfigFS.Profile == "" {
		return nil, nil
	}
	p, ok := gadget.LookupProfile(c.ConfigFS.Profile)
	if !ok {
		return nil, fmt.Errorf("configfs.profile: unknown profile %q", c.ConfigFS.Profile)
	}
	return p.UDCCandidates, nil
}

// MassStorageTemplate returns the mass storage descriptor without an image.
func (c *Config) MassStorageTemplate() (gadget.MassStorageDescriptor, error) {
	ms := c.MassStorage
	d := gadget.DefaultMassStorage("")

	var err error
	if d.VendorID, err = ParseHex16(ms.VendorID); err != nil {
		return d, fmt.Errorf("mass_storage.vendor_id: %w", err)
	}
	if d.ProductID, err = ParseHex16(ms.ProductID); err != nil {
		return d, fmt.Errorf("mass_storage.product_id: %w", err)
	}
	if d.BcdDevice, err = ParseHex16(ms.BCDDevice); err != nil {
		return d, fmt.Errorf("mass_storage.bcd_device: %w", err)
	}
	if d.BcdUSB, err = ParseHex16(ms.BCDUSB); err != nil {
		return d, fmt.Errorf("mass_storage.bcd_usb: %w", err)
	}
	if ms.ShortName != "" {
		d.Name = ms.ShortName
	}
	if ms.ProductName != "" {
		d.Product = ms.ProductName
	}
	if ms.Manufacturer != "" {
		d.Manufacturer = ms.Manufacturer
	}
	switch ms.Serial {
	case "":
	case Auto:
		d.Serial = network.SerialFromWiFi(d.Serial)
	default:
		d.Serial = ms.Serial
	}

	d.ReadOnly = ms.ReadOnly
	d.CDROM = ms.CDROM
	d.AutoBind = ms.AutoBind
	d.UDC = c.ConfigFS.UDC
	if d.PreferredUDCs, err = c.PreferredUDCs(); err != nil {
		return d, err
	}
	return d, nil
}

// PXEDescriptor returns the network gadget descriptor.
func (c *Config) PXEDescriptor() (gadget.PXEDescriptor, error) {
	p := c.PXE
	d := gadget.DefaultPXE()

	var err error
	if d.VendorID, err = ParseHex16(p.VendorID); err != nil {
		return d, fmt.Errorf("pxe.vendor_id: %w", err)
	}
	if d.ProductID, err = ParseHex16(p.ProductID); err != nil {
		return d, fmt.Errorf("pxe.product_id: %w", err)
	}
	if p.ShortName != "" {
		d.Name = p.ShortName
	}
	if p.Interface != "" {
		d.Interface = p.Interface
		d.FunctionName = p.Interface
	}
	if p.CIDR != "" {
		d.DeviceCIDR = p.CIDR
	}
	if p.HostMAC != "" {
		d.HostMAC = p.HostMAC
	}
	if p.DeviceMAC != "" {
		d.DeviceMAC = p.DeviceMAC
	}

	d.UDC = c.ConfigFS.UDC
	if d.PreferredUDCs, err = c.PreferredUDCs(); err != nil {
		return d, err
	}
	return d, d.Validate()
}
