package gadget

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olinky/olinkyd/internal/network"
	"github.com/olinky/olinkyd/internal/probe"
)

// Descriptor identifies one configfs gadget.
type Descriptor struct {
	Name         string `json:"name"`
	VendorID     uint16 `json:"vendor_id"`
	ProductID    uint16 `json:"product_id"`
	BcdDevice    uint16 `json:"bcd_device,omitempty"`
	BcdUSB       uint16 `json:"bcd_usb"`
	Manufacturer string `json:"manufacturer"`
	Product      string `json:"product"`
	Serial       string `json:"serial"`
	ConfigLabel  string `json:"config_label"`
	MaxPower     int    `json:"max_power"`
	FunctionName string `json:"function_name"`
}

// MassStorageDescriptor exposes one disk image as LUN 0.
type MassStorageDescriptor struct {
	Descriptor
	ImagePath string `json:"image_path"`
	ReadOnly  bool   `json:"read_only"`
	CDROM     bool   `json:"cdrom"`
	AutoBind  bool   `json:"auto_bind"`
	// UDC overrides controller discovery when set.
	UDC string `json:"udc,omitempty"`
	// PreferredUDCs are tried in order before the first listed controller.
	PreferredUDCs []string `json:"preferred_udcs,omitempty"`
}

// PXEDescriptor exposes a USB Ethernet function.
type PXEDescriptor struct {
	Descriptor
	Interface  string `json:"interface"`
	DeviceCIDR string `json:"device_cidr"`
	HostMAC    string `json:"host_mac"`
	DeviceMAC  string `json:"device_mac"`
	UDC        string `json:"udc,omitempty"`

	PreferredUDCs []string `json:"preferred_udcs,omitempty"`
}

// Default gadget names.
const (
	MassStorageGadget = "olinky"
	PXEGadget         = "olinky_pxe"
)

// DefaultMassStorage returns the descriptor used to expose imagePath.
func DefaultMassStorage(imagePath string) MassStorageDescriptor {
	return MassStorageDescriptor{
		Descriptor: Descriptor{
			Name:         MassStorageGadget,
			VendorID:     0x1d6b,
			ProductID:    0x0104,
			BcdDevice:    0x0100,
			BcdUSB:       0x0200,
			Manufacturer: "oLinky",
			Product:      "oLinky Mass Storage",
			Serial:       "oLinky",
			ConfigLabel:  "Mass Storage",
			MaxPower:     250,
			FunctionName: "usb0",
		},
		ImagePath: imagePath,
		ReadOnly:  true,
		AutoBind:  true,
	}
}

// DefaultPXE returns the RNDIS/ECM gadget descriptor.
func DefaultPXE() PXEDescriptor {
	return PXEDescriptor{
		Descriptor: Descriptor{
			Name:         PXEGadget,
			VendorID:     0x1d6b,
			ProductID:    0x0105,
			BcdUSB:       0x0200,
			Manufacturer: "oLinky",
			Product:      "PXE Boot Gadget",
			Serial:       "oLinkyPXE",
			ConfigLabel:  "PXE",
			MaxPower:     500,
			FunctionName: "usb0",
		},
		Interface:  "usb0",
		DeviceCIDR: "192.168.42.1/24",
		HostMAC:    "02:00:00:00:00:01",
		DeviceMAC:  "02:00:00:00:00:02",
	}
}

// ValidateName rejects gadget names that are not a single path element.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid gadget name %q", name)
	}
	if strings.ContainsAny(name, "/\x00\n") {
		return fmt.Errorf("invalid gadget name %q", name)
	}
	return nil
}

func (d Descriptor) validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if d.FunctionName == "" || strings.ContainsAny(d.FunctionName, "/\x00\n") {
		return fmt.Errorf("invalid function name %q", d.FunctionName)
	}
	if d.MaxPower < 0 {
		return fmt.Errorf("invalid max power %d", d.MaxPower)
	}
	return nil
}

// Validate checks a mass storage descriptor before any script is built.
func (d MassStorageDescriptor) Validate() error {
	if err := d.Descriptor.validate(); err != nil {
		return err
	}
	if d.ImagePath == "" || !filepath.IsAbs(d.ImagePath) {
		return fmt.Errorf("image path must be absolute: %q", d.ImagePath)
	}
	return nil
}

// Validate checks a PXE descriptor before any script is built.
func (d PXEDescriptor) Validate() error {
	if err := d.Descriptor.validate(); err != nil {
		return err
	}
	if err := network.ValidateInterface(d.Interface); err != nil {
		return err
	}
	if err := network.ValidateCIDR(d.DeviceCIDR); err != nil {
		return err
	}
	if err := network.ValidateMAC(d.HostMAC); err != nil {
		return err
	}
	return network.ValidateMAC(d.DeviceMAC)
}

// FunctionCandidates lists the mass storage function directories tried in
// order. Kernels differ in which instance names they accept.
func (d MassStorageDescriptor) FunctionCandidates() []string {
	return probe.Dedupe([]string{
		"mass_storage." + d.FunctionName,
		"mass_storage.usb0",
		"mass_storage.0",
	})
}

// FunctionCandidates lists the Ethernet functions tried in order: RNDIS
// first, ECM when RNDIS cannot be created.
func (d PXEDescriptor) FunctionCandidates() []string {
	return []string{"rndis." + d.Interface, "ecm." + d.Interface}
}

func hex16(v uint16) string {
	return fmt.Sprintf("0x%04x", v)
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
