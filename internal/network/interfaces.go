// Package network reads host interface details and configures the address
// of the USB Ethernet interface exposed by the PXE gadget.
package network

import (
	"fmt"
	"net"
	"regexp"
	"sort"
	"strings"
)

// wifiNames are tried before scanning for any wl* interface.
var wifiNames = []string{"wlan0", "wlan1", "wlp2s0", "wlp3s0"}

// InterfaceMAC returns the hardware address of an interface.
func InterfaceMAC(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("failed to get interface %s: %w", name, err)
	}

	mac := iface.HardwareAddr.String()
	if mac == "" {
		return "", fmt.Errorf("no MAC address found for interface %s", name)
	}
	return mac, nil
}

// AllMACs maps interface names to hardware addresses, skipping interfaces
// without one.
func AllMACs() (map[string]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to get network interfaces: %w", err)
	}

	result := make(map[string]string)
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" {
			result[iface.Name] = mac
		}
	}
	return result, nil
}

// FindWiFiInterface returns the name and MAC of the first wireless interface.
func FindWiFiInterface() (string, string, error) {
	for _, name := range wifiNames {
		if mac, err := InterfaceMAC(name); err == nil {
			return name, mac, nil
		}
	}

	all, err := AllMACs()
	if err != nil {
		return "", "", err
	}
	return firstWireless(all)
}

// firstWireless picks the lowest-sorted wl* interface so the choice is
// stable across runs.
func firstWireless(macs map[string]string) (string, string, error) {
	names := make([]string, 0, len(macs))
	for name := range macs {
		if strings.HasPrefix(name, "wl") {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return names[0], macs[names[0]], nil
	}

	return "", "", fmt.Errorf("no WiFi interface found")
}

// MACFormat selects how FormatMAC renders an address.
type MACFormat int

const (
	// MACFormatColon renders aa:bb:cc:dd:ee:ff.
	MACFormatColon MACFormat = iota
	// MACFormatHyphen renders aa-bb-cc-dd-ee-ff.
	MACFormatHyphen
	// MACFormatNone renders aabbccddeeff.
	MACFormatNone
	// MACFormatUSBSerial renders the 12 hex digits used as a USB serial
	// number, upper case.
	MACFormatUSBSerial
)

// FormatMAC rewrites a MAC address given with colons, hyphens or no
// separators. Input that is not 12 hex digits is returned unchanged.
func FormatMAC(mac string, format MACFormat) string {
	cleaned := strings.NewReplacer(":", "", "-", "").Replace(mac)
	if len(cleaned) != 12 {
		return mac
	}
	cleaned = strings.ToLower(cleaned)

	switch format {
	case MACFormatNone:
		return cleaned
	case MACFormatUSBSerial:
		return strings.ToUpper(cleaned)
	}

	sep := ":"
	if format == MACFormatHyphen {
		sep = "-"
	}
	pairs := make([]string, 0, 6)
	for i := 0; i < 12; i += 2 {
		pairs = append(pairs, cleaned[i:i+2])
	}
	return strings.Join(pairs, sep)
}

// SerialFromWiFi derives a USB serial number from the WiFi MAC, returning
// fallback when no wireless interface is present.
func SerialFromWiFi(fallback string) string {
	_, mac, err := FindWiFiInterface()
	if err != nil {
		return fallback
	}
	return FormatMAC(mac, MACFormatUSBSerial)
}

// ValidateMAC checks that s is a 48-bit MAC address in colon notation.
func ValidateMAC(s string) error {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return fmt.Errorf("invalid MAC address %q: expected 6 bytes", s)
	}
	return nil
}

var interfaceName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateInterface checks that name is a usable Linux interface name.
func ValidateInterface(name string) error {
	if name == "" || len(name) > 15 {
		return fmt.Errorf("invalid interface name %q", name)
	}
	if !interfaceName.MatchString(name) {
		return fmt.Errorf("invalid interface name %q", name)
	}
	return nil
}

// ValidateCIDR checks that s is an address with prefix length, such as
// 192.168.42.1/24.
func ValidateCIDR(s string) error {
	if _, _, err := net.ParseCIDR(s); err != nil {
		return fmt.Errorf("invalid address %q: %w", s, err)
	}
	return nil
}
