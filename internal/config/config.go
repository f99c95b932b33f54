package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/moby/sys/mountinfo"
	"gopkg.in/yaml.v2"
)

// Auto asks for a value to be discovered at startup.
const Auto = "auto"

// Config represents the daemon configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Privileged shell used for every configfs change
	Shell ShellConfig `json:"shell" yaml:"shell"`

	ConfigFS ConfigFSConfig `json:"configfs" yaml:"configfs"`

	// Mass storage gadget identity
	MassStorage MassStorageConfig `json:"mass_storage" yaml:"mass_storage"`

	// PXE network gadget
	PXE PXEConfig `json:"pxe" yaml:"pxe"`

	// SELinux helper module
	Module ModuleConfig `json:"module" yaml:"module"`

	Images ImagesConfig `json:"images" yaml:"images"`

	// mDNS/Avahi configuration
	MDNS MDNSConfig `json:"mdns" yaml:"mdns"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Timeout settings in seconds
	ReadTimeout  int `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout int `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  int `json:"idle_timeout" yaml:"idle_timeout"`

	// CORS settings
	CORS CORSConfig `json:"cors" yaml:"cors"`
}

// CORSConfig contains CORS settings
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
}

type LoggingConfig struct {
	// debug, info, warn or error
	Level string `json:"level" yaml:"level"`
	File  string `json:"file" yaml:"file"`
}

type ShellConfig struct {
	// Binary is invoked as "<binary> -c <script>"
	Binary         string `json:"binary" yaml:"binary"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ConfigFSConfig locates the gadget tree and the device controllers.
type ConfigFSConfig struct {
	// Mount is the configfs mount point, or "auto" to read it from
	// /proc/self/mountinfo.
	Mount    string `json:"mount" yaml:"mount"`
	UDCClass string `json:"udc_class" yaml:"udc_class"`

	// Profile names a device family whose controllers are preferred.
	Profile string `json:"profile" yaml:"profile"`
	// UDC forces a controller and skips discovery.
	UDC string `json:"udc" yaml:"udc"`

	// Settle is passed to sleep(1) between unbind and removal
	Settle string `json:"settle" yaml:"settle"`

	VerifyAttempts int `json:"verify_attempts" yaml:"verify_attempts"`
}

// MassStorageConfig contains USB mass storage gadget settings
type MassStorageConfig struct {
	ShortName    string `json:"short_name" yaml:"short_name"`
	VendorID     string `json:"vendor_id" yaml:"vendor_id"`
	ProductID    string `json:"product_id" yaml:"product_id"`
	BCDDevice    string `json:"bcd_device" yaml:"bcd_device"`
	BCDUSB       string `json:"bcd_usb" yaml:"bcd_usb"`
	ProductName  string `json:"product_name" yaml:"product_name"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	// Serial is the USB serial number; "auto" derives it from the WiFi MAC.
	Serial string `json:"serial" yaml:"serial"`

	ReadOnly bool `json:"read_only" yaml:"read_only"`
	CDROM    bool `json:"cdrom" yaml:"cdrom"`
	AutoBind bool `json:"auto_bind" yaml:"auto_bind"`
}

// PXEConfig contains the network gadget settings
type PXEConfig struct {
	ShortName string `json:"short_name" yaml:"short_name"`
	VendorID  string `json:"vendor_id" yaml:"vendor_id"`
	ProductID string `json:"product_id" yaml:"product_id"`
	Interface string `json:"interface" yaml:"interface"`
	CIDR      string `json:"cidr" yaml:"cidr"`
	HostMAC   string `json:"host_mac" yaml:"host_mac"`
	DeviceMAC string `json:"device_mac" yaml:"device_mac"`

	// NetworkMode is "shell" (ip via the privileged shell) or "netlink"
	NetworkMode string `json:"network_mode" yaml:"network_mode"`
}

type ModuleConfig struct {
	ID          string `json:"id" yaml:"id"`
	PackagePath string `json:"package_path" yaml:"package_path"`
	CacheDir    string `json:"cache_dir" yaml:"cache_dir"`
	Manager     string `json:"manager" yaml:"manager"`
}

// ImagesConfig contains the image library settings
type ImagesConfig struct {
	Dir string `json:"dir" yaml:"dir"`

	// Maximum upload size in MB
	MaxUploadMB int64 `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// MDNSConfig contains mDNS/Avahi service discovery settings
type MDNSConfig struct {
	// Enable mDNS service advertisement
	Enabled bool `json:"enabled" yaml:"enabled"`

	ServiceName string `json:"service_name" yaml:"service_name"`

	// Use DBus API (more reliable than command-line)
	UseDBus bool `json:"use_dbus" yaml:"use_dbus"`

	// Additional TXT records (key=value pairs)
	TXTRecords []string `json:"txt_records" yaml:"txt_records"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 60,
			IdleTimeout:  60,
			CORS: CORSConfig{
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"*"},
				AllowCredentials: false,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Shell: ShellConfig{
			Binary:         "su",
			TimeoutSeconds: 15,
		},
		ConfigFS: ConfigFSConfig{
			Mount:          "/config",
			UDCClass:       "/sys/class/udc",
			Profile:        "generic",
			Settle:         "0.2",
			VerifyAttempts: 3,
		},
		MassStorage: MassStorageConfig{
			ShortName:    "olinky",
			VendorID:     "0x1d6b",
			ProductID:    "0x0104",
			BCDDevice:    "0x0100",
			BCDUSB:       "0x0200",
			ProductName:  "oLinky Mass Storage",
			Manufacturer: "oLinky",
			Serial:       "oLinky",
			ReadOnly:     true,
			AutoBind:     true,
		},
		PXE: PXEConfig{
			ShortName:   "olinky_pxe",
			VendorID:    "0x1d6b",
			ProductID:   "0x0105",
			Interface:   "usb0",
			CIDR:        "192.168.42.1/24",
			HostMAC:     "02:00:00:00:00:01",
			DeviceMAC:   "02:00:00:00:00:02",
			NetworkMode: "shell",
		},
		Module: ModuleConfig{
			ID:          "olinky-selinux",
			PackagePath: "/data/local/tmp/olinky-selinux.zip",
			Manager:     "magisk",
		},
		Images: ImagesConfig{
			Dir:         "/sdcard/oLinky",
			MaxUploadMB: 8192,
		},
		MDNS: MDNSConfig{
			Enabled:     false,
			ServiceName: "oLinky",
			UseDBus:     true,
			TXTRecords: []string{
				"path=/api",
				"version=1.0",
			},
		},
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load loads configuration from a JSON or YAML file, chosen by extension.
// If the file doesn't exist, it returns the default configuration
func Load(path string) (*Config, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default() // Start with defaults
	if isYAML(path) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Save writes the configuration in the format matching the file extension
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that would otherwise only fail once a gadget is
// applied.
func (c *Config) Validate() error {
	for name, v := range map[string]string{
		"mass_storage.vendor_id":  c.MassStorage.VendorID,
		"mass_storage.product_id": c.MassStorage.ProductID,
		"mass_storage.bcd_device": c.MassStorage.BCDDevice,
		"mass_storage.bcd_usb":    c.MassStorage.BCDUSB,
		"pxe.vendor_id":           c.PXE.VendorID,
		"pxe.product_id":          c.PXE.ProductID,
	} {
		if _, err := ParseHex16(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	switch c.PXE.NetworkMode {
	case "", "shell", "netlink":
	default:
		return fmt.Errorf("pxe.network_mode: unknown mode %q", c.PXE.NetworkMode)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	return nil
}

// ShellTimeout returns the per-script timeout.
func (c *Config) ShellTimeout() time.Duration {
	if c.Shell.TimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Shell.TimeoutSeconds) * time.Second
}

// ParseHex converts a hex string (like "0x1d6b") to an integer
func ParseHex(s string) (int, error) {
	var val int
	_, err := fmt.Sscanf(s, "0x%x", &val)
	if err != nil {
		return 0, fmt.Errorf("invalid hex value %s: %w", s, err)
	}
	return val, nil
}

// ParseHex16 is ParseHex limited to USB descriptor fields.
func ParseHex16(s string) (uint16, error) {
	v, err := ParseHex(s)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0xffff {
		return 0, fmt.Errorf("hex value %s does not fit in 16 bits", s)
	}
	return uint16(v), nil
}

// ResolveConfigFSMount returns mount unchanged unless it is "auto", in which
// case the first configfs mount point of this process is returned.
func ResolveConfigFSMount(mount string) (string, error) {
	if mount != Auto {
		return mount, nil
	}

	mounts, err := mountinfo.GetMounts(mountinfo.FSTypeFilter("configfs"))
	if err != nil {
		return "", fmt.Errorf("failed to read mount table: %w", err)
	}
	if len(mounts) == 0 {
		return "", fmt.Errorf("configfs is not mounted")
	}
	return mounts[0].Mountpoint, nil
}
