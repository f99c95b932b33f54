package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadJSONOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "olinkyd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":9090},"pxe":{"interface":"usb1"}}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "usb1", cfg.PXE.Interface)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "su", cfg.Shell.Binary)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "olinkyd.yaml")
	data := "configfs:\n  profile: pixel_gki\n  udc: a600000.dwc3\nlogging:\n  level: debug\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "pixel_gki", cfg.ConfigFS.Profile)
	assert.Equal(t, "a600000.dwc3", cfg.ConfigFS.UDC)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/config", cfg.ConfigFS.Mount)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"bad.json":  `{"mass_storage":{"vendor_id":"1d6b"}}`,
		"mode.json": `{"pxe":{"network_mode":"dhcp"}}`,
		"port.json": `{"server":{"port":70000}}`,
		"syn.json":  `{"server":`,
	}
	for name, content := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.Images.Dir = "/data/images"

	for _, name := range []string{"nested/olinkyd.json", "olinkyd.yml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.Save(path))

		loaded, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestParseHex(t *testing.T) {
	v, err := ParseHex("0x1d6b")
	require.NoError(t, err)
	assert.Equal(t, 0x1d6b, v)

	_, err = ParseHex("1d6b")
	assert.Error(t, err)

	_, err = ParseHex16("0x10000")
	assert.Error(t, err)
}

func TestResolveConfigFSMountPassThrough(t *testing.T) {
	got, err := ResolveConfigFSMount("/config")
	require.NoError(t, err)
	assert.Equal(t, "/config", got)
}

func TestLayout(t *testing.T) {
	cfg := Default()
	cfg.ConfigFS.Mount = "/sys/kernel/config"

	l, err := cfg.Layout()
	require.NoError(t, err)
	assert.Equal(t, "/sys/kernel/config", l.ConfigFSMount)
	assert.Equal(t, "/sys/kernel/config/usb_gadget", l.GadgetRoot)
	assert.Equal(t, "/sys/class/udc", l.UDCClass)
}

func TestMassStorageTemplate(t *testing.T) {
	cfg := Default()
	cfg.MassStorage.ProductID = "0x0200"
	cfg.MassStorage.ReadOnly = false
	cfg.ConfigFS.Profile = "samsung_exynos"

	d, err := cfg.MassStorageTemplate()
	require.NoError(t, err)
	assert.Equal(t, "olinky", d.Name)
	assert.Equal(t, uint16(0x1d6b), d.VendorID)
	assert.Equal(t, uint16(0x0200), d.ProductID)
	assert.False(t, d.ReadOnly)
	assert.True(t, d.AutoBind)
	assert.Equal(t, "oLinky", d.Serial)
	assert.Equal(t, []string{"exynos-udc", "s3c-hsotg"}, d.PreferredUDCs)

	cfg.ConfigFS.Profile = "nokia"
	_, err = cfg.MassStorageTemplate()
	assert.Error(t, err)
}

func TestPXEDescriptor(t *testing.T) {
	cfg := Default()
	cfg.PXE.Interface = "usb1"
	cfg.PXE.CIDR = "10.0.0.1/24"

	d, err := cfg.PXEDescriptor()
	require.NoError(t, err)
	assert.Equal(t, "olinky_pxe", d.Name)
	assert.Equal(t, "usb1", d.Interface)
	assert.Equal(t, "usb1", d.FunctionName)
	assert.Equal(t, "10.0.0.1/24", d.DeviceCIDR)
	assert.Equal(t, uint16(0x0105), d.ProductID)

	cfg.PXE.CIDR = "not-a-cidr"
	_, err = cfg.PXEDescriptor()
	assert.Error(t, err)
}
