package gadget

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPXE(e *testEnv) (*PXE, *fakeNet) {
	net := &fakeNet{}
	return NewPXE(e, e.layout, DefaultPXE(), net, e.options()), net
}

func TestStartPXE(t *testing.T) {
	e := newTestEnv(t)
	p, net := newTestPXE(e)

	binding, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Binding{Gadget: "olinky_pxe", Function: "rndis.usb0", UDC: "dummy_udc", Bound: true}, binding)

	assert.Equal(t, "0x1d6b", e.read("olinky_pxe", "idVendor"))
	assert.Equal(t, "0x0105", e.read("olinky_pxe", "idProduct"))
	assert.Equal(t, "PXE Boot Gadget", e.read("olinky_pxe", "strings", "0x409", "product"))
	assert.Equal(t, "oLinkyPXE", e.read("olinky_pxe", "strings", "0x409", "serialnumber"))
	assert.Equal(t, "PXE", e.read("olinky_pxe", "configs", "c.1", "strings", "0x409", "configuration"))
	assert.Equal(t, "500", e.read("olinky_pxe", "configs", "c.1", "MaxPower"))
	assert.Equal(t, "02:00:00:00:00:01", e.read("olinky_pxe", "functions", "rndis.usb0", "host_addr"))
	assert.Equal(t, "02:00:00:00:00:02", e.read("olinky_pxe", "functions", "rndis.usb0", "dev_addr"))
	assert.NoDirExists(t, e.gadgetPath("olinky_pxe", "functions", "ecm.usb0"))

	assert.Equal(t, []string{"usb0 192.168.42.1/24"}, net.configured)

	running, err := p.IsRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
}

func TestStartPXEFallsBackToECM(t *testing.T) {
	e := newTestEnv(t)
	e.denyMkdir("*/rndis.*")
	p, net := newTestPXE(e)

	binding, err := p.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ecm.usb0", binding.Function)
	assert.True(t, binding.Bound)

	assert.NoDirExists(t, e.gadgetPath("olinky_pxe", "functions", "rndis.usb0"))
	assert.Equal(t, "02:00:00:00:00:01", e.read("olinky_pxe", "functions", "ecm.usb0", "host_addr"))

	target, err := os.Readlink(e.gadgetPath("olinky_pxe", "configs", "c.1", "ecm.usb0"))
	require.NoError(t, err)
	assert.Equal(t, e.gadgetPath("olinky_pxe", "functions", "ecm.usb0"), target)
	assert.Len(t, net.configured, 1)
}

func TestStartPXENoEthernetFunction(t *testing.T) {
	e := newTestEnv(t)
	e.denyMkdir("*/rndis.*", "*/ecm.*")
	p, net := newTestPXE(e)

	_, err := p.Start(context.Background())
	assert.True(t, IsKind(err, KindFunctionUnavailable), "got %v", err)
	assert.NoDirExists(t, e.gadgetPath("olinky_pxe"))
	assert.Empty(t, net.configured)
}

func TestStartPXENetworkFailure(t *testing.T) {
	e := newTestEnv(t)
	p, net := newTestPXE(e)
	net.configErr = errors.New("RTNETLINK answers: Operation not permitted")

	binding, err := p.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.ErrorIs(t, err, net.configErr)

	// The gadget itself stays up.
	assert.True(t, binding.Bound)
	running, err := p.IsRunning(context.Background())
	require.NoError(t, err)
	assert.True(t, running)
}

func TestStartPXEReleasesMassStorage(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())
	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	require.NoError(t, err)

	p, _ := newTestPXE(e)
	_, err = p.Start(context.Background())
	require.NoError(t, err)

	bound, err := m.IsBound(context.Background(), "olinky")
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestStopPXE(t *testing.T) {
	e := newTestEnv(t)
	p, net := newTestPXE(e)

	_, err := p.Start(context.Background())
	require.NoError(t, err)

	report, err := p.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Residual)
	assert.NoDirExists(t, e.gadgetPath("olinky_pxe"))

	running, err := p.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)

	// Stop only touches the gadget.
	assert.Empty(t, net.tornDown)

	_, err = p.Stop(context.Background())
	assert.NoError(t, err)
}

func TestTeardownNetworkIndependentOfGadget(t *testing.T) {
	e := newTestEnv(t)
	p, net := newTestPXE(e)

	require.NoError(t, p.TeardownNetwork(context.Background()))
	assert.Equal(t, []string{"usb0"}, net.tornDown)

	net.teardownErr = errors.New("Cannot find device \"usb0\"")
	err := p.TeardownNetwork(context.Background())
	assert.True(t, IsKind(err, KindNetwork))
}

func TestStartPXERootUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.notRoot = true
	p, net := newTestPXE(e)

	_, err := p.Start(context.Background())
	assert.True(t, IsKind(err, KindRootUnavailable))
	assert.Empty(t, e.scripts)
	assert.Empty(t, net.configured)
}

func TestStartPXEWithoutUDC(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.layout.UDCClass, "dummy_udc")))
	p, _ := newTestPXE(e)

	_, err := p.Start(context.Background())
	assert.True(t, IsKind(err, KindUDCNotFound))
	assert.NoDirExists(t, e.gadgetPath("olinky_pxe"))
}

func TestPXEServersArePlaceholders(t *testing.T) {
	e := newTestEnv(t)
	p, _ := newTestPXE(e)

	assert.NoError(t, p.StartServers(context.Background()))
	assert.NoError(t, p.StopServers(context.Background()))
	assert.Empty(t, e.scripts)
}

func TestPXEDescriptorValidation(t *testing.T) {
	d := DefaultPXE()
	require.NoError(t, d.Validate())
	assert.Equal(t, []string{"rndis.usb0", "ecm.usb0"}, d.FunctionCandidates())

	bad := d
	bad.HostMAC = "02:00:00"
	assert.Error(t, bad.Validate())

	bad = d
	bad.DeviceCIDR = "192.168.42.1"
	assert.Error(t, bad.Validate())

	bad = d
	bad.Interface = "usb0;reboot"
	assert.Error(t, bad.Validate())
}
