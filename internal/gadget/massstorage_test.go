package gadget

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olinky/olinkyd/internal/rootshell"
)

func TestApplyMassStorage(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())
	image := e.image("os.iso")

	d := DefaultMassStorage(image)
	d.Serial = "AABBCCDDEEFF"

	binding, err := m.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, Binding{Gadget: "olinky", Function: "mass_storage.usb0", UDC: "dummy_udc", Bound: true}, binding)

	assert.Equal(t, "0x1d6b", e.read("olinky", "idVendor"))
	assert.Equal(t, "0x0104", e.read("olinky", "idProduct"))
	assert.Equal(t, "0x0200", e.read("olinky", "bcdUSB"))
	assert.Equal(t, "AABBCCDDEEFF", e.read("olinky", "strings", "0x409", "serialnumber"))
	assert.Equal(t, "oLinky", e.read("olinky", "strings", "0x409", "manufacturer"))
	assert.Equal(t, "oLinky Mass Storage", e.read("olinky", "strings", "0x409", "product"))
	assert.Equal(t, "Mass Storage", e.read("olinky", "configs", "c.1", "strings", "0x409", "configuration"))
	assert.Equal(t, "250", e.read("olinky", "configs", "c.1", "MaxPower"))
	assert.Equal(t, image, e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "file"))
	assert.Equal(t, "1", e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "ro"))
	assert.Equal(t, "1", e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "removable"))
	assert.NoFileExists(t, e.gadgetPath("olinky", "functions", "mass_storage.usb0", "lun.0", "cdrom"))
	assert.Equal(t, "dummy_udc", e.read("olinky", "UDC"))

	target, err := os.Readlink(e.gadgetPath("olinky", "configs", "c.1", "mass_storage.usb0"))
	require.NoError(t, err)
	assert.Equal(t, e.gadgetPath("olinky", "functions", "mass_storage.usb0"), target)

	path, ok, err := m.MountedImagePath(context.Background(), "olinky")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, image, path)

	bound, err := m.IsBound(context.Background(), "olinky")
	require.NoError(t, err)
	assert.True(t, bound)
}

func TestApplyMassStorageAwkwardPath(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())
	image := e.image(`Bob's "Rescue" $(disk).iso`)

	d := DefaultMassStorage(image)
	d.ReadOnly = false
	d.CDROM = true
	d.Product = "it's a `drive`"

	_, err := m.Apply(context.Background(), d)
	require.NoError(t, err)

	path, ok, err := m.MountedImagePath(context.Background(), "olinky")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, image, path)
	assert.Equal(t, "0", e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "ro"))
	assert.Equal(t, "1", e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "cdrom"))
	assert.Equal(t, "it's a `drive`", e.read("olinky", "strings", "0x409", "product"))
}

func TestTearDownIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		report, err := m.TearDown(context.Background(), "olinky")
		require.NoError(t, err)
		assert.False(t, report.Residual)
		assert.NoDirExists(t, e.gadgetPath("olinky"))
	}

	entries, err := os.ReadDir(e.layout.GadgetRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	state, err := m.State(context.Background(), "olinky")
	require.NoError(t, err)
	assert.Equal(t, State{}, state)
}

func TestTearDownWithoutConfigFS(t *testing.T) {
	e := newTestEnv(t)
	layout := e.layout
	layout.GadgetRoot = filepath.Join(e.dir, "missing", "usb_gadget")
	m := NewMassStorage(e, layout, e.options())

	report, err := m.TearDown(context.Background(), "olinky")
	require.NoError(t, err)
	assert.False(t, report.Residual)
}

func TestTearDownPartialTree(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())

	// Function created but never linked, no strings, no UDC file.
	require.NoError(t, os.MkdirAll(e.gadgetPath("olinky", "functions", "mass_storage.0", "lun.0"), 0o755))
	require.NoError(t, os.WriteFile(e.gadgetPath("olinky", "idVendor"), []byte("0x1d6b\n"), 0o644))

	report, err := m.TearDown(context.Background(), "olinky")
	require.NoError(t, err)
	assert.False(t, report.Residual)
	assert.NoDirExists(t, e.gadgetPath("olinky"))
}

func TestTearDownExecutorFailure(t *testing.T) {
	e := newTestEnv(t)
	e.intercept = func(script string) (rootshell.Result, bool) {
		return rootshell.Result{ExitCode: rootshell.ExitExecutorFailure, Stderr: []string{"timed out after 15s"}}, true
	}
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.TearDown(context.Background(), "olinky")
	assert.True(t, IsKind(err, KindExecutor))
}

func TestTearDownResidualDirectory(t *testing.T) {
	e := newTestEnv(t)
	e.intercept = func(script string) (rootshell.Result, bool) {
		if strings.HasPrefix(script, "# teardown") {
			return rootshell.Result{Stdout: []string{"residual=1"}}, true
		}
		return rootshell.Result{}, false
	}
	m := NewMassStorage(e, e.layout, e.options())

	report, err := m.TearDown(context.Background(), "olinky")
	require.NoError(t, err)
	assert.True(t, report.Residual)
}

func TestApplyReplacesBoundGadgets(t *testing.T) {
	e := newTestEnv(t)
	e.makeGadget("olinky", "mass_storage.0", "dummy_udc")
	e.makeGadget("adb", "ffs.adb", "dummy_udc")
	m := NewMassStorage(e, e.layout, e.options())
	image := e.image("new.img")

	_, err := m.Apply(context.Background(), DefaultMassStorage(image))
	require.NoError(t, err)

	// The stale function of the previous gadget is gone.
	functions, err := os.ReadDir(e.gadgetPath("olinky", "functions"))
	require.NoError(t, err)
	require.Len(t, functions, 1)
	assert.Equal(t, "mass_storage.usb0", functions[0].Name())
	assert.Equal(t, image, e.read("olinky", "functions", "mass_storage.usb0", "lun.0", "file"))

	// No two gadgets share the controller.
	assert.Equal(t, "", e.read("adb", "UDC"))
	assert.Equal(t, "dummy_udc", e.read("olinky", "UDC"))
}

func TestApplyWithoutUDC(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.layout.UDCClass, "dummy_udc")))
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindUDCNotFound), "got %v", err)

	// Rolled back: nothing left that references a function.
	assert.NoDirExists(t, e.gadgetPath("olinky"))
	assert.Equal(t, 1, e.ranScript("# teardown olinky"))
}

func TestApplyImageChecks(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(filepath.Join(e.dir, "sdcard", "missing.iso")))
	assert.True(t, IsKind(err, KindImageNotFound), "got %v", err)
	assert.NoDirExists(t, e.gadgetPath("olinky"))

	_, err = m.Apply(context.Background(), DefaultMassStorage(e.dir))
	assert.True(t, IsKind(err, KindImageUnreadable), "got %v", err)
}

func TestApplyImageCheckKeepsExistingGadget(t *testing.T) {
	e := newTestEnv(t)
	e.makeGadget("olinky", "mass_storage.0", "dummy_udc")
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(filepath.Join(e.dir, "missing.iso")))
	require.Error(t, err)

	assert.DirExists(t, e.gadgetPath("olinky", "functions", "mass_storage.0"))
	assert.Equal(t, "dummy_udc", e.read("olinky", "UDC"))
	assert.Equal(t, 0, e.ranScript("# teardown olinky"))
}

func TestApplyConfigFSUnavailable(t *testing.T) {
	e := newTestEnv(t)
	layout := e.layout
	layout.ConfigFSMount = filepath.Join(e.dir, "no-config")
	layout.GadgetRoot = filepath.Join(e.dir, "no-config", "usb_gadget")
	m := NewMassStorage(e, layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	assert.True(t, IsKind(err, KindConfigFSUnavailable), "got %v", err)
}

func TestApplyRootUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.notRoot = true
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	assert.True(t, IsKind(err, KindRootUnavailable))
	assert.Empty(t, e.scripts)
}

func TestApplyInvalidDescriptor(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())

	d := DefaultMassStorage("relative.iso")
	_, err := m.Apply(context.Background(), d)
	assert.True(t, IsKind(err, KindInvalid))

	d = DefaultMassStorage(e.image("os.iso"))
	d.Name = "../escape"
	_, err = m.Apply(context.Background(), d)
	assert.True(t, IsKind(err, KindInvalid))
	assert.Empty(t, e.scripts)
}

func TestApplyFunctionFallback(t *testing.T) {
	e := newTestEnv(t)
	e.denyMkdir("*/mass_storage.disk", "*/mass_storage.usb0")
	m := NewMassStorage(e, e.layout, e.options())

	d := DefaultMassStorage(e.image("os.iso"))
	d.FunctionName = "disk"
	assert.Equal(t, []string{"mass_storage.disk", "mass_storage.usb0", "mass_storage.0"}, d.FunctionCandidates())

	binding, err := m.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "mass_storage.0", binding.Function)
	assert.DirExists(t, e.gadgetPath("olinky", "functions", "mass_storage.0"))
	target, err := os.Readlink(e.gadgetPath("olinky", "configs", "c.1", "mass_storage.0"))
	require.NoError(t, err)
	assert.Equal(t, e.gadgetPath("olinky", "functions", "mass_storage.0"), target)
}

func TestApplyNoFunction(t *testing.T) {
	e := newTestEnv(t)
	e.denyMkdir("*/mass_storage.*")
	m := NewMassStorage(e, e.layout, e.options())

	_, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	assert.True(t, IsKind(err, KindFunctionUnavailable), "got %v", err)
	assert.NoDirExists(t, e.gadgetPath("olinky"))
}

func TestApplyWithoutAutoBind(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())

	d := DefaultMassStorage(e.image("os.iso"))
	d.AutoBind = false

	binding, err := m.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.False(t, binding.Bound)
	assert.Equal(t, "dummy_udc", binding.UDC)
	assert.NoFileExists(t, e.gadgetPath("olinky", "UDC"))

	bound, err := m.IsBound(context.Background(), "olinky")
	require.NoError(t, err)
	assert.False(t, bound)
}

func TestApplyUDCSelection(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.Mkdir(filepath.Join(e.layout.UDCClass, "musb-hdrc"), 0o755))
	m := NewMassStorage(e, e.layout, e.options())

	d := DefaultMassStorage(e.image("os.iso"))
	d.PreferredUDCs = []string{"a600000.dwc3", "musb-hdrc"}
	binding, err := m.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "musb-hdrc", binding.UDC)

	d.UDC = "manual.udc"
	binding, err = m.Apply(context.Background(), d)
	require.NoError(t, err)
	assert.Equal(t, "manual.udc", binding.UDC)
	assert.Equal(t, "manual.udc", e.read("olinky", "UDC"))
}

func TestApplyVerificationFailure(t *testing.T) {
	e := newTestEnv(t)
	e.intercept = func(script string) (rootshell.Result, bool) {
		if strings.HasPrefix(script, "# query") {
			return rootshell.Result{Stdout: []string{"exists=1", "udc=", "file=/sdcard/os.iso"}}, true
		}
		return rootshell.Result{}, false
	}
	m := NewMassStorage(e, e.layout, e.options())

	binding, err := m.Apply(context.Background(), DefaultMassStorage(e.image("os.iso")))
	assert.True(t, IsKind(err, KindVerification), "got %v", err)
	assert.False(t, binding.Bound)
	assert.Equal(t, 3, e.ranScript("# query olinky"))
}

func TestApplySerialized(t *testing.T) {
	e := newTestEnv(t)
	m := NewMassStorage(e, e.layout, e.options())
	image := e.image("os.iso")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"olinky", "olinky2"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			d := DefaultMassStorage(image)
			d.Name = name
			_, errs[i] = m.Apply(context.Background(), d)
		}(i, name)
	}
	wg.Wait()

	// Each apply verifies its own binding before releasing the lock, so
	// both succeed and the later one holds the controller alone.
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	bound := 0
	for _, name := range []string{"olinky", "olinky2"} {
		ok, err := m.IsBound(context.Background(), name)
		require.NoError(t, err)
		if ok {
			bound++
		}
	}
	assert.Equal(t, 1, bound)
}
