package gadget

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olinky/olinkyd/internal/rootshell"
)

// testEnv is a configfs-shaped directory tree driven through sh.
type testEnv struct {
	t      *testing.T
	dir    string
	layout Layout
	shell  *rootshell.Shell

	mu      sync.Mutex
	scripts []string
	// intercept answers a script instead of sh when it returns true.
	intercept func(script string) (rootshell.Result, bool)
	notRoot   bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	e := &testEnv{
		t:   t,
		dir: dir,
		layout: Layout{
			ConfigFSMount: dir,
			GadgetRoot:    filepath.Join(dir, "usb_gadget"),
			UDCClass:      filepath.Join(dir, "udc"),
		},
		shell: &rootshell.Shell{Binary: "sh"},
	}
	require.NoError(t, os.MkdirAll(e.layout.GadgetRoot, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(e.layout.UDCClass, "dummy_udc"), 0o755))
	return e
}

func (e *testEnv) RunScript(ctx context.Context, script string, timeout time.Duration) rootshell.Result {
	if script == "id -u" {
		if e.notRoot {
			return rootshell.Result{Stdout: []string{"2000"}}
		}
		return rootshell.Result{Stdout: []string{"0"}}
	}

	e.mu.Lock()
	e.scripts = append(e.scripts, script)
	intercept := e.intercept
	e.mu.Unlock()

	if intercept != nil {
		if res, ok := intercept(script); ok {
			return res
		}
	}
	return e.shell.RunScript(ctx, script, timeout)
}

func (e *testEnv) options() Options {
	return Options{Timeout: 20 * time.Second, Settle: "0", VerifyDelay: 10 * time.Millisecond}
}

func (e *testEnv) image(name string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, "sdcard", name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte("image"), 0o644))
	return path
}

func (e *testEnv) gadgetPath(elems ...string) string {
	return filepath.Join(append([]string{e.layout.GadgetRoot}, elems...)...)
}

func (e *testEnv) read(elems ...string) string {
	e.t.Helper()
	b, err := os.ReadFile(e.gadgetPath(elems...))
	require.NoError(e.t, err)
	return strings.TrimSpace(string(b))
}

// makeGadget creates a populated gadget directory as a previous run would
// have left it.
func (e *testEnv) makeGadget(name, function, udc string) {
	e.t.Helper()
	g := e.gadgetPath(name)
	fn := filepath.Join(g, "functions", function)
	cfg := filepath.Join(g, "configs", "c.1")
	require.NoError(e.t, os.MkdirAll(filepath.Join(fn, "lun.0"), 0o755))
	require.NoError(e.t, os.MkdirAll(filepath.Join(cfg, "strings", "0x409"), 0o755))
	require.NoError(e.t, os.MkdirAll(filepath.Join(g, "strings", "0x409"), 0o755))
	require.NoError(e.t, os.WriteFile(filepath.Join(fn, "lun.0", "file"), []byte("/old.img\n"), 0o644))
	require.NoError(e.t, os.WriteFile(filepath.Join(g, "UDC"), []byte(udc+"\n"), 0o644))
	require.NoError(e.t, os.Symlink(fn, filepath.Join(cfg, function)))
}

// denyMkdir puts a mkdir wrapper first on PATH that refuses any path
// matching one of the shell patterns.
func (e *testEnv) denyMkdir(patterns ...string) {
	e.t.Helper()
	real, err := exec.LookPath("mkdir")
	require.NoError(e.t, err)

	var b strings.Builder
	b.WriteString("#!/bin/sh\nfor a in \"$@\"; do\n  case \"$a\" in\n")
	for _, p := range patterns {
		b.WriteString("    " + p + ") echo \"mkdir: $a: Permission denied\" >&2; exit 1;;\n")
	}
	b.WriteString("  esac\ndone\nexec " + real + " \"$@\"\n")

	bin := filepath.Join(e.dir, "bin")
	require.NoError(e.t, os.MkdirAll(bin, 0o755))
	require.NoError(e.t, os.WriteFile(filepath.Join(bin, "mkdir"), []byte(b.String()), 0o755))
	e.shell.Env = append(os.Environ(), "PATH="+bin+":"+os.Getenv("PATH"))
}

func (e *testEnv) ranScript(contains string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.scripts {
		if strings.Contains(s, contains) {
			n++
		}
	}
	return n
}

// fakeNet records configurator calls.
type fakeNet struct {
	mu          sync.Mutex
	configured  []string
	tornDown    []string
	configErr   error
	teardownErr error
}

func (f *fakeNet) Configure(_ context.Context, iface, cidr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = append(f.configured, iface+" "+cidr)
	return f.configErr
}

func (f *fakeNet) Teardown(_ context.Context, iface string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tornDown = append(f.tornDown, iface)
	return f.teardownErr
}
