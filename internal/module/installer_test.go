package module

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olinky/olinkyd/internal/rootshell"
)

// scripted answers scripts by substring match and records every script.
type scripted struct {
	scripts []string
	rules   []rule
}

type rule struct {
	contains string
	result   rootshell.Result
}

func (s *scripted) on(contains string, res rootshell.Result) *scripted {
	s.rules = append(s.rules, rule{contains, res})
	return s
}

func (s *scripted) RunScript(_ context.Context, script string, _ time.Duration) rootshell.Result {
	s.scripts = append(s.scripts, script)
	for _, r := range s.rules {
		if strings.Contains(script, r.contains) {
			return r.result
		}
	}
	return rootshell.Result{ExitCode: 1}
}

func (s *scripted) ran(contains string) bool {
	for _, script := range s.scripts {
		if strings.Contains(script, contains) {
			return true
		}
	}
	return false
}

var (
	asRoot = rootshell.Result{Stdout: []string{"0"}}
	ok     = rootshell.Result{}
	yes    = rootshell.Result{Stdout: []string{"1"}}
)

func testOptions(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	pkg := filepath.Join(dir, "olinky-selinux-helper.zip")
	require.NoError(t, os.WriteFile(pkg, []byte("PK\x03\x04"), 0o600))

	cache := filepath.Join(dir, "cache")
	require.NoError(t, os.Mkdir(cache, 0o755))

	return Options{PackagePath: pkg, CacheDir: cache}
}

func cacheEntries(t *testing.T, opts Options) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(opts.CacheDir)
	require.NoError(t, err)
	return entries
}

func TestRootUnavailable(t *testing.T) {
	opts := testOptions(t)
	runner := (&scripted{}).on("id -u", rootshell.Result{Stdout: []string{"2000"}})

	status := NewInstaller(runner, opts).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusRootUnavailable, status)
	assert.Equal(t, []string{"id -u"}, runner.scripts)
	assert.Empty(t, cacheEntries(t, opts))
}

func TestExecutorFailureMeansRootUnavailable(t *testing.T) {
	runner := (&scripted{}).on("id -u", rootshell.Result{ExitCode: rootshell.ExitExecutorFailure})

	status := NewInstaller(runner, testOptions(t)).CheckAndInstallIfNeeded(context.Background())
	assert.Equal(t, StatusRootUnavailable, status)
}

func TestCanaryWritable(t *testing.T) {
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("olinky_canary", ok)

	status := NewInstaller(runner, testOptions(t)).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusOK, status)
	assert.Len(t, runner.scripts, 2)
	assert.Contains(t, runner.scripts[1], "/config/usb_gadget/olinky_canary")
}

func TestInstalledPerModuleList(t *testing.T) {
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("[ -x /system/bin/magisk ]", ok).
		on("--list-modules", rootshell.Result{Stdout: []string{"busybox-ndk", "olinky-selinux"}})

	status := NewInstaller(runner, testOptions(t)).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusNeedsReboot, status)
	assert.True(t, runner.ran("/system/bin/magisk --list-modules"))
	assert.False(t, runner.ran("--install-module"))
}

func TestInstalledPerArtifact(t *testing.T) {
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("/data/adb/modules_update/olinky-selinux", yes).
		on("[ -e", rootshell.Result{Stdout: []string{"0"}})

	status := NewInstaller(runner, testOptions(t)).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusNeedsReboot, status)
	assert.False(t, runner.ran("--install-module"))
}

func TestInstallThroughManager(t *testing.T) {
	opts := testOptions(t)
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("command -v magisk", rootshell.Result{Stdout: []string{"/debug_ramdisk/magisk"}}).
		on("--list-modules", rootshell.Result{Stdout: []string{"zygisk-lsposed"}}).
		on("--install-module", ok).
		on("[ -e", rootshell.Result{Stdout: []string{"0"}})

	status := NewInstaller(runner, opts).CheckAndInstallIfNeeded(context.Background())

	require.Equal(t, StatusNeedsReboot, status)
	staged := filepath.Join(opts.CacheDir, "olinky-selinux.zip")
	assert.True(t, runner.ran("/debug_ramdisk/magisk --install-module "+staged))
	assert.False(t, runner.ran("modules_update/olinky-selinux.zip"))
	assert.Empty(t, cacheEntries(t, opts))
}

func TestInstallFallsBackToStaging(t *testing.T) {
	opts := testOptions(t)
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("[ -x /sbin/magisk ]", ok).
		on("--list-modules", ok).
		on("--install-module", rootshell.Result{ExitCode: 1, Stderr: []string{"! Unzip error"}}).
		on("stage module update", ok).
		on("[ -e", rootshell.Result{Stdout: []string{"0"}})

	status := NewInstaller(runner, opts).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusNeedsReboot, status)
	assert.True(t, runner.ran("/data/adb/modules_update/olinky-selinux.zip"))
	assert.True(t, runner.ran("chmod 644"))
}

func TestInstallFailed(t *testing.T) {
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("[ -e", rootshell.Result{Stdout: []string{"0"}})

	status := NewInstaller(runner, testOptions(t)).CheckAndInstallIfNeeded(context.Background())
	assert.Equal(t, StatusInstallFailed, status)
}

func TestInstallMissingPackage(t *testing.T) {
	opts := testOptions(t)
	opts.PackagePath = filepath.Join(opts.CacheDir, "missing.zip")
	runner := (&scripted{}).
		on("id -u", asRoot).
		on("[ -e", rootshell.Result{Stdout: []string{"0"}}).
		on("stage module update", ok)

	status := NewInstaller(runner, opts).CheckAndInstallIfNeeded(context.Background())

	assert.Equal(t, StatusInstallFailed, status)
	assert.False(t, runner.ran("stage module update"))
}

func TestCheckWithShell(t *testing.T) {
	shell := &rootshell.Shell{Binary: "sh"}
	runner := rootshell.RunnerFunc(func(ctx context.Context, script string, timeout time.Duration) rootshell.Result {
		if script == "id -u" {
			return asRoot
		}
		return shell.RunScript(ctx, script, timeout)
	})

	opts := testOptions(t)
	opts.GadgetRoot = t.TempDir()

	status := NewInstaller(runner, opts).CheckAndInstallIfNeeded(context.Background())
	assert.Equal(t, StatusOK, status)
	assert.NoDirExists(t, filepath.Join(opts.GadgetRoot, "olinky_canary"))
}

func TestLocateBinaryOrder(t *testing.T) {
	runner := (&scripted{}).
		on("[ -x /c ]", ok).
		on("[ -x /b ]", ok).
		on("command -v", rootshell.Result{Stdout: []string{"/usr/bin/tool"}})

	bin, found := LocateBinary(context.Background(), runner, time.Second, []string{"/a", "/b", "/c"}, "tool")
	assert.True(t, found)
	assert.Equal(t, "/b", bin)
	assert.False(t, runner.ran("[ -x /c ]"))

	bin, found = LocateBinary(context.Background(), runner, time.Second, []string{"/a"}, "tool")
	assert.True(t, found)
	assert.Equal(t, "/usr/bin/tool", bin)

	_, found = LocateBinary(context.Background(), runner, time.Second, []string{"/a"}, "")
	assert.False(t, found)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusOK, StatusNeedsReboot, StatusInstallFailed, StatusRootUnavailable} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var back Status
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("MAYBE")))
	assert.Equal(t, "Status(42)", Status(42).String())
}
