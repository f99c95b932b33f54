// Package module decides whether the privileged shell may write to the
// configfs gadget tree and installs the SELinux helper module when it may
// not.
package module

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otiai10/copy"
	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/probe"
	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

const (
	DefaultModuleID    = "olinky-selinux"
	DefaultManagerName = "magisk"
	DefaultModulesDir  = "/data/adb/modules"
	DefaultUpdateDir   = "/data/adb/modules_update"
	DefaultGadgetRoot  = "/config/usb_gadget"

	canaryName = "olinky_canary"
)

// DefaultManagerCandidates are probed in order before falling back to PATH.
var DefaultManagerCandidates = []string{
	"/sbin/magisk",
	"/system/bin/magisk",
	"/system/xbin/magisk",
	"/data/adb/magisk/magisk",
}

// Options configure an Installer. Zero fields take the defaults above.
type Options struct {
	ModuleID          string
	PackagePath       string
	CacheDir          string
	GadgetRoot        string
	ManagerName       string
	ManagerCandidates []string
	ModulesDir        string
	UpdateDir         string
	Timeout           time.Duration
}

func (o Options) withDefaults() Options {
	if o.ModuleID == "" {
		o.ModuleID = DefaultModuleID
	}
	if o.GadgetRoot == "" {
		o.GadgetRoot = DefaultGadgetRoot
	}
	if o.ManagerName == "" {
		o.ManagerName = DefaultManagerName
	}
	if o.ManagerCandidates == nil {
		o.ManagerCandidates = DefaultManagerCandidates
	}
	if o.ModulesDir == "" {
		o.ModulesDir = DefaultModulesDir
	}
	if o.UpdateDir == "" {
		o.UpdateDir = DefaultUpdateDir
	}
	if o.CacheDir == "" {
		o.CacheDir = os.TempDir()
	}
	if o.Timeout <= 0 {
		o.Timeout = rootshell.DefaultTimeout
	}
	return o
}

// Installer checks configfs permissions and remediates them.
type Installer struct {
	runner rootshell.Runner
	opts   Options
	log    *logrus.Entry
}

// NewInstaller returns an Installer running its probes through r.
func NewInstaller(r rootshell.Runner, opts Options) *Installer {
	opts = opts.withDefaults()
	return &Installer{
		runner: r,
		opts:   opts,
		log:    logrus.WithField("module", opts.ModuleID),
	}
}

// CheckAndInstallIfNeeded walks the permission state machine and returns
// where it ended. It never fails: every problem is logged and folded into
// the returned status.
func (i *Installer) CheckAndInstallIfNeeded(ctx context.Context) Status {
	if !rootshell.IsRootAvailable(ctx, i.runner, i.opts.Timeout) {
		i.log.Warn("Root is not available")
		return StatusRootUnavailable
	}

	if i.canWriteGadgetRoot(ctx) {
		i.log.Debug("Configfs is writable")
		return StatusOK
	}

	if i.IsInstalled(ctx) {
		i.log.Info("Helper module installed, reboot pending")
		return StatusNeedsReboot
	}

	if err := i.install(ctx); err != nil {
		i.log.WithError(err).Error("Unable to install helper module")
		return StatusInstallFailed
	}

	i.log.Info("Helper module installed, reboot required")
	return StatusNeedsReboot
}

func (i *Installer) canWriteGadgetRoot(ctx context.Context) bool {
	canary := shellplan.Lit(i.opts.GadgetRoot).Join(canaryName)
	plan := shellplan.New("configfs canary", shellplan.Strict).Add(
		shellplan.Mkdir{Path: canary},
		shellplan.Exec{Argv: []shellplan.Word{shellplan.Lit("rmdir"), canary}},
	)

	res := plan.Run(ctx, i.runner, i.opts.Timeout)
	if !res.OK() {
		i.log.WithField("output", res.ErrorOutput()).Debug("Configfs canary failed")
	}
	return res.OK()
}

// IsInstalled reports whether the module manager lists the helper module or
// one of its on-disk artifacts exists.
func (i *Installer) IsInstalled(ctx context.Context) bool {
	if bin, ok := i.locateManager(ctx); ok {
		res := rootshell.RunCommand(ctx, i.runner, i.opts.Timeout, bin, "--list-modules")
		if res.OK() {
			for _, line := range res.Stdout {
				if strings.Contains(line, i.opts.ModuleID) {
					return true
				}
			}
		}
	}

	for _, dir := range []string{i.opts.ModulesDir, i.opts.UpdateDir} {
		if rootshell.FileExists(ctx, i.runner, filepath.Join(dir, i.opts.ModuleID), i.opts.Timeout) {
			return true
		}
	}
	return false
}

func (i *Installer) locateManager(ctx context.Context) (string, bool) {
	return LocateBinary(ctx, i.runner, i.opts.Timeout, i.opts.ManagerCandidates, i.opts.ManagerName)
}

func (i *Installer) install(ctx context.Context) error {
	if i.opts.PackagePath == "" {
		return fmt.Errorf("no module package configured")
	}

	staged := filepath.Join(i.opts.CacheDir, i.opts.ModuleID+".zip")
	if err := copy.Copy(i.opts.PackagePath, staged); err != nil {
		return fmt.Errorf("failed to stage module package: %w", err)
	}
	defer func() {
		if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
			i.log.WithError(err).Warn("Unable to remove staged module package")
		}
	}()

	if err := os.Chmod(staged, 0o644); err != nil {
		return fmt.Errorf("failed to make module package readable: %w", err)
	}

	if bin, ok := i.locateManager(ctx); ok {
		res := rootshell.RunCommand(ctx, i.runner, i.opts.Timeout, bin, "--install-module", staged)
		if res.OK() {
			return nil
		}
		i.log.WithFields(logrus.Fields{
			"binary":    bin,
			"exit_code": res.ExitCode,
			"output":    res.ErrorOutput(),
		}).Warn("Module manager install failed, staging manually")
	}

	target := shellplan.Lit(i.opts.UpdateDir).Join(i.opts.ModuleID + ".zip")
	plan := shellplan.New("stage module update", shellplan.Strict).Add(
		shellplan.Mkdir{Path: shellplan.Lit(i.opts.UpdateDir)},
		shellplan.Exec{Argv: []shellplan.Word{shellplan.Lit("cp"), shellplan.Lit(staged), target}},
		shellplan.Exec{Argv: []shellplan.Word{shellplan.Lit("chmod"), shellplan.Lit("644"), target}},
	)

	res := plan.Run(ctx, i.runner, i.opts.Timeout)
	if !res.OK() {
		return fmt.Errorf("manual staging failed (exit %d): %s", res.ExitCode, res.ErrorOutput())
	}
	return nil
}

// LocateBinary returns the first executable candidate, then falls back to
// resolving name through PATH.
func LocateBinary(ctx context.Context, r rootshell.Runner, timeout time.Duration, candidates []string, name string) (string, bool) {
	found, ok := probe.First(candidates, func(path string) bool {
		return r.RunScript(ctx, "[ -x "+rootshell.EscapeForShell(path)+" ]", timeout).OK()
	})
	if ok {
		return found, true
	}

	if name == "" {
		return "", false
	}

	res := r.RunScript(ctx, "command -v "+rootshell.EscapeForShell(name), timeout)
	if path := res.FirstLine(); res.OK() && path != "" {
		return path, true
	}
	return "", false
}
