// Package controller ties the module bootstrapper, the gadget managers and
// the image library together for the HTTP API and the command line.
package controller

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/images"
	"github.com/olinky/olinkyd/internal/module"
	"github.com/olinky/olinkyd/internal/rootshell"
)

// ModuleChecker is implemented by *module.Installer.
type ModuleChecker interface {
	CheckAndInstallIfNeeded(ctx context.Context) module.Status
}

// StorageManager is implemented by *gadget.MassStorage.
type StorageManager interface {
	Apply(ctx context.Context, d gadget.MassStorageDescriptor) (gadget.Binding, error)
	TearDown(ctx context.Context, name string) (gadget.TeardownReport, error)
	State(ctx context.Context, name string) (gadget.State, error)
}

// PXEManager is implemented by *gadget.PXE.
type PXEManager interface {
	Start(ctx context.Context) (gadget.Binding, error)
	Stop(ctx context.Context) (gadget.TeardownReport, error)
	TeardownNetwork(ctx context.Context) error
	IsRunning(ctx context.Context) (bool, error)
	StartServers(ctx context.Context) error
	StopServers(ctx context.Context) error
}

// Deps are the components a Controller drives.
type Deps struct {
	Runner  rootshell.Runner
	Module  ModuleChecker
	Storage StorageManager
	PXE     PXEManager
	Library *images.Library
	// Template is the mass storage descriptor without an image path.
	Template gadget.MassStorageDescriptor
	Timeout  time.Duration
}

// Controller serializes user intents against the gadget managers.
type Controller struct {
	deps Deps
	log  *logrus.Entry

	mu            sync.Mutex
	moduleStatus  module.Status
	moduleChecked bool
	mounted       *MountRequest
}

// New returns a controller. The module status is unknown until CheckModule
// runs, which Mount and StartPXE do on demand.
func New(deps Deps) *Controller {
	if deps.Timeout <= 0 {
		deps.Timeout = rootshell.DefaultTimeout
	}
	return &Controller{
		deps: deps,
		log:  logrus.WithField("component", "controller"),
	}
}

// Library returns the image library.
func (c *Controller) Library() *images.Library {
	return c.deps.Library
}

// CheckModule runs the permission check and remembers the outcome.
func (c *Controller) CheckModule(ctx context.Context) module.Status {
	status := c.deps.Module.CheckAndInstallIfNeeded(ctx)

	c.mu.Lock()
	c.moduleStatus = status
	c.moduleChecked = true
	c.mu.Unlock()

	c.log.WithField("status", status).Info("Module check finished")
	return status
}

// requireModule fails unless configfs is writable.
func (c *Controller) requireModule(ctx context.Context, op string) error {
	c.mu.Lock()
	status, checked := c.moduleStatus, c.moduleChecked
	c.mu.Unlock()

	if !checked || status != module.StatusOK {
		status = c.CheckModule(ctx)
	}

	switch status {
	case module.StatusOK:
		return nil
	case module.StatusRootUnavailable:
		return &gadget.Error{Kind: gadget.KindRootUnavailable, Op: op, Message: "module status " + status.String()}
	default:
		return &gadget.Error{Kind: gadget.KindPermission, Op: op, Message: "module status " + status.String()}
	}
}

// MountRequest selects the image to expose.
type MountRequest struct {
	// Image is a library file name or an absolute path.
	Image string `json:"image"`
	// ReadOnly overrides the configured default when set.
	ReadOnly *bool `json:"read_only,omitempty"`
	CDROM    bool  `json:"cdrom,omitempty"`
}

// MountResult describes an exposed image.
type MountResult struct {
	gadget.Binding
	ImagePath string `json:"image_path"`
	ReadOnly  bool   `json:"read_only"`
}

func (c *Controller) resolveImage(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	if c.deps.Library == nil {
		return "", &gadget.Error{Kind: gadget.KindInvalid, Op: "mount", Message: "no image library configured"}
	}

	img, err := c.deps.Library.Resolve(name)
	switch {
	case err == nil:
		return img.Path, nil
	case errors.Is(err, images.ErrNotFound):
		return "", &gadget.Error{Kind: gadget.KindImageNotFound, Op: "mount", Message: name, Err: err}
	default:
		return "", &gadget.Error{Kind: gadget.KindInvalid, Op: "mount", Message: name, Err: err}
	}
}

// Mount exposes an image as the mass storage gadget.
func (c *Controller) Mount(ctx context.Context, req MountRequest) (MountResult, error) {
	if req.Image == "" {
		return MountResult{}, &gadget.Error{Kind: gadget.KindInvalid, Op: "mount", Message: "no image selected"}
	}
	if err := c.requireModule(ctx, "mount"); err != nil {
		return MountResult{}, err
	}

	path, err := c.resolveImage(req.Image)
	if err != nil {
		return MountResult{}, err
	}

	d := c.deps.Template
	d.ImagePath = path
	if req.ReadOnly != nil {
		d.ReadOnly = *req.ReadOnly
	}
	if req.CDROM {
		d.CDROM = true
		d.ReadOnly = true
	}

	binding, err := c.deps.Storage.Apply(ctx, d)
	result := MountResult{Binding: binding, ImagePath: path, ReadOnly: d.ReadOnly}
	if err != nil {
		c.log.WithError(err).WithField("image", path).Warn("Mount failed")
		return result, err
	}

	c.mu.Lock()
	saved := req
	saved.Image = path
	saved.ReadOnly = &d.ReadOnly
	c.mounted = &saved
	c.mu.Unlock()

	c.log.WithField("image", path).Info("Image mounted")
	return result, nil
}

// Unmount removes the mass storage gadget. The image counts as unmounted
// even when the teardown reports an error.
func (c *Controller) Unmount(ctx context.Context) (gadget.TeardownReport, error) {
	report, err := c.deps.Storage.TearDown(ctx, c.deps.Template.Name)

	c.mu.Lock()
	c.mounted = nil
	c.mu.Unlock()

	if err != nil {
		c.log.WithError(err).Warn("Unmount failed")
		return report, err
	}
	return report, nil
}

// PXEResult describes a PXE start.
type PXEResult struct {
	gadget.Binding
	// ServersError is set when the gadget is up but the servers are not.
	ServersError string `json:"servers_error,omitempty"`
}

// StartPXE brings up the network gadget, then the servers. A server
// failure is reported but does not fail the start.
func (c *Controller) StartPXE(ctx context.Context) (PXEResult, error) {
	if err := c.requireModule(ctx, "start pxe"); err != nil {
		return PXEResult{}, err
	}

	binding, err := c.deps.PXE.Start(ctx)
	result := PXEResult{Binding: binding}
	if err != nil {
		return result, err
	}

	// The mass storage gadget was released by the start.
	c.mu.Lock()
	c.mounted = nil
	c.mu.Unlock()

	if err := c.deps.PXE.StartServers(ctx); err != nil {
		c.log.WithError(err).Warn("PXE servers failed to start")
		result.ServersError = err.Error()
	}
	return result, nil
}

// StopPXE stops the servers, removes the gadget and tears down the
// interface. Every step runs; the first failure is returned and all of
// them are logged.
func (c *Controller) StopPXE(ctx context.Context) error {
	if err := c.requireModule(ctx, "stop pxe"); err != nil {
		return err
	}

	var result *multierror.Error
	if err := c.deps.PXE.StopServers(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop servers: %w", err))
	}
	if _, err := c.deps.PXE.Stop(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop gadget: %w", err))
	}
	if err := c.deps.PXE.TeardownNetwork(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("teardown network: %w", err))
	}

	if err := result.ErrorOrNil(); err != nil {
		c.log.WithError(err).Warn("PXE did not stop cleanly")
		return result.Errors[0]
	}
	c.log.Info("PXE stopped")
	return nil
}

// Reboot restarts the device.
func (c *Controller) Reboot(ctx context.Context) error {
	c.log.Warn("Rebooting")
	res := c.deps.Runner.RunScript(ctx, "reboot", c.deps.Timeout)
	if !res.OK() {
		return gadget.ResultError("reboot", res)
	}
	return nil
}
