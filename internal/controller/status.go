package controller

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/olinky/olinkyd/internal/module"
	"github.com/olinky/olinkyd/internal/rootshell"
)

// StorageStatus is the observed mass storage gadget.
type StorageStatus struct {
	Gadget    string `json:"gadget"`
	Exists    bool   `json:"exists"`
	Bound     bool   `json:"bound"`
	UDC       string `json:"udc,omitempty"`
	ImagePath string `json:"image_path,omitempty"`
}

// PXEStatus is the observed network gadget.
type PXEStatus struct {
	Running bool `json:"running"`
}

// Status is a snapshot of the device.
type Status struct {
	Root bool `json:"root"`
	// Module is only meaningful when ModuleChecked is set.
	Module        module.Status `json:"module"`
	ModuleChecked bool          `json:"module_checked"`
	SELinux       string        `json:"selinux"`
	Storage       StorageStatus `json:"storage"`
	PXE           PXEStatus     `json:"pxe"`
}

// Status reads the current state from the device. Queries that fail leave
// their part of the snapshot zero and are returned together.
func (c *Controller) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	st := Status{
		Module:        c.moduleStatus,
		ModuleChecked: c.moduleChecked,
	}
	c.mu.Unlock()

	st.Root = rootshell.IsRootAvailable(ctx, c.deps.Runner, c.deps.Timeout)
	if !st.Root {
		st.SELinux = rootshell.SELinuxUnknown
		return st, nil
	}
	st.SELinux = rootshell.SELinuxStatus(ctx, c.deps.Runner, c.deps.Timeout)

	var errs *multierror.Error

	name := c.deps.Template.Name
	st.Storage.Gadget = name
	if s, err := c.deps.Storage.State(ctx, name); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("storage state: %w", err))
	} else {
		st.Storage.Exists = s.Exists
		st.Storage.Bound = s.Bound()
		st.Storage.UDC = s.UDC
		st.Storage.ImagePath = s.LUNFile
	}

	if c.deps.PXE != nil {
		running, err := c.deps.PXE.IsRunning(ctx)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("pxe state: %w", err))
		}
		st.PXE.Running = running
	}

	return st, errs.ErrorOrNil()
}
