package main

import (
	"fmt"

	"github.com/olinky/olinkyd/internal/config"
	"github.com/olinky/olinkyd/internal/controller"
	"github.com/olinky/olinkyd/internal/gadget"
	"github.com/olinky/olinkyd/internal/images"
	"github.com/olinky/olinkyd/internal/module"
	"github.com/olinky/olinkyd/internal/network"
	"github.com/olinky/olinkyd/internal/rootshell"
)

// newController wires every component from the configuration.
func newController(cfg *config.Config) (*controller.Controller, error) {
	layout, err := cfg.Layout()
	if err != nil {
		return nil, err
	}
	template, err := cfg.MassStorageTemplate()
	if err != nil {
		return nil, err
	}
	pxeDesc, err := cfg.PXEDescriptor()
	if err != nil {
		return nil, err
	}

	shell := rootshell.New(cfg.Shell.Binary)
	timeout := cfg.ShellTimeout()

	net, err := network.New(cfg.PXE.NetworkMode, shell, timeout)
	if err != nil {
		return nil, fmt.Errorf("pxe.network_mode: %w", err)
	}

	// Other managers are only looked up on PATH.
	var candidates []string
	if cfg.Module.Manager != "" && cfg.Module.Manager != module.DefaultManagerName {
		candidates = []string{}
	}
	installer := module.NewInstaller(shell, module.Options{
		ModuleID:          cfg.Module.ID,
		PackagePath:       cfg.Module.PackagePath,
		CacheDir:          cfg.Module.CacheDir,
		GadgetRoot:        layout.GadgetRoot,
		ManagerName:       cfg.Module.Manager,
		ManagerCandidates: candidates,
		Timeout:           timeout,
	})

	opts := cfg.GadgetOptions()
	return controller.New(controller.Deps{
		Runner:   shell,
		Module:   installer,
		Storage:  gadget.NewMassStorage(shell, layout, opts),
		PXE:      gadget.NewPXE(shell, layout, pxeDesc, net, opts),
		Library:  images.New(cfg.Images.Dir),
		Template: template,
		Timeout:  timeout,
	}), nil
}
