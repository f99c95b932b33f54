package network

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// Modes accepted by New.
const (
	ModeShell   = "shell"
	ModeNetlink = "netlink"
)

// Configurator assigns and removes the address of the gadget's network
// interface.
type Configurator interface {
	// Configure replaces every address on iface with cidr and brings the
	// link up.
	Configure(ctx context.Context, iface, cidr string) error
	// Teardown flushes addresses and brings the link down. Missing
	// interfaces are not an error.
	Teardown(ctx context.Context, iface string) error
}

// New returns the configurator for mode. The shell mode runs ip(8) through
// r; the netlink mode talks to the kernel directly and needs the daemon
// itself to hold CAP_NET_ADMIN.
func New(mode string, r rootshell.Runner, timeout time.Duration) (Configurator, error) {
	switch mode {
	case "", ModeShell:
		return &ShellConfigurator{Runner: r, Timeout: timeout}, nil
	case ModeNetlink:
		return newNetlinkConfigurator()
	default:
		return nil, fmt.Errorf("unknown network mode %q", mode)
	}
}

// ShellConfigurator drives ip(8) through the privileged shell.
type ShellConfigurator struct {
	Runner  rootshell.Runner
	Timeout time.Duration
}

func ip(args ...string) shellplan.Exec {
	return shellplan.Command(append([]string{"ip"}, args...)...)
}

// Configure runs one strict plan: down, flush, add, up. The first two steps
// tolerate failure.
func (c *ShellConfigurator) Configure(ctx context.Context, iface, cidr string) error {
	if err := ValidateInterface(iface); err != nil {
		return err
	}
	if err := ValidateCIDR(cidr); err != nil {
		return err
	}

	plan := shellplan.New("configure "+iface, shellplan.Strict).Add(
		ip("link", "set", iface, "down").Tolerant(),
		ip("addr", "flush", "dev", iface).Tolerant(),
		ip("addr", "add", cidr, "dev", iface),
		ip("link", "set", iface, "up"),
	)

	res := plan.Run(ctx, c.Runner, c.Timeout)
	if !res.OK() {
		return fmt.Errorf("failed to configure %s (exit %d): %s", iface, res.ExitCode, res.ErrorOutput())
	}

	logrus.WithFields(logrus.Fields{"interface": iface, "address": cidr}).Info("Network interface configured")
	return nil
}

// Teardown flushes and downs iface. Only an executor failure is reported.
func (c *ShellConfigurator) Teardown(ctx context.Context, iface string) error {
	if err := ValidateInterface(iface); err != nil {
		return err
	}

	plan := shellplan.New("teardown "+iface, shellplan.BestEffort).Add(
		shellplan.Exec{Argv: ip("addr", "flush", "dev", iface).Argv, Quiet: true},
		shellplan.Exec{Argv: ip("link", "set", iface, "down").Argv, Quiet: true},
	)

	res := plan.Run(ctx, c.Runner, c.Timeout)
	if !res.OK() {
		return fmt.Errorf("failed to tear down %s (exit %d): %s", iface, res.ExitCode, res.ErrorOutput())
	}
	return nil
}
