package gadget

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/network"
	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// PXE manages the USB Ethernet gadget used for network boot and the address
// of its interface.
type PXE struct {
	base
	desc PXEDescriptor
	net  network.Configurator
}

// NewPXE returns a manager for the gadget described by d.
func NewPXE(r rootshell.Runner, l Layout, d PXEDescriptor, net network.Configurator, opts Options) *PXE {
	return &PXE{
		base: newBase(r, l, opts, "pxe"),
		desc: d,
		net:  net,
	}
}

// Descriptor returns the gadget descriptor.
func (p *PXE) Descriptor() PXEDescriptor {
	return p.desc
}

// StartPlan builds the strict plan that creates and binds the gadget.
func (p *PXE) StartPlan() *shellplan.Plan {
	d := p.desc
	dir := p.layout.gadgetDir(d.Name)
	fn := dir.Join("functions").JoinVar(functionVar)

	plan := shellplan.New("start pxe "+d.Name, shellplan.Strict)
	plan.Add(p.prepareSteps(d.Name)...)
	plan.Add(shellplan.SetProp{Key: "sys.usb.configfs", Value: "1"})
	plan.Add(p.identitySteps(d.Descriptor)...)
	plan.Add(
		shellplan.FirstDir{
			Parent:     dir.Join("functions"),
			Candidates: d.FunctionCandidates(),
			Var:        functionVar,
			Code:       ExitNoFunction,
		},
		shellplan.Write{Path: fn.Join("host_addr"), Value: shellplan.Lit(d.HostMAC)},
		shellplan.Write{Path: fn.Join("dev_addr"), Value: shellplan.Lit(d.DeviceMAC)},
	)
	plan.Add(p.bindSteps(d.Name, d.UDC, d.PreferredUDCs, true)...)
	return plan
}

// Start creates the gadget, binds it and then configures the interface.
// Network configuration is a separate step: when it fails the gadget stays
// up and the returned binding is valid alongside a KindNetwork error.
func (p *PXE) Start(ctx context.Context) (Binding, error) {
	d := p.desc
	if err := d.Validate(); err != nil {
		return Binding{Gadget: d.Name}, &Error{Kind: KindInvalid, Op: "start", Message: err.Error()}
	}
	if err := p.requireRoot(ctx, "start"); err != nil {
		return Binding{Gadget: d.Name}, err
	}

	log := p.log.WithField("gadget", d.Name)

	binding, err := func() (Binding, error) {
		unlock := lockRoot(p.layout.GadgetRoot)
		defer unlock()

		log.Info("Starting PXE gadget")
		binding, err := p.apply(ctx, d.Name, p.StartPlan())
		if err != nil {
			return binding, err
		}

		if _, err := verifyBound(ctx, p.runner, p.layout, d.Name, p.opts); err != nil {
			return binding, err
		}
		binding.Bound = true
		return binding, nil
	}()
	if err != nil {
		return binding, err
	}

	log = log.WithFields(logrus.Fields{"function": binding.Function, "udc": binding.UDC})
	if err := p.net.Configure(ctx, d.Interface, d.DeviceCIDR); err != nil {
		log.WithError(err).Warn("PXE gadget is up but its interface is not configured")
		return binding, &Error{Kind: KindNetwork, Op: "configure", Message: "interface " + d.Interface, Err: err}
	}

	log.Info("PXE gadget started")
	return binding, nil
}

// Stop removes the gadget. The interface is left alone; see TeardownNetwork.
func (p *PXE) Stop(ctx context.Context) (TeardownReport, error) {
	unlock := lockRoot(p.layout.GadgetRoot)
	defer unlock()

	return p.teardown(ctx, p.desc.Name)
}

// TeardownNetwork flushes and downs the interface. It does not depend on
// the gadget and may run before or after Stop.
func (p *PXE) TeardownNetwork(ctx context.Context) error {
	if err := p.net.Teardown(ctx, p.desc.Interface); err != nil {
		return &Error{Kind: KindNetwork, Op: "teardown network", Message: "interface " + p.desc.Interface, Err: err}
	}
	return nil
}

// IsRunning reports whether the gadget is bound to a controller.
func (p *PXE) IsRunning(ctx context.Context) (bool, error) {
	s, err := readState(ctx, p.runner, p.layout, p.desc.Name, p.opts.Timeout)
	if err != nil {
		return false, err
	}
	return s.Bound(), nil
}

// StartServers would start DHCP and TFTP on the interface. Neither exists
// yet, so this only logs.
func (p *PXE) StartServers(ctx context.Context) error {
	p.log.WithField("interface", p.desc.Interface).Warn("PXE DHCP/TFTP servers are not implemented")
	return nil
}

// StopServers is the counterpart of StartServers.
func (p *PXE) StopServers(ctx context.Context) error {
	p.log.Debug("No PXE servers to stop")
	return nil
}
