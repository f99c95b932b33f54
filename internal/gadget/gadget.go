// Package gadget composes and removes Linux configfs USB gadgets: a mass
// storage gadget exposing a disk image and a USB Ethernet gadget for PXE.
//
// Every change is rendered into one shell plan and run through the
// privileged shell as a single script. Gadget state is never cached; it is
// read back from configfs on each query.
package gadget

import (
	"context"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

const (
	udcVar      = "UDC_NAME"
	functionVar = "FUNCTION"
)

// base holds what both managers share.
type base struct {
	runner rootshell.Runner
	layout Layout
	opts   Options
	log    *logrus.Entry
}

func newBase(r rootshell.Runner, l Layout, opts Options, component string) base {
	return base{
		runner: r,
		layout: l,
		opts:   opts.withDefaults(),
		log:    logrus.WithField("component", component),
	}
}

func (b *base) requireRoot(ctx context.Context, op string) error {
	if !rootshell.IsRootAvailable(ctx, b.runner, b.opts.Timeout) {
		return newError(KindRootUnavailable, op, "root required")
	}
	return nil
}

// identitySteps writes descriptors, strings and the configuration for d.
func (b *base) identitySteps(d Descriptor) []shellplan.Step {
	dir := b.layout.gadgetDir(d.Name)
	strs := dir.Join("strings", "0x409")
	cfg := dir.Join("configs", "c.1")

	steps := []shellplan.Step{
		shellplan.Mkdir{Path: dir},
		shellplan.Write{Path: dir.Join("idVendor"), Value: shellplan.Lit(hex16(d.VendorID))},
		shellplan.Write{Path: dir.Join("idProduct"), Value: shellplan.Lit(hex16(d.ProductID))},
	}
	if d.BcdDevice != 0 {
		steps = append(steps, shellplan.Write{Path: dir.Join("bcdDevice"), Value: shellplan.Lit(hex16(d.BcdDevice))})
	}
	if d.BcdUSB != 0 {
		steps = append(steps, shellplan.Write{Path: dir.Join("bcdUSB"), Value: shellplan.Lit(hex16(d.BcdUSB))})
	}

	return append(steps,
		shellplan.Mkdir{Path: strs},
		shellplan.Write{Path: strs.Join("serialnumber"), Value: shellplan.Lit(d.Serial)},
		shellplan.Write{Path: strs.Join("manufacturer"), Value: shellplan.Lit(d.Manufacturer)},
		shellplan.Write{Path: strs.Join("product"), Value: shellplan.Lit(d.Product)},
		shellplan.Mkdir{Path: cfg.Join("strings", "0x409")},
		shellplan.Write{Path: cfg.Join("strings", "0x409", "configuration"), Value: shellplan.Lit(d.ConfigLabel)},
		shellplan.Write{Path: cfg.Join("MaxPower"), Value: shellplan.Lit(strconv.Itoa(d.MaxPower))},
	)
}

// prepareSteps clears the way for a new gadget: remove a previous gadget of
// the same name, make sure configfs is mounted and unbind every other
// gadget.
func (b *base) prepareSteps(name string) []shellplan.Step {
	return []shellplan.Step{
		shellplan.Comment{Text: "replace existing gadget " + name},
		shellplan.RemoveGadget{Dir: b.layout.gadgetDir(name), Settle: b.opts.Settle},
		shellplan.EnsureConfigFS{
			MountPoint: shellplan.Lit(b.layout.ConfigFSMount),
			GadgetRoot: shellplan.Lit(b.layout.GadgetRoot),
			Code:       ExitConfigFSUnavailable,
		},
		shellplan.ReleaseBoundGadgets{Root: shellplan.Lit(b.layout.GadgetRoot), Keep: name, Settle: b.opts.Settle},
	}
}

// bindSteps links the chosen function into c.1, resolves the controller and
// optionally binds it. The result is echoed for the caller.
func (b *base) bindSteps(name, override string, preferred []string, bind bool) []shellplan.Step {
	dir := b.layout.gadgetDir(name)
	steps := []shellplan.Step{
		shellplan.Symlink{
			Target: dir.Join("functions").JoinVar(functionVar),
			Link:   dir.Join("configs", "c.1").JoinVar(functionVar),
		},
		shellplan.ResolveUDC{
			Override:  override,
			Preferred: preferred,
			Class:     shellplan.Lit(b.layout.UDCClass),
			Var:       udcVar,
			Code:      ExitNoUDC,
		},
	}
	if bind {
		steps = append(steps, shellplan.Write{Path: dir.Join("UDC"), Value: shellplan.Var(udcVar)})
	}
	return append(steps,
		shellplan.Exec{Argv: []shellplan.Word{shellplan.Lit("printf"), shellplan.Lit(`function=%s\n`), shellplan.Var(functionVar)}},
		shellplan.Exec{Argv: []shellplan.Word{shellplan.Lit("printf"), shellplan.Lit(`udc=%s\n`), shellplan.Var(udcVar)}},
	)
}

// teardownPlan removes a gadget and reports whether its directory remains.
func (b *base) teardownPlan(name string) *shellplan.Plan {
	dir := b.layout.gadgetDir(name)
	return shellplan.New("teardown "+name, shellplan.BestEffort).Add(
		shellplan.RemoveGadget{Dir: dir, Settle: b.opts.Settle},
		shellplan.ReportExists{Key: "residual", Path: dir},
	)
}

func (b *base) teardown(ctx context.Context, name string) (TeardownReport, error) {
	report := TeardownReport{Gadget: name}
	if err := ValidateName(name); err != nil {
		return report, &Error{Kind: KindInvalid, Op: "teardown", Message: err.Error()}
	}

	res := b.teardownPlan(name).Run(ctx, b.runner, b.opts.Timeout)
	if !res.OK() {
		return report, ResultError("teardown", res)
	}

	report.Residual = shellplan.ParseReport(res.Stdout)["residual"] == "1"
	log := b.log.WithField("gadget", name)
	if report.Residual {
		log.Warn("Gadget directory still present after teardown")
	} else {
		log.Debug("Gadget torn down")
	}
	return report, nil
}

// apply runs an apply plan under the root lock and rolls back on failure.
func (b *base) apply(ctx context.Context, name string, plan *shellplan.Plan) (Binding, error) {
	binding := Binding{Gadget: name}

	res := plan.Run(ctx, b.runner, b.opts.Timeout)
	if !res.OK() {
		err := ResultError("apply", res)
		log := b.log.WithFields(logrus.Fields{
			"gadget":    name,
			"kind":      err.Kind.String(),
			"exit_code": res.ExitCode,
		})

		// The image is checked before anything is touched.
		if err.Kind == KindImageNotFound || err.Kind == KindImageUnreadable {
			log.Warn("Gadget apply rejected")
			return binding, err
		}

		log.Warn("Gadget apply failed, rolling back")
		if _, rbErr := b.teardown(context.WithoutCancel(ctx), name); rbErr != nil {
			b.log.WithError(rbErr).WithField("gadget", name).Error("Rollback failed")
		}
		return binding, err
	}

	report := shellplan.ParseReport(res.Stdout)
	binding.Function = report["function"]
	binding.UDC = report["udc"]
	return binding, nil
}
