package gadget

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// MassStorage manages gadgets exposing a disk image as a USB drive.
type MassStorage struct {
	base
}

// NewMassStorage returns a manager running its scripts through r.
func NewMassStorage(r rootshell.Runner, l Layout, opts Options) *MassStorage {
	return &MassStorage{base: newBase(r, l, opts, "mass_storage")}
}

// ApplyPlan builds the strict plan that creates the gadget described by d.
func (m *MassStorage) ApplyPlan(d MassStorageDescriptor) *shellplan.Plan {
	dir := m.layout.gadgetDir(d.Name)
	lun := dir.Join("functions").JoinVar(functionVar).Join("lun.0")
	image := shellplan.Lit(d.ImagePath)

	plan := shellplan.New("apply mass storage "+d.Name, shellplan.Strict)
	plan.Add(shellplan.RequireReadable{
		Path:           image,
		MissingCode:    ExitImageNotFound,
		UnreadableCode: ExitImageUnreadable,
	})
	plan.Add(m.prepareSteps(d.Name)...)
	plan.Add(m.identitySteps(d.Descriptor)...)
	plan.Add(
		shellplan.FirstDir{
			Parent:     dir.Join("functions"),
			Candidates: d.FunctionCandidates(),
			Var:        functionVar,
			Code:       ExitNoFunction,
		},
		shellplan.Mkdir{Path: lun},
		// ro and cdrom are rejected while a backing file is open, so they
		// go before file.
		shellplan.Write{Path: lun.Join("ro"), Value: shellplan.Lit(boolFlag(d.ReadOnly))},
		shellplan.Write{Path: lun.Join("removable"), Value: shellplan.Lit("1")},
	)
	if d.CDROM {
		plan.Add(shellplan.Write{Path: lun.Join("cdrom"), Value: shellplan.Lit("1")})
	}
	plan.Add(shellplan.Write{Path: lun.Join("file"), Value: image})
	plan.Add(m.bindSteps(d.Name, d.UDC, d.PreferredUDCs, d.AutoBind)...)
	return plan
}

// Apply replaces any gadget of the same name with one exposing d.ImagePath.
// When d.AutoBind is set the binding is read back and a blank UDC is a
// KindVerification error. A failed script is rolled back so no partial
// gadget remains.
func (m *MassStorage) Apply(ctx context.Context, d MassStorageDescriptor) (Binding, error) {
	if err := d.Validate(); err != nil {
		return Binding{Gadget: d.Name}, &Error{Kind: KindInvalid, Op: "apply", Message: err.Error()}
	}
	if err := m.requireRoot(ctx, "apply"); err != nil {
		return Binding{Gadget: d.Name}, err
	}

	unlock := lockRoot(m.layout.GadgetRoot)
	defer unlock()

	log := m.log.WithFields(logrus.Fields{"gadget": d.Name, "image": d.ImagePath})
	log.Info("Applying mass storage gadget")

	binding, err := m.apply(ctx, d.Name, m.ApplyPlan(d))
	if err != nil {
		return binding, err
	}

	if d.AutoBind {
		if _, err := verifyBound(ctx, m.runner, m.layout, d.Name, m.opts); err != nil {
			log.WithError(err).Warn("Mass storage gadget did not bind")
			return binding, err
		}
		binding.Bound = true
	}

	log.WithFields(logrus.Fields{"function": binding.Function, "udc": binding.UDC}).Info("Mass storage gadget applied")
	return binding, nil
}

// TearDown removes the gadget. A missing gadget or configfs is a no-op and
// failing removal steps are skipped; only an executor failure is an error.
func (m *MassStorage) TearDown(ctx context.Context, name string) (TeardownReport, error) {
	unlock := lockRoot(m.layout.GadgetRoot)
	defer unlock()

	return m.teardown(ctx, name)
}

// State reads the gadget's current state.
func (m *MassStorage) State(ctx context.Context, name string) (State, error) {
	return readState(ctx, m.runner, m.layout, name, m.opts.Timeout)
}

// IsBound reports whether the gadget's UDC file is non-blank.
func (m *MassStorage) IsBound(ctx context.Context, name string) (bool, error) {
	s, err := m.State(ctx, name)
	if err != nil {
		return false, err
	}
	return s.Bound(), nil
}

// MountedImagePath returns the backing file of LUN 0, if any.
func (m *MassStorage) MountedImagePath(ctx context.Context, name string) (string, bool, error) {
	s, err := m.State(ctx, name)
	if err != nil {
		return "", false, err
	}
	return s.LUNFile, s.LUNFile != "", nil
}
