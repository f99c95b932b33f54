package gadget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/strategy"

	"github.com/olinky/olinkyd/internal/rootshell"
	"github.com/olinky/olinkyd/internal/shellplan"
)

// State is what the kernel reports about one gadget right now.
type State struct {
	Exists  bool   `json:"exists"`
	UDC     string `json:"udc,omitempty"`
	LUNFile string `json:"lun_file,omitempty"`
}

// Bound reports whether the gadget is attached to a controller.
func (s State) Bound() bool {
	return s.UDC != ""
}

// readState reads a gadget's state with one read-only script.
func readState(ctx context.Context, r rootshell.Runner, l Layout, name string, timeout time.Duration) (State, error) {
	if err := ValidateName(name); err != nil {
		return State{}, &Error{Kind: KindInvalid, Op: "query", Message: err.Error()}
	}

	dir := l.gadgetDir(name)
	plan := shellplan.New("query "+name, shellplan.BestEffort).Add(
		shellplan.ReportExists{Key: "exists", Path: dir},
		shellplan.ReportFile{Key: "udc", Path: dir.Join("UDC")},
		shellplan.ReportFirstFile{Key: "file", Dir: dir.Join("functions"), Suffix: "lun.0/file"},
	)

	res := plan.Run(ctx, r, timeout)
	if !res.OK() {
		return State{}, ResultError("query", res)
	}

	report := shellplan.ParseReport(res.Stdout)
	state := State{Exists: report["exists"] == "1"}
	if state.Exists {
		state.UDC = strings.TrimSpace(report["udc"])
		state.LUNFile = strings.TrimSpace(report["file"])
	}
	return state, nil
}

var errUnbound = errors.New("gadget UDC is blank")

// verifyBound reads the UDC back until it is non-blank. The kernel may
// finish enumeration after the write returns.
func verifyBound(ctx context.Context, r rootshell.Runner, l Layout, name string, opts Options) (State, error) {
	var state State

	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := readState(ctx, r, l, name, opts.Timeout)
		if err != nil {
			return err
		}
		state = s
		if !s.Bound() {
			return errUnbound
		}
		return nil
	}, strategy.Limit(opts.VerifyAttempts), strategy.Wait(opts.VerifyDelay))

	if err == nil {
		return state, nil
	}

	var gerr *Error
	if errors.As(err, &gerr) {
		return state, gerr
	}
	return state, &Error{
		Kind:    KindVerification,
		Op:      "verify",
		Message: fmt.Sprintf("gadget %s is not bound after %d reads", name, opts.VerifyAttempts),
		Err:     err,
	}
}
