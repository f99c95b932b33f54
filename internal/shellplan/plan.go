// Package shellplan models a privileged change as an ordered list of typed
// steps that render into one POSIX shell script.
//
// A strict plan runs under set -e so the first failing step aborts the rest.
// A best effort plan keeps going past failures and always exits zero unless
// a step exits explicitly.
package shellplan

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/olinky/olinkyd/internal/rootshell"
)

// Mode selects how a plan reacts to failing steps.
type Mode int

const (
	// Strict aborts on the first failing step.
	Strict Mode = iota
	// BestEffort continues past failures.
	BestEffort
)

func (m Mode) String() string {
	if m == Strict {
		return "strict"
	}
	return "best-effort"
}

// Step is one operation of a plan.
type Step interface {
	// Render returns the shell source for the step, one or more lines.
	Render() string
}

// Plan is an ordered list of steps executed as one script.
type Plan struct {
	Name  string
	Mode  Mode
	Steps []Step
}

// New returns an empty plan.
func New(name string, mode Mode) *Plan {
	return &Plan{Name: name, Mode: mode}
}

// Add appends steps in order and returns the plan.
func (p *Plan) Add(steps ...Step) *Plan {
	p.Steps = append(p.Steps, steps...)
	return p
}

// Script renders the whole plan.
func (p *Plan) Script() string {
	var b strings.Builder

	b.WriteString("# " + oneLine(p.Name) + " (" + p.Mode.String() + ")\n")
	if p.Mode == Strict {
		b.WriteString("set -e\n")
	}

	for _, s := range p.Steps {
		b.WriteString(strings.TrimRight(s.Render(), "\n"))
		b.WriteString("\n")
	}

	if p.Mode == BestEffort {
		b.WriteString("exit 0\n")
	}
	return b.String()
}

// Run executes the rendered plan through r as a single invocation.
func (p *Plan) Run(ctx context.Context, r rootshell.Runner, timeout time.Duration) rootshell.Result {
	res := r.RunScript(ctx, p.Script(), timeout)

	logrus.WithFields(logrus.Fields{
		"plan":      p.Name,
		"steps":     len(p.Steps),
		"exit_code": res.ExitCode,
	}).Debug("Shell plan finished")

	return res
}

func oneLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}
