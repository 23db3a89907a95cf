// SPDX-License-Identifier: MPL-2.0

package probe

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/modkit/modkit/internal/unit"
)

// Wildcard in a restricted-mode list accepts every mode.
const Wildcard = "*"

type (
	// Outcome is the result of probing a unit: Accepted or Rejected.
	Outcome interface {
		isOutcome()
	}

	// Accepted registers the unit under Name.
	Accepted struct {
		Name string
	}

	// Rejected keeps the unit out of the registry. HasReason distinguishes a
	// plain false from a rejection that explained itself.
	Rejected struct {
		Reason    string
		HasReason bool
	}

	// Options configure a probe run.
	Options struct {
		// Extra names supplementary probes run after the primary one.
		Extra []string
		// Logger receives probe warnings. Defaults to a discarding logger.
		Logger *log.Logger
		// Timer logs the duration of every probe at warn level.
		Timer bool
	}
)

func (Accepted) isOutcome() {}
func (Rejected) isOutcome() {}

// Reject creates a rejection with a reason.
func Reject(reason string) Rejected {
	return Rejected{Reason: reason, HasReason: true}
}

// String returns a description of the rejection.
func (r Rejected) String() string {
	if !r.HasReason {
		return "probe returned false"
	}
	return "probe returned false: " + r.Reason
}

// Run probes u, declared under name, with the primary probe followed by the
// supplementary probes in order. Supplementary probes only run for units
// that define the primary one, and those the unit does not define are
// skipped. The first rejection stops the run; a rename carries over to the
// probes that follow. A unit without a primary probe is accepted under name.
// A probe that fails or panics rejects the unit with the failure as reason.
func Run(ctx context.Context, u unit.Unit, name string, opts Options) Outcome {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	if _, ok := u.Probe(unit.ProbeName); !ok {
		return Accepted{Name: name}
	}

	current := name
	for _, probeName := range append([]string{unit.ProbeName}, opts.Extra...) {
		fn, ok := u.Probe(probeName)
		if !ok {
			continue
		}

		start := time.Now()
		v, err := call(ctx, fn)
		if opts.Timer {
			logger.Warn("probe timing", "unit", current, "probe", probeName, "elapsed", time.Since(start))
		}
		if err != nil {
			reason := fmt.Sprintf("exception raised when processing %s for %s, unit will not be loaded: %v", probeName, u.Name(), err)
			logger.Error("probe failed", "unit", current, "probe", probeName, "error", err)
			return Reject(reason)
		}

		virtualName, hasVirtualName := unit.StringAttr(u, unit.AttrVirtualName)
		target := virtualName
		if current != name {
			// An earlier probe renamed the unit; true keeps that name.
			target = ""
		}
		out := Interpret(v, current, target)
		switch o := out.(type) {
		case Rejected:
			if v == nil {
				logger.Warn("probe is wrongly returning nil; it should return true, false or a new name",
					"unit", current, "probe", probeName)
			}
			return o
		case Accepted:
			if s, isRename := v.(string); isRename && hasVirtualName && virtualName != s {
				logger.Error("probe rename does not match the declared virtual name",
					"unit", current, "virtualname", virtualName, "returned", s)
			}
			current = o.Name
		}
	}
	return Accepted{Name: current}
}

// call runs one probe, turning a panic into an error.
func call(ctx context.Context, fn unit.ProbeCallable) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// Interpret maps a probe return value onto an Outcome for a unit currently
// named name whose declared alternate name is virtualName (empty if unset).
//
//   - true accepts under virtualName, or name when virtualName is empty
//   - false, nil and the empty string reject without a reason
//   - unit.ProbeResult rejects with its reason unless Ok
//   - any other string accepts under that string
func Interpret(v any, name, virtualName string) Outcome {
	switch t := v.(type) {
	case bool:
		if !t {
			return Rejected{}
		}
		if virtualName != "" {
			return Accepted{Name: virtualName}
		}
		return Accepted{Name: name}
	case unit.ProbeResult:
		if !t.Ok {
			if t.Reason == "" {
				return Rejected{}
			}
			return Reject(t.Reason)
		}
		return Interpret(true, name, virtualName)
	case *unit.ProbeResult:
		if t == nil {
			return Rejected{}
		}
		return Interpret(*t, name, virtualName)
	case string:
		if t == "" {
			return Rejected{}
		}
		return Accepted{Name: t}
	case nil:
		return Rejected{}
	default:
		return Reject(fmt.Sprintf("unsupported probe result of type %T", v))
	}
}

// CheckRestricted rejects a unit that does not declare support for the
// restricted host mode. An empty mode accepts every unit.
func CheckRestricted(u unit.Unit, mode string) (Rejected, bool) {
	if mode == "" {
		return Rejected{}, true
	}
	modes, _ := unit.ListAttr(u, unit.AttrProxyEnabled)
	if slices.Contains(modes, mode) || slices.Contains(modes, Wildcard) {
		return Rejected{}, true
	}
	return Reject(fmt.Sprintf("not enabled for restricted host mode %q", mode)), false
}
