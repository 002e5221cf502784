// Package validation implements the system checks every DHT op must pass
// before it reaches app validation, and the shape of validation results.
package validation

import (
	"fmt"
	"strings"

	hh "github.com/mosaicnetworks/cellchain/src/holohash"
)

// Verdict is the kind of a validation outcome.
type Verdict uint8

const (
	// Accepted ops move on to the next stage.
	Accepted Verdict = iota
	// Rejected ops are integrated with status Rejected.
	Rejected
	// MissingDeps ops are parked until their dependencies arrive.
	MissingDeps
	// Abandoned ops are dropped without a verdict.
	Abandoned
	// Deferred ops stay where they are and are retried on a later run.
	Deferred
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "Accepted"
	case Rejected:
		return "Rejected"
	case MissingDeps:
		return "MissingDeps"
	case Abandoned:
		return "Abandoned"
	case Deferred:
		return "Deferred"
	default:
		return fmt.Sprintf("Verdict(%d)", uint8(v))
	}
}

// Outcome is the result of validating one op.
type Outcome struct {
	Verdict Verdict
	Reason  string
	Deps    []hh.HoloHash
}

// Accept is the Accepted outcome.
func Accept() Outcome {
	return Outcome{Verdict: Accepted}
}

// Reject builds a Rejected outcome.
func Reject(format string, args ...interface{}) Outcome {
	return Outcome{Verdict: Rejected, Reason: fmt.Sprintf(format, args...)}
}

// Missing builds a MissingDeps outcome.
func Missing(deps ...hh.HoloHash) Outcome {
	return Outcome{Verdict: MissingDeps, Deps: deps}
}

// Abandon builds an Abandoned outcome.
func Abandon(reason string) Outcome {
	return Outcome{Verdict: Abandoned, Reason: reason}
}

// Defer builds a Deferred outcome.
func Defer(reason string) Outcome {
	return Outcome{Verdict: Deferred, Reason: reason}
}

func (o Outcome) String() string {
	switch o.Verdict {
	case Rejected, Abandoned, Deferred:
		return fmt.Sprintf("%s(%s)", o.Verdict, o.Reason)
	case MissingDeps:
		deps := make([]string, len(o.Deps))
		for i, d := range o.Deps {
			deps[i] = d.String()
		}
		return fmt.Sprintf("MissingDeps(%s)", strings.Join(deps, ","))
	default:
		return o.Verdict.String()
	}
}
