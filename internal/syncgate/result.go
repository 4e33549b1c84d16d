package syncgate

import (
	"context"
	"errors"
)

// ErrUnknownDriver is returned when no Syncer exists for a configured driver.
var ErrUnknownDriver = errors.New("unknown sync driver")

type Outcome int

const (
	OutcomeSkipped Outcome = iota // Debounced, the syncer did not run
	OutcomeNoChange
	OutcomeChanged
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeNoChange:
		return "no_change"
	case OutcomeChanged:
		return "changed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one synchronization attempt. Summary is
// set for OutcomeChanged, Err for OutcomeFailed.
type Result struct {
	Outcome Outcome
	Summary string
	Err     error
}

func NoChange() Result {
	return Result{Outcome: OutcomeNoChange}
}

func Changed(summary string) Result {
	return Result{Outcome: OutcomeChanged, Summary: summary}
}

func Failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err}
}

// Syncer pulls content into the local working copy. Implementations must
// honor ctx's deadline.
type Syncer interface {
	Sync(ctx context.Context) Result
}

// Restarter is the backend restart hook invoked after a change.
type Restarter interface {
	Restart() error
}
