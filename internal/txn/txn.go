// Package txn runs units of work inside a store transaction, retrying them on
// transient conflicts and retrying only the commit when its outcome is unknown.
//
// The runner knows nothing about the store: sessions come from a Factory and
// errors are sorted by an injected Classifier.
package txn

import (
	"context"
	"errors"
	"fmt"
)

// Class is the retry classification of a store error.
type Class int

const (
	// Fatal errors abort the transaction and are returned unchanged.
	Fatal Class = iota
	// TransientConflict means the whole unit of work must run again.
	TransientConflict
	// IndeterminateCommit means only the commit call may be repeated.
	IndeterminateCommit
)

func (c Class) String() string {
	switch c {
	case TransientConflict:
		return "transient_conflict"
	case IndeterminateCommit:
		return "indeterminate_commit"
	}
	return "fatal"
}

// Classifier sorts an error returned by a session or a unit of work.
type Classifier func(error) Class

// Session is a transactional handle on the store. Start may be called again
// after Abort to begin a fresh transaction on the same session.
type Session interface {
	Start(ctx context.Context) error
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
	End(ctx context.Context)
}

// Factory opens sessions.
type Factory[S Session] interface {
	NewSession(ctx context.Context) (S, error)
}

// Stage names the retry tier that ran out of attempts.
type Stage string

const (
	StageWhole  Stage = "whole"
	StageCommit Stage = "commit"
)

// ErrRetryExhausted is matched by every ExhaustedError.
var ErrRetryExhausted = errors.New("transaction retry exhausted")

// ExhaustedError reports that a retry tier ran out of attempts.
type ExhaustedError struct {
	Stage    Stage
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s retry exhausted after %d attempts: %v", e.Stage, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Limits bounds both retry tiers.
type Limits struct {
	WholeRetries  int
	CommitRetries int
}

// Outcome is reported to the Observer once per Run.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeRejected  Outcome = "rejected"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Observer receives retry and outcome notifications.
type Observer interface {
	Retried(class Class)
	Finished(outcome Outcome, attempts int)
}

type nopObserver struct{}

func (nopObserver) Retried(Class)         {}
func (nopObserver) Finished(Outcome, int) {}
