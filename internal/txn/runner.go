package txn

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Runner executes units of work with bounded retries.
type Runner[S Session] struct {
	factory  Factory[S]
	classify Classifier
	limits   Limits
	log      *zap.Logger
	obs      Observer
	expected func(error) bool
}

// Option configures a Runner.
type Option func(*options)

type options struct {
	log      *zap.Logger
	obs      Observer
	expected func(error) bool
}

// WithLogger sets the logger used for retry accounting.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithObserver sets the retry and outcome observer.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}

// WithExpected marks errors that are an ordinary rejection of the unit of
// work, such as a failed business precondition. They are returned without
// being logged as unrecognised.
func WithExpected(fn func(error) bool) Option {
	return func(o *options) { o.expected = fn }
}

// NewRunner builds a Runner. Non-positive limits are raised to one attempt.
func NewRunner[S Session](factory Factory[S], classify Classifier, limits Limits, opts ...Option) *Runner[S] {
	o := options{
		log:      zap.NewNop(),
		obs:      nopObserver{},
		expected: func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(&o)
	}
	if limits.WholeRetries < 1 {
		limits.WholeRetries = 1
	}
	if limits.CommitRetries < 1 {
		limits.CommitRetries = 1
	}
	return &Runner[S]{
		factory:  factory,
		classify: classify,
		limits:   limits,
		log:      o.log,
		obs:      o.obs,
		expected: o.expected,
	}
}

// Run executes fn inside a transaction and commits it.
//
// A transient conflict, from fn or from the commit, aborts the attempt and
// runs fn again on a fresh transaction. An indeterminate commit repeats only
// the commit. Any other error aborts and is returned unchanged. The session is
// ended on every path.
func (r *Runner[S]) Run(ctx context.Context, fn func(ctx context.Context, s S) error) error {
	sess, err := r.factory.NewSession(ctx)
	if err != nil {
		r.obs.Finished(OutcomeFailed, 0)
		return fmt.Errorf("open session: %w", err)
	}
	defer sess.End(context.WithoutCancel(ctx))

	var last error
	for attempt := 1; attempt <= r.limits.WholeRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			r.obs.Finished(OutcomeFailed, attempt-1)
			return err
		}
		if err := sess.Start(ctx); err != nil {
			r.obs.Finished(OutcomeFailed, attempt-1)
			return fmt.Errorf("start transaction: %w", err)
		}

		err := fn(ctx, sess)
		if err == nil {
			err = r.commit(ctx, sess)
			if err == nil {
				r.obs.Finished(OutcomeCommitted, attempt)
				if attempt > 1 {
					r.log.Info("whole transaction retry cnt", zap.Int("cnt", attempt-1))
				}
				return nil
			}
		}

		if !errors.Is(err, ErrRetryExhausted) && r.classify(err) == TransientConflict {
			last = err
			r.obs.Retried(TransientConflict)
			r.abort(ctx, sess)
			r.log.Debug("transient transaction error, retrying transaction",
				zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		r.abort(ctx, sess)
		r.reject(err, attempt)
		return err
	}

	r.obs.Finished(OutcomeExhausted, r.limits.WholeRetries)
	r.log.Warn("whole transaction retry cnt is exceeded",
		zap.Int("attempts", r.limits.WholeRetries), zap.Error(last))
	return &ExhaustedError{Stage: StageWhole, Attempts: r.limits.WholeRetries, Last: last}
}

// commit retries only the commit call while its outcome is unknown.
func (r *Runner[S]) commit(ctx context.Context, sess S) error {
	var err error
	for attempt := 1; attempt <= r.limits.CommitRetries; attempt++ {
		err = sess.Commit(ctx)
		if err == nil {
			if attempt > 1 {
				r.log.Info("transaction commit retry cnt", zap.Int("cnt", attempt-1))
			}
			return nil
		}
		if r.classify(err) != IndeterminateCommit {
			return err
		}
		r.obs.Retried(IndeterminateCommit)
		r.log.Debug("unknown transaction commit result, retrying commit",
			zap.Int("attempt", attempt), zap.Error(err))
	}
	return &ExhaustedError{Stage: StageCommit, Attempts: r.limits.CommitRetries, Last: err}
}

func (r *Runner[S]) abort(ctx context.Context, sess S) {
	if err := sess.Abort(context.WithoutCancel(ctx)); err != nil {
		r.log.Debug("abort transaction", zap.Error(err))
	}
}

func (r *Runner[S]) reject(err error, attempt int) {
	switch {
	case r.expected(err):
		r.obs.Finished(OutcomeRejected, attempt)
	case errors.Is(err, ErrRetryExhausted):
		r.obs.Finished(OutcomeExhausted, attempt)
		r.log.Warn("transaction commit retry is exceeded",
			zap.Int("wholeTxnCnt", attempt), zap.Error(err))
	default:
		r.obs.Finished(OutcomeFailed, attempt)
		r.log.Warn("whole transaction, unrecognized error", zap.Error(err))
	}
}
