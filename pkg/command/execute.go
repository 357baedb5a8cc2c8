// Package command drives the load, mutate, commit cycle of an event-sourced
// aggregate and retries it on recoverable failures.
//
// Every attempt reloads the aggregate, so events committed concurrently by
// other writers are replayed before the mutation runs again. Concurrency
// between writers is resolved only by the store's expected-version check.
package command

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/logger"
)

const (
	tracerName         = "sagaflow.command"
	spanCommandExecute = "command.execute"
)

// Loader builds an aggregate with factory and brings it up to date with its stream.
type Loader[T aggregate.Aggregate] func(ctx context.Context, factory aggregate.Factory[T], id string) (T, error)

// Mutation changes an aggregate by staging events and returns a result for the caller.
type Mutation[T aggregate.Aggregate, R any] func(ctx context.Context, agg T) (R, error)

type options struct {
	scheduler Scheduler
	observer  func(error)
	strategy  RetryStrategy
	metadata  map[string]string
	commandID string
	progress  func(any)
	logger    logger.Logger
	metrics   MetricsRecorder
	tracer    trace.Tracer
}

// Option configures Execute.
type Option func(*options)

// WithScheduler sets how retries are scheduled. The default is Immediate.
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.scheduler = s
		}
	}
}

// WithFailureObserver sets a callback for every failure that will be retried.
// The terminal failure is delivered through the Future instead.
func WithFailureObserver(fn func(error)) Option {
	return func(o *options) {
		o.observer = fn
	}
}

// WithRetryStrategy sets the retry policy. The default is Unlimited.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(o *options) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithCommitMetadata sets metadata merged into every committed event.
func WithCommitMetadata(metadata map[string]string) Option {
	return func(o *options) {
		o.metadata = maps.Clone(metadata)
	}
}

// WithCommandID sets the correlation id used in logs and spans. The default is a new uuid.
func WithCommandID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.commandID = id
		}
	}
}

// WithProgress sets the callback receiving values passed to Notify by the mutation.
func WithProgress(fn func(any)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

// Execute runs one command against the aggregate id and returns its eventual outcome.
//
// Each attempt loads the aggregate, applies mutate and commits. Load and commit
// failures are annotated with their category and offered to the retry
// strategy, chained after UntilDone(ctx). A mutation failure is terminal. If
// the mutation error asks for it through CommitOnFailure, the events it staged
// are committed once before the command fails.
func Execute[T aggregate.Aggregate, R any](
	ctx context.Context,
	load Loader[T],
	factory aggregate.Factory[T],
	id string,
	mutate Mutation[T, R],
	opts ...Option,
) *Future[R] {
	o := options{
		scheduler: Immediate(),
		strategy:  Unlimited(),
		logger:    logger.Nop(),
		metrics:   nopMetricsRecorder{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.commandID == "" {
		o.commandID = uuid.NewString()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	spanCtx, span := o.tracer.Start(ctx, spanCommandExecute,
		trace.WithAttributes(
			attribute.String("command.id", o.commandID),
			attribute.String("aggregate.id", id),
		),
	)

	e := &execution[T, R]{
		ctx:      withProgress(spanCtx, o.progress),
		span:     span,
		opts:     o,
		strategy: Chain(UntilDone(ctx), o.strategy),
		load:     load,
		factory:  factory,
		id:       id,
		mutate:   mutate,
		future:   newFuture[R](),
		started:  time.Now(),
	}
	go e.attempt(1)
	return e.future
}

type execution[T aggregate.Aggregate, R any] struct {
	ctx      context.Context
	span     trace.Span
	opts     options
	strategy RetryStrategy
	load     Loader[T]
	factory  aggregate.Factory[T]
	id       string
	mutate   Mutation[T, R]
	future   *Future[R]
	started  time.Time
}

func (e *execution[T, R]) attempt(n int) {
	if e.load == nil || e.mutate == nil {
		e.reject(n, e.newError(CategoryExecution, n, errors.New("command: loader and mutation are required")))
		return
	}

	agg, err := e.load(e.ctx, e.factory, e.id)
	if err != nil {
		e.retryOrReject(n, CategoryAggregateLoading, err)
		return
	}

	result, err := e.runMutation(agg)
	if err != nil {
		e.opts.metrics.RecordCommandAttempt(string(CategoryExecution))
		e.commitAudit(agg, err)
		e.reject(n, e.newError(CategoryExecution, n, err))
		return
	}

	if err := agg.Root().Commit(e.ctx, e.opts.metadata); err != nil {
		e.retryOrReject(n, CategoryCommit, err)
		return
	}

	e.opts.metrics.RecordCommandAttempt("success")
	e.resolve(n, result)
}

func (e *execution[T, R]) runMutation(agg T) (result R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, p)
		}
	}()
	return e.mutate(e.ctx, agg)
}

// commitAudit persists events staged by a failing mutation that marks them as
// an audit record. Its own failure is only logged.
func (e *execution[T, R]) commitAudit(agg T, cause error) {
	var cof commitOnFailure
	if !errors.As(cause, &cof) || !cof.CommitOnFailure() || !agg.Root().HasPending() {
		return
	}
	if err := agg.Root().Commit(e.ctx, e.opts.metadata); err != nil {
		e.opts.logger.WarnContext(e.ctx, "command audit commit failed",
			"command_id", e.opts.commandID, "aggregate_id", e.id, "error", err)
		return
	}
	e.span.AddEvent("audit.committed")
}

func (e *execution[T, R]) retryOrReject(n int, category Category, cause error) {
	e.opts.metrics.RecordCommandAttempt(string(category))
	err := e.newError(category, n, cause)

	if stop := e.strategy(err); stop != nil {
		e.opts.logger.WarnContext(e.ctx, "command retries stopped",
			"command_id", e.opts.commandID, "aggregate_id", e.id,
			"attempt", n, "category", string(category), "reason", stop.Reason, "error", cause)
		e.reject(n, err)
		return
	}

	e.span.AddEvent("attempt.failed", trace.WithAttributes(
		attribute.Int("attempt", n),
		attribute.String("category", string(category)),
		attribute.String("error", cause.Error()),
	))
	e.opts.logger.DebugContext(e.ctx, "command attempt failed, retrying",
		"command_id", e.opts.commandID, "aggregate_id", e.id,
		"attempt", n, "category", string(category), "error", cause)
	e.opts.metrics.RecordCommandRetry(string(category))
	if e.opts.observer != nil {
		e.opts.observer(err)
	}

	e.opts.scheduler.Schedule(e.ctx, n, func() {
		e.attempt(n + 1)
	})
}

func (e *execution[T, R]) newError(category Category, n int, cause error) error {
	err := &Error{
		Category:  category,
		Attempt:   n,
		CommandID: e.opts.commandID,
		Started:   e.started,
		Cause:     cause,
	}
	return Annotate(err, ErrorTypeLabel, string(category))
}

func (e *execution[T, R]) resolve(n int, result R) {
	e.span.SetAttributes(attribute.Int("command.attempts", n))
	e.span.SetStatus(codes.Ok, "")
	e.span.End()
	e.opts.metrics.RecordCommandResult("success", time.Since(e.started))
	e.future.settle(result, nil)
}

func (e *execution[T, R]) reject(n int, err error) {
	e.span.SetAttributes(attribute.Int("command.attempts", n))
	e.span.RecordError(err)
	e.span.SetStatus(codes.Error, err.Error())
	e.span.End()
	e.opts.metrics.RecordCommandResult("failed", time.Since(e.started))
	var zero R
	e.future.settle(zero, err)
}

// RepositoryLoader loads aggregates through repo.
func RepositoryLoader[T aggregate.Aggregate](repo *aggregate.Repository) Loader[T] {
	return Loader[T](aggregate.LoaderFor[T](repo))
}
