package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/observability"
)

// Options tune a pipeline. The zero value is usable.
type Options struct {
	// Workers bounds per-pool concurrency inside a stage. Defaults to NumCPU.
	Workers int
	// StageTimeout bounds every stage individually. Zero disables it.
	StageTimeout time.Duration
	Logger       *slog.Logger
	// OnStage is called after every successful stage.
	OnStage func(StageReport)
}

type StageReport struct {
	Stage    Stage         `json:"stage"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration_ns"`
}

type Result struct {
	RunID  string         `json:"run_id"`
	Pools  []*models.Pool `json:"pools"`
	Stages []StageReport  `json:"stages"`
}

// Orchestrator drives batches of ride requests through the six stages.
// It keeps no per-run state and may be shared by concurrent callers.
type Orchestrator struct {
	stages Stages
	opts   Options
}

func New(stages Stages, opts Options) (*Orchestrator, error) {
	var errs []error
	if stages.Matcher == nil {
		errs = append(errs, errors.New("pipeline: matcher is required"))
	}
	if stages.Router == nil {
		errs = append(errs, errors.New("pipeline: route optimizer is required"))
	}
	if stages.Pricer == nil {
		errs = append(errs, errors.New("pipeline: pricing engine is required"))
	}
	if stages.Tickets == nil {
		errs = append(errs, errors.New("pipeline: ticket issuer is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if stages.Parser == nil {
		stages.Parser = identityParser{}
	}
	if stages.Notifier == nil {
		stages.Notifier = nopNotifier{}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{stages: stages, opts: opts}, nil
}

// run is the state scoped to a single Run call.
type run struct {
	id      string
	started time.Time
	logger  *slog.Logger
	reports []StageReport
}

// Run executes every stage in order with a barrier between stages. Any
// failure other than a reminder aborts the run and no pools are returned.
func (o *Orchestrator) Run(ctx context.Context, reqs []models.RideRequest) (*Result, error) {
	r := &run{id: uuid.NewString(), started: time.Now()}
	r.logger = o.opts.Logger.With("run_id", r.id)
	r.logger.Info("pipeline_start", "requests", len(reqs))

	pools, err := o.execute(WithRunID(ctx, r.id), r, reqs)
	if err != nil {
		observability.PipelineRunsTotal.WithLabelValues("failed").Inc()
		r.logger.Error("pipeline_failed", "error", err, "duration_ms", time.Since(r.started).Milliseconds())
		return nil, err
	}
	observability.PipelineRunsTotal.WithLabelValues("ok").Inc()
	r.logger.Info("pipeline_complete", "pools", len(pools), "duration_ms", time.Since(r.started).Milliseconds())
	return &Result{RunID: r.id, Pools: pools, Stages: r.reports}, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run, reqs []models.RideRequest) ([]*models.Pool, error) {
	var parsed []models.RideRequest
	err := o.stage(ctx, r, StageParse, func(ctx context.Context) (int, error) {
		out, err := o.stages.Parser.Parse(ctx, reqs)
		parsed = out
		return len(out), err
	})
	if err != nil {
		return nil, err
	}

	var pools []*models.Pool
	err = o.stage(ctx, r, StageMatch, func(ctx context.Context) (int, error) {
		out, err := o.stages.Matcher.Match(ctx, parsed)
		if err != nil {
			return 0, err
		}
		if err := checkMatched(out); err != nil {
			return 0, err
		}
		pools = out
		return len(out), nil
	})
	if err != nil {
		return nil, err
	}

	if err := o.stage(ctx, r, StageRoute, o.eachPool(pools, o.stages.Router.Optimize)); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, r, StagePrice, o.eachPool(pools, o.price)); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, r, StageTicket, o.eachPool(pools, o.stages.Tickets.Issue)); err != nil {
		return nil, err
	}
	if err := o.stage(ctx, r, StageRemind, o.remindAll(r, pools)); err != nil {
		return nil, err
	}
	return pools, nil
}

// stage runs fn under the per-stage timeout and records its completion.
func (o *Orchestrator) stage(ctx context.Context, r *run, name Stage, fn func(context.Context) (int, error)) error {
	if err := ctx.Err(); err != nil {
		return &PipelineError{Stage: name, Err: err}
	}
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if o.opts.StageTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, o.opts.StageTimeout)
	}
	defer cancel()

	start := time.Now()
	n, err := fn(sctx)
	elapsed := time.Since(start)
	observability.StageDuration.WithLabelValues(string(name)).Observe(elapsed.Seconds())

	if err != nil {
		if ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
			err = &StageTimeoutError{Stage: name, Elapsed: elapsed}
		}
		observability.StageFailuresTotal.WithLabelValues(string(name)).Inc()
		return &PipelineError{Stage: name, Err: err}
	}

	rep := StageReport{Stage: name, Items: n, Duration: elapsed}
	r.reports = append(r.reports, rep)
	observability.StageItemsTotal.WithLabelValues(string(name)).Add(float64(n))
	r.logger.Info("stage_complete", "stage", name, "items", n, "duration_ms", elapsed.Milliseconds())
	if o.opts.OnStage != nil {
		o.opts.OnStage(rep)
	}
	return nil
}

// eachPool applies fn to every pool concurrently. The first error cancels
// the remaining pools.
func (o *Orchestrator) eachPool(pools []*models.Pool, fn func(context.Context, *models.Pool) error) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.opts.Workers)
		for _, p := range pools {
			p := p
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return fn(gctx, p)
			})
		}
		return len(pools), g.Wait()
	}
}

func (o *Orchestrator) price(ctx context.Context, p *models.Pool) error {
	if len(p.Riders) == 0 {
		return &PricingError{PoolID: p.ID, Reason: "pool has no riders"}
	}
	return o.stages.Pricer.Price(ctx, p)
}

// remindAll notifies every pool but never fails the stage. Pools still
// queued when the stage deadline passes are skipped and counted as missed.
func (o *Orchestrator) remindAll(r *run, pools []*models.Pool) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) {
		var g errgroup.Group
		g.SetLimit(o.opts.Workers)
		for _, p := range pools {
			p := p
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					observability.RemindersFailed.Inc()
					r.logger.Warn("reminder skipped", "pool_id", p.ID, "error", err)
					return nil
				}
				if err := o.stages.Notifier.Remind(ctx, clonePool(p)); err != nil {
					observability.RemindersFailed.Inc()
					r.logger.Warn("reminder failed", "pool_id", p.ID, "error", err)
				}
				return nil
			})
		}
		_ = g.Wait()
		return len(pools), nil
	}
}

func checkMatched(pools []*models.Pool) error {
	seen := make(map[string]struct{}, len(pools))
	for i, p := range pools {
		if p == nil {
			return &MatchError{Request: fmt.Sprintf("#%d", i), Reason: "matcher returned a nil pool"}
		}
		if p.ID == "" {
			return &MatchError{Request: fmt.Sprintf("#%d", i), Reason: "pool has no id"}
		}
		if _, dup := seen[p.ID]; dup {
			return &MatchError{Request: fmt.Sprintf("#%d", i), Reason: "duplicate pool id " + p.ID}
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

func clonePool(p *models.Pool) models.Pool {
	c := *p
	c.Riders = append([]models.Rider(nil), p.Riders...)
	c.PickupOrder = append([]string(nil), p.PickupOrder...)
	return c
}
