package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/ride-pooling/internal/models"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// recorder tracks stage entry per pool so tests can check the barrier.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(stage Stage, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, string(stage)+":"+id)
}

type onePerRequest struct{}

func (onePerRequest) Match(_ context.Context, reqs []models.RideRequest) ([]*models.Pool, error) {
	out := make([]*models.Pool, 0, len(reqs))
	for i, r := range reqs {
		out = append(out, &models.Pool{ID: fmt.Sprintf("pool-%03d", i+1), Destination: r.Destination, Riders: []models.Rider{models.RiderFrom(r)}})
	}
	return out, nil
}

type fakeRouter struct {
	rec   *recorder
	delay func(id string) time.Duration
	err   error
}

func (f *fakeRouter) Optimize(ctx context.Context, p *models.Pool) error {
	if f.delay != nil {
		select {
		case <-time.After(f.delay(p.ID)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.rec != nil {
		f.rec.add(StageRoute, p.ID)
	}
	if f.err != nil {
		return f.err
	}
	for _, r := range p.Riders {
		p.PickupOrder = append(p.PickupOrder, r.Pickup)
	}
	p.Distance = 10
	return nil
}

type fakePricer struct {
	rec   *recorder
	mu    sync.Mutex
	calls int
}

func (f *fakePricer) Price(_ context.Context, p *models.Pool) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.rec != nil {
		f.rec.add(StagePrice, p.ID)
	}
	p.TotalCost = p.Distance * 2
	p.PerPerson = p.TotalCost / float64(len(p.Riders))
	return nil
}

type fakeTickets struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTickets) Issue(_ context.Context, p *models.Pool) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for i := range p.Riders {
		p.Riders[i].QRCode = "T:" + p.ID + ":" + p.Riders[i].Name
	}
	return nil
}

type mutatingNotifier struct {
	err error
	mu  sync.Mutex
	ids []string
}

func (m *mutatingNotifier) Remind(_ context.Context, p models.Pool) error {
	m.mu.Lock()
	m.ids = append(m.ids, p.ID)
	m.mu.Unlock()
	p.Riders[0].Name = "changed"
	p.PickupOrder[0] = "changed"
	p.TotalCost = -1
	return m.err
}

func requests(n int) []models.RideRequest {
	out := make([]models.RideRequest, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.RideRequest{Name: fmt.Sprintf("R%d", i), Pickup: fmt.Sprintf("P%d", i), Destination: "Airport", Time: "8:00"})
	}
	return out
}

func newOrchestrator(t *testing.T, s Stages, opts Options) *Orchestrator {
	t.Helper()
	if s.Matcher == nil {
		s.Matcher = onePerRequest{}
	}
	if s.Router == nil {
		s.Router = &fakeRouter{}
	}
	if s.Pricer == nil {
		s.Pricer = &fakePricer{}
	}
	if s.Tickets == nil {
		s.Tickets = &fakeTickets{}
	}
	if opts.Logger == nil {
		opts.Logger = discard
	}
	o, err := New(s, opts)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestNewRequiresCoreStages(t *testing.T) {
	_, err := New(Stages{}, Options{})
	if err == nil {
		t.Fatalf("expected error for missing stages")
	}
	for _, want := range []string{"matcher", "route", "pricing", "ticket"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %q", want, err)
		}
	}
}

func TestRunEmptyBatch(t *testing.T) {
	var reports []StageReport
	o := newOrchestrator(t, Stages{}, Options{OnStage: func(r StageReport) { reports = append(reports, r) }})
	res, err := o.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Pools) != 0 {
		t.Fatalf("expected no pools, got %d", len(res.Pools))
	}
	if len(reports) != len(Order) {
		t.Fatalf("every stage should run on an empty batch, got %d reports", len(reports))
	}
	for i, r := range reports {
		if r.Stage != Order[i] || r.Items != 0 {
			t.Fatalf("unexpected report %d: %+v", i, r)
		}
	}
}

func TestRunReportsStagesInOrder(t *testing.T) {
	var reports []StageReport
	o := newOrchestrator(t, Stages{}, Options{OnStage: func(r StageReport) { reports = append(reports, r) }})
	res, err := o.Run(context.Background(), requests(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.RunID == "" {
		t.Fatalf("expected run id")
	}
	if diff := cmp.Diff(reports, res.Stages); diff != "" {
		t.Fatalf("hook and result disagree:\n%s", diff)
	}
	for i, r := range res.Stages {
		if r.Stage != Order[i] || r.Items != 3 {
			t.Fatalf("unexpected report %d: %+v", i, r)
		}
	}
}

func TestRunBarrierBetweenStages(t *testing.T) {
	rec := &recorder{}
	// earlier pools route slowest so a per-pool pipeline would interleave
	router := &fakeRouter{rec: rec, delay: func(id string) time.Duration {
		if id == "pool-001" {
			return 30 * time.Millisecond
		}
		return 0
	}}
	o := newOrchestrator(t, Stages{Router: router, Pricer: &fakePricer{rec: rec}}, Options{Workers: 4})
	if _, err := o.Run(context.Background(), requests(4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.events) != 8 {
		t.Fatalf("expected 8 events, got %v", rec.events)
	}
	for i, ev := range rec.events {
		wantPrefix := "route:"
		if i >= 4 {
			wantPrefix = "price:"
		}
		if !strings.HasPrefix(ev, wantPrefix) {
			t.Fatalf("stage interleaving at %d: %v", i, rec.events)
		}
	}
}

func TestRunRejectsZeroRiderPoolBeforePricing(t *testing.T) {
	pricer := &fakePricer{}
	tickets := &fakeTickets{}
	m := matcherFunc(func(context.Context, []models.RideRequest) ([]*models.Pool, error) {
		return []*models.Pool{{ID: "pool-001"}}, nil
	})
	o := newOrchestrator(t, Stages{Matcher: m, Pricer: pricer, Tickets: tickets}, Options{})
	_, err := o.Run(context.Background(), requests(1))

	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StagePrice {
		t.Fatalf("expected price PipelineError, got %v", err)
	}
	var pricing *PricingError
	if !errors.As(err, &pricing) || pricing.PoolID != "pool-001" {
		t.Fatalf("expected PricingError, got %v", err)
	}
	if pricer.calls != 0 || tickets.calls != 0 {
		t.Fatalf("empty pool reached pricer=%d tickets=%d", pricer.calls, tickets.calls)
	}
}

func TestRunStageFailureAbortsWithoutResults(t *testing.T) {
	boom := &RouteError{PoolID: "pool-002", Reason: "no road"}
	tickets := &fakeTickets{}
	o := newOrchestrator(t, Stages{Router: &fakeRouter{err: boom}, Tickets: tickets}, Options{})
	res, err := o.Run(context.Background(), requests(3))
	if res != nil {
		t.Fatalf("expected no result on failure")
	}
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StageRoute {
		t.Fatalf("expected route PipelineError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("root cause lost: %v", err)
	}
	if tickets.calls != 0 {
		t.Fatalf("later stages should not run")
	}
}

func TestRunDuplicatePoolIDs(t *testing.T) {
	m := matcherFunc(func(context.Context, []models.RideRequest) ([]*models.Pool, error) {
		return []*models.Pool{{ID: "pool-001", Riders: []models.Rider{{Name: "A"}}}, {ID: "pool-001", Riders: []models.Rider{{Name: "B"}}}}, nil
	})
	_, err := newOrchestrator(t, Stages{Matcher: m}, Options{}).Run(context.Background(), requests(2))
	var me *MatchError
	if !errors.As(err, &me) {
		t.Fatalf("expected MatchError, got %v", err)
	}
}

func TestRunParseErrorWrapped(t *testing.T) {
	p := parserFunc(func(context.Context, []models.RideRequest) ([]models.RideRequest, error) {
		return nil, &ParseError{Index: 0, Name: "A", Reason: "pickup is required"}
	})
	_, err := newOrchestrator(t, Stages{Parser: p}, Options{}).Run(context.Background(), requests(1))
	var pe *PipelineError
	var parse *ParseError
	if !errors.As(err, &pe) || pe.Stage != StageParse || !errors.As(err, &parse) {
		t.Fatalf("expected wrapped ParseError, got %v", err)
	}
}

func TestRunReminderFailuresAreSwallowed(t *testing.T) {
	n := &mutatingNotifier{err: errors.New("sms gateway down")}
	o := newOrchestrator(t, Stages{Notifier: n}, Options{})
	res, err := o.Run(context.Background(), requests(2))
	if err != nil {
		t.Fatalf("reminder failure should not fail the run: %v", err)
	}
	if len(n.ids) != 2 {
		t.Fatalf("expected reminders for both pools, got %v", n.ids)
	}
	for _, p := range res.Pools {
		if p.Riders[0].Name == "changed" || p.PickupOrder[0] == "changed" || p.TotalCost < 0 {
			t.Fatalf("notifier mutated pool %+v", p)
		}
	}
}

// blockingNotifier holds every reminder until its context ends.
type blockingNotifier struct {
	mu    sync.Mutex
	calls int
	hook  func()
}

func (b *blockingNotifier) Remind(ctx context.Context, _ models.Pool) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.hook != nil {
		b.hook()
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunReminderTimeoutDoesNotFailRun(t *testing.T) {
	n := &blockingNotifier{}
	var reports []StageReport
	o := newOrchestrator(t, Stages{Notifier: n}, Options{
		Workers:      1,
		StageTimeout: 30 * time.Millisecond,
		OnStage:      func(r StageReport) { reports = append(reports, r) },
	})
	res, err := o.Run(context.Background(), requests(3))
	if err != nil {
		t.Fatalf("stalled reminders should not fail the run: %v", err)
	}
	if len(res.Pools) != 3 {
		t.Fatalf("expected 3 pools, got %d", len(res.Pools))
	}
	if len(reports) != len(Order) || reports[len(reports)-1].Stage != StageRemind {
		t.Fatalf("remind stage should complete, got %+v", reports)
	}
	if n.calls != 1 {
		t.Fatalf("pools queued past the deadline should be skipped, notifier saw %d", n.calls)
	}
}

func TestRunCancelDuringRemindKeepsPools(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := &blockingNotifier{hook: cancel}
	res, err := newOrchestrator(t, Stages{Notifier: n}, Options{Workers: 2}).Run(ctx, requests(3))
	if err != nil {
		t.Fatalf("cancel during remind should not fail the run: %v", err)
	}
	if len(res.Pools) != 3 {
		t.Fatalf("expected 3 pools, got %d", len(res.Pools))
	}
}

func TestRunStageTimeout(t *testing.T) {
	router := &fakeRouter{delay: func(string) time.Duration { return time.Second }}
	o := newOrchestrator(t, Stages{Router: router}, Options{StageTimeout: 20 * time.Millisecond})
	start := time.Now()
	_, err := o.Run(context.Background(), requests(2))
	var te *StageTimeoutError
	if !errors.As(err, &te) || te.Stage != StageRoute {
		t.Fatalf("expected route StageTimeoutError, got %v", err)
	}
	if te.Elapsed < 20*time.Millisecond {
		t.Fatalf("elapsed too small: %s", te.Elapsed)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("timeout did not cancel in-flight work")
	}
}

func TestRunCancelledStopsLaterStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pricer := &fakePricer{}
	p := parserFunc(func(_ context.Context, reqs []models.RideRequest) ([]models.RideRequest, error) {
		cancel()
		return reqs, nil
	})
	_, err := newOrchestrator(t, Stages{Parser: p, Pricer: pricer}, Options{}).Run(ctx, requests(2))
	var pe *PipelineError
	if !errors.As(err, &pe) || pe.Stage != StageMatch {
		t.Fatalf("expected failure before match, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var te *StageTimeoutError
	if errors.As(err, &te) {
		t.Fatalf("cancellation is not a timeout")
	}
	if pricer.calls != 0 {
		t.Fatalf("no stage should start after cancel")
	}
}

func TestConcurrentRunsAreIndependent(t *testing.T) {
	o := newOrchestrator(t, Stages{}, Options{})
	var wg sync.WaitGroup
	results := make([]*Result, 8)
	for i := range results {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.Run(context.Background(), requests(i+1))
			if err != nil {
				t.Errorf("run %d: %v", i, err)
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()
	seen := map[string]bool{}
	for i, res := range results {
		if res == nil {
			continue
		}
		if len(res.Pools) != i+1 {
			t.Fatalf("run %d leaked state: %d pools", i, len(res.Pools))
		}
		if seen[res.RunID] {
			t.Fatalf("duplicate run id %s", res.RunID)
		}
		seen[res.RunID] = true
	}
}

type matcherFunc func(context.Context, []models.RideRequest) ([]*models.Pool, error)

func (f matcherFunc) Match(ctx context.Context, reqs []models.RideRequest) ([]*models.Pool, error) {
	return f(ctx, reqs)
}

type parserFunc func(context.Context, []models.RideRequest) ([]models.RideRequest, error)

func (f parserFunc) Parse(ctx context.Context, reqs []models.RideRequest) ([]models.RideRequest, error) {
	return f(ctx, reqs)
}

func TestRunIDReachesStages(t *testing.T) {
	var seen string
	m := matcherFunc(func(ctx context.Context, reqs []models.RideRequest) ([]*models.Pool, error) {
		seen = RunID(ctx)
		return onePerRequest{}.Match(ctx, reqs)
	})
	res, err := newOrchestrator(t, Stages{Matcher: m}, Options{}).Run(context.Background(), requests(1))
	if err != nil {
		t.Fatal(err)
	}
	if seen == "" || seen != res.RunID {
		t.Fatalf("matcher saw run id %q, result has %q", seen, res.RunID)
	}
}
