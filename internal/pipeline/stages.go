package pipeline

import (
	"context"

	"github.com/example/ride-pooling/internal/models"
)

// Stage names a pipeline step. The values double as metric labels.
type Stage string

const (
	StageParse  Stage = "parse"
	StageMatch  Stage = "match"
	StageRoute  Stage = "route"
	StagePrice  Stage = "price"
	StageTicket Stage = "ticket"
	StageRemind Stage = "remind"
)

// Order is the fixed execution order of a run.
var Order = []Stage{StageParse, StageMatch, StageRoute, StagePrice, StageTicket, StageRemind}

// Parser normalizes a raw batch. It may reject malformed records with a
// *ParseError.
type Parser interface {
	Parse(ctx context.Context, reqs []models.RideRequest) ([]models.RideRequest, error)
}

// Matcher groups requests into pools, each with a unique ID.
type Matcher interface {
	Match(ctx context.Context, reqs []models.RideRequest) ([]*models.Pool, error)
}

// RouteOptimizer sets PickupOrder, Distance and Duration on a pool.
type RouteOptimizer interface {
	Optimize(ctx context.Context, p *models.Pool) error
}

// PricingEngine sets TotalCost and PerPerson on a pool.
type PricingEngine interface {
	Price(ctx context.Context, p *models.Pool) error
}

// TicketIssuer assigns every rider of a pool a ticket token.
type TicketIssuer interface {
	Issue(ctx context.Context, p *models.Pool) error
}

// Notifier schedules reminders for a pool. It receives a copy, so it
// cannot change the pool that the run returns.
type Notifier interface {
	Remind(ctx context.Context, p models.Pool) error
}

// Stages bundles the capabilities a run is built from.
type Stages struct {
	Parser   Parser
	Matcher  Matcher
	Router   RouteOptimizer
	Pricer   PricingEngine
	Tickets  TicketIssuer
	Notifier Notifier
}

type runIDKey struct{}

// WithRunID attaches a run ID to ctx. Run does this for every stage.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID returns the ID of the run ctx belongs to, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

type identityParser struct{}

func (identityParser) Parse(_ context.Context, reqs []models.RideRequest) ([]models.RideRequest, error) {
	return reqs, nil
}

type nopNotifier struct{}

func (nopNotifier) Remind(context.Context, models.Pool) error { return nil }
