package matcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
)

const unknownDestination = "Unknown"

func poolID(prefix string, n int) string {
	return fmt.Sprintf("%s-%03d", prefix, n)
}

// idPrefix adds the first eight characters of the run ID when runScoped
// is set, so pools from separate runs can share a stored day.
func idPrefix(ctx context.Context, prefix string, runScoped bool) string {
	if prefix == "" {
		prefix = "pool"
	}
	if !runScoped {
		return prefix
	}
	id := pipeline.RunID(ctx)
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return prefix
	}
	return prefix + "-" + id
}

func destinationOf(r models.RideRequest) string {
	if r.Destination == "" {
		return unknownDestination
	}
	return r.Destination
}

// Sequential puts every request in its own pool, numbered in input order.
type Sequential struct {
	Prefix    string
	RunScoped bool
}

func (s Sequential) Match(ctx context.Context, reqs []models.RideRequest) ([]*models.Pool, error) {
	prefix := idPrefix(ctx, s.Prefix, s.RunScoped)
	pools := make([]*models.Pool, 0, len(reqs))
	for i, r := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pools = append(pools, &models.Pool{
			ID:          poolID(prefix, i+1),
			Riders:      []models.Rider{models.RiderFrom(r)},
			Destination: destinationOf(r),
		})
	}
	return pools, nil
}

// ByDestination pools requests heading to the same destination whose
// requested times fall within Window of the pool's first rider. Pools are
// formed in input order and never exceed MaxRiders.
type ByDestination struct {
	Prefix    string
	RunScoped bool
	Window    time.Duration
	MaxRiders int
}

type openPool struct {
	pool  *models.Pool
	key   string
	first time.Duration
}

func (b ByDestination) Match(ctx context.Context, reqs []models.RideRequest) ([]*models.Pool, error) {
	maxRiders := b.MaxRiders
	if maxRiders <= 0 {
		maxRiders = 4
	}
	prefix := idPrefix(ctx, b.Prefix, b.RunScoped)
	var open []*openPool
	pools := make([]*models.Pool, 0, len(reqs))
	for _, r := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		at, err := models.ParseClock(r.Time)
		if err != nil {
			return nil, &pipeline.MatchError{Request: r.Name, Reason: err.Error()}
		}
		key := strings.ToLower(destinationOf(r))

		var target *openPool
		for _, op := range open {
			if op.key != key || len(op.pool.Riders) >= maxRiders {
				continue
			}
			if absDuration(at-op.first) <= b.Window {
				target = op
				break
			}
		}
		if target == nil {
			target = &openPool{
				pool:  &models.Pool{ID: poolID(prefix, len(pools)+1), Destination: destinationOf(r)},
				key:   key,
				first: at,
			}
			open = append(open, target)
			pools = append(pools, target.pool)
		}
		target.pool.Riders = append(target.pool.Riders, models.RiderFrom(r))
	}
	return pools, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
