// Package route computes pickup sequences, distances and durations for
// pools.
package route

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/example/ride-pooling/internal/eta"
	"github.com/example/ride-pooling/internal/geo"
	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
)

const (
	DefaultDistanceKm = 25.0
	DefaultDuration   = 75 * time.Minute
)

// Fixed keeps riders in matched order and assigns a constant distance
// and duration to every pool.
type Fixed struct {
	DistanceKm float64
	Duration   time.Duration
}

func (f Fixed) Optimize(ctx context.Context, p *models.Pool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	distance, duration := f.DistanceKm, f.Duration
	if distance <= 0 {
		distance = DefaultDistanceKm
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	order := make([]string, 0, len(p.Riders))
	for _, r := range p.Riders {
		order = append(order, r.Pickup)
	}
	p.PickupOrder = order
	p.Distance = distance
	p.Duration = FormatDuration(duration)
	nameRoute(p)
	return nil
}

// Geo resolves every stop through a gazetteer, visits pickups in order of
// requested time and measures the legs to the destination. Drive time
// comes from ETA when set, falling back to SpeedMps.
type Geo struct {
	Places   geo.Gazetteer
	ETA      eta.Client
	SpeedMps float64
}

type stop struct {
	pickup string
	at     time.Duration
	coord  models.Coord
}

func (g *Geo) Optimize(ctx context.Context, p *models.Pool) error {
	stops := make([]stop, 0, len(p.Riders))
	for _, r := range p.Riders {
		at, err := models.ParseClock(r.Time)
		if err != nil {
			return &pipeline.RouteError{PoolID: p.ID, Reason: fmt.Sprintf("rider %s: %v", r.Name, err)}
		}
		c, err := g.locate(ctx, p.ID, r.Pickup)
		if err != nil {
			return err
		}
		stops = append(stops, stop{pickup: r.Pickup, at: at, coord: c})
	}
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].at < stops[j].at })

	order := make([]string, 0, len(stops))
	var meters, seconds float64
	if len(stops) > 0 {
		dest, err := g.locate(ctx, p.ID, p.Destination)
		if err != nil {
			return err
		}
		points := make([]models.Coord, 0, len(stops)+1)
		for _, s := range stops {
			order = append(order, s.pickup)
			points = append(points, s.coord)
		}
		points = append(points, dest)
		for i := 1; i < len(points); i++ {
			meters += geo.Distance(points[i-1], points[i])
			seconds += g.legSeconds(ctx, points[i-1], points[i])
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.PickupOrder = order
	p.Distance = math.Round(meters/100) / 10
	p.Duration = FormatDuration(time.Duration(seconds * float64(time.Second)))
	nameRoute(p)
	return nil
}

func (g *Geo) locate(ctx context.Context, poolID, place string) (models.Coord, error) {
	c, ok, err := g.Places.Locate(ctx, place)
	if err != nil {
		return models.Coord{}, &pipeline.RouteError{PoolID: poolID, Reason: err.Error()}
	}
	if !ok {
		return models.Coord{}, &pipeline.RouteError{PoolID: poolID, Reason: fmt.Sprintf("unknown place %q", place)}
	}
	return c, nil
}

func (g *Geo) legSeconds(ctx context.Context, from, to models.Coord) float64 {
	if g.ETA != nil {
		if v, err := g.ETA.EstimateSeconds(ctx, from, to); err == nil {
			return v
		}
	}
	return eta.EstimateSeconds(from, to, g.SpeedMps)
}

func nameRoute(p *models.Pool) {
	if p.RouteName == "" {
		p.RouteName = p.Destination + " Pool"
	}
}

// FormatDuration renders a drive time the way pools display it: "1h 15m"
// or "55m".
func FormatDuration(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins >= 60 {
		return fmt.Sprintf("%dh %dm", mins/60, mins%60)
	}
	return fmt.Sprintf("%dm", mins)
}
