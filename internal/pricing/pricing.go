package pricing

import (
	"context"
	"math"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
)

const DefaultRatePerKm = 1.6

// PerKm charges BaseFare plus RatePerKm for every kilometre of the route
// and splits the total evenly between riders.
type PerKm struct {
	RatePerKm float64
	BaseFare  float64
}

func (e PerKm) Price(ctx context.Context, p *models.Pool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.Riders) == 0 {
		return &pipeline.PricingError{PoolID: p.ID, Reason: "pool has no riders"}
	}
	if p.Distance <= 0 {
		return &pipeline.PricingError{PoolID: p.ID, Reason: "distance must be positive"}
	}
	rate := e.RatePerKm
	if rate <= 0 {
		rate = DefaultRatePerKm
	}
	total := e.BaseFare + p.Distance*rate
	p.TotalCost = Round2(total)
	p.PerPerson = Round2(total / float64(len(p.Riders)))
	return nil
}

// Round2 rounds to cents.
func Round2(v float64) float64 { return math.Round(v*100) / 100 }
