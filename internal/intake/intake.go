// Package intake normalizes and validates submitted ride requests before
// they enter matching.
package intake

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
)

type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Parse trims every field and rejects the first record that fails
// validation. The input slice is not modified.
func (p *Validator) Parse(ctx context.Context, reqs []models.RideRequest) ([]models.RideRequest, error) {
	out := make([]models.RideRequest, 0, len(reqs))
	for i, r := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r = normalize(r)
		if err := p.v.Struct(r); err != nil {
			return nil, &pipeline.ParseError{Index: i, Name: r.Name, Reason: describe(err)}
		}
		out = append(out, r)
	}
	return out, nil
}

func normalize(r models.RideRequest) models.RideRequest {
	return models.RideRequest{
		Name:        strings.TrimSpace(r.Name),
		Pickup:      strings.TrimSpace(r.Pickup),
		Destination: strings.TrimSpace(r.Destination),
		Time:        strings.Join(strings.Fields(r.Time), " "),
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "excludes":
			fields = append(fields, field+" must not contain "+strconv.Quote(fe.Param()))
		default:
			fields = append(fields, field+" is "+fe.Tag())
		}
	}
	return strings.Join(fields, ", ")
}
