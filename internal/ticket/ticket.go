// Package ticket issues and verifies rider ticket tokens. Tokens are pure
// functions of the pool and rider, so they can be checked without storage.
package ticket

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/ride-pooling/internal/models"
	"github.com/example/ride-pooling/internal/pipeline"
)

const (
	fieldRide   = "RIDE"
	fieldRider  = "RIDER"
	fieldPickup = "PICKUP"
	fieldTime   = "TIME"
)

const separator = "|"

var ErrMalformed = errors.New("malformed ticket token")

// Token is the short form stored on a rider: RIDE:<pool>|RIDER:<name>.
func Token(poolID, riderName string) string {
	return fieldRide + ":" + poolID + "|" + fieldRider + ":" + riderName
}

// QRData is the long form encoded into a rider's QR code.
func QRData(poolID string, r models.Rider) string {
	return fmt.Sprintf("%s|%s:%s|%s:%s", Token(poolID, r.Name), fieldPickup, r.Pickup, fieldTime, r.Time)
}

// Claims are the fields recovered from a token. Pickup and Time are
// empty for short tokens.
type Claims struct {
	PoolID string
	Rider  string
	Pickup string
	Time   string
}

// Parse decodes either token form.
func Parse(token string) (Claims, error) {
	var c Claims
	for _, part := range strings.Split(token, separator) {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			return Claims{}, ErrMalformed
		}
		switch key {
		case fieldRide:
			c.PoolID = value
		case fieldRider:
			c.Rider = value
		case fieldPickup:
			c.Pickup = value
		case fieldTime:
			c.Time = value
		default:
			return Claims{}, fmt.Errorf("%w: unknown field %q", ErrMalformed, key)
		}
	}
	if c.PoolID == "" || c.Rider == "" {
		return Claims{}, ErrMalformed
	}
	return c, nil
}

// Verify reports whether token was issued for the rider of the pool.
func Verify(token string, p models.Pool) bool {
	c, err := Parse(token)
	if err != nil || c.PoolID != p.ID {
		return false
	}
	r, ok := p.FindRider(c.Rider)
	if !ok {
		return false
	}
	if c.Pickup != "" && c.Pickup != r.Pickup {
		return false
	}
	return c.Time == "" || c.Time == r.Time
}

// Issuer writes a token onto every rider of a pool.
type Issuer struct{}

func (Issuer) Issue(ctx context.Context, p *models.Pool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(p.Riders))
	for i := range p.Riders {
		r := &p.Riders[i]
		if strings.ContainsAny(r.Name+r.Pickup+r.Time, separator) {
			return &pipeline.TicketError{PoolID: p.ID, Rider: r.Name, Reason: "rider field contains " + strconv.Quote(separator)}
		}
		tok := Token(p.ID, r.Name)
		if _, dup := seen[tok]; dup {
			return &pipeline.TicketError{PoolID: p.ID, Rider: r.Name, Reason: "token collision"}
		}
		seen[tok] = struct{}{}
		r.QRCode = tok
	}
	return nil
}
