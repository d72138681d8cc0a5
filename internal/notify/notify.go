// Package notify delivers pickup reminders for ticketed pools. Delivery is
// best-effort: the pipeline logs failures and moves on.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/ride-pooling/internal/models"
)

// Reminder is the per-rider message sent ahead of a pickup.
type Reminder struct {
	PoolID      string `json:"pool_id"`
	RouteName   string `json:"route_name"`
	Rider       string `json:"rider"`
	Pickup      string `json:"pickup"`
	Time        string `json:"time"`
	Destination string `json:"destination"`
	QRCode      string `json:"qr_code"`
}

// RemindersFor builds one reminder per rider of the pool.
func RemindersFor(p models.Pool) []Reminder {
	out := make([]Reminder, 0, len(p.Riders))
	for _, r := range p.Riders {
		out = append(out, Reminder{
			PoolID:      p.ID,
			RouteName:   p.RouteName,
			Rider:       r.Name,
			Pickup:      r.Pickup,
			Time:        r.Time,
			Destination: p.Destination,
			QRCode:      r.QRCode,
		})
	}
	return out
}

// LogNotifier only records reminders in the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Remind(ctx context.Context, p models.Pool) error {
	for _, rem := range RemindersFor(p) {
		n.Logger.InfoContext(ctx, "reminder scheduled", "pool_id", rem.PoolID, "rider", rem.Rider, "pickup", rem.Pickup, "time", rem.Time)
	}
	return nil
}

type Notifier interface {
	Remind(ctx context.Context, p models.Pool) error
}

// Multi fans a pool out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Remind(ctx context.Context, p models.Pool) error {
	var errs []error
	for _, n := range m {
		if err := n.Remind(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
