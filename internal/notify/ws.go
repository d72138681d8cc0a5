package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-pooling/internal/models"
)

var ErrNoSession = errors.New("no ws session")

// writeWait caps a single reminder write to a slow client.
const writeWait = 5 * time.Second

// WSSession represents a connected rider session
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(ctx context.Context, rem Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(writeDeadline(ctx, time.Now())); err != nil {
		return err
	}
	return s.conn.WriteJSON(rem)
}

func writeDeadline(ctx context.Context, now time.Time) time.Time {
	d := now.Add(writeWait)
	if dl, ok := ctx.Deadline(); ok && dl.Before(d) {
		return dl
	}
	return d
}

// WSRegistry holds rider sessions keyed by rider name.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry() *WSRegistry { return &WSRegistry{sessions: make(map[string]*WSSession)} }

func (r *WSRegistry) Add(rider string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[rider]; ok {
		_ = old.conn.Close()
	}
	r.sessions[rider] = &WSSession{conn: conn}
}

func (r *WSRegistry) Remove(rider string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[rider]; ok && s.conn == conn {
		delete(r.sessions, rider)
	}
}

// Send writes one reminder. A failed write leaves the connection unusable,
// so the session is closed and dropped.
func (r *WSRegistry) Send(ctx context.Context, rider string, rem Reminder) error {
	r.mu.RLock()
	s, ok := r.sessions[rider]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(ctx, rem); err != nil {
		_ = s.conn.Close()
		r.Remove(rider, s.conn)
		return err
	}
	return nil
}

// Remind pushes reminders to riders that are connected. Riders without a
// session are skipped.
func (r *WSRegistry) Remind(ctx context.Context, p models.Pool) error {
	var errs []error
	for _, rem := range RemindersFor(p) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.Send(ctx, rem.Rider, rem); err != nil && !errors.Is(err, ErrNoSession) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
