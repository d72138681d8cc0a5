package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-pooling/internal/models"
)

var ErrNotFound = errors.New("pool not found")

// Day selects a service day relative to now.
type Day string

const (
	Today     Day = "today"
	Yesterday Day = "yesterday"
)

// PoolStore persists pipeline output for the lookup API.
type PoolStore interface {
	Pools(ctx context.Context, day Day) ([]models.Pool, error)
	// Pool looks up an ID across all days, today first.
	Pool(ctx context.Context, id string) (models.Pool, error)
	// SavePools replaces the pools of a day.
	SavePools(ctx context.Context, day Day, pools []models.Pool) error
	// AppendPools adds pools to a day. A pool whose ID is already stored
	// for that day replaces it in place.
	AppendPools(ctx context.Context, day Day, pools []models.Pool) error
}

type MemoryStore struct {
	mu   sync.RWMutex
	days map[Day][]models.Pool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{days: make(map[Day][]models.Pool)}
}

func (m *MemoryStore) Pools(_ context.Context, day Day) ([]models.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clonePools(m.days[day]), nil
}

func (m *MemoryStore) Pool(_ context.Context, id string) (models.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, day := range []Day{Today, Yesterday} {
		for _, p := range m.days[day] {
			if p.ID == id {
				return clonePools([]models.Pool{p})[0], nil
			}
		}
	}
	return models.Pool{}, ErrNotFound
}

func (m *MemoryStore) SavePools(_ context.Context, day Day, pools []models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[day] = clonePools(pools)
	return nil
}

func (m *MemoryStore) AppendPools(_ context.Context, day Day, pools []models.Pool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.days[day]
	index := make(map[string]int, len(stored))
	for i, p := range stored {
		index[p.ID] = i
	}
	for _, p := range clonePools(pools) {
		if i, ok := index[p.ID]; ok {
			stored[i] = p
			continue
		}
		index[p.ID] = len(stored)
		stored = append(stored, p)
	}
	m.days[day] = stored
	return nil
}

func clonePools(in []models.Pool) []models.Pool {
	out := make([]models.Pool, len(in))
	for i, p := range in {
		p.Riders = append([]models.Rider(nil), p.Riders...)
		p.PickupOrder = append([]string(nil), p.PickupOrder...)
		out[i] = p
	}
	return out
}
