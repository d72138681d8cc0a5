package geo

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/example/ride-pooling/internal/models"
)

// Gazetteer resolves named places (pickup points, destinations) to
// coordinates.
type Gazetteer interface {
	Locate(ctx context.Context, name string) (models.Coord, bool, error)
	Add(ctx context.Context, name string, c models.Coord) error
}

// Index is an in-memory Gazetteer. Names are matched case-insensitively.
type Index struct {
	mu     sync.RWMutex
	places map[string]models.Coord
}

func NewIndex() *Index {
	return &Index{places: make(map[string]models.Coord)}
}

// NewSeededIndex returns an Index holding the places used by the demo pools.
func NewSeededIndex() *Index {
	idx := NewIndex()
	for name, c := range knownPlaces {
		idx.places[placeKey(name)] = c
	}
	return idx
}

func (g *Index) Add(_ context.Context, name string, c models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.places[placeKey(name)] = c
	return nil
}

func (g *Index) Locate(_ context.Context, name string) (models.Coord, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.places[placeKey(name)]
	return c, ok, nil
}

func placeKey(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over Coord values.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}
