package geo

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-pooling/internal/models"
)

// GeoClient is the subset of go-redis used by RedisGazetteer.
type GeoClient interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoPos(ctx context.Context, key string, members ...string) *redis.GeoPosCmd
}

// RedisGazetteer implements Gazetteer using Redis GEO commands.
type RedisGazetteer struct {
	client GeoClient
	key    string
}

func NewRedisGazetteer(addr, password, key string) *RedisGazetteer {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGazetteer{client: c, key: key}
}

func NewRedisGazetteerWithClient(c GeoClient, key string) *RedisGazetteer {
	return &RedisGazetteer{client: c, key: key}
}

func (r *RedisGazetteer) Add(ctx context.Context, name string, c models.Coord) error {
	return r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Name: placeKey(name), Longitude: c.Lon, Latitude: c.Lat}).Err()
}

func (r *RedisGazetteer) Locate(ctx context.Context, name string) (models.Coord, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, placeKey(name)).Result()
	if err != nil {
		return models.Coord{}, false, fmt.Errorf("geopos %s: %w", name, err)
	}
	if len(res) == 0 || res[0] == nil {
		return models.Coord{}, false, nil
	}
	return models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}, true, nil
}

// Close releases the client when it owns a connection pool.
func (r *RedisGazetteer) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Seed loads the demo places into Redis.
func (r *RedisGazetteer) Seed(ctx context.Context) error {
	for name, c := range knownPlaces {
		if err := r.Add(ctx, name, c); err != nil {
			return err
		}
	}
	return nil
}
