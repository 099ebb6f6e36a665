package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/models"
)

// RedisGeo implements Index on top of Redis GEO commands. Driver positions
// live in one geo set; tier and online flags live in per-driver meta hashes.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func NewRedisGeoWithClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Location == nil {
		return nil
	}
	pipe := r.client.Pipeline()
	pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Location.Lon, Latitude: d.Location.Lat, Name: d.ID})
	pipe.HSet(ctx, metaKey(d.ID), map[string]interface{}{
		"tier":    int(d.Vehicle.Tier),
		"online":  strconv.FormatBool(d.Online),
		"updated": time.Now().Format(time.RFC3339),
	})
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGeo) Remove(ctx context.Context, driverID string) error {
	pipe := r.client.Pipeline()
	pipe.ZRem(ctx, r.key, driverID)
	pipe.Del(ctx, metaKey(driverID))
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisGeo) FindCandidates(ctx context.Context, origin models.Point, radiusMeters float64, tiers []models.Tier) ([]models.Driver, error) {
	res, err := r.client.GeoSearchLocation(ctx, r.key, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  origin.Lon,
			Latitude:   origin.Lat,
			Radius:     radiusMeters,
			RadiusUnit: "m",
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Driver, 0, len(res))
	for _, g := range res {
		m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result()
		if err != nil {
			continue
		}
		if m["online"] != "true" {
			continue
		}
		tier, err := strconv.Atoi(m["tier"])
		if err != nil || !tierIn(models.Tier(tier), tiers) {
			continue
		}
		out = append(out, models.Driver{
			ID:       g.Name,
			Location: &models.Point{Lat: g.Latitude, Lon: g.Longitude},
			Online:   true,
			Vehicle:  models.Vehicle{Tier: models.Tier(tier)},
		})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
