package eta

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"recoverydispatch/internal/model"
)

// RedisCache is a read-through cache in front of another Provider. Each
// origin/destination cell is stored under its own key so overlapping
// matrices share entries. Coordinates are keyed at 5 decimal places.
type RedisCache struct {
	rdb    redis.UniversalClient
	next   Provider
	ttl    time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedisCache(rdb redis.UniversalClient, next Provider, ttl time.Duration, log *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisCache{rdb: rdb, next: next, ttl: ttl, prefix: "eta:", log: log}
}

func (c *RedisCache) key(o, d model.Coordinate) string {
	return fmt.Sprintf("%s%.5f,%.5f|%.5f,%.5f", c.prefix, o.Lat, o.Lng, d.Lat, d.Lng)
}

func (c *RedisCache) Matrix(ctx context.Context, origins, destinations []model.Coordinate) (Matrix, error) {
	if err := validate(origins, destinations); err != nil {
		return Matrix{}, err
	}
	keys := make([]string, 0, len(origins)*len(destinations))
	for _, o := range origins {
		for _, d := range destinations {
			keys = append(keys, c.key(o, d))
		}
	}

	out := NewMatrix(len(origins), len(destinations))
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		// Cache trouble degrades to a direct lookup.
		c.log.Warn("eta cache read failed", zap.Error(err))
		return c.next.Matrix(ctx, origins, destinations)
	}

	missing := false
	for idx, v := range vals {
		s, ok := v.(string)
		if !ok {
			missing = true
			continue
		}
		minutes, miles, ok := decodeCell(s)
		if !ok {
			missing = true
			continue
		}
		i, j := idx/len(destinations), idx%len(destinations)
		out.Minutes[i][j], out.Miles[i][j] = minutes, miles
	}
	if !missing {
		return out, nil
	}

	fresh, err := c.next.Matrix(ctx, origins, destinations)
	if err != nil {
		return Matrix{}, err
	}
	pipe := c.rdb.Pipeline()
	for i := range origins {
		for j := range destinations {
			minutes, miles := fresh.Cell(i, j)
			if minutes >= Unreachable || miles >= Unreachable {
				continue
			}
			pipe.Set(ctx, keys[i*len(destinations)+j], encodeCell(minutes, miles), c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("eta cache write failed", zap.Error(err))
	}
	return fresh, nil
}

func encodeCell(minutes, miles float64) string {
	return strconv.FormatFloat(minutes, 'f', -1, 64) + ":" + strconv.FormatFloat(miles, 'f', -1, 64)
}

func decodeCell(s string) (minutes, miles float64, ok bool) {
	a, b, found := strings.Cut(s, ":")
	if !found {
		return 0, 0, false
	}
	minutes, err1 := strconv.ParseFloat(a, 64)
	miles, err2 := strconv.ParseFloat(b, 64)
	return minutes, miles, err1 == nil && err2 == nil
}
