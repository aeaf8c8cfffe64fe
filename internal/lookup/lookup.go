// Package lookup resolves route and bus ids to the descriptive records
// owned by the surrounding system.
package lookup

import (
	"context"
	"log/slog"
	"time"

	"bus-scheduler/internal/schedule"
)

type Source interface {
	Route(ctx context.Context, id string) (schedule.Route, error)
	Bus(ctx context.Context, id string) (schedule.Bus, error)
}

// Static is a fixed in-memory Source.
type Static struct {
	Routes map[string]schedule.Route
	Buses  map[string]schedule.Bus
}

func (s Static) Route(_ context.Context, id string) (schedule.Route, error) {
	r, ok := s.Routes[id]
	if !ok {
		return schedule.Route{}, &schedule.NotFoundError{Kind: "route", ID: id}
	}
	return r, nil
}

func (s Static) Bus(_ context.Context, id string) (schedule.Bus, error) {
	b, ok := s.Buses[id]
	if !ok {
		return schedule.Bus{}, &schedule.NotFoundError{Kind: "bus", ID: id}
	}
	return b, nil
}

// JSONCache is the subset of cache.RedisCache used for read-through caching.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// Cached reads through cache before falling back to Source. Cache
// failures are logged and never fail a lookup.
type Cached struct {
	source Source
	cache  JSONCache
	ttl    time.Duration
	logger *slog.Logger
}

func NewCached(source Source, cache JSONCache, ttl time.Duration, logger *slog.Logger) *Cached {
	return &Cached{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "lookup_cache"),
	}
}

func (c *Cached) Route(ctx context.Context, id string) (schedule.Route, error) {
	var r schedule.Route
	err := c.readThrough(ctx, KeyRoute(id), &r, func() (any, error) {
		v, err := c.source.Route(ctx, id)
		r = v
		return v, err
	})
	return r, err
}

func (c *Cached) Bus(ctx context.Context, id string) (schedule.Bus, error) {
	var b schedule.Bus
	err := c.readThrough(ctx, KeyBus(id), &b, func() (any, error) {
		v, err := c.source.Bus(ctx, id)
		b = v
		return v, err
	})
	return b, err
}

func (c *Cached) readThrough(ctx context.Context, key string, dest any, load func() (any, error)) error {
	found, err := c.cache.GetJSON(ctx, key, dest)
	if err != nil {
		c.logger.Warn("cache read failed", "key", key, "error", err)
	} else if found {
		return nil
	}
	v, err := load()
	if err != nil {
		return err
	}
	if err := c.cache.SetJSON(ctx, key, v, c.ttl); err != nil {
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return nil
}

func KeyRoute(id string) string { return "route:" + id }

func KeyBus(id string) string { return "bus:" + id }
