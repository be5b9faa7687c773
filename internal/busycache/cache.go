// Package busycache fronts the calendar provider's free/busy and calendar
// list queries with a short-lived, tenant-invalidated cache.
package busycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"meetbook/backend/internal/domain"
)

const instrumentationName = "meetbook/backend/internal/busycache"

// Source is the part of the calendar provider the cache fronts.
type Source interface {
	ListCalendars(ctx context.Context, tenantID string) ([]domain.Calendar, error)
	QueryFreeBusy(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error)
}

type Config struct {
	BusyTTL       time.Duration
	CalendarsTTL  time.Duration
	GracePeriod   time.Duration
	Timeout       time.Duration
	Retries       int
	Backoff       time.Duration
	RatePerMinute int
	Now           func() time.Time
}

type entry struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Busy      []domain.Interval `json:"busy,omitempty"`
	Calendars []domain.Calendar `json:"calendars,omitempty"`
}

type Cache struct {
	store  Store
	source Source
	cfg    Config
	log    *slog.Logger

	group       singleflight.Group
	generations *xsync.MapOf[string, *atomic.Uint64]
	limiters    *xsync.MapOf[string, *rate.Limiter]

	tracer trace.Tracer
	hits   metric.Int64Counter
	misses metric.Int64Counter
	stale  metric.Int64Counter
}

func New(store Store, source Source, cfg Config, log *slog.Logger) (*Cache, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.BusyTTL <= 0 {
		cfg.BusyTTL = 2 * time.Minute
	}
	if cfg.CalendarsTTL <= 0 {
		cfg.CalendarsTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if log == nil {
		log = slog.Default()
	}

	meter := otel.Meter(instrumentationName)
	hits, err := meter.Int64Counter("busycache.hit.count", metric.WithDescription("Busy cache hits"))
	if err != nil {
		return nil, err
	}
	misses, err := meter.Int64Counter("busycache.miss.count", metric.WithDescription("Busy cache misses"))
	if err != nil {
		return nil, err
	}
	stale, err := meter.Int64Counter("busycache.stale.count", metric.WithDescription("Stale entries served after a provider failure"))
	if err != nil {
		return nil, err
	}

	return &Cache{
		store:       store,
		source:      source,
		cfg:         cfg,
		log:         log.With(slog.String("component", "busycache")),
		generations: xsync.NewMapOf[string, *atomic.Uint64](),
		limiters:    xsync.NewMapOf[string, *rate.Limiter](),
		tracer:      otel.Tracer(instrumentationName),
		hits:        hits,
		misses:      misses,
		stale:       stale,
	}, nil
}

// BusyIntervals returns the busy intervals of a calendar in [from, to).
// Ranges longer than a day are widened to whole days before they are fetched
// and cached, so adjacent lookups share one provider call. When the provider
// fails, an expired entry still inside the grace period is served instead.
func (c *Cache) BusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	if !to.After(from) {
		return nil, domain.NewValidationError("range end must be after range start")
	}
	rangeFrom, rangeTo := normalizeRange(from.UTC(), to.UTC())
	key := busyKey(tenantID, selector, rangeFrom, rangeTo)

	e, err := c.lookup(ctx, tenantID, key, c.cfg.BusyTTL, "busy", func(ctx context.Context) (entry, error) {
		busy, err := c.source.QueryFreeBusy(ctx, tenantID, selector, rangeFrom, rangeTo)
		return entry{Busy: busy}, err
	})
	if err != nil {
		return nil, err
	}
	return clip(e.Busy, from, to), nil
}

// FreshBusyIntervals bypasses any cached value and always asks the provider.
// The result replaces the cached entry for the range.
func (c *Cache) FreshBusyIntervals(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	if !to.After(from) {
		return nil, domain.NewValidationError("range end must be after range start")
	}
	rangeFrom, rangeTo := normalizeRange(from.UTC(), to.UTC())
	key := busyKey(tenantID, selector, rangeFrom, rangeTo)
	gen := c.generation(tenantID)

	e, err := c.fetch(ctx, tenantID, "busy", func(ctx context.Context) (entry, error) {
		busy, err := c.source.QueryFreeBusy(ctx, tenantID, selector, rangeFrom, rangeTo)
		return entry{Busy: busy}, err
	})
	if err != nil {
		return nil, err
	}
	c.save(ctx, tenantID, key, gen, e, c.cfg.BusyTTL)
	return clip(e.Busy, from, to), nil
}

// Calendars returns the tenant's selectable calendars.
func (c *Cache) Calendars(ctx context.Context, tenantID string) ([]domain.Calendar, error) {
	key := "calendars|" + tenantID
	e, err := c.lookup(ctx, tenantID, key, c.cfg.CalendarsTTL, "calendars", func(ctx context.Context) (entry, error) {
		calendars, err := c.source.ListCalendars(ctx, tenantID)
		return entry{Calendars: calendars}, err
	})
	if err != nil {
		return nil, err
	}
	return e.Calendars, nil
}

// Invalidate drops every entry of the tenant. Fetches that started before the
// call do not write their results back.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	gen, _ := c.generations.LoadOrStore(tenantID, new(atomic.Uint64))
	gen.Add(1)
	if err := c.store.InvalidateTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("invalidate tenant %s: %w", tenantID, err)
	}
	return nil
}

type fetchFunc func(ctx context.Context) (entry, error)

func (c *Cache) lookup(ctx context.Context, tenantID, key string, ttl time.Duration, kind string, fetch fetchFunc) (entry, error) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	cached, found := c.load(ctx, key)
	age := c.cfg.Now().Sub(cached.FetchedAt)
	if found && age < ttl {
		c.hits.Add(ctx, 1, attrs)
		return cached, nil
	}
	c.misses.Add(ctx, 1, attrs)

	gen := c.generation(tenantID)
	flightKey := key + "#" + strconv.FormatUint(gen, 10)
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		e, err := c.fetch(shared, tenantID, kind, fetch)
		if err != nil {
			return entry{}, err
		}
		c.save(shared, tenantID, key, gen, e, ttl)
		return e, nil
	})
	if err == nil {
		return v.(entry), nil
	}

	if found && age < ttl+c.cfg.GracePeriod {
		c.stale.Add(ctx, 1, attrs)
		c.log.WarnContext(ctx, "serving stale cache entry after provider failure",
			slog.String("tenant_id", tenantID),
			slog.String("kind", kind),
			slog.Duration("age", age),
			slog.Any("err", err),
		)
		return cached, nil
	}
	return entry{}, err
}

// fetch calls the provider with a per-attempt timeout, retrying with
// exponential backoff. Errors come back as *domain.ProviderError.
func (c *Cache) fetch(ctx context.Context, tenantID, kind string, fn fetchFunc) (entry, error) {
	ctx, span := c.tracer.Start(ctx, "busycache.fetch", trace.WithAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("kind", kind),
	))
	defer span.End()

	op := "query_free_busy"
	if kind == "calendars" {
		op = "list_calendars"
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, c.cfg.Backoff<<(attempt-1)); err != nil {
				lastErr = err
				break
			}
		}
		if err := c.wait(ctx, tenantID); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		e, err := fn(attemptCtx)
		cancel()
		if err == nil {
			e.FetchedAt = c.cfg.Now().UTC()
			return e, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrCalendarNotConnected) {
			break
		}
		c.log.DebugContext(ctx, "provider call failed",
			slog.String("tenant_id", tenantID),
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.Any("err", err),
		)
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return entry{}, domain.NewProviderError(op, lastErr)
}

func (c *Cache) wait(ctx context.Context, tenantID string) error {
	if c.cfg.RatePerMinute <= 0 {
		return nil
	}
	limiter, _ := c.limiters.LoadOrCompute(tenantID, func() *rate.Limiter {
		burst := min(c.cfg.RatePerMinute, 10)
		return rate.NewLimiter(rate.Limit(float64(c.cfg.RatePerMinute)/60), burst)
	})
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (c *Cache) generation(tenantID string) uint64 {
	gen, _ := c.generations.LoadOrStore(tenantID, new(atomic.Uint64))
	return gen.Load()
}

func (c *Cache) load(ctx context.Context, key string) (entry, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.Any("err", err))
		return entry{}, false
	}
	if !ok {
		return entry{}, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.WarnContext(ctx, "cache entry undecodable", slog.String("key", key), slog.Any("err", err))
		return entry{}, false
	}
	return e, true
}

func (c *Cache) save(ctx context.Context, tenantID, key string, gen uint64, e entry, ttl time.Duration) {
	if c.generation(tenantID) != gen {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.log.WarnContext(ctx, "cache entry encode failed", slog.String("key", key), slog.Any("err", err))
		return
	}
	if err := c.store.Set(ctx, tenantID, key, raw, ttl+c.cfg.GracePeriod); err != nil {
		c.log.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.Any("err", err))
	}
}

func normalizeRange(from, to time.Time) (time.Time, time.Time) {
	if to.Sub(from) <= 24*time.Hour {
		return from, to
	}
	start := domain.StartOfDay(from)
	end := domain.StartOfDay(to)
	if end.Before(to) {
		end = end.Add(24 * time.Hour)
	}
	return start, end
}

func busyKey(tenantID, selector string, from, to time.Time) string {
	return "busy|" + tenantID + "|" + selector + "|" +
		strconv.FormatInt(from.Unix(), 10) + "|" + strconv.FormatInt(to.Unix(), 10)
}

func clip(intervals []domain.Interval, from, to time.Time) []domain.Interval {
	r := domain.Interval{Start: from, End: to}
	out := make([]domain.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Overlaps(r) {
			out = append(out, iv)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
