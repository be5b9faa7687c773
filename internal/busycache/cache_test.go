package busycache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/backend/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSource struct {
	busyCalls     atomic.Int32
	calendarCalls atomic.Int32

	queryFreeBusy func(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error)
	listCalendars func(ctx context.Context, tenantID string) ([]domain.Calendar, error)
}

func (f *fakeSource) QueryFreeBusy(ctx context.Context, tenantID, selector string, from, to time.Time) ([]domain.Interval, error) {
	f.busyCalls.Add(1)
	if f.queryFreeBusy == nil {
		panic("unexpected QueryFreeBusy call")
	}
	return f.queryFreeBusy(ctx, tenantID, selector, from, to)
}

func (f *fakeSource) ListCalendars(ctx context.Context, tenantID string) ([]domain.Calendar, error) {
	f.calendarCalls.Add(1)
	if f.listCalendars == nil {
		panic("unexpected ListCalendars call")
	}
	return f.listCalendars(ctx, tenantID)
}

var day = time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, src *fakeSource, cfg Config) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: day.Add(8 * time.Hour)}
	cfg.Now = clock.Now
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 10 * time.Minute
	}
	c, err := New(NewMemoryStore(clock.Now), src, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c, clock
}

func staticBusy(intervals ...domain.Interval) func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
	return func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		return intervals, nil
	}
}

func TestBusyIntervals_CachesWithinTTL(t *testing.T) {
	busy := domain.Interval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}
	src := &fakeSource{queryFreeBusy: staticBusy(busy)}
	c, clock := newTestCache(t, src, Config{})
	ctx := context.Background()

	got, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.Interval{busy}, got)

	clock.Advance(time.Minute)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.busyCalls.Load())

	clock.Advance(90 * time.Second)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.busyCalls.Load(), "entry older than the busy TTL is refetched")
}

func TestBusyIntervals_KeysAreTenantAndSelectorScoped(t *testing.T) {
	src := &fakeSource{queryFreeBusy: staticBusy()}
	c, _ := newTestCache(t, src, Config{})
	ctx := context.Background()

	for _, args := range [][2]string{{"t1", "a"}, {"t1", "b"}, {"t2", "a"}, {"t1", "a"}} {
		_, err := c.BusyIntervals(ctx, args[0], args[1], day, day.Add(24*time.Hour))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, src.busyCalls.Load())
}

func TestBusyIntervals_MultiDayRangesShareWholeDayKey(t *testing.T) {
	var gotFrom, gotTo time.Time
	inside := domain.Interval{Start: day.Add(34 * time.Hour), End: day.Add(35 * time.Hour)}
	outside := domain.Interval{Start: day.Add(2 * time.Hour), End: day.Add(3 * time.Hour)}
	src := &fakeSource{queryFreeBusy: func(_ context.Context, _, _ string, from, to time.Time) ([]domain.Interval, error) {
		gotFrom, gotTo = from, to
		return []domain.Interval{outside, inside}, nil
	}}
	c, _ := newTestCache(t, src, Config{})
	ctx := context.Background()

	got, err := c.BusyIntervals(ctx, "t1", "primary", day.Add(10*time.Hour), day.Add(58*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, day, gotFrom)
	assert.Equal(t, day.Add(72*time.Hour), gotTo)
	assert.Equal(t, []domain.Interval{inside}, got, "result is clipped to the requested range")

	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(60*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.busyCalls.Load())
}

func TestBusyIntervals_RejectsEmptyRange(t *testing.T) {
	c, _ := newTestCache(t, &fakeSource{}, Config{})
	_, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day)
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	src := &fakeSource{queryFreeBusy: staticBusy()}
	c, _ := newTestCache(t, src, Config{})
	ctx := context.Background()

	_, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = c.BusyIntervals(ctx, "t2", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)

	require.NoError(t, c.Invalidate(ctx, "t1"))

	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = c.BusyIntervals(ctx, "t2", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.busyCalls.Load())
}

func TestInvalidate_DiscardsInFlightResult(t *testing.T) {
	var c *Cache
	src := &fakeSource{}
	src.queryFreeBusy = func(ctx context.Context, tenantID, _ string, _, _ time.Time) ([]domain.Interval, error) {
		if src.busyCalls.Load() == 1 {
			require.NoError(t, c.Invalidate(ctx, tenantID))
		}
		return nil, nil
	}
	c, _ = newTestCache(t, src, Config{})
	ctx := context.Background()

	_, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.busyCalls.Load())
}

func TestBusyIntervals_ServesStaleWithinGracePeriod(t *testing.T) {
	busy := domain.Interval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}
	fail := false
	src := &fakeSource{queryFreeBusy: func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		if fail {
			return nil, errors.New("upstream down")
		}
		return []domain.Interval{busy}, nil
	}}
	c, clock := newTestCache(t, src, Config{GracePeriod: 5 * time.Minute})
	ctx := context.Background()

	_, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)

	fail = true
	clock.Advance(4 * time.Minute)
	got, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.Interval{busy}, got)

	clock.Advance(4 * time.Minute)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.Error(t, err)
	assert.True(t, domain.IsProviderError(err))
}

func TestBusyIntervals_RetriesThenSucceeds(t *testing.T) {
	src := &fakeSource{}
	src.queryFreeBusy = func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		if src.busyCalls.Load() < 3 {
			return nil, errors.New("flaky")
		}
		return nil, nil
	}
	c, _ := newTestCache(t, src, Config{Retries: 2})

	_, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 3, src.busyCalls.Load())
}

func TestBusyIntervals_ExhaustedRetriesReturnProviderError(t *testing.T) {
	src := &fakeSource{queryFreeBusy: func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		return nil, errors.New("boom")
	}}
	c, _ := newTestCache(t, src, Config{Retries: 1})

	_, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day.Add(24*time.Hour))
	require.Error(t, err)
	var pErr *domain.ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "query_free_busy", pErr.Op)
	assert.EqualValues(t, 2, src.busyCalls.Load())
}

func TestBusyIntervals_NotConnectedIsNotRetried(t *testing.T) {
	src := &fakeSource{queryFreeBusy: func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		return nil, domain.ErrCalendarNotConnected
	}}
	c, _ := newTestCache(t, src, Config{Retries: 3})

	_, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day.Add(24*time.Hour))
	require.ErrorIs(t, err, domain.ErrCalendarNotConnected)
	assert.EqualValues(t, 1, src.busyCalls.Load())
}

func TestBusyIntervals_TimeoutIsProviderError(t *testing.T) {
	src := &fakeSource{queryFreeBusy: func(ctx context.Context, _, _ string, _, _ time.Time) ([]domain.Interval, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c, _ := newTestCache(t, src, Config{Timeout: 20 * time.Millisecond})

	_, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day.Add(24*time.Hour))
	require.Error(t, err)
	assert.True(t, domain.IsProviderError(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFreshBusyIntervals_BypassesCache(t *testing.T) {
	src := &fakeSource{queryFreeBusy: staticBusy()}
	c, _ := newTestCache(t, src, Config{})
	ctx := context.Background()

	_, err := c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	_, err = c.FreshBusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.busyCalls.Load())

	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.busyCalls.Load())
}

func TestCalendars_UseTheirOwnTTL(t *testing.T) {
	src := &fakeSource{
		queryFreeBusy: staticBusy(),
		listCalendars: func(context.Context, string) ([]domain.Calendar, error) {
			return []domain.Calendar{{ID: "primary", Summary: "Work", Primary: true}}, nil
		},
	}
	c, clock := newTestCache(t, src, Config{})
	ctx := context.Background()

	cals, err := c.Calendars(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, cals, 1)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	_, err = c.Calendars(ctx, "t1")
	require.NoError(t, err)
	_, err = c.BusyIntervals(ctx, "t1", "primary", day, day.Add(24*time.Hour))
	require.NoError(t, err)

	assert.EqualValues(t, 1, src.calendarCalls.Load())
	assert.EqualValues(t, 2, src.busyCalls.Load())

	clock.Advance(3 * time.Minute)
	_, err = c.Calendars(ctx, "t1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calendarCalls.Load())
}

func TestBusyIntervals_ConcurrentCallers(t *testing.T) {
	busy := domain.Interval{Start: day.Add(10 * time.Hour), End: day.Add(11 * time.Hour)}
	src := &fakeSource{queryFreeBusy: func(context.Context, string, string, time.Time, time.Time) ([]domain.Interval, error) {
		time.Sleep(5 * time.Millisecond)
		return []domain.Interval{busy}, nil
	}}
	c, _ := newTestCache(t, src, Config{})

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%8 == 0 {
				_ = c.Invalidate(context.Background(), "t1")
			}
			got, err := c.BusyIntervals(context.Background(), "t1", "primary", day, day.Add(24*time.Hour))
			if err == nil && len(got) != 1 {
				err = errors.New("unexpected result")
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Less(t, src.busyCalls.Load(), int32(callers))
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{now: day}
	s := NewMemoryStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "t1", "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "t1", "b", []byte("2"), time.Hour))
	require.NoError(t, s.Set(ctx, "t2", "c", []byte("3"), time.Hour))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	clock.Advance(time.Minute)
	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires at its TTL")

	require.NoError(t, s.InvalidateTenant(ctx, "t1"))
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "c")
	assert.True(t, ok)
	assert.Equal(t, 1, s.Len())
}
