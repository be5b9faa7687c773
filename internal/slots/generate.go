// Package slots computes the bookable slots of a single day.
package slots

import (
	"sort"
	"time"

	"meetbook/backend/internal/domain"
)

// Grid is the alignment of every candidate start.
const Grid = 15 * time.Minute

// Params is one day's input to Generate. Candidate starts are aligned to the
// 15-minute Grid and advance by Step(Duration), not by one grid unit.
type Params struct {
	Date         time.Time
	Windows      []domain.TimeWindow
	Busy         []domain.Interval
	Existing     []domain.Interval
	Duration     time.Duration
	BufferBefore time.Duration
	BufferAfter  time.Duration
	Now          time.Time
}

// Step is the distance between two candidate starts: the meeting duration
// rounded up to the grid, never less than one grid unit. The grid aligns
// candidates; it is not the step itself.
func Step(duration time.Duration) time.Duration {
	if duration <= Grid {
		return Grid
	}
	return ((duration + Grid - 1) / Grid) * Grid
}

// Generate walks each window of the day from its start. A candidate t occupies
// [t, t+bufferBefore+duration+bufferAfter) and is offered when that range fits
// in the window, overlaps no busy interval or existing booking, and t is not
// before now. The offered slot excludes the buffers.
func Generate(p Params) []domain.Slot {
	if p.Duration <= 0 || p.BufferBefore < 0 || p.BufferAfter < 0 {
		return nil
	}

	day := domain.StartOfDay(p.Date)
	occupied := p.BufferBefore + p.Duration + p.BufferAfter
	step := Step(p.Duration)

	seen := make(map[int64]struct{})
	var out []domain.Slot
	for _, w := range p.Windows {
		if w.Length() < occupied {
			continue
		}
		windowEnd := w.End.On(day)
		for t := w.Start.On(day); !t.Add(occupied).After(windowEnd); t = t.Add(step) {
			if t.Before(p.Now) {
				continue
			}
			candidate := domain.Interval{Start: t, End: t.Add(occupied)}
			if overlapsAny(candidate, p.Busy) || overlapsAny(candidate, p.Existing) {
				continue
			}
			start := t.Add(p.BufferBefore)
			if _, ok := seen[start.UnixNano()]; ok {
				continue
			}
			seen[start.UnixNano()] = struct{}{}
			out = append(out, domain.Slot{Start: start, End: start.Add(p.Duration)})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Contains reports whether a slot starting at start with the given duration
// is among the generated ones.
func Contains(slots []domain.Slot, start time.Time, duration time.Duration) bool {
	for _, s := range slots {
		if s.Start.Equal(start) && s.End.Equal(start.Add(duration)) {
			return true
		}
	}
	return false
}

// Within returns the intervals that overlap r. A range fetched once for many
// days is sliced per day with it.
func Within(intervals []domain.Interval, r domain.Interval) []domain.Interval {
	var out []domain.Interval
	for _, iv := range intervals {
		if iv.Overlaps(r) {
			out = append(out, iv)
		}
	}
	return out
}

func overlapsAny(candidate domain.Interval, intervals []domain.Interval) bool {
	for _, iv := range intervals {
		if candidate.Overlaps(iv) {
			return true
		}
	}
	return false
}
