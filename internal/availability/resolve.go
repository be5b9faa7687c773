// Package availability turns weekly availability templates into per-weekday
// time windows.
package availability

import (
	"fmt"
	"sort"
	"time"

	"meetbook/backend/internal/domain"
)

// Weekly maps a weekday to the windows offered on it. Windows coming from
// different templates may overlap; slot generation offers each start once.
type Weekly map[time.Weekday][]domain.TimeWindow

func (w Weekly) For(day time.Time) []domain.TimeWindow {
	return w[day.Weekday()]
}

// Select picks the templates that govern a meeting type: its active assigned
// templates, else the tenant default when it is active, else none.
func Select(assigned []domain.AvailabilityTemplate, tenantDefault *domain.AvailabilityTemplate) []domain.AvailabilityTemplate {
	out := make([]domain.AvailabilityTemplate, 0, len(assigned))
	for _, t := range assigned {
		if t.Active {
			out = append(out, t)
		}
	}
	if len(out) > 0 {
		return out
	}
	if tenantDefault != nil && tenantDefault.Active {
		return []domain.AvailabilityTemplate{*tenantDefault}
	}
	return nil
}

// Resolve unions the rules of all active templates, grouped by weekday.
// Windows of a day are ordered by start then end so equal inputs always give
// equal output.
func Resolve(templates []domain.AvailabilityTemplate) (Weekly, error) {
	out := make(Weekly)
	for _, t := range templates {
		if !t.Active {
			continue
		}
		for _, r := range t.Rules {
			w, err := ruleWindow(r)
			if err != nil {
				return nil, fmt.Errorf("template %s: %w", t.ID, err)
			}
			day := time.Weekday(r.DayOfWeek)
			out[day] = append(out[day], w)
		}
	}
	for day := range out {
		windows := out[day]
		sort.SliceStable(windows, func(i, j int) bool {
			if windows[i].Start != windows[j].Start {
				return windows[i].Start < windows[j].Start
			}
			return windows[i].End < windows[j].End
		})
	}
	return out, nil
}

func ruleWindow(r domain.AvailabilityRule) (domain.TimeWindow, error) {
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return domain.TimeWindow{}, fmt.Errorf("invalid day_of_week %d", r.DayOfWeek)
	}
	start, err := domain.ParseTimeOfDay(r.StartTime)
	if err != nil {
		return domain.TimeWindow{}, err
	}
	end, err := domain.ParseTimeOfDay(r.EndTime)
	if err != nil {
		return domain.TimeWindow{}, err
	}
	if end <= start {
		return domain.TimeWindow{}, fmt.Errorf("window %s-%s ends before it starts", r.StartTime, r.EndTime)
	}
	return domain.TimeWindow{Start: start, End: end}, nil
}
