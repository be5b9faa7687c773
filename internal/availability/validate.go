package availability

import (
	"sort"

	"meetbook/backend/internal/domain"
)

// ValidateRules checks a template's rules before they are stored: weekday in
// 0-6, HH:MM bounds, start before end, and no two windows of the same weekday
// overlapping. Windows that only touch are allowed.
func ValidateRules(rules []domain.AvailabilityRule) error {
	byDay := make(map[int16][]domain.TimeWindow, 7)
	for _, r := range rules {
		w, err := ruleWindow(r)
		if err != nil {
			return domain.NewValidationError("invalid rule: %v", err)
		}
		byDay[r.DayOfWeek] = append(byDay[r.DayOfWeek], w)
	}

	for day, windows := range byDay {
		sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
		for i := 1; i < len(windows); i++ {
			if windows[i].Start < windows[i-1].End {
				return domain.NewValidationError(
					"rules overlap on day %d: %s-%s and %s-%s",
					day,
					windows[i-1].Start, windows[i-1].End,
					windows[i].Start, windows[i].End,
				)
			}
		}
	}
	return nil
}
