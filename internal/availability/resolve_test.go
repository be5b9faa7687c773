package availability

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/backend/internal/domain"
)

func template(active bool, rules ...domain.AvailabilityRule) domain.AvailabilityTemplate {
	return domain.AvailabilityTemplate{
		ID:       uuid.New(),
		TenantID: "t1",
		Name:     "hours",
		Active:   active,
		Rules:    rules,
	}
}

func rule(day int16, start, end string) domain.AvailabilityRule {
	return domain.AvailabilityRule{DayOfWeek: day, StartTime: start, EndTime: end}
}

func TestResolve_EmptyWithoutTemplates(t *testing.T) {
	got, err := Resolve(Select(nil, nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSelect_FallsBackToDefault(t *testing.T) {
	def := template(true, rule(1, "09:00", "17:00"))

	got := Select(nil, &def)
	require.Len(t, got, 1)
	assert.Equal(t, def.ID, got[0].ID)

	inactiveAssigned := template(false, rule(2, "10:00", "11:00"))
	got = Select([]domain.AvailabilityTemplate{inactiveAssigned}, &def)
	require.Len(t, got, 1)
	assert.Equal(t, def.ID, got[0].ID, "inactive assignments fall back to the default")

	inactiveDefault := template(false, rule(1, "09:00", "17:00"))
	assert.Empty(t, Select(nil, &inactiveDefault))
}

func TestSelect_PrefersAssigned(t *testing.T) {
	def := template(true, rule(1, "09:00", "17:00"))
	assigned := template(true, rule(3, "13:00", "15:00"))

	got := Select([]domain.AvailabilityTemplate{assigned}, &def)
	require.Len(t, got, 1)
	assert.Equal(t, assigned.ID, got[0].ID)
}

func TestResolve_UnionsTemplatesByWeekday(t *testing.T) {
	a := template(true,
		rule(1, "13:00", "17:00"),
		rule(1, "09:00", "12:00"),
		rule(3, "10:00", "11:00"),
	)
	b := template(true,
		rule(1, "11:00", "14:00"),
		rule(5, "08:00", "09:00"),
	)
	off := template(false, rule(2, "09:00", "17:00"))

	got, err := Resolve([]domain.AvailabilityTemplate{a, b, off})
	require.NoError(t, err)

	assert.Equal(t, []domain.TimeWindow{
		{Start: 9 * 60, End: 12 * 60},
		{Start: 11 * 60, End: 14 * 60},
		{Start: 13 * 60, End: 17 * 60},
	}, got[time.Monday], "overlapping windows from different templates are kept")
	assert.Len(t, got[time.Wednesday], 1)
	assert.Len(t, got[time.Friday], 1)
	assert.NotContains(t, got, time.Tuesday)
}

func TestResolve_Deterministic(t *testing.T) {
	templates := []domain.AvailabilityTemplate{
		template(true, rule(1, "13:00", "17:00"), rule(1, "09:00", "12:00")),
		template(true, rule(1, "09:00", "10:00")),
	}

	first, err := Resolve(templates)
	require.NoError(t, err)
	second, err := Resolve(templates)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestResolve_RejectsMalformedRule(t *testing.T) {
	_, err := Resolve([]domain.AvailabilityTemplate{template(true, rule(1, "9am", "17:00"))})
	require.Error(t, err)

	_, err = Resolve([]domain.AvailabilityTemplate{template(true, rule(7, "09:00", "17:00"))})
	require.Error(t, err)
}

func TestWeeklyFor(t *testing.T) {
	w := Weekly{time.Monday: {{Start: 9 * 60, End: 10 * 60}}}
	monday := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	assert.Len(t, w.For(monday), 1)
	assert.Empty(t, w.For(monday.AddDate(0, 0, 1)))
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		rules   []domain.AvailabilityRule
		wantErr bool
	}{
		{name: "empty", rules: nil},
		{name: "touching windows", rules: []domain.AvailabilityRule{rule(1, "09:00", "12:00"), rule(1, "12:00", "17:00")}},
		{name: "same hours other days", rules: []domain.AvailabilityRule{rule(1, "09:00", "17:00"), rule(2, "09:00", "17:00")}},
		{name: "until end of day", rules: []domain.AvailabilityRule{rule(6, "20:00", "24:00")}},
		{name: "overlap same day", rules: []domain.AvailabilityRule{rule(1, "09:00", "12:00"), rule(1, "11:59", "17:00")}, wantErr: true},
		{name: "reversed window", rules: []domain.AvailabilityRule{rule(1, "17:00", "09:00")}, wantErr: true},
		{name: "empty window", rules: []domain.AvailabilityRule{rule(1, "09:00", "09:00")}, wantErr: true},
		{name: "bad weekday", rules: []domain.AvailabilityRule{rule(-1, "09:00", "10:00")}, wantErr: true},
		{name: "bad format", rules: []domain.AvailabilityRule{rule(1, "9:00", "10:00")}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRules(tt.rules)
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var vErr *domain.ValidationError
			assert.True(t, errors.As(err, &vErr), "error type = %T", err)
		})
	}
}
