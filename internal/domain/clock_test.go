package domain

import (
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    TimeOfDay
		wantErr bool
	}{
		{in: "00:00", want: 0},
		{in: "09:30", want: 9*60 + 30},
		{in: " 17:00 ", want: 17 * 60},
		{in: "23:59", want: 23*60 + 59},
		{in: "24:00", want: EndOfDay},
		{in: "24:01", wantErr: true},
		{in: "9:00", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "0900", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseTimeOfDay(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseTimeOfDay(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDayStringRoundTrip(t *testing.T) {
	for _, s := range []string{"00:00", "08:05", "12:30", "24:00"} {
		v, err := ParseTimeOfDay(s)
		if err != nil {
			t.Fatalf("ParseTimeOfDay(%q) error: %v", s, err)
		}
		if v.String() != s {
			t.Fatalf("String() = %q, want %q", v.String(), s)
		}
	}
}

func TestTimeOfDayOn_UsesCalendarDateInUTC(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	// 2026-01-05 01:00 at +10 is still 2026-01-04 in UTC; the calendar date of
	// the argument wins and the wall-clock time is applied in UTC.
	day := time.Date(2026, 1, 5, 1, 0, 0, 0, loc)

	got := TimeOfDay(9 * 60).On(day)
	want := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("On = %v, want %v", got, want)
	}
}

func TestIntervalOverlaps_HalfOpen(t *testing.T) {
	base := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	a := Interval{Start: base, End: base.Add(time.Hour)}

	tests := []struct {
		name string
		b    Interval
		want bool
	}{
		{name: "touching before", b: Interval{Start: base.Add(-time.Hour), End: base}, want: false},
		{name: "touching after", b: Interval{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)}, want: false},
		{name: "contained", b: Interval{Start: base.Add(10 * time.Minute), End: base.Add(20 * time.Minute)}, want: true},
		{name: "straddles start", b: Interval{Start: base.Add(-time.Minute), End: base.Add(time.Minute)}, want: true},
		{name: "identical", b: a, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Overlaps(tt.b); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.b.Overlaps(a); got != tt.want {
				t.Fatalf("Overlaps (reversed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBookingStatusTerminal(t *testing.T) {
	for _, s := range []BookingStatus{BookingCancelled, BookingRejected, BookingCompleted} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range ActiveStatuses {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
