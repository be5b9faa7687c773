package booking

import (
	"errors"
	"testing"

	"meetbook/backend/internal/domain"
)

func TestNext(t *testing.T) {
	statuses := []domain.BookingStatus{
		domain.BookingPending,
		domain.BookingConfirmed,
		domain.BookingCancelled,
		domain.BookingRejected,
		domain.BookingCompleted,
	}
	events := []Event{EventApprove, EventReject, EventCancel, EventGuestCancel, EventComplete}

	allowed := map[domain.BookingStatus]map[Event]domain.BookingStatus{
		domain.BookingPending: {
			EventApprove:     domain.BookingConfirmed,
			EventReject:      domain.BookingRejected,
			EventGuestCancel: domain.BookingCancelled,
		},
		domain.BookingConfirmed: {
			EventCancel:      domain.BookingCancelled,
			EventGuestCancel: domain.BookingCancelled,
			EventComplete:    domain.BookingCompleted,
		},
	}

	for _, from := range statuses {
		for _, ev := range events {
			got, err := Next(from, ev)
			want, ok := allowed[from][ev]
			if !ok {
				if !errors.Is(err, domain.ErrInvalidTransition) {
					t.Fatalf("Next(%s, %s) error = %v, want ErrInvalidTransition", from, ev, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("Next(%s, %s) error: %v", from, ev, err)
			}
			if got != want {
				t.Fatalf("Next(%s, %s) = %s, want %s", from, ev, got, want)
			}
		}
	}
}

func TestNext_TerminalStatusesHaveNoExit(t *testing.T) {
	for _, from := range []domain.BookingStatus{domain.BookingCancelled, domain.BookingRejected, domain.BookingCompleted} {
		if !from.Terminal() {
			t.Fatalf("%s should be terminal", from)
		}
		for key := range transitions {
			if key.from == from {
				t.Fatalf("terminal status %s has transition %s", from, key.event)
			}
		}
	}
}
