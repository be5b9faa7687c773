package booking

import (
	"fmt"

	"meetbook/backend/internal/domain"
)

type Event string

const (
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
	EventCancel      Event = "cancel"
	EventGuestCancel Event = "guest_cancel"
	EventComplete    Event = "complete"
)

type transitionKey struct {
	from  domain.BookingStatus
	event Event
}

var transitions = map[transitionKey]domain.BookingStatus{
	{domain.BookingPending, EventApprove}:       domain.BookingConfirmed,
	{domain.BookingPending, EventReject}:        domain.BookingRejected,
	{domain.BookingConfirmed, EventCancel}:      domain.BookingCancelled,
	{domain.BookingPending, EventGuestCancel}:   domain.BookingCancelled,
	{domain.BookingConfirmed, EventGuestCancel}: domain.BookingCancelled,
	{domain.BookingConfirmed, EventComplete}:    domain.BookingCompleted,
}

// Next returns the status an event moves a booking to. Terminal statuses and
// unlisted events yield ErrInvalidTransition.
func Next(from domain.BookingStatus, event Event) (domain.BookingStatus, error) {
	to, ok := transitions[transitionKey{from: from, event: event}]
	if !ok {
		return "", fmt.Errorf("%w: %s from %s", domain.ErrInvalidTransition, event, from)
	}
	return to, nil
}
