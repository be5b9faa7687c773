package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meetbook/backend/internal/auth"
	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/service/booking"
	"meetbook/backend/internal/service/catalog"
)

type fakeBookings struct {
	resolveFn       func(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error)
	getSlotsFn      func(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error)
	getSlotsRangeFn func(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]booking.DaySlots, error)
	createFn        func(ctx context.Context, in booking.CreateInput) (domain.Booking, error)
	byTokenFn       func(ctx context.Context, token string) (domain.Booking, error)
	cancelByTokenFn func(ctx context.Context, token, reason string) (domain.Booking, error)
}

func (f *fakeBookings) ResolveAvailability(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error) {
	if f.resolveFn == nil {
		panic("ResolveAvailability not configured")
	}
	return f.resolveFn(ctx, meetingTypeID)
}

func (f *fakeBookings) GetSlots(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error) {
	if f.getSlotsFn == nil {
		panic("GetSlots not configured")
	}
	return f.getSlotsFn(ctx, meetingTypeID, date)
}

func (f *fakeBookings) GetSlotsRange(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]booking.DaySlots, error) {
	if f.getSlotsRangeFn == nil {
		panic("GetSlotsRange not configured")
	}
	return f.getSlotsRangeFn(ctx, meetingTypeID, from, days)
}

func (f *fakeBookings) CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Booking, error) {
	if f.createFn == nil {
		panic("CreateBooking not configured")
	}
	return f.createFn(ctx, in)
}

func (f *fakeBookings) GetBookingByToken(ctx context.Context, token string) (domain.Booking, error) {
	if f.byTokenFn == nil {
		panic("GetBookingByToken not configured")
	}
	return f.byTokenFn(ctx, token)
}

func (f *fakeBookings) CancelByToken(ctx context.Context, token, reason string) (domain.Booking, error) {
	if f.cancelByTokenFn == nil {
		panic("CancelByToken not configured")
	}
	return f.cancelByTokenFn(ctx, token, reason)
}

type fakeConnector struct {
	connectFn func(ctx context.Context, actor domain.Actor, code string) error
}

func (f *fakeConnector) ConnectCalendar(ctx context.Context, actor domain.Actor, code string) error {
	if f.connectFn == nil {
		panic("ConnectCalendar not configured")
	}
	return f.connectFn(ctx, actor, code)
}

var _ bookingService = (*booking.Service)(nil)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

var (
	_ bookingService    = (*booking.Service)(nil)
	_ calendarConnector = (*catalog.Service)(nil)
	_ stateVerifier     = (*auth.Verifier)(nil)
)

func newVerifier(t *testing.T) *auth.Verifier {
	t.Helper()
	v, err := auth.NewVerifier(strings.Repeat("s", 32), time.Hour, nil)
	require.NoError(t, err)
	return v
}

func setupRouter(t *testing.T, bookings *fakeBookings, conn *fakeConnector) (*gin.Engine, *auth.Verifier) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	v := newVerifier(t)
	if conn == nil {
		conn = &fakeConnector{}
	}
	return NewRouter(NewHandler(bookings, conn, v, nil), nil), v
}

func performRequest(router *gin.Engine, method, path string, body any, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var env envelope
	_ = json.Unmarshal(resp.Body.Bytes(), &env)
	return resp, env
}

func TestSlots(t *testing.T) {
	mtID := uuid.New()
	router, _ := setupRouter(t, &fakeBookings{
		getSlotsFn: func(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error) {
			assert.Equal(t, mtID, meetingTypeID)
			assert.Equal(t, monday, date)
			return []domain.Slot{{Start: date.Add(9 * time.Hour), End: date.Add(9*time.Hour + 30*time.Minute)}}, nil
		},
	}, nil)

	resp, env := performRequest(router, http.MethodGet, "/v1/meeting-types/"+mtID.String()+"/slots?date=2026-03-02", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, env.Success)

	var day dayView
	require.NoError(t, json.Unmarshal(env.Data, &day))
	assert.Equal(t, "2026-03-02", day.Date)
	require.Len(t, day.Slots, 1)
	assert.Equal(t, monday.Add(9*time.Hour), day.Slots[0].Start)

	resp, env = performRequest(router, http.MethodGet, "/v1/meeting-types/"+mtID.String()+"/slots?date=tomorrow", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	resp, _ = performRequest(router, http.MethodGet, "/v1/meeting-types/nope/slots?date=2026-03-02", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestSlotsRange_DefaultsToAWeek(t *testing.T) {
	var gotDays int
	router, _ := setupRouter(t, &fakeBookings{
		getSlotsRangeFn: func(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]booking.DaySlots, error) {
			gotDays = days
			out := make([]booking.DaySlots, days)
			for i := range out {
				out[i] = booking.DaySlots{Date: from.AddDate(0, 0, i), Slots: []domain.Slot{}}
			}
			return out, nil
		},
	}, nil)

	resp, env := performRequest(router, http.MethodGet, "/v1/meeting-types/"+uuid.NewString()+"/slots/range?from=2026-03-02", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 7, gotDays)

	var body struct {
		Days []dayView `json:"days"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Len(t, body.Days, 7)
	assert.Equal(t, "2026-03-08", body.Days[6].Date)
}

func TestAvailability_SortedByWeekday(t *testing.T) {
	router, _ := setupRouter(t, &fakeBookings{
		resolveFn: func(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error) {
			return availability.Weekly{
				time.Wednesday: {{Start: 13 * 60, End: 17 * 60}},
				time.Monday:    {{Start: 9 * 60, End: 12 * 60}},
			}, nil
		},
	}, nil)

	resp, env := performRequest(router, http.MethodGet, "/v1/meeting-types/"+uuid.NewString()+"/availability", nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Windows []windowView `json:"windows"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, []windowView{
		{DayOfWeek: 1, Start: "09:00", End: "12:00"},
		{DayOfWeek: 3, Start: "13:00", End: "17:00"},
	}, body.Windows)
}

func TestCreateBooking(t *testing.T) {
	var got booking.CreateInput
	router, _ := setupRouter(t, &fakeBookings{
		createFn: func(ctx context.Context, in booking.CreateInput) (domain.Booking, error) {
			got = in
			return domain.Booking{
				ID:                uuid.New(),
				MeetingTypeID:     in.MeetingTypeID,
				GuestName:         in.GuestName,
				GuestEmail:        in.GuestEmail,
				StartTime:         in.StartTime,
				EndTime:           in.StartTime.Add(30 * time.Minute),
				Status:            domain.BookingPending,
				CancellationToken: strings.Repeat("c", 64),
			}, nil
		},
	}, nil)

	mtID := uuid.New()
	resp, env := performRequest(router, http.MethodPost, "/v1/bookings", map[string]any{
		"meeting_type_id": mtID.String(),
		"guest_name":      "Ada",
		"guest_email":     "ada@example.com",
		"start_time":      "2026-03-02T10:00:00Z",
	}, map[string]string{"Idempotency-Key": " form-42 "})
	require.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "form-42", got.IdempotencyKey)
	assert.Equal(t, mtID, got.MeetingTypeID)

	var body struct {
		Booking bookingView `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "pending", body.Booking.Status)
	assert.Len(t, body.Booking.CancellationToken, 64)

	resp, env = performRequest(router, http.MethodPost, "/v1/bookings", map[string]any{"guest_name": "Ada"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.False(t, env.Success)
}

func TestCreateBooking_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "slot taken", err: domain.ErrSlotUnavailable, status: http.StatusConflict, code: "SLOT_UNAVAILABLE"},
		{name: "no calendar", err: domain.ErrCalendarNotConfigured, status: http.StatusPreconditionFailed, code: "CALENDAR_NOT_CONFIGURED"},
		{name: "provider", err: domain.NewProviderError("freebusy", errors.New("timeout")), status: http.StatusServiceUnavailable, code: "PROVIDER_UNAVAILABLE"},
		{name: "not found", err: domain.ErrNotFound, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "validation", err: domain.NewValidationError("guest_email is invalid"), status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "internal", err: errors.New("disk on fire"), status: http.StatusInternalServerError, code: "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := setupRouter(t, &fakeBookings{
				createFn: func(ctx context.Context, in booking.CreateInput) (domain.Booking, error) {
					return domain.Booking{}, tt.err
				},
			}, nil)
			resp, env := performRequest(router, http.MethodPost, "/v1/bookings", map[string]any{
				"meeting_type_id": uuid.NewString(),
				"guest_name":      "Ada",
				"guest_email":     "ada@example.com",
				"start_time":      "2026-03-02T10:00:00Z",
			}, nil)
			assert.Equal(t, tt.status, resp.Code)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.NotContains(t, env.Error.Message, "disk on fire")
		})
	}
}

func TestCancelLink(t *testing.T) {
	token := strings.Repeat("t", 64)
	b := domain.Booking{ID: uuid.New(), Status: domain.BookingConfirmed, CancellationToken: token}
	router, _ := setupRouter(t, &fakeBookings{
		byTokenFn: func(ctx context.Context, got string) (domain.Booking, error) {
			if got != token {
				return domain.Booking{}, domain.ErrNotFound
			}
			return b, nil
		},
		cancelByTokenFn: func(ctx context.Context, got, reason string) (domain.Booking, error) {
			if len(strings.TrimSpace(reason)) < 10 {
				return domain.Booking{}, domain.ErrInvalidTransition
			}
			out := b
			out.Status = domain.BookingCancelled
			out.CancellationReason = &reason
			return out, nil
		},
	}, nil)

	resp, env := performRequest(router, http.MethodGet, "/v1/bookings/cancel/"+token, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Booking bookingView `json:"booking"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "confirmed", body.Booking.Status)
	assert.Empty(t, body.Booking.CancellationToken)

	resp, _ = performRequest(router, http.MethodGet, "/v1/bookings/cancel/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)

	resp, env = performRequest(router, http.MethodPost, "/v1/bookings/cancel/"+token, map[string]any{"reason": "short"}, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Error.Code)

	resp, env = performRequest(router, http.MethodPost, "/v1/bookings/cancel/"+token, map[string]any{"reason": "I have a conflict that day"}, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NoError(t, json.Unmarshal(env.Data, &body))
	assert.Equal(t, "cancelled", body.Booking.Status)
}

func TestOAuthCallback(t *testing.T) {
	var connected []string
	conn := &fakeConnector{
		connectFn: func(ctx context.Context, actor domain.Actor, code string) error {
			connected = append(connected, actor.TenantID+":"+code)
			return nil
		},
	}
	router, v := setupRouter(t, &fakeBookings{}, conn)

	state, err := v.IssueState(domain.Actor{Subject: "admin-1", TenantID: "t1"})
	require.NoError(t, err)

	resp, _ := performRequest(router, http.MethodGet, "/v1/calendar/oauth/callback?code=abc&state="+state, nil, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, []string{"t1:abc"}, connected)

	adminToken, err := v.Issue(domain.Actor{Subject: "admin-1", TenantID: "t1"})
	require.NoError(t, err)
	resp, env := performRequest(router, http.MethodGet, "/v1/calendar/oauth/callback?code=abc&state="+adminToken, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "UNAUTHENTICATED", env.Error.Code)

	resp, env = performRequest(router, http.MethodGet, "/v1/calendar/oauth/callback?error=access_denied", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "GRANT_DECLINED", env.Error.Code)
	assert.Len(t, connected, 1)
}

func TestPanicBecomesEnvelope(t *testing.T) {
	router, _ := setupRouter(t, &fakeBookings{}, nil)

	resp, env := performRequest(router, http.MethodGet, "/v1/bookings/cancel/anything", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "INTERNAL_ERROR", env.Error.Code)
}
