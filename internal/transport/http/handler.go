// Package http serves the public booking page API: slot listings, booking
// creation and the cancellation link a guest receives. It also receives the
// calendar provider's OAuth callback.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"meetbook/backend/internal/availability"
	"meetbook/backend/internal/domain"
	"meetbook/backend/internal/service/booking"
)

const dateLayout = "2006-01-02"

type bookingService interface {
	ResolveAvailability(ctx context.Context, meetingTypeID uuid.UUID) (availability.Weekly, error)
	GetSlots(ctx context.Context, meetingTypeID uuid.UUID, date time.Time) ([]domain.Slot, error)
	GetSlotsRange(ctx context.Context, meetingTypeID uuid.UUID, from time.Time, days int) ([]booking.DaySlots, error)
	CreateBooking(ctx context.Context, in booking.CreateInput) (domain.Booking, error)
	GetBookingByToken(ctx context.Context, token string) (domain.Booking, error)
	CancelByToken(ctx context.Context, token, reason string) (domain.Booking, error)
}

type calendarConnector interface {
	ConnectCalendar(ctx context.Context, actor domain.Actor, code string) error
}

type stateVerifier interface {
	VerifyState(state string) (domain.Actor, error)
}

type Handler struct {
	bookings bookingService
	calendar calendarConnector
	states   stateVerifier
	log      *slog.Logger
}

func NewHandler(bookings bookingService, calendar calendarConnector, states stateVerifier, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		bookings: bookings,
		calendar: calendar,
		states:   states,
		log:      log.With(slog.String("component", "http.guest")),
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/meeting-types/:id/availability", h.Availability)
	rg.GET("/meeting-types/:id/slots", h.Slots)
	rg.GET("/meeting-types/:id/slots/range", h.SlotsRange)
	rg.POST("/bookings", h.CreateBooking)
	rg.GET("/bookings/cancel/:token", h.BookingByToken)
	rg.POST("/bookings/cancel/:token", h.CancelBooking)
	rg.GET("/calendar/oauth/callback", h.OAuthCallback)
}

// NewRouter builds the engine serving the guest API under /v1.
func NewRouter(h *Handler, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "http"))
	metrics, err := newRequestMetrics()
	if err != nil {
		log.Warn("request metrics disabled", slog.Any("err", err))
		metrics = nil
	}

	router := gin.New()
	router.Use(requestLogger(log, metrics))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	h.RegisterRoutes(router.Group("/v1"))
	return router
}

type createBookingRequest struct {
	MeetingTypeID string    `json:"meeting_type_id" binding:"required"`
	GuestName     string    `json:"guest_name" binding:"required"`
	GuestEmail    string    `json:"guest_email" binding:"required"`
	GuestPhone    string    `json:"guest_phone"`
	Notes         string    `json:"notes"`
	StartTime     time.Time `json:"start_time" binding:"required"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type slotView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type dayView struct {
	Date  string     `json:"date"`
	Slots []slotView `json:"slots"`
}

type windowView struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// bookingView is what a guest may see of a booking.
type bookingView struct {
	ID                 uuid.UUID `json:"id"`
	MeetingTypeID      uuid.UUID `json:"meeting_type_id"`
	GuestName          string    `json:"guest_name"`
	GuestEmail         string    `json:"guest_email"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	CancellationToken  string    `json:"cancellation_token,omitempty"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
}

func (h *Handler) Availability(c *gin.Context) {
	id, ok := h.meetingTypeID(c)
	if !ok {
		return
	}
	week, err := h.bookings.ResolveAvailability(c.Request.Context(), id)
	if err != nil {
		failWith(c, h.log, err, slog.String("meeting_type_id", id.String()))
		return
	}

	days := make([]int, 0, len(week))
	for d := range week {
		days = append(days, int(d))
	}
	sort.Ints(days)
	windows := []windowView{}
	for _, d := range days {
		for _, w := range week[time.Weekday(d)] {
			windows = append(windows, windowView{DayOfWeek: d, Start: w.Start.String(), End: w.End.String()})
		}
	}
	success(c, http.StatusOK, gin.H{"windows": windows})
}

func (h *Handler) Slots(c *gin.Context) {
	id, ok := h.meetingTypeID(c)
	if !ok {
		return
	}
	date, err := time.Parse(dateLayout, c.Query("date"))
	if err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.bookings.GetSlots(c.Request.Context(), id, date)
	if err != nil {
		failWith(c, h.log, err, slog.String("meeting_type_id", id.String()))
		return
	}
	success(c, http.StatusOK, dayView{Date: date.Format(dateLayout), Slots: toSlotViews(slots)})
}

func (h *Handler) SlotsRange(c *gin.Context) {
	id, ok := h.meetingTypeID(c)
	if !ok {
		return
	}
	from, err := time.Parse(dateLayout, c.Query("from"))
	if err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "from must be YYYY-MM-DD")
		return
	}
	days := 7
	if raw := c.Query("days"); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "days must be a number")
			return
		}
	}

	result, err := h.bookings.GetSlotsRange(c.Request.Context(), id, from, days)
	if err != nil {
		failWith(c, h.log, err, slog.String("meeting_type_id", id.String()))
		return
	}
	out := make([]dayView, 0, len(result))
	for _, d := range result {
		out = append(out, dayView{Date: d.Date.Format(dateLayout), Slots: toSlotViews(d.Slots)})
	}
	success(c, http.StatusOK, gin.H{"days": out})
}

func (h *Handler) CreateBooking(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	mtID, err := uuid.Parse(req.MeetingTypeID)
	if err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "meeting_type_id must be a UUID")
		return
	}

	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if key == "" {
		key = strings.TrimSpace(c.GetHeader("X-Idempotency-Key"))
	}

	b, err := h.bookings.CreateBooking(c.Request.Context(), booking.CreateInput{
		MeetingTypeID:  mtID,
		GuestName:      req.GuestName,
		GuestEmail:     req.GuestEmail,
		GuestPhone:     req.GuestPhone,
		Notes:          req.Notes,
		StartTime:      req.StartTime,
		IdempotencyKey: key,
	})
	if err != nil {
		failWith(c, h.log, err, slog.String("meeting_type_id", mtID.String()), slog.Time("start_time", req.StartTime))
		return
	}

	h.log.Info("booking created",
		slog.String("booking_id", b.ID.String()),
		slog.String("tenant_id", b.TenantID),
		slog.String("status", string(b.Status)),
	)
	success(c, http.StatusCreated, gin.H{"booking": toBookingView(b, true)})
}

func (h *Handler) BookingByToken(c *gin.Context) {
	b, err := h.bookings.GetBookingByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	success(c, http.StatusOK, gin.H{"booking": toBookingView(b, false)})
}

func (h *Handler) CancelBooking(c *gin.Context) {
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	b, err := h.bookings.CancelByToken(c.Request.Context(), c.Param("token"), req.Reason)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	h.log.Info("booking cancelled by guest", slog.String("booking_id", b.ID.String()), slog.String("tenant_id", b.TenantID))
	success(c, http.StatusOK, gin.H{"booking": toBookingView(b, false)})
}

// OAuthCallback completes the calendar grant an administrator started with
// CalendarAuthURL.
func (h *Handler) OAuthCallback(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		h.log.Warn("calendar grant declined", slog.String("reason", reason))
		fail(c, http.StatusBadRequest, "GRANT_DECLINED", "Calendar access was not granted.")
		return
	}
	actor, err := h.states.VerifyState(c.Query("state"))
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if err := h.calendar.ConnectCalendar(c.Request.Context(), actor, c.Query("code")); err != nil {
		failWith(c, h.log, err, slog.String("tenant_id", actor.TenantID))
		return
	}
	success(c, http.StatusOK, gin.H{"connected": true})
}

func (h *Handler) meetingTypeID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		fail(c, http.StatusBadRequest, "VALIDATION_ERROR", "meeting type id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func toSlotViews(in []domain.Slot) []slotView {
	out := make([]slotView, 0, len(in))
	for _, s := range in {
		out = append(out, slotView{Start: s.Start.UTC(), End: s.End.UTC()})
	}
	return out
}

func toBookingView(b domain.Booking, withToken bool) bookingView {
	v := bookingView{
		ID:                 b.ID,
		MeetingTypeID:      b.MeetingTypeID,
		GuestName:          b.GuestName,
		GuestEmail:         b.GuestEmail,
		StartTime:          b.StartTime.UTC(),
		EndTime:            b.EndTime.UTC(),
		Status:             string(b.Status),
		CancellationReason: b.CancellationReason,
	}
	if withToken {
		v.CancellationToken = b.CancellationToken
	}
	return v
}
