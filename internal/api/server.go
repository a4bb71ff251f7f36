// Package api is the thin HTTP surface over the booking core. Handlers
// decode, delegate and translate domain errors to status codes; no
// business rule lives here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/attendance"
	"github.com/ryan-ian/roomhub/internal/availability"
	"github.com/ryan-ian/roomhub/internal/booking"
	"github.com/ryan-ian/roomhub/internal/models"
)

// BookingService is the state-machine surface the handlers call.
type BookingService interface {
	Create(ctx context.Context, req booking.CreateRequest) (*models.Booking, error)
	Approve(ctx context.Context, id int64) (*models.Booking, error)
	Reject(ctx context.Context, id int64, reason string) error
	CheckIn(ctx context.Context, id int64) (*booking.CheckInResult, error)
	Cancel(ctx context.Context, id int64, reason string) error
	Get(ctx context.Context, id int64) (*models.Booking, error)
}

// AttendanceService covers token issuance, verification and occupancy.
type AttendanceService interface {
	IssueToken(ctx context.Context, bookingID int64) (string, error)
	VerifyCode(ctx context.Context, req attendance.VerifyRequest) (*attendance.VerificationResult, error)
	Occupancy(ctx context.Context, bookingID int64) (*models.Occupancy, error)
	Events(ctx context.Context, bookingID int64) ([]models.AttendanceEvent, error)
}

// AvailabilityChecker previews whether a window is bookable.
type AvailabilityChecker interface {
	Check(ctx context.Context, roomID int64, window models.TimeWindow, userID int64) (availability.Result, error)
}

// Reporter streams workbook exports.
type Reporter interface {
	ExportMonth(ctx context.Context, month time.Time, out io.Writer) error
}

// HTTPServer wires the domain services into routes.
type HTTPServer struct {
	bookings   BookingService
	attendance AttendanceService
	checker    AvailabilityChecker
	reporter   Reporter
	verifyRate *ipLimiter
	log        *zerolog.Logger
}

// Options tunes the per-IP throttle on attendance endpoints.
type Options struct {
	VerifyRatePerIP float64
	VerifyBurst     int
}

// NewHTTPServer builds the server. reporter may be nil to disable the
// export endpoint.
func NewHTTPServer(bookings BookingService, att AttendanceService, checker AvailabilityChecker, reporter Reporter, opts Options, logger *zerolog.Logger) *HTTPServer {
	if opts.VerifyRatePerIP <= 0 {
		opts.VerifyRatePerIP = 5
	}
	if opts.VerifyBurst <= 0 {
		opts.VerifyBurst = 10
	}
	return &HTTPServer{
		bookings:   bookings,
		attendance: att,
		checker:    checker,
		reporter:   reporter,
		verifyRate: newIPLimiter(opts.VerifyRatePerIP, opts.VerifyBurst),
		log:        logger,
	}
}

// Routes returns the handler tree.
func (s *HTTPServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/availability/check", s.handleCheckAvailability)

	mux.HandleFunc("POST /api/bookings", s.handleCreateBooking)
	mux.HandleFunc("GET /api/bookings/{id}", s.handleGetBooking)
	mux.HandleFunc("POST /api/bookings/{id}/approve", s.handleApproveBooking)
	mux.HandleFunc("POST /api/bookings/{id}/reject", s.handleRejectBooking)
	mux.HandleFunc("POST /api/bookings/{id}/check-in", s.handleCheckIn)
	mux.HandleFunc("DELETE /api/bookings/{id}", s.handleCancelBooking)

	mux.HandleFunc("POST /api/bookings/{id}/attendance/token", s.verifyRate.wrap(s.handleIssueToken))
	mux.HandleFunc("POST /api/attendance/verify", s.verifyRate.wrap(s.handleVerifyCode))
	mux.HandleFunc("GET /api/bookings/{id}/occupancy", s.handleOccupancy)
	mux.HandleFunc("GET /api/bookings/{id}/attendance/events", s.handleAttendanceEvents)

	mux.HandleFunc("GET /api/reports/monthly", s.handleMonthlyReport)

	return mux
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Guard
// and conflict responses carry the stable reason code so clients
// branch without parsing messages.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var ce *models.ConflictError
	var ge *models.GuardError
	var te *models.TimeoutError

	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": ve.Error(), "field": ve.Field,
		})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": ce.Error(), "reason": string(ce.Reason),
		})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": ge.Error(), "code": string(ge.Code),
		})
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &te):
		writeError(w, http.StatusGatewayTimeout, te.Error())
	default:
		s.log.Error().Err(err).Msg("unhandled error in handler")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
