// Package booking owns the booking lifecycle: creation through the
// availability resolver, approval, organizer check-in, auto-release and
// cancellation. Every transition is a single conditional write against
// the store so concurrent request handlers cannot double-apply.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/availability"
	"github.com/ryan-ian/roomhub/internal/db"
	"github.com/ryan-ian/roomhub/internal/metrics"
	"github.com/ryan-ian/roomhub/internal/models"
)

// Store is the persistence surface for booking transitions.
type Store interface {
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CreateBookingIfFree(ctx context.Context, b *models.Booking, p db.ReserveParams) error
	CheckInBooking(ctx context.Context, id int64, now time.Time) (bool, error)
	ReleaseBooking(ctx context.Context, id int64, now time.Time) (bool, error)
	ApproveBooking(ctx context.Context, id int64, autoReleaseAt *time.Time, now time.Time) (bool, error)
	CancelBooking(ctx context.Context, id int64, reason string, now time.Time) (bool, error)
}

// Checker re-validates availability before a create is attempted.
type Checker interface {
	Check(ctx context.Context, roomID int64, window models.TimeWindow, userID int64) (availability.Result, error)
}

// Notifier dispatches fire-and-forget events to the surrounding layers.
// Failures are logged by the service and never fail the transition.
type Notifier interface {
	PublishJSON(eventType string, payload any) error
}

// Event types published on transitions.
const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCheckedIn = "booking.checked_in"
	EventBookingReleased  = "booking.auto_released"
	EventBookingCancelled = "booking.cancelled"
)

// Options carries lifecycle policy knobs.
type Options struct {
	// AutoApprove creates bookings directly in confirmed status.
	AutoApprove bool
	// DefaultGraceMinutes applies when a request does not set one.
	DefaultGraceMinutes int
	// CheckInLead is how long before start check-in opens.
	CheckInLead time.Duration
	// StoreTimeout bounds every store call.
	StoreTimeout time.Duration
}

func (o *Options) fillDefaults() {
	if o.DefaultGraceMinutes <= 0 {
		o.DefaultGraceMinutes = 15
	}
	if o.CheckInLead <= 0 {
		o.CheckInLead = 15 * time.Minute
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
}

// Service is the booking state machine.
type Service struct {
	store    Store
	checker  Checker
	notifier Notifier
	opts     Options
	now      func() time.Time
	logger   *zerolog.Logger
}

// NewService constructs the state machine. nowFn may be nil to use the
// wall clock.
func NewService(store Store, checker Checker, notifier Notifier, opts Options, nowFn func() time.Time, logger *zerolog.Logger) *Service {
	opts.fillDefaults()
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{
		store:    store,
		checker:  checker,
		notifier: notifier,
		opts:     opts,
		now:      nowFn,
		logger:   logger,
	}
}

// CreateRequest is the caller-supplied booking metadata.
type CreateRequest struct {
	RoomID          int64
	OrganizerID     int64
	Window          models.TimeWindow
	Title           string
	CheckInRequired *bool // nil means required (the default)
	GraceMinutes    int   // 0 means the configured default
}

// Create runs the availability check and then inserts the booking with
// the atomic reserve-if-free operation, closing the race between
// preview and commit.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	res, err := s.checker.Check(ctx, req.RoomID, req.Window, req.OrganizerID)
	if err != nil {
		return nil, s.timeoutOr("check availability", err)
	}
	if !res.Bookable {
		metrics.IncAvailabilityRejected(string(res.Reason))
		if res.IsValidation() {
			return nil, &models.ValidationError{Field: "window", Reason: string(res.Reason)}
		}
		return nil, &models.ConflictError{Reason: models.ConflictReason(res.Reason), Detail: res.Detail}
	}

	room, err := s.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, s.timeoutOr("load room", err)
	}

	now := s.now().UTC()
	grace := req.GraceMinutes
	if grace <= 0 {
		grace = s.opts.DefaultGraceMinutes
	}
	checkInRequired := req.CheckInRequired == nil || *req.CheckInRequired

	b := &models.Booking{
		Reference:          uuid.NewString(),
		RoomID:             req.RoomID,
		OrganizerID:        req.OrganizerID,
		Window:             models.NewTimeWindow(req.Window.Start, req.Window.End),
		Status:             models.StatusPending,
		CheckInRequired:    checkInRequired,
		GracePeriodMinutes: grace,
		Title:              req.Title,
	}
	if s.opts.AutoApprove {
		// Auto-approval confirms at creation, so the release deadline
		// is computed here rather than in a later Approve call.
		b.Status = models.StatusConfirmed
		if checkInRequired {
			deadline := b.Window.Start.Add(time.Duration(grace) * time.Minute)
			b.AutoReleaseAt = &deadline
		}
	}

	params := db.ReserveParams{
		BufferMinutes: room.BufferMinutes,
		MaxPerDay:     room.MaxBookingsPerDay,
		MaxPerWeek:    room.MaxBookingsPerWeek,
		Now:           now,
	}
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	if err := s.store.CreateBookingIfFree(storeCtx, b, params); err != nil {
		if models.IsConflict(err) {
			// Lost the race to a concurrent insert; expected outcome.
			metrics.IncAvailabilityRejected("insert_conflict")
			return nil, err
		}
		return nil, s.timeoutOr("create booking", err)
	}

	metrics.IncBookingCreated(string(b.Status))
	s.logger.Info().
		Int64("booking_id", b.ID).
		Int64("room_id", b.RoomID).
		Time("start", b.Window.Start).
		Time("end", b.Window.End).
		Str("status", string(b.Status)).
		Msg("booking created")
	s.publish(EventBookingCreated, b)
	return b, nil
}

// Approve moves a pending booking to confirmed and schedules the
// auto-release deadline (start + grace) when check-in is required.
func (s *Service) Approve(ctx context.Context, id int64) (*models.Booking, error) {
	b, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending {
		return nil, &models.GuardError{Code: models.GuardNotPending}
	}

	now := s.now().UTC()
	var deadline *time.Time
	if b.CheckInRequired {
		d := b.Window.Start.Add(time.Duration(b.GracePeriodMinutes) * time.Minute)
		deadline = &d
	}

	applied, err := s.applyWrite(ctx, "approve booking", func(storeCtx context.Context) (bool, error) {
		return s.store.ApproveBooking(storeCtx, id, deadline, now)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &models.GuardError{Code: models.GuardNotPending}
	}

	b.Status = models.StatusConfirmed
	b.AutoReleaseAt = deadline
	s.logger.Info().Int64("booking_id", id).Msg("booking approved")
	s.publish(EventBookingConfirmed, b)
	return b, nil
}

// Reject cancels a pending booking with a facility-side reason.
func (s *Service) Reject(ctx context.Context, id int64, reason string) error {
	b, err := s.getBooking(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != models.StatusPending {
		return &models.GuardError{Code: models.GuardNotPending}
	}
	return s.Cancel(ctx, id, reason)
}

// CheckInResult reports when the organizer checked in.
type CheckInResult struct {
	CheckedInAt time.Time `json:"checked_in_at"`
}

// CheckIn records organizer check-in. Idempotent: a retry after success
// returns the original timestamp. The store-level conditional write
// guarantees check-in and auto-release cannot both win.
func (s *Service) CheckIn(ctx context.Context, id int64) (*CheckInResult, error) {
	b, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	switch b.PhaseAt(now) {
	case models.PhaseCheckedIn:
		metrics.IncCheckIn("idempotent")
		return &CheckInResult{CheckedInAt: *b.CheckedInAt}, nil
	case models.PhasePending:
		return nil, &models.GuardError{Code: models.GuardNotConfirmed}
	case models.PhaseCancelled:
		return nil, &models.GuardError{Code: models.GuardNotConfirmed, Detail: "booking cancelled"}
	case models.PhaseAutoReleased:
		metrics.IncCheckIn("expired")
		return nil, &models.GuardError{Code: models.GuardWindowExpired}
	}

	opensAt := b.Window.Start.Add(-s.opts.CheckInLead)
	if now.Before(opensAt) {
		metrics.IncCheckIn("too_early")
		return nil, &models.GuardError{
			Code:   models.GuardWindowNotOpenYet,
			Detail: fmt.Sprintf("check-in opens at %s", opensAt.Format(time.RFC3339)),
		}
	}
	if now.After(b.CheckInDeadline()) {
		metrics.IncCheckIn("expired")
		return nil, &models.GuardError{Code: models.GuardWindowExpired}
	}

	applied, err := s.applyWrite(ctx, "check in", func(storeCtx context.Context) (bool, error) {
		return s.store.CheckInBooking(storeCtx, id, now)
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost a race: a concurrent retry checked in first (idempotent
		// success), the booking was cancelled, or the sweep released
		// the slot.
		b, err = s.getBooking(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.CheckedInAt != nil {
			metrics.IncCheckIn("idempotent")
			return &CheckInResult{CheckedInAt: *b.CheckedInAt}, nil
		}
		if b.Status == models.StatusCancelled {
			return nil, &models.GuardError{Code: models.GuardNotConfirmed, Detail: "booking cancelled"}
		}
		metrics.IncCheckIn("expired")
		return nil, &models.GuardError{Code: models.GuardWindowExpired}
	}

	metrics.IncCheckIn("ok")
	s.logger.Info().Int64("booking_id", id).Time("checked_in_at", now).Msg("organizer checked in")
	s.publish(EventBookingCheckedIn, map[string]any{"booking_id": id, "checked_in_at": now})
	return &CheckInResult{CheckedInAt: now}, nil
}

// ReleaseResult reports when the slot was vacated.
type ReleaseResult struct {
	AutoReleasedAt time.Time `json:"auto_released_at"`
}

// AutoRelease vacates a confirmed booking whose grace period elapsed
// without check-in. Idempotent: repeating the call returns the original
// release time. Never succeeds once checked_in_at is set.
func (s *Service) AutoRelease(ctx context.Context, id int64) (*ReleaseResult, error) {
	now := s.now().UTC()

	applied, err := s.applyWrite(ctx, "auto release", func(storeCtx context.Context) (bool, error) {
		return s.store.ReleaseBooking(storeCtx, id, now)
	})
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.IncAutoReleased()
		s.logger.Info().Int64("booking_id", id).Time("released_at", now).Msg("booking auto-released")
		s.publish(EventBookingReleased, map[string]any{"booking_id": id, "auto_released_at": now})
		return &ReleaseResult{AutoReleasedAt: now}, nil
	}

	b, err := s.getBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case b.ReleasedAt != nil:
		return &ReleaseResult{AutoReleasedAt: *b.ReleasedAt}, nil
	case b.CheckedInAt != nil:
		return nil, &models.GuardError{Code: models.GuardAlreadyCheckedIn}
	case b.Status != models.StatusConfirmed:
		return nil, &models.GuardError{Code: models.GuardNotConfirmed}
	case b.AutoReleaseAt == nil:
		return nil, &models.GuardError{Code: models.GuardNotConfirmed, Detail: "check-in not required"}
	default:
		return nil, &models.GuardError{
			Code:   models.GuardWindowNotOpenYet,
			Detail: "grace period not elapsed",
		}
	}
}

// Cancel cancels a pending or confirmed booking before its window ends.
// Cancelling an already cancelled booking is a no-op.
func (s *Service) Cancel(ctx context.Context, id int64, reason string) error {
	now := s.now().UTC()

	applied, err := s.applyWrite(ctx, "cancel booking", func(storeCtx context.Context) (bool, error) {
		return s.store.CancelBooking(storeCtx, id, reason, now)
	})
	if err != nil {
		return err
	}
	if !applied {
		b, err := s.getBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status == models.StatusCancelled {
			return nil
		}
		return &models.GuardError{Code: models.GuardBookingEnded}
	}

	metrics.IncBookingCancelled()
	s.logger.Info().Int64("booking_id", id).Str("reason", reason).Msg("booking cancelled")
	s.publish(EventBookingCancelled, map[string]any{"booking_id": id, "reason": reason})
	return nil
}

// Get returns a booking by id.
func (s *Service) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return s.getBooking(ctx, id)
}

func (s *Service) getBooking(ctx context.Context, id int64) (*models.Booking, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	b, err := s.store.GetBooking(storeCtx, id)
	if err != nil {
		return nil, s.timeoutOr("load booking", err)
	}
	return b, nil
}

func (s *Service) applyWrite(ctx context.Context, op string, fn func(context.Context) (bool, error)) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	defer cancel()
	applied, err := fn(storeCtx)
	if err != nil {
		return false, s.timeoutOr(op, err)
	}
	return applied, nil
}

func (s *Service) timeoutOr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{Op: op, Err: err}
	}
	return err
}

func (s *Service) publish(eventType string, payload any) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
