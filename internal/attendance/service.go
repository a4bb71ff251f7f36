// Package attendance issues meeting entry tokens, verifies invitation
// codes and keeps the live occupancy count. It reads booking state but
// never mutates it; the only writes are invitation attendance fields
// and the append-only audit trail.
package attendance

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/metrics"
	"github.com/ryan-ian/roomhub/internal/models"
)

// Store is the persistence surface the subsystem needs.
type Store interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetInvitation(ctx context.Context, id int64) (*models.Invitation, error)
	MarkInvitationPresent(ctx context.Context, id int64, now time.Time) (bool, error)
	GetOccupancy(ctx context.Context, bookingID int64) (*models.Occupancy, error)
	AppendAttendanceEvent(ctx context.Context, ev *models.AttendanceEvent) error
	ListAttendanceEvents(ctx context.Context, bookingID int64) ([]models.AttendanceEvent, error)
}

// codePattern is the fixed invitation code format. Checked before any
// store lookup so malformed submissions are rejected cheaply.
var codePattern = regexp.MustCompile(`^\d{4}$`)

// Service implements token issuance, code verification and occupancy.
type Service struct {
	store        Store
	signer       *Signer
	now          func() time.Time
	storeTimeout time.Duration
	logger       *zerolog.Logger
}

// NewService constructs the subsystem. nowFn may be nil to use the
// wall clock.
func NewService(store Store, signer *Signer, storeTimeout time.Duration, nowFn func() time.Time, logger *zerolog.Logger) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	return &Service{
		store:        store,
		signer:       signer,
		now:          nowFn,
		storeTimeout: storeTimeout,
		logger:       logger,
	}
}

// IssueToken signs an entry token for a confirmed booking whose
// organizer has checked in and whose window has started. The token is
// what meeting-room displays render as a QR code.
func (s *Service) IssueToken(ctx context.Context, bookingID int64) (string, error) {
	b, err := s.getBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	now := s.now().UTC()

	if b.Status != models.StatusConfirmed {
		return "", &models.GuardError{Code: models.GuardNotConfirmed}
	}
	if b.CheckedInAt == nil {
		return "", &models.GuardError{Code: models.GuardNotCheckedIn}
	}
	if now.Before(b.Window.Start) {
		return "", &models.GuardError{Code: models.GuardWindowNotStarted}
	}
	if !now.Before(b.Window.End) {
		return "", &models.GuardError{Code: models.GuardBookingEnded}
	}

	token := s.signer.Issue(bookingID, now)
	s.audit(ctx, &models.AttendanceEvent{
		Kind:      models.EventTokenIssued,
		BookingID: bookingID,
		CreatedAt: now,
	})
	s.logger.Info().Int64("booking_id", bookingID).Dur("ttl", s.signer.TTL()).Msg("attendance token issued")
	return token, nil
}

// VerifyRequest is one code submission from a scanning device.
type VerifyRequest struct {
	Token        string
	InvitationID int64
	Code         string
	IP           string
	UserAgent    string
}

// VerificationResult reports the outcome of a code submission.
type VerificationResult struct {
	Success    bool       `json:"success"`
	AttendedAt *time.Time `json:"attended_at,omitempty"`
	Attendee   string     `json:"attendee,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// VerifyCode validates a submitted invitation code against the booking
// resolved from the entry token. Every attempt lands in the audit
// trail whether it succeeds or not. Re-verifying an invitation that is
// already present returns the original attended_at.
func (s *Service) VerifyCode(ctx context.Context, req VerifyRequest) (*VerificationResult, error) {
	now := s.now().UTC()

	if !codePattern.MatchString(req.Code) {
		metrics.IncAttendanceVerify("bad_format")
		return nil, &models.ValidationError{Field: "code", Reason: "must be exactly 4 digits"}
	}

	bookingID, err := s.signer.Verify(req.Token, now)
	if err != nil {
		metrics.IncAttendanceVerify("bad_token")
		return nil, err
	}

	inv, err := s.getInvitation(ctx, req.InvitationID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			metrics.IncAttendanceVerify("not_found")
			s.auditFailure(ctx, bookingID, nil, "invitation_not_found", req, now)
		}
		return nil, err
	}
	if inv.BookingID != bookingID {
		metrics.IncAttendanceVerify("wrong_booking")
		s.auditFailure(ctx, bookingID, &inv.ID, "wrong_booking", req, now)
		return nil, &models.GuardError{Code: models.GuardWrongBooking}
	}
	if inv.Code != req.Code {
		metrics.IncAttendanceVerify("code_mismatch")
		s.auditFailure(ctx, bookingID, &inv.ID, "code_mismatch", req, now)
		return nil, &models.GuardError{Code: models.GuardCodeMismatch}
	}

	if inv.AttendanceStatus == models.AttendancePresent {
		metrics.IncAttendanceVerify("repeat")
		s.auditSuccess(ctx, bookingID, &inv.ID, "already_present", req, now)
		return &VerificationResult{
			Success:    true,
			AttendedAt: inv.AttendedAt,
			Attendee:   inv.DisplayName(),
		}, nil
	}

	applied, err := s.markPresent(ctx, inv.ID, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		// A concurrent submission won; read back its timestamp.
		inv, err = s.getInvitation(ctx, req.InvitationID)
		if err != nil {
			return nil, err
		}
		metrics.IncAttendanceVerify("repeat")
		s.auditSuccess(ctx, bookingID, &inv.ID, "already_present", req, now)
		return &VerificationResult{
			Success:    true,
			AttendedAt: inv.AttendedAt,
			Attendee:   inv.DisplayName(),
		}, nil
	}

	metrics.IncAttendanceVerify("ok")
	s.auditSuccess(ctx, bookingID, &inv.ID, "", req, now)
	s.logger.Info().
		Int64("booking_id", bookingID).
		Int64("invitation_id", inv.ID).
		Str("attendee", inv.DisplayName()).
		Msg("attendance verified")
	return &VerificationResult{
		Success:    true,
		AttendedAt: &now,
		Attendee:   inv.DisplayName(),
	}, nil
}

// Occupancy returns the live head count for a booking, read straight
// from the store so concurrent verifications are never undercounted.
func (s *Service) Occupancy(ctx context.Context, bookingID int64) (*models.Occupancy, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	occ, err := s.store.GetOccupancy(storeCtx, bookingID)
	if err != nil {
		return nil, s.timeoutOr("load occupancy", err)
	}
	return occ, nil
}

// Events lists the audit trail for a booking, oldest first.
func (s *Service) Events(ctx context.Context, bookingID int64) ([]models.AttendanceEvent, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	events, err := s.store.ListAttendanceEvents(storeCtx, bookingID)
	if err != nil {
		return nil, s.timeoutOr("list attendance events", err)
	}
	return events, nil
}

func (s *Service) getBooking(ctx context.Context, id int64) (*models.Booking, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	b, err := s.store.GetBooking(storeCtx, id)
	if err != nil {
		return nil, s.timeoutOr("load booking", err)
	}
	return b, nil
}

func (s *Service) getInvitation(ctx context.Context, id int64) (*models.Invitation, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	inv, err := s.store.GetInvitation(storeCtx, id)
	if err != nil {
		return nil, s.timeoutOr("load invitation", err)
	}
	return inv, nil
}

func (s *Service) markPresent(ctx context.Context, id int64, now time.Time) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	applied, err := s.store.MarkInvitationPresent(storeCtx, id, now)
	if err != nil {
		return false, s.timeoutOr("mark present", err)
	}
	return applied, nil
}

func (s *Service) auditSuccess(ctx context.Context, bookingID int64, invitationID *int64, note string, req VerifyRequest, now time.Time) {
	s.audit(ctx, &models.AttendanceEvent{
		Kind:         models.EventVerifyOK,
		BookingID:    bookingID,
		InvitationID: invitationID,
		Metadata:     note,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		CreatedAt:    now,
	})
}

func (s *Service) auditFailure(ctx context.Context, bookingID int64, invitationID *int64, reason string, req VerifyRequest, now time.Time) {
	s.audit(ctx, &models.AttendanceEvent{
		Kind:         models.EventVerifyFailed,
		BookingID:    bookingID,
		InvitationID: invitationID,
		Metadata:     reason,
		IP:           req.IP,
		UserAgent:    req.UserAgent,
		CreatedAt:    now,
	})
}

// audit appends to the trail. Audit failures are logged, never
// surfaced: losing one forensic record must not fail a check-in.
func (s *Service) audit(ctx context.Context, ev *models.AttendanceEvent) {
	storeCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.AppendAttendanceEvent(storeCtx, ev); err != nil {
		s.logger.Error().Err(err).
			Str("kind", string(ev.Kind)).
			Int64("booking_id", ev.BookingID).
			Msg("failed to append attendance event")
	}
}

func (s *Service) timeoutOr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &models.TimeoutError{Op: op, Err: err}
	}
	return err
}
