// Package availability decides whether a requested time window may be
// booked on a room. Checks run in a fixed order, cheapest first, and
// short-circuit on the first failure.
package availability

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/models"
)

// Reason is a stable rejection code returned to callers.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonRoomInactive     Reason = "room_inactive"
	ReasonWindowInvalid    Reason = "window_invalid"
	ReasonDurationTooShort Reason = "duration_too_short"
	ReasonDurationTooLong  Reason = "duration_too_long"
	ReasonStartInPast      Reason = "start_in_past"
	ReasonBeyondHorizon    Reason = Reason(models.ConflictHorizon)
	ReasonSameDayDisabled  Reason = Reason(models.ConflictSameDay)
	ReasonOutsideHours     Reason = Reason(models.ConflictOutsideHours)
	ReasonBlackout         Reason = Reason(models.ConflictBlackout)
	ReasonBufferCollision  Reason = Reason(models.ConflictBuffer)
	ReasonOverlap          Reason = Reason(models.ConflictOverlap)
	ReasonDailyQuota       Reason = Reason(models.ConflictQuotaDaily)
	ReasonWeeklyQuota      Reason = Reason(models.ConflictQuotaWeekly)
)

// Result is the outcome of an availability check.
type Result struct {
	Bookable bool   `json:"bookable"`
	Reason   Reason `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// IsValidation reports whether the rejection is malformed input rather
// than a conflict with existing state.
func (r Result) IsValidation() bool {
	switch r.Reason {
	case ReasonWindowInvalid, ReasonDurationTooShort, ReasonDurationTooLong, ReasonStartInPast:
		return true
	}
	return false
}

// Store is the read surface the resolver needs. All reads observe a
// consistent-enough snapshot; the authoritative re-check happens inside
// the reserve-if-free insert.
type Store interface {
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListActiveBlackouts(ctx context.Context, roomID int64, window models.TimeWindow) ([]models.Blackout, error)
	CountOverlapping(ctx context.Context, roomID int64, expanded models.TimeWindow, now time.Time) (int, error)
	CountUserBookings(ctx context.Context, roomID, userID int64, from, to, now time.Time) (int, error)
}

// Resolver evaluates bookability of a window against room policy,
// blackouts, existing bookings and user quotas.
type Resolver struct {
	store  Store
	now    func() time.Time
	logger *zerolog.Logger
}

// New constructs a resolver. nowFn may be nil to use the wall clock.
func New(store Store, nowFn func() time.Time, logger *zerolog.Logger) *Resolver {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Resolver{store: store, now: nowFn, logger: logger}
}

func reject(reason Reason, detail string) Result {
	return Result{Bookable: false, Reason: reason, Detail: detail}
}

// Check runs the ordered availability checks for a window on a room.
// An error is returned only for store failures; a policy rejection is a
// normal Result.
func (r *Resolver) Check(ctx context.Context, roomID int64, window models.TimeWindow, userID int64) (Result, error) {
	now := r.now().UTC()
	window = models.NewTimeWindow(window.Start, window.End)

	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return Result{}, fmt.Errorf("load room: %w", err)
	}
	if !room.IsActive {
		return reject(ReasonRoomInactive, ""), nil
	}

	// 1. Window validity and duration bounds.
	if res := checkWindow(room, window); !res.Bookable {
		return res, nil
	}

	// 2. Advance-booking horizon and same-day policy.
	if res := checkHorizon(room, window, now); !res.Bookable {
		return res, nil
	}

	// 3. Operating hours for every weekday the window touches.
	if res := checkOperatingHours(room, window); !res.Bookable {
		return res, nil
	}

	// 4. Blackouts win over an otherwise-free slot.
	blackouts, err := r.store.ListActiveBlackouts(ctx, roomID, window)
	if err != nil {
		return Result{}, fmt.Errorf("load blackouts: %w", err)
	}
	if len(blackouts) > 0 {
		return reject(ReasonBlackout, blackouts[0].Title), nil
	}

	// 5. Buffer-expanded collision with occupying bookings.
	buffer := time.Duration(room.BufferMinutes) * time.Minute
	count, err := r.store.CountOverlapping(ctx, roomID, window.Expand(buffer), now)
	if err != nil {
		return Result{}, fmt.Errorf("count overlapping: %w", err)
	}
	if count > 0 {
		if room.BufferMinutes > 0 {
			return reject(ReasonBufferCollision, ""), nil
		}
		return reject(ReasonOverlap, ""), nil
	}

	// 6. Per-user quotas, pending+confirmed only.
	if res, err := r.checkQuotas(ctx, room, window, userID, now); err != nil {
		return Result{}, err
	} else if !res.Bookable {
		return res, nil
	}

	return Result{Bookable: true}, nil
}

func checkWindow(room *models.Room, window models.TimeWindow) Result {
	if !window.IsValid() {
		return reject(ReasonWindowInvalid, "end must be after start")
	}
	minutes := int(window.Duration().Minutes())
	if room.MinDurationMinutes > 0 && minutes < room.MinDurationMinutes {
		return reject(ReasonDurationTooShort,
			fmt.Sprintf("minimum %d minutes", room.MinDurationMinutes))
	}
	if room.MaxDurationMinutes > 0 && minutes > room.MaxDurationMinutes {
		return reject(ReasonDurationTooLong,
			fmt.Sprintf("maximum %d minutes", room.MaxDurationMinutes))
	}
	return Result{Bookable: true}
}

func checkHorizon(room *models.Room, window models.TimeWindow, now time.Time) Result {
	if window.Start.Before(now) {
		return reject(ReasonStartInPast, "")
	}
	if room.AdvanceBookingDays > 0 {
		horizon := now.AddDate(0, 0, room.AdvanceBookingDays)
		if window.Start.After(horizon) {
			return reject(ReasonBeyondHorizon,
				fmt.Sprintf("bookable at most %d days ahead", room.AdvanceBookingDays))
		}
	}
	if sameDay(window.Start, now) && !room.SameDayBooking {
		return reject(ReasonSameDayDisabled, "")
	}
	return Result{Bookable: true}
}

// checkOperatingHours verifies the window falls entirely within the
// enabled hours of every UTC day it covers. A window crossing midnight
// is evaluated per covered day.
func checkOperatingHours(room *models.Room, window models.TimeWindow) Result {
	day := time.Date(window.Start.Year(), window.Start.Month(), window.Start.Day(), 0, 0, 0, 0, time.UTC)
	for day.Before(window.End) {
		nextDay := day.AddDate(0, 0, 1)

		portionStart := window.Start
		if portionStart.Before(day) {
			portionStart = day
		}
		portionEnd := window.End
		if portionEnd.After(nextDay) {
			portionEnd = nextDay
		}

		if portionEnd.After(portionStart) {
			hours := room.Hours[int(day.Weekday())]
			if !hours.Enabled {
				return reject(ReasonOutsideHours,
					fmt.Sprintf("closed on %s", day.Weekday()))
			}

			open, err := clockOnDay(day, hours.Start)
			if err != nil {
				return reject(ReasonOutsideHours, "invalid hours profile")
			}
			close, err := clockOnDay(day, hours.End)
			if err != nil {
				return reject(ReasonOutsideHours, "invalid hours profile")
			}
			if portionStart.Before(open) || portionEnd.After(close) {
				return reject(ReasonOutsideHours,
					fmt.Sprintf("open %s-%s on %s", hours.Start, hours.End, day.Weekday()))
			}
		}
		day = nextDay
	}
	return Result{Bookable: true}
}

func (r *Resolver) checkQuotas(ctx context.Context, room *models.Room, window models.TimeWindow, userID int64, now time.Time) (Result, error) {
	if room.MaxBookingsPerDay > 0 {
		from, to := dayBounds(window.Start)
		count, err := r.store.CountUserBookings(ctx, room.ID, userID, from, to, now)
		if err != nil {
			return Result{}, fmt.Errorf("daily quota: %w", err)
		}
		if count >= room.MaxBookingsPerDay {
			return reject(ReasonDailyQuota,
				fmt.Sprintf("limit %d per day", room.MaxBookingsPerDay)), nil
		}
	}
	if room.MaxBookingsPerWeek > 0 {
		from, to := weekBounds(window.Start)
		count, err := r.store.CountUserBookings(ctx, room.ID, userID, from, to, now)
		if err != nil {
			return Result{}, fmt.Errorf("weekly quota: %w", err)
		}
		if count >= room.MaxBookingsPerWeek {
			return reject(ReasonWeeklyQuota,
				fmt.Sprintf("limit %d per week", room.MaxBookingsPerWeek)), nil
		}
	}
	return Result{Bookable: true}, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func weekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

// clockOnDay resolves "HH:MM" onto a UTC day. "24:00" means end of day.
func clockOnDay(day time.Time, clock string) (time.Time, error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", clock)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 {
		return time.Time{}, fmt.Errorf("invalid hour: %s", clock)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return time.Time{}, fmt.Errorf("invalid minute: %s", clock)
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}
