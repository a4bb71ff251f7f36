package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ryan-ian/roomhub/internal/models"
)

// occupyingCond selects bookings that still block their room slot:
// pending or confirmed, excluding confirmed bookings whose grace
// deadline lapsed without a check-in (the auto-released encoding).
// Takes one time parameter (now).
const occupyingCond = `status IN ('pending', 'confirmed')
	AND NOT (status = 'confirmed' AND checked_in_at IS NULL
		AND auto_release_at IS NOT NULL AND auto_release_at <= ?)`

const bookingColumns = `id, reference, room_id, organizer_id, start_time, end_time,
	status, check_in_required, grace_period_minutes,
	checked_in_at, auto_release_at, released_at, rejection_reason, title,
	created_at, updated_at`

// ReserveParams carries the room policy re-validated inside the
// reserve-if-free transaction.
type ReserveParams struct {
	BufferMinutes int
	MaxPerDay     int
	MaxPerWeek    int
	Now           time.Time
}

// CreateBookingIfFree inserts the booking only if, at insert time, no
// occupying booking collides with its buffer-expanded window, no active
// blackout overlaps it, and the organizer is under quota. The check and
// the insert run in one write transaction so a concurrent request
// cannot slip between them.
func (db *DB) CreateBookingIfFree(ctx context.Context, b *models.Booking, p ReserveParams) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	buffer := time.Duration(p.BufferMinutes) * time.Minute
	expanded := b.Window.Expand(buffer)

	var collisions int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE room_id = ? AND start_time < ? AND end_time > ? AND `+occupyingCond,
		b.RoomID, expanded.End, expanded.Start, p.Now,
	).Scan(&collisions)
	if err != nil {
		return fmt.Errorf("overlap check: %w", err)
	}
	if collisions > 0 {
		reason := models.ConflictOverlap
		if p.BufferMinutes > 0 {
			reason = models.ConflictBuffer
		}
		return &models.ConflictError{Reason: reason}
	}

	var blackouts int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blackouts
		WHERE room_id = ? AND is_active = 1 AND start_time < ? AND end_time > ?`,
		b.RoomID, b.Window.End, b.Window.Start,
	).Scan(&blackouts)
	if err != nil {
		return fmt.Errorf("blackout check: %w", err)
	}
	if blackouts > 0 {
		return &models.ConflictError{Reason: models.ConflictBlackout}
	}

	if p.MaxPerDay > 0 {
		dayStart, dayEnd := dayBounds(b.Window.Start)
		count, err := countUserBookingsTx(ctx, tx, b.RoomID, b.OrganizerID, dayStart, dayEnd, p.Now)
		if err != nil {
			return fmt.Errorf("daily quota check: %w", err)
		}
		if count >= p.MaxPerDay {
			return &models.ConflictError{Reason: models.ConflictQuotaDaily}
		}
	}
	if p.MaxPerWeek > 0 {
		weekStart, weekEnd := weekBounds(b.Window.Start)
		count, err := countUserBookingsTx(ctx, tx, b.RoomID, b.OrganizerID, weekStart, weekEnd, p.Now)
		if err != nil {
			return fmt.Errorf("weekly quota check: %w", err)
		}
		if count >= p.MaxPerWeek {
			return &models.ConflictError{Reason: models.ConflictQuotaWeekly}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO bookings (
			reference, room_id, organizer_id, start_time, end_time, status,
			check_in_required, grace_period_minutes, checked_in_at,
			auto_release_at, rejection_reason, title, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, NULL, ?, ?, ?)`,
		b.Reference, b.RoomID, b.OrganizerID, b.Window.Start, b.Window.End,
		string(b.Status), b.CheckInRequired, b.GracePeriodMinutes,
		nullTime(b.AutoReleaseAt), nullString(b.Title), p.Now, p.Now,
	)
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}

	b.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	b.CreatedAt = p.Now
	b.UpdatedAt = p.Now
	return tx.Commit()
}

// GetBooking returns a booking by id.
func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", id, models.ErrNotFound)
	}
	return b, err
}

// CheckInBooking records the organizer check-in with a single
// conditional write: it succeeds only when the booking is confirmed and
// nobody checked in yet. Clearing auto_release_at in the same statement
// makes the concurrent auto-release guard unsatisfiable afterwards.
func (db *DB) CheckInBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET checked_in_at = ?, auto_release_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'confirmed' AND checked_in_at IS NULL
			AND (auto_release_at IS NULL OR auto_release_at > ?)`,
		now, now, id, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseBooking vacates a confirmed booking whose grace period lapsed
// without check-in. Guard mirrors CheckInBooking so at most one of the
// two transitions ever applies.
func (db *DB) ReleaseBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET released_at = ?, updated_at = ?
		WHERE id = ? AND status = 'confirmed' AND checked_in_at IS NULL
			AND released_at IS NULL
			AND auto_release_at IS NOT NULL AND auto_release_at <= ?`,
		now, now, id, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApproveBooking moves a pending booking to confirmed and schedules the
// auto-release deadline computed by the caller.
func (db *DB) ApproveBooking(ctx context.Context, id int64, autoReleaseAt *time.Time, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'confirmed', auto_release_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		nullTime(autoReleaseAt), now, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CancelBooking cancels from pending or confirmed before the window
// ends, recording an optional facility-side reason.
func (db *DB) CancelBooking(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE bookings
		SET status = 'cancelled', rejection_reason = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'confirmed') AND end_time > ?`,
		nullString(reason), now, id, now,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindReleasable returns ids of confirmed bookings whose grace deadline
// has passed without a check-in and that the sweep has not yet vacated.
func (db *DB) FindReleasable(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id FROM bookings
		WHERE status = 'confirmed' AND checked_in_at IS NULL
			AND released_at IS NULL
			AND auto_release_at IS NOT NULL AND auto_release_at <= ?
		ORDER BY auto_release_at
		LIMIT ?`,
		now, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountOverlapping counts occupying bookings colliding with the given
// (already buffer-expanded) window.
func (db *DB) CountOverlapping(ctx context.Context, roomID int64, expanded models.TimeWindow, now time.Time) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE room_id = ? AND start_time < ? AND end_time > ? AND `+occupyingCond,
		roomID, expanded.End, expanded.Start, now,
	).Scan(&count)
	return count, err
}

// ListBookingsBetween returns bookings whose start time falls inside
// [from, to), oldest first. Used by report export.
func (db *DB) ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.Booking, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+bookingColumns+` FROM bookings
		WHERE start_time >= ? AND start_time < ?
		ORDER BY start_time, id`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// CountUserBookings counts occupying bookings held by a user on a room
// with a start time inside [from, to).
func (db *DB) CountUserBookings(ctx context.Context, roomID, userID int64, from, to, now time.Time) (int, error) {
	return countUserBookingsTx(ctx, db.DB, roomID, userID, from, to, now)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func countUserBookingsTx(ctx context.Context, q queryer, roomID, userID int64, from, to, now time.Time) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE room_id = ? AND organizer_id = ?
			AND start_time >= ? AND start_time < ? AND `+occupyingCond,
		roomID, userID, from, to, now,
	).Scan(&count)
	return count, err
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

// weekBounds returns the Monday-based week containing t, in UTC.
func weekBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var status string
	var checkedIn, autoRelease, released sql.NullTime
	var rejection, title sql.NullString

	err := row.Scan(
		&b.ID, &b.Reference, &b.RoomID, &b.OrganizerID,
		&b.Window.Start, &b.Window.End, &status,
		&b.CheckInRequired, &b.GracePeriodMinutes,
		&checkedIn, &autoRelease, &released, &rejection, &title,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = models.BookingStatus(status)
	if checkedIn.Valid {
		t := checkedIn.Time.UTC()
		b.CheckedInAt = &t
	}
	if autoRelease.Valid {
		t := autoRelease.Time.UTC()
		b.AutoReleaseAt = &t
	}
	if released.Valid {
		t := released.Time.UTC()
		b.ReleasedAt = &t
	}
	if rejection.Valid {
		b.RejectionReason = rejection.String
	}
	if title.Valid {
		b.Title = title.String
	}
	b.Window.Start = b.Window.Start.UTC()
	b.Window.End = b.Window.End.UTC()
	return &b, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
