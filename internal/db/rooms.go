package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ryan-ian/roomhub/internal/models"
)

// CreateRoom inserts a room and its per-weekday hours.
func (db *DB) CreateRoom(ctx context.Context, r *models.Room) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (
			facility_id, name, capacity, buffer_minutes,
			min_duration_minutes, max_duration_minutes, advance_booking_days,
			same_day_booking, max_bookings_per_user_per_day,
			max_bookings_per_user_per_week, is_active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.FacilityID, r.Name, r.Capacity, r.BufferMinutes,
		r.MinDurationMinutes, r.MaxDurationMinutes, r.AdvanceBookingDays,
		r.SameDayBooking, r.MaxBookingsPerDay, r.MaxBookingsPerWeek,
		r.IsActive, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}

	r.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	for weekday, hours := range r.Hours {
		if hours.Start == "" {
			hours.Start = "00:00"
		}
		if hours.End == "" {
			hours.End = "00:00"
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO room_hours (room_id, weekday, enabled, start_time, end_time)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, weekday, hours.Enabled, hours.Start, hours.End,
		); err != nil {
			return fmt.Errorf("insert hours for weekday %d: %w", weekday, err)
		}
	}

	r.CreatedAt = now
	r.UpdatedAt = now
	return tx.Commit()
}

// GetRoom returns a room snapshot including its hours profile.
func (db *DB) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := db.QueryRowContext(ctx, `
		SELECT id, facility_id, name, capacity, buffer_minutes,
		       min_duration_minutes, max_duration_minutes, advance_booking_days,
		       same_day_booking, max_bookings_per_user_per_day,
		       max_bookings_per_user_per_week, is_active, created_at, updated_at
		FROM rooms WHERE id = ?`,
		id,
	).Scan(
		&r.ID, &r.FacilityID, &r.Name, &r.Capacity, &r.BufferMinutes,
		&r.MinDurationMinutes, &r.MaxDurationMinutes, &r.AdvanceBookingDays,
		&r.SameDayBooking, &r.MaxBookingsPerDay, &r.MaxBookingsPerWeek,
		&r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("room %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx,
		"SELECT weekday, enabled, start_time, end_time FROM room_hours WHERE room_id = ?",
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var weekday int
		var h models.DayHours
		if err := rows.Scan(&weekday, &h.Enabled, &h.Start, &h.End); err != nil {
			return nil, err
		}
		if weekday >= 0 && weekday < 7 {
			r.Hours[weekday] = h
		}
	}
	return &r, rows.Err()
}

// UpdateRoomHours replaces the hours profile for a single weekday.
func (db *DB) UpdateRoomHours(ctx context.Context, roomID int64, weekday int, h models.DayHours) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO room_hours (room_id, weekday, enabled, start_time, end_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(room_id, weekday) DO UPDATE SET
			enabled = excluded.enabled,
			start_time = excluded.start_time,
			end_time = excluded.end_time`,
		roomID, weekday, h.Enabled, h.Start, h.End,
	)
	return err
}

// CreateBlackout inserts an administrator-defined unavailability window.
func (db *DB) CreateBlackout(ctx context.Context, b *models.Blackout) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO blackouts (room_id, title, start_time, end_time, type, is_active, recurrence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RoomID, b.Title, b.Window.Start, b.Window.End, string(b.Type),
		b.IsActive, nullString(b.Recurrence), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert blackout: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// DeleteBlackout removes a blackout.
func (db *DB) DeleteBlackout(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, "DELETE FROM blackouts WHERE id = ?", id)
	return err
}

// SetBlackoutActive toggles a blackout without deleting its history.
func (db *DB) SetBlackoutActive(ctx context.Context, id int64, active bool) error {
	_, err := db.ExecContext(ctx, "UPDATE blackouts SET is_active = ? WHERE id = ?", active, id)
	return err
}

// ListActiveBlackouts returns active blackouts for a room overlapping
// the window. Overlap is strict: touching endpoints do not collide.
func (db *DB) ListActiveBlackouts(ctx context.Context, roomID int64, window models.TimeWindow) ([]models.Blackout, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, room_id, title, start_time, end_time, type, is_active, recurrence, created_at
		FROM blackouts
		WHERE room_id = ? AND is_active = 1 AND start_time < ? AND end_time > ?
		ORDER BY start_time`,
		roomID, window.End, window.Start,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Blackout
	for rows.Next() {
		var b models.Blackout
		var typ string
		var recurrence sql.NullString
		if err := rows.Scan(&b.ID, &b.RoomID, &b.Title, &b.Window.Start, &b.Window.End,
			&typ, &b.IsActive, &recurrence, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Type = models.BlackoutType(typ)
		if recurrence.Valid {
			b.Recurrence = recurrence.String
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
