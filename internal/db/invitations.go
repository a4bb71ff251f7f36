package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ryan-ian/roomhub/internal/models"
)

const invitationColumns = `id, booking_id, name, email, rsvp_status,
	attendance_status, code, attended_at, created_at`

// CreateInvitation inserts a participant record with its attendance code.
func (db *DB) CreateInvitation(ctx context.Context, inv *models.Invitation) error {
	res, err := db.ExecContext(ctx, `
		INSERT INTO invitations (booking_id, name, email, rsvp_status, attendance_status, code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.BookingID, nullString(inv.Name), inv.Email,
		string(inv.RSVP), string(inv.AttendanceStatus), inv.Code, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	inv.ID, err = res.LastInsertId()
	return err
}

// GetInvitation returns an invitation by id.
func (db *DB) GetInvitation(ctx context.Context, id int64) (*models.Invitation, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE id = ?", id)
	inv, err := scanInvitation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invitation %d: %w", id, models.ErrNotFound)
	}
	return inv, err
}

// ListInvitations returns all invitations for a booking.
func (db *DB) ListInvitations(ctx context.Context, bookingID int64) ([]models.Invitation, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE booking_id = ? ORDER BY id", bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// MarkInvitationPresent flips the attendance flag with a single
// conditional write so concurrent submissions of the same code cannot
// double-count. Returns false when the invitee was already present.
func (db *DB) MarkInvitationPresent(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE invitations
		SET attendance_status = 'present', attended_at = ?
		WHERE id = ? AND attendance_status != 'present'`,
		now, id,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetOccupancy aggregates the live head count for a booking in one
// query, so concurrent verifications can never be double- or
// under-counted by a stale cache.
func (db *DB) GetOccupancy(ctx context.Context, bookingID int64) (*models.Occupancy, error) {
	var o models.Occupancy
	err := db.QueryRowContext(ctx, `
		SELECT r.capacity,
		       COUNT(i.id),
		       COALESCE(SUM(CASE WHEN i.attendance_status = 'present' THEN 1 ELSE 0 END), 0)
		FROM bookings b
		JOIN rooms r ON r.id = b.room_id
		LEFT JOIN invitations i ON i.booking_id = b.id
		WHERE b.id = ?
		GROUP BY r.capacity`,
		bookingID,
	).Scan(&o.Capacity, &o.Invited, &o.Present)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("booking %d: %w", bookingID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// AppendAttendanceEvent writes an audit record. Append-only; there is
// deliberately no update or delete path for this table.
func (db *DB) AppendAttendanceEvent(ctx context.Context, ev *models.AttendanceEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO attendance_events (kind, booking_id, invitation_id, metadata, ip, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.Kind), ev.BookingID, nullInt64(ev.InvitationID),
		nullString(ev.Metadata), nullString(ev.IP), nullString(ev.UserAgent),
		ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append attendance event: %w", err)
	}
	ev.ID, err = res.LastInsertId()
	return err
}

// ListAttendanceEvents returns audit records for a booking, oldest first.
func (db *DB) ListAttendanceEvents(ctx context.Context, bookingID int64) ([]models.AttendanceEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, booking_id, invitation_id, metadata, ip, user_agent, created_at
		FROM attendance_events WHERE booking_id = ? ORDER BY id`,
		bookingID,
	)
	if err != nil {
		return nil, err
	}
	return collectAttendanceEvents(rows)
}

// ListAttendanceEventsBetween returns audit records written inside
// [from, to), oldest first. Used by report export.
func (db *DB) ListAttendanceEventsBetween(ctx context.Context, from, to time.Time) ([]models.AttendanceEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, booking_id, invitation_id, metadata, ip, user_agent, created_at
		FROM attendance_events WHERE created_at >= ? AND created_at < ? ORDER BY id`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	return collectAttendanceEvents(rows)
}

func collectAttendanceEvents(rows *sql.Rows) ([]models.AttendanceEvent, error) {
	defer rows.Close()

	var out []models.AttendanceEvent
	for rows.Next() {
		var ev models.AttendanceEvent
		var kind string
		var invitationID sql.NullInt64
		var metadata, ip, ua sql.NullString
		if err := rows.Scan(&ev.ID, &kind, &ev.BookingID, &invitationID,
			&metadata, &ip, &ua, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Kind = models.AttendanceEventKind(kind)
		if invitationID.Valid {
			v := invitationID.Int64
			ev.InvitationID = &v
		}
		if metadata.Valid {
			ev.Metadata = metadata.String
		}
		if ip.Valid {
			ev.IP = ip.String
		}
		if ua.Valid {
			ev.UserAgent = ua.String
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanInvitation(row rowScanner) (*models.Invitation, error) {
	var inv models.Invitation
	var name sql.NullString
	var rsvp, attendance string
	var attendedAt sql.NullTime

	err := row.Scan(
		&inv.ID, &inv.BookingID, &name, &inv.Email,
		&rsvp, &attendance, &inv.Code, &attendedAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if name.Valid {
		inv.Name = name.String
	}
	inv.RSVP = models.RSVPStatus(rsvp)
	inv.AttendanceStatus = models.AttendanceStatus(attendance)
	if attendedAt.Valid {
		t := attendedAt.Time.UTC()
		inv.AttendedAt = &t
	}
	return &inv, nil
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
