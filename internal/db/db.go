package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps sql.DB for the room-booking core.
type DB struct {
	*sql.DB
}

// NewDB opens the database at path and runs migrations.
func NewDB(path string) (*DB, error) {
	// _txlock=immediate takes the write lock at BEGIN so the
	// reserve-if-free transaction reads and inserts under one writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := createTables(db); err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			facility_id INTEGER NOT NULL DEFAULT 0,
			name TEXT UNIQUE NOT NULL,
			capacity INTEGER NOT NULL DEFAULT 0,
			buffer_minutes INTEGER NOT NULL DEFAULT 0,
			min_duration_minutes INTEGER NOT NULL DEFAULT 15,
			max_duration_minutes INTEGER NOT NULL DEFAULT 480,
			advance_booking_days INTEGER NOT NULL DEFAULT 30,
			same_day_booking BOOLEAN NOT NULL DEFAULT 1,
			max_bookings_per_user_per_day INTEGER NOT NULL DEFAULT 0,
			max_bookings_per_user_per_week INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS room_hours (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id INTEGER NOT NULL,
			weekday INTEGER NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			UNIQUE(room_id, weekday),
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		)`,

		`CREATE TABLE IF NOT EXISTS blackouts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			type TEXT NOT NULL DEFAULT 'other',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			recurrence TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		)`,

		`CREATE TABLE IF NOT EXISTS bookings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reference TEXT UNIQUE NOT NULL,
			room_id INTEGER NOT NULL,
			organizer_id INTEGER NOT NULL,
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			check_in_required BOOLEAN NOT NULL DEFAULT 1,
			grace_period_minutes INTEGER NOT NULL DEFAULT 15,
			checked_in_at DATETIME,
			auto_release_at DATETIME,
			released_at DATETIME,
			rejection_reason TEXT,
			title TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (room_id) REFERENCES rooms(id)
		)`,

		`CREATE TABLE IF NOT EXISTS invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			booking_id INTEGER NOT NULL,
			name TEXT,
			email TEXT NOT NULL,
			rsvp_status TEXT NOT NULL DEFAULT 'pending',
			attendance_status TEXT NOT NULL DEFAULT 'not_present',
			code TEXT NOT NULL,
			attended_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(booking_id, email),
			FOREIGN KEY (booking_id) REFERENCES bookings(id)
		)`,

		`CREATE TABLE IF NOT EXISTS attendance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			booking_id INTEGER NOT NULL,
			invitation_id INTEGER,
			metadata TEXT,
			ip TEXT,
			user_agent TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_bookings_room_times ON bookings(room_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_release ON bookings(status, checked_in_at, auto_release_at)`,
		`CREATE INDEX IF NOT EXISTS idx_blackouts_room ON blackouts(room_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_booking ON invitations(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_events_booking ON attendance_events(booking_id)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
