package models

import (
	"strings"
	"time"
)

// DayHours is the operating-hours profile for a single weekday.
// Times are "HH:MM" strings interpreted on the day in UTC.
type DayHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"` // "08:00"
	End     string `json:"end"`   // "18:00"
}

// Room is a bookable meeting room. Snapshots handed to the resolver are
// read-only; mutation happens through the facility admin surface.
type Room struct {
	ID                 int64      `json:"id"`
	FacilityID         int64      `json:"facility_id"`
	Name               string     `json:"name"`
	Capacity           int        `json:"capacity"`
	Hours              [7]DayHours `json:"hours"` // indexed by time.Weekday (Sunday = 0)
	BufferMinutes      int        `json:"buffer_minutes"`
	MinDurationMinutes int        `json:"min_duration_minutes"`
	MaxDurationMinutes int        `json:"max_duration_minutes"`
	AdvanceBookingDays int        `json:"advance_booking_days"`
	SameDayBooking     bool       `json:"same_day_booking"`
	MaxBookingsPerDay  int        `json:"max_bookings_per_user_per_day"`
	MaxBookingsPerWeek int        `json:"max_bookings_per_user_per_week"`
	IsActive           bool       `json:"is_active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// BlackoutType classifies why a room is unavailable.
type BlackoutType string

const (
	BlackoutMaintenance BlackoutType = "maintenance"
	BlackoutCleaning    BlackoutType = "cleaning"
	BlackoutEvent       BlackoutType = "event"
	BlackoutHoliday     BlackoutType = "holiday"
	BlackoutRepair      BlackoutType = "repair"
	BlackoutOther       BlackoutType = "other"
)

// Blackout blocks a room for a window regardless of existing bookings.
type Blackout struct {
	ID         int64        `json:"id"`
	RoomID     int64        `json:"room_id"`
	Title      string       `json:"title"`
	Window     TimeWindow   `json:"window"`
	Type       BlackoutType `json:"type"`
	IsActive   bool         `json:"is_active"`
	Recurrence string       `json:"recurrence,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// RSVPStatus is the invitee's reply state.
type RSVPStatus string

const (
	RSVPPending  RSVPStatus = "pending"
	RSVPAccepted RSVPStatus = "accepted"
	RSVPDeclined RSVPStatus = "declined"
)

// AttendanceStatus tracks physical presence of an invitee.
type AttendanceStatus string

const (
	AttendanceNotPresent AttendanceStatus = "not_present"
	AttendancePresent    AttendanceStatus = "present"
)

// Invitation is a meeting participant record. Attendance fields are
// mutated only by the attendance subsystem.
type Invitation struct {
	ID               int64            `json:"id"`
	BookingID        int64            `json:"booking_id"`
	Name             string           `json:"name"`
	Email            string           `json:"email"`
	RSVP             RSVPStatus       `json:"rsvp_status"`
	AttendanceStatus AttendanceStatus `json:"attendance_status"`
	Code             string           `json:"-"` // 4-digit attendance code, never serialized
	AttendedAt       *time.Time       `json:"attended_at,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// DisplayName returns the invitee name with a fallback to the local
// part of the email, so raw addresses never reach attendee lists.
func (i Invitation) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

// AttendanceEventKind is the audit record type.
type AttendanceEventKind string

const (
	EventTokenIssued  AttendanceEventKind = "token_issued"
	EventVerifyOK     AttendanceEventKind = "verify_ok"
	EventVerifyFailed AttendanceEventKind = "verify_failed"
)

// AttendanceEvent is an append-only audit record of a verification
// attempt. Never mutated after insert.
type AttendanceEvent struct {
	ID           int64               `json:"id"`
	Kind         AttendanceEventKind `json:"kind"`
	BookingID    int64               `json:"booking_id"`
	InvitationID *int64              `json:"invitation_id,omitempty"`
	Metadata     string              `json:"metadata,omitempty"`
	IP           string              `json:"ip,omitempty"`
	UserAgent    string              `json:"user_agent,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Occupancy is the live head count for a meeting.
type Occupancy struct {
	Present  int `json:"present"`
	Invited  int `json:"invited"`
	Capacity int `json:"capacity"`
}
