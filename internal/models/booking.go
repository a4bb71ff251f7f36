package models

import "time"

// BookingStatus is the persisted status column. Auto-release is not a
// stored status: a released booking stays "confirmed" for history and
// is recognized by its nullable timestamp fields (see Phase).
type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
)

// Phase is the explicit lifecycle variant derived from the persisted
// encoding, so transition logic can switch exhaustively instead of
// re-deriving field combinations at every call site.
type Phase string

const (
	PhasePending      Phase = "pending"
	PhaseConfirmed    Phase = "confirmed"
	PhaseCheckedIn    Phase = "checked_in"
	PhaseAutoReleased Phase = "auto_released"
	PhaseCancelled    Phase = "cancelled"
)

// Booking is a room reservation for a time window.
type Booking struct {
	ID                 int64         `json:"id"`
	Reference          string        `json:"reference"` // public uuid
	RoomID             int64         `json:"room_id"`
	OrganizerID        int64         `json:"organizer_id"`
	Window             TimeWindow    `json:"window"`
	Status             BookingStatus `json:"status"`
	CheckInRequired    bool          `json:"check_in_required"`
	GracePeriodMinutes int           `json:"grace_period_minutes"`
	CheckedInAt        *time.Time    `json:"checked_in_at,omitempty"`
	AutoReleaseAt      *time.Time    `json:"auto_release_at,omitempty"`
	ReleasedAt         *time.Time    `json:"released_at,omitempty"`
	RejectionReason    string        `json:"rejection_reason,omitempty"`
	Title              string        `json:"title,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// PhaseAt translates the persisted nullable-field encoding into the
// explicit variant for the given instant. A confirmed booking whose
// grace deadline passed without check-in counts as auto-released even
// before the sweep records it.
func (b *Booking) PhaseAt(now time.Time) Phase {
	switch b.Status {
	case StatusCancelled:
		return PhaseCancelled
	case StatusPending:
		return PhasePending
	case StatusConfirmed:
		if b.CheckedInAt != nil {
			return PhaseCheckedIn
		}
		if b.AutoReleaseAt != nil && !b.AutoReleaseAt.After(now) {
			return PhaseAutoReleased
		}
		return PhaseConfirmed
	}
	return PhaseCancelled
}

// Occupying reports whether the booking still blocks its room slot at
// the given instant. Cancelled and auto-released bookings do not.
func (b *Booking) Occupying(now time.Time) bool {
	switch b.PhaseAt(now) {
	case PhasePending, PhaseConfirmed, PhaseCheckedIn:
		return true
	}
	return false
}

// CheckInDeadline returns the instant after which the organizer can no
// longer check in. Falls back to start + grace when no auto-release is
// scheduled.
func (b *Booking) CheckInDeadline() time.Time {
	if b.AutoReleaseAt != nil {
		return *b.AutoReleaseAt
	}
	return b.Window.Start.Add(time.Duration(b.GracePeriodMinutes) * time.Minute)
}
