package api

import (
	"net/http"
	"time"

	"github.com/ryan-ian/roomhub/internal/booking"
	"github.com/ryan-ian/roomhub/internal/metrics"
	"github.com/ryan-ian/roomhub/internal/models"
)

// CheckAvailabilityRequest is the body for POST /api/availability/check.
type CheckAvailabilityRequest struct {
	RoomID int64     `json:"room_id"`
	UserID int64     `json:"user_id"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
}

// CheckAvailabilityResponse mirrors the resolver verdict.
type CheckAvailabilityResponse struct {
	Bookable bool   `json:"bookable"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// handleCheckAvailability previews a window without reserving it.
func (s *HTTPServer) handleCheckAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("check_availability")

	var req CheckAvailabilityRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomID <= 0 || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "room_id and user_id are required")
		return
	}

	res, err := s.checker.Check(r.Context(), req.RoomID, models.NewTimeWindow(req.Start, req.End), req.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckAvailabilityResponse{
		Bookable: res.Bookable,
		Reason:   string(res.Reason),
		Detail:   res.Detail,
	})
}

// CreateBookingRequest is the body for POST /api/bookings.
type CreateBookingRequest struct {
	RoomID          int64     `json:"room_id"`
	OrganizerID     int64     `json:"organizer_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Title           string    `json:"title,omitempty"`
	CheckInRequired *bool     `json:"check_in_required,omitempty"`
	GraceMinutes    int       `json:"grace_period_minutes,omitempty"`
}

// handleCreateBooking reserves a slot through the availability check
// and the atomic insert.
func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("create_booking")

	var req CreateBookingRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RoomID <= 0 || req.OrganizerID <= 0 {
		writeError(w, http.StatusBadRequest, "room_id and organizer_id are required")
		return
	}

	b, err := s.bookings.Create(r.Context(), booking.CreateRequest{
		RoomID:          req.RoomID,
		OrganizerID:     req.OrganizerID,
		Window:          models.NewTimeWindow(req.Start, req.End),
		Title:           req.Title,
		CheckInRequired: req.CheckInRequired,
		GraceMinutes:    req.GraceMinutes,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("get_booking")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	b, err := s.bookings.Get(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleApproveBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("approve_booking")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	b, err := s.bookings.Approve(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// RejectBookingRequest carries the facility-side reason.
type RejectBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (s *HTTPServer) handleRejectBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reject_booking")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	var req RejectBookingRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if err := s.bookings.Reject(r.Context(), id, req.Reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("check_in")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	// Outcome labels are counted inside the booking service.
	res, err := s.bookings.CheckIn(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleCancelBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("cancel_booking")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	reason := r.URL.Query().Get("reason")
	if err := s.bookings.Cancel(r.Context(), id, reason); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
