package api

import (
	"net"
	"net/http"
	"time"

	"github.com/ryan-ian/roomhub/internal/attendance"
	"github.com/ryan-ian/roomhub/internal/metrics"
	"github.com/ryan-ian/roomhub/internal/report"
)

// handleIssueToken signs an entry token for the booking's QR display.
func (s *HTTPServer) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("issue_token")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	token, err := s.attendance.IssueToken(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// VerifyCodeRequest is the body for POST /api/attendance/verify.
type VerifyCodeRequest struct {
	Token        string `json:"token"`
	InvitationID int64  `json:"invitation_id"`
	Code         string `json:"code"`
}

// handleVerifyCode verifies one invitation code submission.
func (s *HTTPServer) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("verify_code")

	var req VerifyCodeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" || req.InvitationID <= 0 {
		writeError(w, http.StatusBadRequest, "token and invitation_id are required")
		return
	}

	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	res, err := s.attendance.VerifyCode(r.Context(), attendance.VerifyRequest{
		Token:        req.Token,
		InvitationID: req.InvitationID,
		Code:         req.Code,
		IP:           ip,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("occupancy")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	occ, err := s.attendance.Occupancy(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, occ)
}

func (s *HTTPServer) handleAttendanceEvents(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("attendance_events")

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}
	events, err := s.attendance.Events(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleMonthlyReport streams the workbook for ?month=YYYY-MM.
func (s *HTTPServer) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("monthly_report")

	if s.reporter == nil {
		writeError(w, http.StatusNotFound, "reporting disabled")
		return
	}
	monthStr := r.URL.Query().Get("month")
	if monthStr == "" {
		writeError(w, http.StatusBadRequest, "month is required; expected YYYY-MM")
		return
	}
	month, err := time.Parse("2006-01", monthStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid month format; expected YYYY-MM")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.Filename(month)+`"`)
	if err := s.reporter.ExportMonth(r.Context(), month, w); err != nil {
		s.log.Error().Err(err).Str("month", monthStr).Msg("report export failed")
	}
}
