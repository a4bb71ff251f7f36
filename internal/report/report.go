// Package report exports booking history and the attendance audit
// trail as an Excel workbook for facility managers.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ryan-ian/roomhub/internal/models"
)

// Store reads the rows that land in the workbook.
type Store interface {
	ListBookingsBetween(ctx context.Context, from, to time.Time) ([]models.Booking, error)
	ListAttendanceEventsBetween(ctx context.Context, from, to time.Time) ([]models.AttendanceEvent, error)
}

// Exporter builds workbooks from stored history.
type Exporter struct {
	store  Store
	now    func() time.Time
	logger *zerolog.Logger
}

// NewExporter constructs an exporter. nowFn may be nil to use the
// wall clock.
func NewExporter(store Store, nowFn func() time.Time, logger *zerolog.Logger) *Exporter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Exporter{store: store, now: nowFn, logger: logger}
}

// Filename names a monthly export, e.g. "bookings_2026-03.xlsx".
func Filename(month time.Time) string {
	return fmt.Sprintf("bookings_%s.xlsx", month.Format("2006-01"))
}

// ExportMonth writes the workbook covering the calendar month that
// contains the given instant (UTC).
func (e *Exporter) ExportMonth(ctx context.Context, month time.Time, out io.Writer) error {
	month = month.UTC()
	from := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	return e.Export(ctx, from, from.AddDate(0, 1, 0), out)
}

// ExportPreviousMonth covers the month before the current one.
func (e *Exporter) ExportPreviousMonth(ctx context.Context, out io.Writer) error {
	return e.ExportMonth(ctx, e.now().UTC().AddDate(0, -1, 0), out)
}

// Export writes a workbook with one sheet of bookings and one sheet of
// attendance audit events for [from, to). Attendee emails never reach
// the workbook; only display names do.
func (e *Exporter) Export(ctx context.Context, from, to time.Time, out io.Writer) error {
	bookings, err := e.store.ListBookingsBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	events, err := e.store.ListAttendanceEventsBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list attendance events: %w", err)
	}

	w := newSheetWriter()
	defer w.close()

	if err := e.writeBookings(w, bookings); err != nil {
		return err
	}
	if err := e.writeEvents(w, events); err != nil {
		return err
	}
	if err := w.save(out); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}

	e.logger.Info().
		Time("from", from).
		Time("to", to).
		Int("bookings", len(bookings)).
		Int("attendance_events", len(events)).
		Msg("report exported")
	return nil
}

func (e *Exporter) writeBookings(w *sheetWriter, bookings []models.Booking) error {
	if err := w.addSheet("Bookings"); err != nil {
		return err
	}
	header := []string{
		"ID", "Reference", "Room", "Organizer", "Start", "End",
		"Status", "Phase", "Checked In At", "Released At", "Rejection Reason", "Title",
	}
	if err := w.writeHeader(header); err != nil {
		return err
	}

	now := e.now().UTC()
	for _, b := range bookings {
		row := []any{
			b.ID, b.Reference, b.RoomID, b.OrganizerID,
			formatTime(&b.Window.Start), formatTime(&b.Window.End),
			string(b.Status), string(b.PhaseAt(now)),
			formatTime(b.CheckedInAt), formatTime(b.ReleasedAt),
			b.RejectionReason, b.Title,
		}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) writeEvents(w *sheetWriter, events []models.AttendanceEvent) error {
	if err := w.addSheet("Attendance Log"); err != nil {
		return err
	}
	header := []string{"ID", "Kind", "Booking", "Invitation", "Detail", "Source IP", "At"}
	if err := w.writeHeader(header); err != nil {
		return err
	}

	for _, ev := range events {
		var invitation any
		if ev.InvitationID != nil {
			invitation = *ev.InvitationID
		}
		row := []any{
			ev.ID, string(ev.Kind), ev.BookingID, invitation,
			ev.Metadata, ev.IP, formatTime(&ev.CreatedAt),
		}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
