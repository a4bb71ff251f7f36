package models

import "time"

// TimeWindow is a half-open interval [Start, End) on the absolute UTC
// timeline. Zero or negative duration windows are rejected by callers,
// not by this type.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow normalizes both endpoints to UTC.
func NewTimeWindow(start, end time.Time) TimeWindow {
	return TimeWindow{Start: start.UTC(), End: end.UTC()}
}

// Duration returns End - Start.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsValid reports whether End is strictly after Start.
func (w TimeWindow) IsValid() bool {
	return w.End.After(w.Start)
}

// Overlaps reports strict interval intersection with other. Touching
// endpoints ([10,11) and [11,12)) do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Contains reports whether the point falls inside [Start, End).
func (w TimeWindow) Contains(point time.Time) bool {
	return !point.Before(w.Start) && point.Before(w.End)
}

// MinutesUntil returns the whole minutes from point to the window start.
// Negative once the window has started.
func (w TimeWindow) MinutesUntil(point time.Time) int {
	return int(w.Start.Sub(point).Minutes())
}

// Expand grows the window by the given margin on each side. Used for
// buffer-time collision checks.
func (w TimeWindow) Expand(margin time.Duration) TimeWindow {
	return TimeWindow{Start: w.Start.Add(-margin), End: w.End.Add(margin)}
}
