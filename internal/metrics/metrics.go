package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "booking_created_total",
			Help:      "Count of bookings created by initial status.",
		},
		[]string{"status"},
	)

	bookingCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "booking_cancelled_total",
			Help:      "Count of bookings cancelled.",
		},
	)

	availabilityRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "availability_rejected_total",
			Help:      "Count of availability rejections by reason.",
		},
		[]string{"reason"},
	)

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "check_in_total",
			Help:      "Count of organizer check-in attempts by result.",
		},
		[]string{"result"},
	)

	autoReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "auto_release_total",
			Help:      "Count of bookings vacated by the release sweep.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "roomhub",
			Name:      "release_sweep_duration_seconds",
			Help:      "Duration of auto-release sweep runs.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10},
		},
	)

	attendanceVerify = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "attendance_verify_total",
			Help:      "Count of attendance code verifications by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "roomhub",
			Name:      "http_requests_total",
			Help:      "Count of HTTP requests by handler.",
		},
		[]string{"handler"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated, bookingCancelled, availabilityRejected,
			checkIns, autoReleased, sweepDuration, attendanceVerify,
			httpRequests,
		)
	})
}

func IncBookingCreated(status string) {
	bookingCreated.WithLabelValues(status).Inc()
}

func IncBookingCancelled() {
	bookingCancelled.Inc()
}

func IncAvailabilityRejected(reason string) {
	availabilityRejected.WithLabelValues(reason).Inc()
}

func IncCheckIn(result string) {
	checkIns.WithLabelValues(result).Inc()
}

// CheckInCount exposes the check-in counter for a result label so tests
// can assert increments.
func CheckInCount(result string) prometheus.Counter {
	return checkIns.WithLabelValues(result)
}

func IncAutoReleased() {
	autoReleased.Inc()
}

func ObserveSweepDuration(seconds float64) {
	sweepDuration.Observe(seconds)
}

func IncAttendanceVerify(result string) {
	attendanceVerify.WithLabelValues(result).Inc()
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}
