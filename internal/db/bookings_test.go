package db

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryan-ian/roomhub/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func makeRoom(t *testing.T, database *DB, buffer int) *models.Room {
	t.Helper()
	room := &models.Room{
		Name:               "room-" + uuid.NewString(),
		Capacity:           10,
		BufferMinutes:      buffer,
		MinDurationMinutes: 15,
		MaxDurationMinutes: 480,
		AdvanceBookingDays: 30,
		SameDayBooking:     true,
		IsActive:           true,
	}
	for i := range room.Hours {
		room.Hours[i] = models.DayHours{Enabled: true, Start: "00:00", End: "24:00"}
	}
	require.NoError(t, database.CreateRoom(context.Background(), room))
	return room
}

func datetime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func newBooking(roomID int64, start, end time.Time) *models.Booking {
	return &models.Booking{
		Reference:          uuid.NewString(),
		RoomID:             roomID,
		OrganizerID:        100,
		Window:             models.NewTimeWindow(start, end),
		Status:             models.StatusConfirmed,
		CheckInRequired:    true,
		GracePeriodMinutes: 15,
	}
}

func TestCreateBookingIfFree_Buffer(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 15)
	now := datetime(2026, 3, 10, 8, 0)
	params := ReserveParams{BufferMinutes: room.BufferMinutes, Now: now}

	existing := newBooking(room.ID, datetime(2026, 3, 10, 10, 0), datetime(2026, 3, 10, 11, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, existing, params))

	// Back to back collides with the 15-minute buffer.
	adjacent := newBooking(room.ID, datetime(2026, 3, 10, 11, 0), datetime(2026, 3, 10, 11, 30))
	err := database.CreateBookingIfFree(ctx, adjacent, params)
	require.Error(t, err)
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.ConflictBuffer, ce.Reason)

	// 16 minutes after the existing end clears the buffer.
	clearOfBuffer := newBooking(room.ID, datetime(2026, 3, 10, 11, 16), datetime(2026, 3, 10, 11, 45))
	assert.NoError(t, database.CreateBookingIfFree(ctx, clearOfBuffer, params))
}

func TestCreateBookingIfFree_ZeroBufferAdjacency(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)
	now := datetime(2026, 3, 10, 8, 0)
	params := ReserveParams{Now: now}

	existing := newBooking(room.ID, datetime(2026, 3, 10, 10, 0), datetime(2026, 3, 10, 11, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, existing, params))

	adjacent := newBooking(room.ID, datetime(2026, 3, 10, 11, 0), datetime(2026, 3, 10, 11, 30))
	assert.NoError(t, database.CreateBookingIfFree(ctx, adjacent, params))
}

func TestCreateBookingIfFree_Blackout(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	require.NoError(t, database.CreateBlackout(ctx, &models.Blackout{
		RoomID:   room.ID,
		Title:    "deep clean",
		Window:   models.NewTimeWindow(datetime(2026, 3, 10, 14, 0), datetime(2026, 3, 10, 16, 0)),
		Type:     models.BlackoutCleaning,
		IsActive: true,
	}))

	b := newBooking(room.ID, datetime(2026, 3, 10, 15, 0), datetime(2026, 3, 10, 15, 30))
	err := database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)})
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.ConflictBlackout, ce.Reason)
}

func TestCreateBookingIfFree_DailyQuota(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)
	now := datetime(2026, 3, 10, 8, 0)
	params := ReserveParams{MaxPerDay: 1, Now: now}

	first := newBooking(room.ID, datetime(2026, 3, 11, 9, 0), datetime(2026, 3, 11, 10, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, first, params))

	second := newBooking(room.ID, datetime(2026, 3, 11, 14, 0), datetime(2026, 3, 11, 15, 0))
	err := database.CreateBookingIfFree(ctx, second, params)
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, models.ConflictQuotaDaily, ce.Reason)

	// A different day is unaffected.
	nextDay := newBooking(room.ID, datetime(2026, 3, 12, 9, 0), datetime(2026, 3, 12, 10, 0))
	assert.NoError(t, database.CreateBookingIfFree(ctx, nextDay, params))
}

func TestAutoReleaseFreesSlot(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	// Confirmed 09:00 with a 15-minute grace, never checked in.
	stale := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	release := datetime(2026, 3, 10, 9, 15)
	stale.AutoReleaseAt = &release
	require.NoError(t, database.CreateBookingIfFree(ctx, stale, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	// Before the deadline the slot is taken.
	taken := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 9, 30))
	err := database.CreateBookingIfFree(ctx, taken, ReserveParams{Now: datetime(2026, 3, 10, 9, 10)})
	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)

	// Two minutes past the deadline the lapsed booking no longer blocks,
	// whether or not the sweep has run yet.
	retry := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 9, 30))
	require.NoError(t, database.CreateBookingIfFree(ctx, retry, ReserveParams{Now: datetime(2026, 3, 10, 9, 17)}))

	// The sweep still records the release exactly once.
	applied, err := database.ReleaseBooking(ctx, stale.ID, datetime(2026, 3, 10, 9, 17))
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = database.ReleaseBooking(ctx, stale.ID, datetime(2026, 3, 10, 9, 18))
	require.NoError(t, err)
	assert.False(t, applied, "repeat sweep must not re-apply")
}

func TestCheckInBooking(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	release := datetime(2026, 3, 10, 9, 15)
	b.AutoReleaseAt = &release
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	now := datetime(2026, 3, 10, 9, 5)
	applied, err := database.CheckInBooking(ctx, b.ID, now)
	require.NoError(t, err)
	require.True(t, applied)

	// Second attempt is a conditional-write miss, not an error.
	applied, err = database.CheckInBooking(ctx, b.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := database.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CheckedInAt)
	assert.True(t, got.CheckedInAt.Equal(now))
	assert.Nil(t, got.AutoReleaseAt, "check-in clears the release deadline")
}

func TestCheckInAfterDeadlineRejected(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	release := datetime(2026, 3, 10, 9, 15)
	b.AutoReleaseAt = &release
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	applied, err := database.CheckInBooking(ctx, b.ID, datetime(2026, 3, 10, 9, 20))
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestReleaseNeverBeatsCheckIn(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	release := datetime(2026, 3, 10, 9, 15)
	b.AutoReleaseAt = &release
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	now := datetime(2026, 3, 10, 9, 10)
	applied, err := database.CheckInBooking(ctx, b.ID, now)
	require.NoError(t, err)
	require.True(t, applied)

	// The grace deadline has notionally passed, but the organizer is in
	// the room. No amount of concurrent sweeping may vacate the slot.
	var released atomic.Int32
	var wg sync.WaitGroup
	sweepAt := datetime(2026, 3, 10, 9, 30)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := database.ReleaseBooking(ctx, b.ID, sweepAt)
			assert.NoError(t, err)
			if ok {
				released.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, released.Load())

	got, err := database.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.CheckedInAt)
	assert.Nil(t, got.ReleasedAt)
}

func TestConcurrentReleaseAppliesOnce(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	release := datetime(2026, 3, 10, 9, 15)
	b.AutoReleaseAt = &release
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	var released atomic.Int32
	var wg sync.WaitGroup
	sweepAt := datetime(2026, 3, 10, 9, 16)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := database.ReleaseBooking(ctx, b.ID, sweepAt)
			assert.NoError(t, err)
			if ok {
				released.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), released.Load(), "overlapping sweeps must apply exactly once")
}

func TestCancelBooking(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	// After the window ends the cancel guard fails.
	applied, err := database.CancelBooking(ctx, b.ID, "", datetime(2026, 3, 10, 10, 30))
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = database.CancelBooking(ctx, b.ID, "double booked", datetime(2026, 3, 10, 8, 30))
	require.NoError(t, err)
	require.True(t, applied)

	got, err := database.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Equal(t, "double booked", got.RejectionReason)
}

func TestApproveBooking(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)

	b := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	b.Status = models.StatusPending
	require.NoError(t, database.CreateBookingIfFree(ctx, b, ReserveParams{Now: datetime(2026, 3, 10, 8, 0)}))

	deadline := datetime(2026, 3, 10, 9, 15)
	applied, err := database.ApproveBooking(ctx, b.ID, &deadline, datetime(2026, 3, 10, 8, 5))
	require.NoError(t, err)
	require.True(t, applied)

	// Approving again misses the pending guard.
	applied, err = database.ApproveBooking(ctx, b.ID, &deadline, datetime(2026, 3, 10, 8, 6))
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := database.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	require.NotNil(t, got.AutoReleaseAt)
	assert.True(t, got.AutoReleaseAt.Equal(deadline))
}

func TestFindReleasable(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)
	createdAt := datetime(2026, 3, 10, 8, 0)

	overdue := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	d1 := datetime(2026, 3, 10, 9, 15)
	overdue.AutoReleaseAt = &d1
	require.NoError(t, database.CreateBookingIfFree(ctx, overdue, ReserveParams{Now: createdAt}))

	notYet := newBooking(room.ID, datetime(2026, 3, 10, 11, 0), datetime(2026, 3, 10, 12, 0))
	d2 := datetime(2026, 3, 10, 11, 15)
	notYet.AutoReleaseAt = &d2
	require.NoError(t, database.CreateBookingIfFree(ctx, notYet, ReserveParams{Now: createdAt}))

	noCheckInRequired := newBooking(room.ID, datetime(2026, 3, 10, 13, 0), datetime(2026, 3, 10, 14, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, noCheckInRequired, ReserveParams{Now: createdAt}))

	ids, err := database.FindReleasable(ctx, datetime(2026, 3, 10, 9, 16), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{overdue.ID}, ids)
}

func TestListBookingsBetween(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	room := makeRoom(t, database, 0)
	createdAt := datetime(2026, 3, 1, 8, 0)

	inside := newBooking(room.ID, datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, inside, ReserveParams{Now: createdAt}))
	outside := newBooking(room.ID, datetime(2026, 4, 2, 9, 0), datetime(2026, 4, 2, 10, 0))
	require.NoError(t, database.CreateBookingIfFree(ctx, outside, ReserveParams{Now: createdAt}))

	got, err := database.ListBookingsBetween(ctx,
		datetime(2026, 3, 1, 0, 0), datetime(2026, 4, 1, 0, 0))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inside.ID, got[0].ID)
}
