package booking

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ryan-ian/roomhub/internal/availability"
	"github.com/ryan-ian/roomhub/internal/db"
	"github.com/ryan-ian/roomhub/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Room), args.Error(1)
}

func (m *mockStore) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockStore) CreateBookingIfFree(ctx context.Context, b *models.Booking, p db.ReserveParams) error {
	return m.Called(ctx, b, p).Error(0)
}

func (m *mockStore) CheckInBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ReleaseBooking(ctx context.Context, id int64, now time.Time) (bool, error) {
	args := m.Called(ctx, id, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) ApproveBooking(ctx context.Context, id int64, autoReleaseAt *time.Time, now time.Time) (bool, error) {
	args := m.Called(ctx, id, autoReleaseAt, now)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) CancelBooking(ctx context.Context, id int64, reason string, now time.Time) (bool, error) {
	args := m.Called(ctx, id, reason, now)
	return args.Bool(0), args.Error(1)
}

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) Check(ctx context.Context, roomID int64, window models.TimeWindow, userID int64) (availability.Result, error) {
	args := m.Called(ctx, roomID, window, userID)
	return args.Get(0).(availability.Result), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) PublishJSON(eventType string, payload any) error {
	return m.Called(eventType, payload).Error(0)
}

func datetime(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

var fixedNow = datetime(2026, 3, 10, 8, 45)

func newService(store *mockStore, checker *mockChecker, bus *mockNotifier, autoApprove bool) *Service {
	logger := zerolog.New(io.Discard)
	opts := Options{
		AutoApprove:         autoApprove,
		DefaultGraceMinutes: 15,
		CheckInLead:         15 * time.Minute,
		StoreTimeout:        time.Second,
	}
	return NewService(store, checker, bus, opts, func() time.Time { return fixedNow }, &logger)
}

func confirmedBooking(id int64) *models.Booking {
	release := datetime(2026, 3, 10, 9, 15)
	return &models.Booking{
		ID:                 id,
		RoomID:             1,
		OrganizerID:        100,
		Window:             models.NewTimeWindow(datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0)),
		Status:             models.StatusConfirmed,
		CheckInRequired:    true,
		GracePeriodMinutes: 15,
		AutoReleaseAt:      &release,
	}
}

func TestCreate(t *testing.T) {
	window := models.NewTimeWindow(datetime(2026, 3, 10, 9, 0), datetime(2026, 3, 10, 10, 0))
	room := &models.Room{ID: 1, BufferMinutes: 15, MaxBookingsPerDay: 2, IsActive: true}

	t.Run("pending when not auto-approved", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		checker.On("Check", ctx, int64(1), window, int64(100)).
			Return(availability.Result{Bookable: true}, nil).Once()
		store.On("GetRoom", ctx, int64(1)).Return(room, nil).Once()
		store.On("CreateBookingIfFree", mock.Anything, mock.Anything, db.ReserveParams{
			BufferMinutes: 15, MaxPerDay: 2, Now: fixedNow,
		}).Return(nil).Once()
		bus.On("PublishJSON", EventBookingCreated, mock.Anything).Return(nil).Once()

		b, err := svc.Create(ctx, CreateRequest{RoomID: 1, OrganizerID: 100, Window: window})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, b.Status)
		assert.Nil(t, b.AutoReleaseAt, "release deadline is computed at confirmation, not creation")
		assert.NotEmpty(t, b.Reference)
		store.AssertExpectations(t)
		checker.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("auto-approve confirms and schedules release", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, true)
		ctx := context.Background()

		checker.On("Check", ctx, int64(1), window, int64(100)).
			Return(availability.Result{Bookable: true}, nil).Once()
		store.On("GetRoom", ctx, int64(1)).Return(room, nil).Once()
		store.On("CreateBookingIfFree", mock.Anything, mock.MatchedBy(func(b *models.Booking) bool {
			return b.Status == models.StatusConfirmed &&
				b.AutoReleaseAt != nil &&
				b.AutoReleaseAt.Equal(datetime(2026, 3, 10, 9, 15))
		}), mock.Anything).Return(nil).Once()
		bus.On("PublishJSON", EventBookingCreated, mock.Anything).Return(nil).Once()

		b, err := svc.Create(ctx, CreateRequest{RoomID: 1, OrganizerID: 100, Window: window})
		require.NoError(t, err)
		assert.Equal(t, models.StatusConfirmed, b.Status)
		store.AssertExpectations(t)
	})

	t.Run("availability rejection maps to conflict", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		checker.On("Check", ctx, int64(1), window, int64(100)).
			Return(availability.Result{Bookable: false, Reason: availability.ReasonBlackout}, nil).Once()

		_, err := svc.Create(ctx, CreateRequest{RoomID: 1, OrganizerID: 100, Window: window})
		assert.True(t, models.IsConflict(err))
		store.AssertNotCalled(t, "CreateBookingIfFree", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("validation rejection maps to validation error", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		checker.On("Check", ctx, int64(1), window, int64(100)).
			Return(availability.Result{Bookable: false, Reason: availability.ReasonWindowInvalid}, nil).Once()

		_, err := svc.Create(ctx, CreateRequest{RoomID: 1, OrganizerID: 100, Window: window})
		var ve *models.ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("insert conflict surfaces as-is", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		checker.On("Check", ctx, int64(1), window, int64(100)).
			Return(availability.Result{Bookable: true}, nil).Once()
		store.On("GetRoom", ctx, int64(1)).Return(room, nil).Once()
		store.On("CreateBookingIfFree", mock.Anything, mock.Anything, mock.Anything).
			Return(&models.ConflictError{Reason: models.ConflictOverlap}).Once()

		_, err := svc.Create(ctx, CreateRequest{RoomID: 1, OrganizerID: 100, Window: window})
		assert.True(t, models.IsConflict(err))
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})
}

func TestCheckIn(t *testing.T) {
	t.Run("success clears auto release", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		store.On("GetBooking", mock.Anything, int64(10)).Return(confirmedBooking(10), nil).Once()
		store.On("CheckInBooking", mock.Anything, int64(10), fixedNow).Return(true, nil).Once()
		bus.On("PublishJSON", EventBookingCheckedIn, mock.Anything).Return(nil).Once()

		res, err := svc.CheckIn(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, fixedNow, res.CheckedInAt)
		store.AssertExpectations(t)
	})

	t.Run("idempotent on second attempt", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		original := datetime(2026, 3, 10, 8, 50)
		b.CheckedInAt = &original
		b.AutoReleaseAt = nil
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		res, err := svc.CheckIn(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, original, res.CheckedInAt)
		store.AssertNotCalled(t, "CheckInBooking", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("too early", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		b.Window = models.NewTimeWindow(datetime(2026, 3, 10, 12, 0), datetime(2026, 3, 10, 13, 0))
		release := datetime(2026, 3, 10, 12, 15)
		b.AutoReleaseAt = &release
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		_, err := svc.CheckIn(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardWindowNotOpenYet))
	})

	t.Run("grace lapsed", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		b.Window = models.NewTimeWindow(datetime(2026, 3, 10, 8, 0), datetime(2026, 3, 10, 9, 0))
		release := datetime(2026, 3, 10, 8, 15)
		b.AutoReleaseAt = &release
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		_, err := svc.CheckIn(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardWindowExpired))
	})

	t.Run("pending booking rejected", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		b.Status = models.StatusPending
		b.AutoReleaseAt = nil
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		_, err := svc.CheckIn(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardNotConfirmed))
	})

	t.Run("lost race to concurrent retry returns its timestamp", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		fresh := confirmedBooking(10)
		store.On("GetBooking", mock.Anything, int64(10)).Return(fresh, nil).Once()
		store.On("CheckInBooking", mock.Anything, int64(10), fixedNow).Return(false, nil).Once()

		winner := confirmedBooking(10)
		other := datetime(2026, 3, 10, 8, 44)
		winner.CheckedInAt = &other
		winner.AutoReleaseAt = nil
		store.On("GetBooking", mock.Anything, int64(10)).Return(winner, nil).Once()

		res, err := svc.CheckIn(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, other, res.CheckedInAt)
		store.AssertExpectations(t)
	})

	t.Run("lost race to concurrent cancellation reports not confirmed", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		fresh := confirmedBooking(10)
		store.On("GetBooking", mock.Anything, int64(10)).Return(fresh, nil).Once()
		store.On("CheckInBooking", mock.Anything, int64(10), fixedNow).Return(false, nil).Once()

		cancelled := confirmedBooking(10)
		cancelled.Status = models.StatusCancelled
		cancelled.AutoReleaseAt = nil
		store.On("GetBooking", mock.Anything, int64(10)).Return(cancelled, nil).Once()

		_, err := svc.CheckIn(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardNotConfirmed))
		store.AssertExpectations(t)
	})
}

func TestAutoRelease(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		store.On("ReleaseBooking", mock.Anything, int64(10), fixedNow).Return(true, nil).Once()
		bus.On("PublishJSON", EventBookingReleased, mock.Anything).Return(nil).Once()

		res, err := svc.AutoRelease(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, fixedNow, res.AutoReleasedAt)
	})

	t.Run("never succeeds after check-in", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		checkedIn := datetime(2026, 3, 10, 8, 40)
		b.CheckedInAt = &checkedIn
		b.AutoReleaseAt = nil
		store.On("ReleaseBooking", mock.Anything, int64(10), fixedNow).Return(false, nil).Once()
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		_, err := svc.AutoRelease(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardAlreadyCheckedIn))
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("idempotent on repeated sweep", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		released := datetime(2026, 3, 10, 8, 30)
		b.ReleasedAt = &released
		store.On("ReleaseBooking", mock.Anything, int64(10), fixedNow).Return(false, nil).Once()
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		res, err := svc.AutoRelease(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, released, res.AutoReleasedAt)
	})

	t.Run("grace not elapsed", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		future := datetime(2026, 3, 10, 11, 15)
		b.AutoReleaseAt = &future
		store.On("ReleaseBooking", mock.Anything, int64(10), fixedNow).Return(false, nil).Once()
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		_, err := svc.AutoRelease(ctx, 10)
		assert.True(t, models.IsGuard(err, models.GuardWindowNotOpenYet))
	})
}

func TestApprove(t *testing.T) {
	store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
	svc := newService(store, checker, bus, false)
	ctx := context.Background()

	b := confirmedBooking(10)
	b.Status = models.StatusPending
	b.AutoReleaseAt = nil
	expected := datetime(2026, 3, 10, 9, 15)

	store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()
	store.On("ApproveBooking", mock.Anything, int64(10), &expected, fixedNow).Return(true, nil).Once()
	bus.On("PublishJSON", EventBookingConfirmed, mock.Anything).Return(nil).Once()

	approved, err := svc.Approve(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, approved.Status)
	require.NotNil(t, approved.AutoReleaseAt)
	assert.Equal(t, expected, *approved.AutoReleaseAt)
	store.AssertExpectations(t)
}

func TestCancel(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		store.On("CancelBooking", mock.Anything, int64(10), "room needed", fixedNow).Return(true, nil).Once()
		bus.On("PublishJSON", EventBookingCancelled, mock.Anything).Return(nil).Once()

		assert.NoError(t, svc.Cancel(ctx, 10, "room needed"))
	})

	t.Run("already cancelled is a no-op", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		b.Status = models.StatusCancelled
		store.On("CancelBooking", mock.Anything, int64(10), "", fixedNow).Return(false, nil).Once()
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		assert.NoError(t, svc.Cancel(ctx, 10, ""))
	})

	t.Run("after window end rejected", func(t *testing.T) {
		store, checker, bus := new(mockStore), new(mockChecker), new(mockNotifier)
		svc := newService(store, checker, bus, false)
		ctx := context.Background()

		b := confirmedBooking(10)
		b.Window = models.NewTimeWindow(datetime(2026, 3, 9, 9, 0), datetime(2026, 3, 9, 10, 0))
		store.On("CancelBooking", mock.Anything, int64(10), "", fixedNow).Return(false, nil).Once()
		store.On("GetBooking", mock.Anything, int64(10)).Return(b, nil).Once()

		err := svc.Cancel(ctx, 10, "")
		assert.True(t, models.IsGuard(err, models.GuardBookingEnded))
	})
}
