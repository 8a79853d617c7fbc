package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"presence-tracker-backend/internal/db"
	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/store"
)

// notifierSpy records broadcast events for assertions.
type notifierSpy struct {
	mu            sync.Mutex
	refreshes     int
	registrations []int64
	stateChanges  []string
}

func (n *notifierSpy) Refresh() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.refreshes++
}

func (n *notifierSpy) RegistrationRequested(roomID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.registrations = append(n.registrations, roomID)
}

func (n *notifierSpy) StateChanged(hwAddr string, roomID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stateChanges = append(n.stateChanges, fmt.Sprintf("%s@%d", hwAddr, roomID))
}

// alertSpy records threshold rising-edge signals.
type alertSpy struct {
	mu    sync.Mutex
	fired []string
}

func (a *alertSpy) ThresholdExceeded(hwAddr string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fired = append(a.fired, hwAddr)
}

func (a *alertSpy) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fired)
}

func newTestEngine(t *testing.T) (*Engine, store.Store, *notifierSpy, *alertSpy, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.Migrate(testDB))
	for id := int64(2); id <= 5; id++ {
		require.NoError(t, testDB.Create(&model.Room{ID: id, Name: fmt.Sprintf("Room %d", id)}).Error)
	}

	s := store.NewGormStore(testDB)
	notifier := &notifierSpy{}
	alerts := &alertSpy{}
	return New(s, notifier, alerts, 9600), s, notifier, alerts, testDB
}

func registerDevice(t *testing.T, s store.Store, hwAddr string) {
	t.Helper()
	err := s.RegisterDevice(context.Background(), &model.Device{
		HWAddr:    hwAddr,
		OwnerName: "Test Owner",
		EntryYear: 2024,
	})
	require.NoError(t, err)
}

func occupancyOf(t *testing.T, testDB *gorm.DB, hwAddr string) model.OccupancyRecord {
	t.Helper()
	var rec model.OccupancyRecord
	require.NoError(t, testDB.First(&rec, "device_hw_addr = ?", hwAddr).Error)
	return rec
}

func durationOf(t *testing.T, testDB *gorm.DB, hwAddr string) model.DurationRecord {
	t.Helper()
	var rec model.DurationRecord
	require.NoError(t, testDB.First(&rec, "device_hw_addr = ?", hwAddr).Error)
	return rec
}

func countLogs(t *testing.T, testDB *gorm.DB, hwAddr string, action model.LogAction) int64 {
	t.Helper()
	var count int64
	require.NoError(t, testDB.Model(&model.AccessLogEntry{}).
		Where("device_hw_addr = ? AND action = ?", hwAddr, action).
		Count(&count).Error)
	return count
}

func TestEngine_SightingLifecycle(t *testing.T) {
	eng, s, notifier, _, testDB := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:01")

	ctx := context.Background()
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// First sighting: device was outside, so this is an entry.
	out, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:01", RoomID: 2, ObservedAt: t0})
	require.NoError(t, err)
	assert.Equal(t, ResultEntered, out.Result)
	assert.Equal(t, int64(2), occupancyOf(t, testDB, "AA:BB:CC:DD:EE:01").CurrentRoomID)
	assert.EqualValues(t, 1, countLogs(t, testDB, "AA:BB:CC:DD:EE:01", model.ActionEntry))

	// Same room 30 seconds later: staying, no new log row.
	out, err = eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:01", RoomID: 2, ObservedAt: t0.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, ResultStaying, out.Result)
	assert.EqualValues(t, 1, countLogs(t, testDB, "AA:BB:CC:DD:EE:01", model.ActionEntry))
	assert.WithinDuration(t, t0.Add(30*time.Second), occupancyOf(t, testDB, "AA:BB:CC:DD:EE:01").LastConfirmedAt, time.Second)

	// Different room 61 minutes after the first entry: exit+entry, 61 minutes accrued.
	out, err = eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:01", RoomID: 5, ObservedAt: t0.Add(61 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, ResultMoved, out.Result)
	assert.EqualValues(t, 61, out.StayMinutes)

	occ := occupancyOf(t, testDB, "AA:BB:CC:DD:EE:01")
	assert.Equal(t, int64(5), occ.CurrentRoomID)
	assert.EqualValues(t, 61, durationOf(t, testDB, "AA:BB:CC:DD:EE:01").TotalMinutes)
	assert.EqualValues(t, 2, countLogs(t, testDB, "AA:BB:CC:DD:EE:01", model.ActionEntry))
	assert.EqualValues(t, 1, countLogs(t, testDB, "AA:BB:CC:DD:EE:01", model.ActionExit))

	// Every mutating sighting broadcast exactly one state change.
	assert.Equal(t, []string{
		"AA:BB:CC:DD:EE:01@2",
		"AA:BB:CC:DD:EE:01@2",
		"AA:BB:CC:DD:EE:01@5",
	}, notifier.stateChanges)
}

func TestEngine_UnknownDevice(t *testing.T) {
	eng, _, notifier, _, testDB := newTestEngine(t)

	out, err := eng.ProcessSighting(context.Background(), Sighting{
		HWAddr:     "FF:FF:FF:FF:FF:FF",
		RoomID:     3,
		ObservedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultUnknownDevice, out.Result)

	// A registration request for the sighted room was broadcast and nothing
	// was written.
	assert.Equal(t, []int64{3}, notifier.registrations)
	assert.Empty(t, notifier.stateChanges)
	var count int64
	require.NoError(t, testDB.Model(&model.AccessLogEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEngine_UnknownRoom(t *testing.T) {
	eng, s, _, _, _ := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:02")

	_, err := eng.ProcessSighting(context.Background(), Sighting{
		HWAddr:     "AA:BB:CC:DD:EE:02",
		RoomID:     99,
		ObservedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrUnknownRoom)
}

func TestEngine_ClockSkewClampsToZero(t *testing.T) {
	eng, s, _, _, testDB := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:03")

	ctx := context.Background()
	t0 := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:03", RoomID: 2, ObservedAt: t0})
	require.NoError(t, err)

	// The move is observed before the entry (skewed scanner clock). The
	// transition still happens but no negative duration is accrued.
	out, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:03", RoomID: 3, ObservedAt: t0.Add(-5 * time.Minute)})
	require.NoError(t, err)
	assert.Equal(t, ResultMoved, out.Result)
	assert.Zero(t, out.StayMinutes)
	assert.Equal(t, int64(3), occupancyOf(t, testDB, "AA:BB:CC:DD:EE:03").CurrentRoomID)
	assert.Zero(t, durationOf(t, testDB, "AA:BB:CC:DD:EE:03").TotalMinutes)
}

func TestEngine_MissingEntryLogIsTolerated(t *testing.T) {
	eng, s, _, _, testDB := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:04")

	// Simulate a consistency gap: the device is marked present but the
	// matching entry log is missing.
	require.NoError(t, testDB.Model(&model.OccupancyRecord{}).
		Where("device_hw_addr = ?", "AA:BB:CC:DD:EE:04").
		Updates(map[string]any{"current_room_id": 2, "last_confirmed_at": time.Now().UTC()}).Error)

	out, err := eng.ProcessSighting(context.Background(), Sighting{
		HWAddr:     "AA:BB:CC:DD:EE:04",
		RoomID:     3,
		ObservedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, ResultMoved, out.Result)
	assert.Zero(t, out.StayMinutes)
	assert.Equal(t, int64(3), occupancyOf(t, testDB, "AA:BB:CC:DD:EE:04").CurrentRoomID)
	assert.Zero(t, durationOf(t, testDB, "AA:BB:CC:DD:EE:04").TotalMinutes)
}

func TestEngine_ThresholdRisingEdgeFiresOnce(t *testing.T) {
	eng, s, _, alerts, testDB := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:05")

	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	// One very long stay pushes the total over the 9600 minute threshold.
	_, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:05", RoomID: 2, ObservedAt: t0})
	require.NoError(t, err)
	out, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:05", RoomID: 3, ObservedAt: t0.Add(9601 * time.Minute)})
	require.NoError(t, err)
	assert.EqualValues(t, 9601, out.StayMinutes)

	dur := durationOf(t, testDB, "AA:BB:CC:DD:EE:05")
	assert.True(t, dur.ThresholdExceeded)
	assert.Equal(t, 1, alerts.count())

	// Accruing more time keeps the flag set but must not re-fire the alert.
	_, err = eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:05", RoomID: 2, ObservedAt: t0.Add(9700 * time.Minute)})
	require.NoError(t, err)

	dur = durationOf(t, testDB, "AA:BB:CC:DD:EE:05")
	assert.True(t, dur.ThresholdExceeded)
	assert.Greater(t, dur.TotalMinutes, int64(9601))
	assert.Equal(t, 1, alerts.count())
}

func TestEngine_ConcurrentSightingsDoNotLoseAccruals(t *testing.T) {
	eng, s, _, _, testDB := newTestEngine(t)
	registerDevice(t, s, "AA:BB:CC:DD:EE:06")

	ctx := context.Background()
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err := eng.ProcessSighting(ctx, Sighting{HWAddr: "AA:BB:CC:DD:EE:06", RoomID: 2, ObservedAt: t0})
	require.NoError(t, err)

	// Hammer the same device from many goroutines, alternating rooms. The
	// per-device serialization must make the final total equal the sum of
	// the stay durations reported to callers.
	const workers = 16
	results := make(chan int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			roomID := int64(2 + (i % 2))
			out, err := eng.ProcessSighting(ctx, Sighting{
				HWAddr:     "AA:BB:CC:DD:EE:06",
				RoomID:     roomID,
				ObservedAt: t0.Add(time.Duration(i+1) * time.Minute),
			})
			assert.NoError(t, err)
			results <- out.StayMinutes
		}(i)
	}
	wg.Wait()
	close(results)

	var reported int64
	for minutes := range results {
		reported += minutes
	}
	assert.Equal(t, reported, durationOf(t, testDB, "AA:BB:CC:DD:EE:06").TotalMinutes)
}

func TestElapsedMinutes(t *testing.T) {
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	testCases := []struct {
		name     string
		end      time.Time
		expected int64
	}{
		{"exact hour", start.Add(time.Hour), 60},
		{"floors partial minutes", start.Add(61*time.Minute + 59*time.Second), 61},
		{"zero interval", start, 0},
		{"negative interval clamps", start.Add(-time.Minute), 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, ElapsedMinutes(start, tc.end))
		})
	}
}
