package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"presence-tracker-backend/internal/model"
)

var (
	// ErrUnknownDevice is returned when a hardware address does not resolve
	// to a registered device. Callers treat it as a normal outcome.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDeviceExists is returned when registering an already known address.
	ErrDeviceExists = errors.New("device already registered")
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	// InTx runs fn inside a single database transaction. All writes made
	// through the Tx either commit together or roll back together.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// RegisterDevice creates a device together with its fresh occupancy and
	// duration rows. A partial registration is never visible.
	RegisterDevice(ctx context.Context, dev *model.Device) error

	// StaleOccupancies lists devices that are present but whose last
	// confirmation is older than the given instant.
	StaleOccupancies(ctx context.Context, before time.Time) ([]model.OccupancyRecord, error)

	// PresentOccupancies lists all devices currently inside the building.
	PresentOccupancies(ctx context.Context) ([]model.OccupancyRecord, error)

	// ListStatus returns the display projection for every device, ordered
	// by entry year.
	ListStatus(ctx context.Context) ([]DeviceStatus, error)

	ListRooms(ctx context.Context) ([]model.Room, error)
}

// Tx is the per-transaction view of the store. The occupancy engine and the
// reconciliation jobs do all their mutations through it.
type Tx interface {
	Occupancy(hwAddr string) (*model.OccupancyRecord, error)
	SetRoom(hwAddr string, roomID int64, confirmedAt time.Time) error
	Touch(hwAddr string, confirmedAt time.Time) error

	LatestEntry(hwAddr string, roomID int64) (*model.AccessLogEntry, error)
	AppendLog(hwAddr string, roomID int64, action model.LogAction, at time.Time) error

	Duration(hwAddr string) (*model.DurationRecord, error)
	SetDuration(hwAddr string, totalMinutes int64, exceeded bool) error
	IncrementForcedExits(hwAddr string) error
	ResetAllDurations() error

	RoomExists(roomID int64) (bool, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *gormStore) RegisterDevice(ctx context.Context, dev *model.Device) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Device{}).Where("hw_addr = ?", dev.HWAddr).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check for existing device: %w", err)
		}
		if count > 0 {
			return ErrDeviceExists
		}

		if err := tx.Create(dev).Error; err != nil {
			return fmt.Errorf("failed to create device %s: %w", dev.HWAddr, err)
		}

		occupancy := model.OccupancyRecord{
			DeviceHWAddr:    dev.HWAddr,
			CurrentRoomID:   model.OutsideRoomID,
			LastConfirmedAt: dev.CreatedAt,
		}
		if err := tx.Create(&occupancy).Error; err != nil {
			return fmt.Errorf("failed to create occupancy record for %s: %w", dev.HWAddr, err)
		}

		duration := model.DurationRecord{DeviceHWAddr: dev.HWAddr}
		if err := tx.Create(&duration).Error; err != nil {
			return fmt.Errorf("failed to create duration record for %s: %w", dev.HWAddr, err)
		}
		return nil
	})
}

func (s *gormStore) StaleOccupancies(ctx context.Context, before time.Time) ([]model.OccupancyRecord, error) {
	var records []model.OccupancyRecord
	err := s.db.WithContext(ctx).
		Where("current_room_id <> ? AND last_confirmed_at < ?", model.OutsideRoomID, before).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale occupancies: %w", err)
	}
	return records, nil
}

func (s *gormStore) PresentOccupancies(ctx context.Context) ([]model.OccupancyRecord, error) {
	var records []model.OccupancyRecord
	err := s.db.WithContext(ctx).
		Where("current_room_id <> ?", model.OutsideRoomID).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list present occupancies: %w", err)
	}
	return records, nil
}

func (s *gormStore) ListStatus(ctx context.Context) ([]DeviceStatus, error) {
	var rows []DeviceStatus
	err := s.db.WithContext(ctx).
		Model(&model.Device{}).
		Select("devices.hw_addr, devices.owner_name, devices.entry_year, rooms.name AS room_name, " +
			"duration_records.total_minutes, duration_records.threshold_exceeded, duration_records.forced_exit_count").
		Joins("INNER JOIN occupancy_records ON occupancy_records.device_hw_addr = devices.hw_addr").
		Joins("INNER JOIN rooms ON rooms.id = occupancy_records.current_room_id").
		Joins("INNER JOIN duration_records ON duration_records.device_hw_addr = devices.hw_addr").
		Order("devices.entry_year ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query device status: %w", err)
	}
	return rows, nil
}

func (s *gormStore) ListRooms(ctx context.Context) ([]model.Room, error) {
	var rooms []model.Room
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&rooms).Error; err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// gormTx implements Tx on top of a transaction-scoped *gorm.DB.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) Occupancy(hwAddr string) (*model.OccupancyRecord, error) {
	var record model.OccupancyRecord
	err := t.db.First(&record, "device_hw_addr = ?", hwAddr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load occupancy for %s: %w", hwAddr, err)
	}
	return &record, nil
}

func (t *gormTx) SetRoom(hwAddr string, roomID int64, confirmedAt time.Time) error {
	err := t.db.Model(&model.OccupancyRecord{}).
		Where("device_hw_addr = ?", hwAddr).
		Updates(map[string]any{
			"current_room_id":   roomID,
			"last_confirmed_at": confirmedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update room for %s: %w", hwAddr, err)
	}
	return nil
}

func (t *gormTx) Touch(hwAddr string, confirmedAt time.Time) error {
	err := t.db.Model(&model.OccupancyRecord{}).
		Where("device_hw_addr = ?", hwAddr).
		Update("last_confirmed_at", confirmedAt).Error
	if err != nil {
		return fmt.Errorf("failed to touch occupancy for %s: %w", hwAddr, err)
	}
	return nil
}

func (t *gormTx) LatestEntry(hwAddr string, roomID int64) (*model.AccessLogEntry, error) {
	var entry model.AccessLogEntry
	err := t.db.
		Where("device_hw_addr = ? AND room_id = ? AND action = ?", hwAddr, roomID, model.ActionEntry).
		Order("timestamp DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to locate entry log for %s in room %d: %w", hwAddr, roomID, err)
	}
	return &entry, nil
}

func (t *gormTx) AppendLog(hwAddr string, roomID int64, action model.LogAction, at time.Time) error {
	entry := model.AccessLogEntry{
		DeviceHWAddr: hwAddr,
		RoomID:       roomID,
		Action:       action,
		Timestamp:    at,
	}
	if err := t.db.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append %s log for %s: %w", action, hwAddr, err)
	}
	return nil
}

func (t *gormTx) Duration(hwAddr string) (*model.DurationRecord, error) {
	var record model.DurationRecord
	err := t.db.First(&record, "device_hw_addr = ?", hwAddr).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownDevice
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load duration for %s: %w", hwAddr, err)
	}
	return &record, nil
}

func (t *gormTx) SetDuration(hwAddr string, totalMinutes int64, exceeded bool) error {
	err := t.db.Model(&model.DurationRecord{}).
		Where("device_hw_addr = ?", hwAddr).
		Updates(map[string]any{
			"total_minutes":      totalMinutes,
			"threshold_exceeded": exceeded,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update duration for %s: %w", hwAddr, err)
	}
	return nil
}

func (t *gormTx) IncrementForcedExits(hwAddr string) error {
	err := t.db.Model(&model.DurationRecord{}).
		Where("device_hw_addr = ?", hwAddr).
		Update("forced_exit_count", gorm.Expr("forced_exit_count + 1")).Error
	if err != nil {
		return fmt.Errorf("failed to increment forced exits for %s: %w", hwAddr, err)
	}
	return nil
}

func (t *gormTx) ResetAllDurations() error {
	err := t.db.Model(&model.DurationRecord{}).
		Where("1 = 1").
		Updates(map[string]any{
			"total_minutes":      0,
			"threshold_exceeded": false,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset duration records: %w", err)
	}
	return nil
}

func (t *gormTx) RoomExists(roomID int64) (bool, error) {
	var count int64
	if err := t.db.Model(&model.Room{}).Where("id = ?", roomID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check room %d: %w", roomID, err)
	}
	return count > 0, nil
}
