package model

import "time"

// OccupancyRecord tracks which room a device currently occupies (hot table).
// Every registered device has exactly one row; CurrentRoomID is OutsideRoomID
// before first entry and after any exit.
type OccupancyRecord struct {
	DeviceHWAddr    string    `gorm:"primaryKey;size:64"`
	CurrentRoomID   int64     `gorm:"not null"`
	LastConfirmedAt time.Time `gorm:"not null;index"`
}

// Present reports whether the device is inside the building.
func (r *OccupancyRecord) Present() bool {
	return r.CurrentRoomID != OutsideRoomID
}
