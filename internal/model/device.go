package model

import "time"

// Device represents a tracked Bluetooth device and its owner.
type Device struct {
	HWAddr    string    `gorm:"primaryKey;size:64"`
	OwnerName string    `gorm:"size:128;not null"`
	EntryYear int       `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Occupancy OccupancyRecord `gorm:"foreignKey:DeviceHWAddr;constraint:OnDelete:CASCADE"`
	Duration  DurationRecord  `gorm:"foreignKey:DeviceHWAddr;constraint:OnDelete:CASCADE"`
}
