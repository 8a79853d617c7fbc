package model

import "time"

// LogAction is the kind of room transition an access log entry records.
type LogAction string

const (
	ActionEntry LogAction = "entry"
	ActionExit  LogAction = "exit"
)

// AccessLogEntry is one row of the append-only entry/exit log (cold table).
// Rows are written by the engine and the reconciliation jobs and never
// updated or deleted; exits locate their matching entry here to compute
// the stay duration.
type AccessLogEntry struct {
	ID           int64     `gorm:"autoIncrement;primaryKey"`
	DeviceHWAddr string    `gorm:"size:64;not null;index:idx_access_log_device_room"`
	RoomID       int64     `gorm:"not null;index:idx_access_log_device_room"`
	Action       LogAction `gorm:"size:8;not null"`
	Timestamp    time.Time `gorm:"not null;index"`
}
