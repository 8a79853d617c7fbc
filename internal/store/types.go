package store

// DeviceStatus is one row of the read-only status projection served to
// dashboards: device identity joined with its current room and counters.
type DeviceStatus struct {
	HWAddr            string `gorm:"column:hw_addr" json:"mac_address"`
	OwnerName         string `gorm:"column:owner_name" json:"owner_name"`
	EntryYear         int    `gorm:"column:entry_year" json:"entry_year"`
	RoomName          string `gorm:"column:room_name" json:"room_name"`
	TotalMinutes      int64  `gorm:"column:total_minutes" json:"total_minutes"`
	ThresholdExceeded bool   `gorm:"column:threshold_exceeded" json:"threshold_exceeded"`
	ForcedExitCount   int64  `gorm:"column:forced_exit_count" json:"forced_exit_count"`
}
