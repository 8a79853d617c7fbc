package model

// DurationRecord accumulates a device's billable stay time for the current
// billing month. TotalMinutes and ThresholdExceeded are reset by the monthly
// rollover; ForcedExitCount is a lifetime counter and is never reset.
type DurationRecord struct {
	DeviceHWAddr      string `gorm:"primaryKey;size:64"`
	TotalMinutes      int64  `gorm:"not null"`
	ThresholdExceeded bool   `gorm:"not null"`
	ForcedExitCount   int64  `gorm:"not null"`
}
