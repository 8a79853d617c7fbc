package model

// OutsideRoomID is the distinguished room representing "not present".
// It is seeded at migration time and must never be deleted.
const OutsideRoomID int64 = 1

// Room represents a physical room covered by a scanner node.
type Room struct {
	ID   int64  `gorm:"primaryKey"`
	Name string `gorm:"uniqueIndex;size:128;not null"`
}
