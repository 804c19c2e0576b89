package models

import "time"

// ResourceCounter is a named monotonic sequence. Rows are never decremented.
type ResourceCounter struct {
	Name      string    `gorm:"column:name;type:varchar(64);primaryKey"`
	Seq       int64     `gorm:"column:seq;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
