package model

import "time"

type SchemaVersion struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement:true"`
	Version       int
	Registry      string `gorm:"type:varchar(255)"`
	InitializedAt time.Time
}

func (SchemaVersion) TableName() string {
	return "schema_version"
}
