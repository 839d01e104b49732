package model

import "time"

// DaemonLock exists only while a daemon owns the database. Creating the
// table is the lock.
type DaemonLock struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement:true"`
	Host      string `gorm:"type:varchar(255)"`
	Pid       int
	StartedAt time.Time
}

func (DaemonLock) TableName() string {
	return "daemon_lock"
}
