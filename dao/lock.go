package dao

import (
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/outlierventures/buyco_settlement/model"
)

// GetDatabaseLock fails while another daemon holds the database.
func GetDatabaseLock(db *gorm.DB) error {
	if err := db.Migrator().CreateTable(&model.DaemonLock{}); err != nil {
		log.Errorf("GetDatabaseLock failed:%v", err)
		return err
	}

	host, _ := os.Hostname()
	return db.Create(&model.DaemonLock{Host: host, Pid: os.Getpid(), StartedAt: time.Now()}).Error
}

func ReleaseDatabaseLock(db *gorm.DB) error {
	err := db.Migrator().DropTable(&model.DaemonLock{})
	log.Infof("delete daemon_lock result:%v", err)
	return err
}
