package models

import (
	"log"

	"bitbucket.org/mmdatafocus/commissions_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&RawObject{}, &SyncRun{}, &SyncRunError{}, &ErpConnection{},
		&Agent{}, &Customer{},
		&Project{}, &ProjectCommissionRate{}, &Unit{},
		&Sale{}, &SaleCoborrower{}, &Installment{},
	)
	if err != nil {
		log.Println(err)
	}
}
