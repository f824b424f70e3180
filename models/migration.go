package models

import (
	"log"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Clan{}, &User{}, &Role{}, &RoleModule{}, &Module{},
		&Member{}, &Article{}, &Event{}, &Message{},
		&ChestDataEntry{},
		&ScoringRule{}, &CorrectionRule{}, &ValidationRule{},
		&History{},
		&Notification{}, &NotificationOutbox{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
