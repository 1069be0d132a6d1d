package db

import (
	"log"
	"widget-sync-engine/internal/changelog"
	"widget-sync-engine/internal/permission"
	"widget-sync-engine/internal/session"
)

// Migrate runs database migrations
func Migrate() {
	err := AppDb.AutoMigrate(
		&permission.Widget{},
		&permission.WidgetPermission{},
		&session.CollaborationSession{},
		&session.SessionParticipant{},
		&changelog.ChangeRecord{},
		&changelog.ChangeConflict{},
	)

	if err != nil {
		log.Fatal(err)
	}

	log.Println("Database schema migrated successfully")
}
