package service

import (
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
)

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	db, err := OpenSQLite("file:"+name+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate error: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
