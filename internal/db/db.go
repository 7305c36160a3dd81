package db

import (
	"errors"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// location is the civil timezone used to derive day dates from segment
// timestamps. Defaults to UTC; main wires the balancer timezone in.
var location = time.UTC

// SetLocation sets the civil timezone for day-date derivation.
func SetLocation(loc *time.Location) {
	if loc != nil {
		location = loc
	}
}

// DayOf truncates t to its civil day in the configured timezone. Day dates
// are stored as UTC midnights so they compare exactly across drivers.
func DayOf(t time.Time) time.Time {
	y, m, d := t.In(location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Connect opens a GORM database connection using APP_DATABASE_URL (PostgreSQL URL).
func Connect(databaseURL string) (*gorm.DB, error) {
	dsn := strings.TrimSpace(databaseURL)
	if dsn == "" {
		return nil, errors.New("APP_DATABASE_URL is required (PostgreSQL URL)")
	}
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return nil, errors.New("APP_DATABASE_URL must be a postgres:// or postgresql:// URL")
	}

	// PrepareStmt: true prevents the GORM postgres migrator from forcing simple protocol
	// for "SELECT * FROM table LIMIT 1", which would otherwise trigger "insufficient arguments".
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{PrepareStmt: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate creates or updates the balancer tables.
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&PolicyLog{},
		&OrderFact{},
		&SegmentStat{},
		&LiveState{},
		&TestState{},
	)
}
