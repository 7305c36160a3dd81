package db

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// testDB opens an isolated in-memory database with the full schema. The
// shared-cache DSN keeps the database alive across pooled connections.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared", testDBSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))
	return gdb
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDayOfUsesConfiguredLocation(t *testing.T) {
	kyiv, err := time.LoadLocation("Europe/Kyiv")
	require.NoError(t, err)

	SetLocation(kyiv)
	defer SetLocation(time.UTC)

	// 23:30 UTC on Aug 26 is already Aug 27 in Kyiv (UTC+3 in summer).
	late := time.Date(2026, 8, 26, 23, 30, 0, 0, time.UTC)
	require.Equal(t, day(2026, 8, 27), DayOf(late))

	SetLocation(time.UTC)
	require.Equal(t, day(2026, 8, 26), DayOf(late))
}
