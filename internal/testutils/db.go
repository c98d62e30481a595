// Package testutils holds helpers shared by package tests.
package testutils

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Lunanaall/thumbnailer/internal/model"
)

var testDBSeq int64

// SetupDB opens a unique in-memory SQLite database with the metadata table
// (lease columns included) created under the given name. The schema mirrors
// the migrations rather than the model so names with spaces work.
func SetupDB(t *testing.T, table string) *gorm.DB {
	t.Helper()

	seq := atomic.AddInt64(&testDBSeq, 1)
	dsn := fmt.Sprintf("file:thumbnailer_%d?mode=memory&cache=shared", seq)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	ddl := `CREATE TABLE ? (
		imageid          INTEGER PRIMARY KEY AUTOINCREMENT,
		caption          TEXT,
		owneruserid      INTEGER,
		originalurl      TEXT,
		thumbnailurl     TEXT,
		lease_owner      TEXT,
		lease_expires_at DATETIME
	)`
	if err := gdb.Exec(ddl, clause.Table{Name: table}).Error; err != nil {
		t.Fatalf("create table %s: %v", table, err)
	}

	return gdb
}

// InsertImage adds a record and returns it with its assigned id.
func InsertImage(t *testing.T, db *gorm.DB, table string, rec model.ImageRecord) model.ImageRecord {
	t.Helper()

	if err := db.Table("?", clause.Table{Name: table}).Create(&rec).Error; err != nil {
		t.Fatalf("insert image: %v", err)
	}
	return rec
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
