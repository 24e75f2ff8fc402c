package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a gorm handle. MySQL DSNs (user:pass@tcp(host:port)/db or
// mysql://...) use the MySQL driver; everything else is treated as a sqlite DSN.
func Connect(dsn string) (*gorm.DB, error) {
	dialector, kind := dialectorFor(dsn)

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	if kind == "sqlite" {
		// a single writer avoids SQLITE_BUSY under concurrent edits
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	log.Printf("[db] connected driver=%s", kind)
	return gdb, nil
}

func dialectorFor(dsn string) (gorm.Dialector, string) {
	switch {
	case strings.HasPrefix(dsn, "mysql://"):
		return mysql.Open(strings.TrimPrefix(dsn, "mysql://")), "mysql"
	case strings.Contains(dsn, "@tcp("):
		return mysql.Open(dsn), "mysql"
	default:
		return gormsqlite.Open(dsn), "sqlite"
	}
}
