package models

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var GormDB *gorm.DB

// InitDB opens the MySQL pool, wraps it with GORM and migrates the schema.
func InitDB(dsn string) (*gorm.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	if err := Migrate(gdb); err != nil {
		return nil, err
	}
	GormDB = gdb
	return gdb, nil
}

// Migrate creates or updates every table the server owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&GenerationTask{}, &Asset{}, &Credential{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
