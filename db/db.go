package db

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a wrapper around sql.DB
type DB struct {
	*sql.DB

	// Now is the clock used for created_at/updated_at stamps. Tests override it.
	Now func() time.Time
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Test the connection
	if err = db.Ping(); err != nil {
		return nil, err
	}

	return &DB{DB: db, Now: func() time.Time { return time.Now().UTC() }}, nil
}

// Initialize sets up the database tables
func (db *DB) Initialize() error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		protocol TEXT NOT NULL,
		instance TEXT NOT NULL,
		username TEXT NOT NULL,
		did TEXT,
		password TEXT,
		token TEXT,
		lastfm_username TEXT,
		day_of_week INTEGER,
		time TEXT,
		timezone TEXT,
		language TEXT NOT NULL DEFAULT 'en',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		callback TEXT,
		social_message TEXT,
		social_montage TEXT,
		error_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP,
		updated_at TIMESTAMP,
		UNIQUE (protocol, instance, username)
	)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS users_status ON users (status)`)
	return err
}
