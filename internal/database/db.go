package database

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	conn   *sql.DB
	dbType string
}

type Config struct {
	Type       string
	Host       string
	Port       int
	User       string
	Password   string
	Name       string
	SQLitePath string
}

func NewDB(config Config) (*DB, error) {
	var conn *sql.DB
	var err error

	switch config.Type {
	case "sqlite":
		conn, err = sql.Open("sqlite3", config.SQLitePath)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			config.Host, config.Port, config.User, config.Password, config.Name)
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{conn: conn, dbType: config.Type}

	// Only create tables for SQLite; postgres schemas come from migrations.
	if config.Type == "sqlite" {
		if err := db.createTables(); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return db, nil
}

func (db *DB) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		original_path TEXT NOT NULL,
		processed_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		fps REAL NOT NULL DEFAULT 0,
		duration REAL NOT NULL DEFAULT 0,
		total_frames INTEGER NOT NULL DEFAULT 0,
		processed_frames INTEGER NOT NULL DEFAULT 0,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		speed_limit REAL NOT NULL DEFAULT 0,
		vehicle_count INTEGER NOT NULL DEFAULT 0,
		avg_speed REAL,
		max_speed REAL,
		min_speed REAL,
		error_message TEXT NOT NULL DEFAULT '',
		uploaded_at DATETIME NOT NULL,
		processed_at DATETIME,
		calibrated_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS calibrations (
		video_id TEXT PRIMARY KEY REFERENCES videos(id),
		mode TEXT NOT NULL,
		points TEXT NOT NULL,
		reference_distance REAL NOT NULL,
		approximate INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detections (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos(id),
		track_id INTEGER NOT NULL,
		frame_number INTEGER NOT NULL,
		timestamp REAL NOT NULL,
		speed REAL,
		is_speeding INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_detections_video_id ON detections(video_id);
	`

	_, err := db.conn.Exec(query)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) Ping() error {
	return db.conn.Ping()
}

func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) RunMigrations(migrationsPath string) error {
	migrator := NewMigrator(db.conn, db.dbType)
	return migrator.Run(migrationsPath)
}
