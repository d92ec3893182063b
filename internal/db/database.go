package db

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Open connects to the configured database. dbType is "sqlite" or "postgres".
func Open(dbType, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dbType, err)
	}
	if driver == "sqlite" {
		// one writer at a time; modernc sqlite serialises anyway and this avoids SQLITE_BUSY
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Str("dbType", dbType).Msg("Database connection established successfully.")
	return conn, nil
}

func driverName(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "":
		return "sqlite", nil
	case "postgres", "postgresql":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

// Migrate creates the schema if it does not exist yet.
func Migrate(conn *sqlx.DB) error {
	if conn == nil {
		return fmt.Errorf("database not initialized, call Open first")
	}

	statements := sqliteSchema
	if conn.DriverName() == "postgres" {
		statements = postgresSchema
	}
	for _, stmt := range statements {
		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	log.Info().Int("statements", len(statements)).Str("driver", conn.DriverName()).Msg("Database migration completed successfully.")
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL DEFAULT 'OPEN',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair ON conversations (user_id, contact_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		resource_id TEXT,
		to_number TEXT NOT NULL,
		from_number TEXT,
		user_id TEXT,
		contact_id TEXT,
		conversation_id TEXT,
		body TEXT NOT NULL DEFAULT '',
		media TEXT,
		num_segments INTEGER NOT NULL DEFAULT 0,
		num_media INTEGER NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		direction TEXT NOT NULL,
		error_code INTEGER,
		error_message TEXT,
		account_sid TEXT,
		messaging_service_sid TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		scheduled_at DATETIME,
		delivered_at DATETIME
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_resource_id ON messages (resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_to_direction ON messages (to_number, direction, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_contact ON messages (user_id, contact_id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		contact_id TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL DEFAULT 'OPEN',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_pair ON conversations (user_id, contact_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		resource_id TEXT,
		to_number TEXT NOT NULL,
		from_number TEXT,
		user_id TEXT,
		contact_id TEXT,
		conversation_id TEXT REFERENCES conversations (id),
		body TEXT NOT NULL DEFAULT '',
		media JSONB,
		num_segments INTEGER NOT NULL DEFAULT 0,
		num_media INTEGER NOT NULL DEFAULT 0,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		direction TEXT NOT NULL,
		error_code INTEGER,
		error_message TEXT,
		account_sid TEXT,
		messaging_service_sid TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		scheduled_at TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_resource_id ON messages (resource_id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_to_direction ON messages (to_number, direction, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user_contact ON messages (user_id, contact_id)`,
}
