package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound means the referenced booking/item/user does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConcurrentModification means a versioned update lost the race:
	// the row changed between the caller's read and this write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrNotAvailable means the item has no remaining capacity.
	ErrNotAvailable = errors.New("item not available")
)

// DB wraps the sqlite connection behind the store interfaces.
type DB struct {
	db     *sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger != nil {
		logger.Info().Str("path", path).Msg("database initialized")
	}
	return &DB{db: db, logger: logger}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            phone TEXT,
            role TEXT NOT NULL,
            is_blocked BOOLEAN NOT NULL DEFAULT 0,
            lat REAL,
            lng REAL,
            war_total_jobs INTEGER NOT NULL DEFAULT 0,
            war_on_time_count INTEGER NOT NULL DEFAULT 0,
            war_dispute_count_6m INTEGER NOT NULL DEFAULT 0,
            war_cancellation_count_6m INTEGER NOT NULL DEFAULT 0,
            war_final_rating REAL NOT NULL DEFAULT 0,
            war_last_calculated DATETIME,
            last_activity DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS items (
            id TEXT PRIMARY KEY,
            supplier_id TEXT NOT NULL,
            name TEXT NOT NULL,
            category TEXT NOT NULL,
            purpose_rates TEXT NOT NULL DEFAULT '{}',
            operator_rate INTEGER NOT NULL DEFAULT 0,
            available BOOLEAN NOT NULL DEFAULT 1,
            quantity_total INTEGER NOT NULL DEFAULT 0,
            quantity_available INTEGER NOT NULL DEFAULT 0,
            lat REAL,
            lng REAL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            sort_order INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS bookings (
            id TEXT PRIMARY KEY,
            farmer_id TEXT NOT NULL,
            supplier_id TEXT,
            operator_id TEXT,
            booked_by_agent_id TEXT,
            booked_for_farmer_id TEXT,
            item_category TEXT NOT NULL,
            item_id TEXT,
            work_purpose TEXT NOT NULL,
            quantity INTEGER NOT NULL DEFAULT 1,
            operator_required BOOLEAN NOT NULL DEFAULT 0,
            date DATETIME NOT NULL,
            start_time TEXT NOT NULL,
            end_time TEXT,
            estimated_duration REAL NOT NULL,
            lat REAL NOT NULL DEFAULT 0,
            lng REAL NOT NULL DEFAULT 0,
            estimated_price INTEGER NOT NULL DEFAULT 0,
            final_price INTEGER NOT NULL DEFAULT 0,
            distance_charge INTEGER NOT NULL DEFAULT 0,
            advance_paid INTEGER NOT NULL DEFAULT 0,
            pay_farmer_amount INTEGER,
            pay_supplier_amount INTEGER,
            pay_commission INTEGER,
            pay_method TEXT,
            pay_reference TEXT,
            pay_paid_at DATETIME,
            status TEXT NOT NULL,
            cancelled_by TEXT,
            otp_code TEXT,
            otp_verified BOOLEAN NOT NULL DEFAULT 0,
            otp_attempts INTEGER NOT NULL DEFAULT 0,
            dispute_raised BOOLEAN NOT NULL DEFAULT 0,
            dispute_resolved BOOLEAN NOT NULL DEFAULT 0,
            damage_reported BOOLEAN NOT NULL DEFAULT 0,
            is_rebroadcast BOOLEAN NOT NULL DEFAULT 0,
            allow_multiple_suppliers BOOLEAN NOT NULL DEFAULT 0,
            search_timeout_notified BOOLEAN NOT NULL DEFAULT 0,
            admin_alert_count INTEGER NOT NULL DEFAULT 0,
            last_admin_alert_time DATETIME,
            late_start BOOLEAN NOT NULL DEFAULT 0,
            work_start_time DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            version INTEGER NOT NULL DEFAULT 1
        )`,

		`CREATE TABLE IF NOT EXISTS reviews (
            id TEXT PRIMARY KEY,
            booking_id TEXT NOT NULL,
            supplier_id TEXT NOT NULL,
            farmer_id TEXT NOT NULL,
            rating INTEGER NOT NULL,
            comment TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS notifications (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            message TEXT NOT NULL,
            type TEXT NOT NULL,
            category TEXT NOT NULL,
            priority TEXT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id TEXT NOT NULL,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_supplier_id ON bookings(supplier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_farmer_id ON bookings(farmer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_date ON bookings(date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_category ON bookings(item_category)`,
		`CREATE INDEX IF NOT EXISTS idx_items_category ON items(category)`,
		`CREATE INDEX IF NOT EXISTS idx_items_supplier ON items(supplier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role)`,
		`CREATE INDEX IF NOT EXISTS idx_reviews_supplier ON reviews(supplier_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}
