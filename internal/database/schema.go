package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Only the tables the hold and booking flow reads or writes. booking_seats
// carries UNIQUE(screening_id, seat_id) so two bookings can never share a
// seat even when the application-level check races.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS auditoriums (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(120) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seats (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		auditorium_id BIGINT UNSIGNED NOT NULL,
		row_label VARCHAR(8) NOT NULL,
		row_index INT UNSIGNED NOT NULL,
		seat_number INT UNSIGNED NOT NULL,
		UNIQUE KEY uq_seat_position (auditorium_id, row_label, seat_number),
		FOREIGN KEY (auditorium_id) REFERENCES auditoriums(id)
	)`,
	`CREATE TABLE IF NOT EXISTS screenings (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		auditorium_id BIGINT UNSIGNED NOT NULL,
		movie_title VARCHAR(200) NOT NULL,
		starts_at DATETIME NOT NULL,
		FOREIGN KEY (auditorium_id) REFERENCES auditoriums(id)
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_types (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(60) NOT NULL,
		price_cents INT UNSIGNED NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		screening_id BIGINT UNSIGNED NOT NULL,
		session_id VARCHAR(64) NOT NULL,
		confirmation_code VARCHAR(16) NOT NULL,
		total_price_cents INT UNSIGNED NOT NULL,
		created_at DATETIME NOT NULL,
		UNIQUE KEY uq_booking_code (confirmation_code),
		FOREIGN KEY (screening_id) REFERENCES screenings(id)
	)`,
	`CREATE TABLE IF NOT EXISTS booking_seats (
		id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id BIGINT UNSIGNED NOT NULL,
		screening_id BIGINT UNSIGNED NOT NULL,
		seat_id BIGINT UNSIGNED NOT NULL,
		ticket_type_id BIGINT UNSIGNED NOT NULL,
		price_cents INT UNSIGNED NOT NULL,
		UNIQUE KEY uq_screening_seat (screening_id, seat_id),
		FOREIGN KEY (booking_id) REFERENCES bookings(id) ON DELETE CASCADE,
		FOREIGN KEY (seat_id) REFERENCES seats(id),
		FOREIGN KEY (ticket_type_id) REFERENCES ticket_types(id)
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS auditoriums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		auditorium_id INTEGER NOT NULL REFERENCES auditoriums(id),
		row_label TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		seat_number INTEGER NOT NULL,
		UNIQUE (auditorium_id, row_label, seat_number)
	)`,
	`CREATE TABLE IF NOT EXISTS screenings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		auditorium_id INTEGER NOT NULL REFERENCES auditoriums(id),
		movie_title TEXT NOT NULL,
		starts_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ticket_types (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		screening_id INTEGER NOT NULL REFERENCES screenings(id),
		session_id TEXT NOT NULL,
		confirmation_code TEXT NOT NULL UNIQUE,
		total_price_cents INTEGER NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS booking_seats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
		screening_id INTEGER NOT NULL,
		seat_id INTEGER NOT NULL REFERENCES seats(id),
		ticket_type_id INTEGER NOT NULL REFERENCES ticket_types(id),
		price_cents INTEGER NOT NULL,
		UNIQUE (screening_id, seat_id)
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB, driver string) error {
	stmts := mysqlSchema
	if driver == "sqlite" {
		stmts = sqliteSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			name := strings.Fields(strings.TrimPrefix(stmt, "CREATE TABLE IF NOT EXISTS "))[0]
			return fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return nil
}
