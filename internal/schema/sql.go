package schema

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const ddl = `
CREATE TABLE IF NOT EXISTS packets (
	direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
	name      TEXT NOT NULL,
	opcode    INTEGER NOT NULL,
	size      TEXT NOT NULL,
	PRIMARY KEY (direction, name)
);

CREATE TABLE IF NOT EXISTS fields (
	direction   TEXT NOT NULL,
	packet      TEXT NOT NULL,
	position    INTEGER NOT NULL,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	terminator  INTEGER NOT NULL DEFAULT 0,
	translation TEXT,
	byte_order  TEXT,
	PRIMARY KEY (direction, packet, position),
	FOREIGN KEY (direction, packet) REFERENCES packets (direction, name) ON DELETE CASCADE
);
`

// OpenDB opens, creating if needed, a schema database.
func OpenDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	// NOTE: sqlite does not support concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("could not exec %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create tables: %w", err)
	}
	return db, nil
}

// Save replaces whatever schema db holds with f.
func Save(ctx context.Context, db *sql.DB, f *File) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	if err := save(ctx, tx, f); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit: %w", err)
	}
	return nil
}

func save(ctx context.Context, tx *sql.Tx, f *File) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM fields"); err != nil {
		return fmt.Errorf("could not clear fields: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM packets"); err != nil {
		return fmt.Errorf("could not clear packets: %w", err)
	}

	for _, dp := range f.Packets() {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO packets (direction, name, opcode, size) VALUES (?, ?, ?, ?)",
			string(dp.Direction), dp.Name, dp.Opcode, dp.Size)
		if err != nil {
			return fmt.Errorf("could not insert %s packet %q: %w", dp.Direction, dp.Name, err)
		}

		for i, field := range dp.Fields {
			var translation, order sql.NullString
			if field.Transformer != nil {
				translation = sql.NullString{String: field.Transformer.Translation, Valid: true}
				order = sql.NullString{String: field.Transformer.Order, Valid: true}
			}
			_, err := tx.ExecContext(ctx,
				`INSERT INTO fields (direction, packet, position, name, type, terminator, translation, byte_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				string(dp.Direction), dp.Name, i, field.Name, field.Type, field.Terminator, translation, order)
			if err != nil {
				return fmt.Errorf("could not insert field %s.%s: %w", dp.Name, field.Name, err)
			}
		}
	}
	return nil
}

// LoadSQL reads the schema stored by Save.
func LoadSQL(ctx context.Context, db *sql.DB) (*File, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT direction, name, opcode, size FROM packets ORDER BY direction, opcode, name")
	if err != nil {
		return nil, fmt.Errorf("could not query packets: %w", err)
	}

	var packets []DirectedPacket
	for rows.Next() {
		var dp DirectedPacket
		var direction string
		if err := rows.Scan(&direction, &dp.Name, &dp.Opcode, &dp.Size); err != nil {
			rows.Close()
			return nil, fmt.Errorf("could not scan packet: %w", err)
		}
		dp.Direction = Direction(direction)
		packets = append(packets, dp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not read packets: %w", err)
	}

	f := new(File)
	for _, dp := range packets {
		fields, err := loadFields(ctx, db, dp.Direction, dp.Name)
		if err != nil {
			return nil, err
		}
		dp.Fields = fields

		switch dp.Direction {
		case Inbound:
			f.Inbound = append(f.Inbound, dp.Packet)
		case Outbound:
			f.Outbound = append(f.Outbound, dp.Packet)
		}
	}
	return f, nil
}

func loadFields(ctx context.Context, db *sql.DB, direction Direction, packet string) ([]Field, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, type, terminator, translation, byte_order FROM fields
		WHERE direction = ? AND packet = ? ORDER BY position`,
		string(direction), packet)
	if err != nil {
		return nil, fmt.Errorf("could not query fields of %q: %w", packet, err)
	}
	defer rows.Close()

	var fields []Field
	for rows.Next() {
		var field Field
		var translation, order sql.NullString
		if err := rows.Scan(&field.Name, &field.Type, &field.Terminator, &translation, &order); err != nil {
			return nil, fmt.Errorf("could not scan field of %q: %w", packet, err)
		}
		if translation.Valid || order.Valid {
			field.Transformer = &Transformer{Translation: translation.String, Order: order.String}
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}
