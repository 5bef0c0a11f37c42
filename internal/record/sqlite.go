package record

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// SQLite keeps the log in a single table keyed by an autoincrement sequence.
// Append is an INSERT; the UNIQUE uuid column doubles as the uuid→seq index.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) rk.db under dir. Pass ":memory:" as dir for
// an ephemeral keeper.
func NewSQLite(dir string) (*SQLite, error) {
	path := ":memory:"
	if dir != ":memory:" {
		path = filepath.Join(dir, "rk.db")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open record database: %w", err)
	}
	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		author TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		payload BLOB NOT NULL,
		integrity BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating events table: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (rk *SQLite) Close() error {
	return rk.db.Close()
}

func (rk *SQLite) Append(ev *gonk.Event) error {
	exists, err := rk.Exists(ev.UUID)
	if err != nil {
		return err
	}
	if exists {
		return gonk.Validationf("event-uuid", "event UUID already exists")
	}

	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	_, err = rk.db.Exec(
		`INSERT INTO events (uuid, type, author, timestamp, payload, integrity)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.UUID.String(), string(ev.Payload.Kind()), ev.Author,
		gonk.FormatTimestamp(ev.Timestamp), data, hex.EncodeToString(ev.Integrity))
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

func (rk *SQLite) Read(id uuid.UUID) (*gonk.Event, error) {
	var payload []byte
	err := rk.db.QueryRow(
		`SELECT payload FROM events WHERE uuid = ?`, id.String()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gonk.NotFoundf("event", "%s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	return gonk.Decode(payload)
}

func (rk *SQLite) At(seq uint64) (*gonk.Event, error) {
	var payload []byte
	err := rk.db.QueryRow(
		`SELECT payload FROM events ORDER BY seq LIMIT 1 OFFSET ?`, seq).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, gonk.NotFoundf("event", "seq %d", seq)
	}
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	return gonk.Decode(payload)
}

func (rk *SQLite) Exists(id uuid.UUID) (bool, error) {
	var one int
	err := rk.db.QueryRow(
		`SELECT 1 FROM events WHERE uuid = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking event: %w", err)
	}
	return true, nil
}

func (rk *SQLite) Next(after *uuid.UUID) (*uuid.UUID, error) {
	var raw string
	var err error
	if after == nil {
		err = rk.db.QueryRow(
			`SELECT uuid FROM events ORDER BY seq LIMIT 1`).Scan(&raw)
	} else {
		var seq int64
		err = rk.db.QueryRow(
			`SELECT seq FROM events WHERE uuid = ?`, after.String()).Scan(&seq)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, gonk.NotFoundf("event", "%s", *after)
		}
		if err != nil {
			return nil, fmt.Errorf("resolving cursor: %w", err)
		}
		err = rk.db.QueryRow(
			`SELECT uuid FROM events WHERE seq > ? ORDER BY seq LIMIT 1`, seq).Scan(&raw)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading next event: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	return &id, nil
}

func (rk *SQLite) Tail() (*uuid.UUID, error) {
	var raw string
	err := rk.db.QueryRow(
		`SELECT uuid FROM events ORDER BY seq DESC LIMIT 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tail: %w", err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing stored uuid: %w", err)
	}
	return &id, nil
}

func (rk *SQLite) Count() (uint64, error) {
	var n uint64
	if err := rk.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

var _ gonk.RecordKeeper = (*SQLite)(nil)
