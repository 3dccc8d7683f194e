// Package scandb stores scan sessions and their point clouds in SQLite.
package scandb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/laserscan/internal/cloud"
	"github.com/banshee-data/laserscan/internal/config"
	"github.com/banshee-data/laserscan/internal/monitoring"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("scan session not found")

// DB wraps the scan database.
type DB struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps the PRAGMAs in effect for every statement.
	sqlDB.SetMaxOpenConns(1)
	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	monitoring.Logf("scandb: opened %s", path)
	return db, nil
}

// Session is a stored scan.
type Session struct {
	ID       string          `json:"id"`
	Started  time.Time       `json:"started"`
	Finished *time.Time      `json:"finished,omitempty"`
	Settings config.Snapshot `json:"settings"`
	Points   int             `json:"points"`
	Theta    float64         `json:"theta"`
	Error    string          `json:"error,omitempty"`
}

// CreateSession inserts a new session row.
func (db *DB) CreateSession(ctx context.Context, id string, started time.Time, settings config.Snapshot) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO scan_sessions (session_id, started_ns, settings) VALUES (?, ?, ?)`,
		id, started.UnixNano(), string(raw))
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", id, err)
	}
	return nil
}

// FinishSession records the outcome of a session.
func (db *DB) FinishSession(ctx context.Context, id string, finished time.Time, points int, theta float64, scanErr error) error {
	var errText sql.NullString
	if scanErr != nil {
		errText = sql.NullString{String: scanErr.Error(), Valid: true}
	}
	res, err := db.ExecContext(ctx,
		`UPDATE scan_sessions SET finished_ns = ?, point_count = ?, theta = ?, error = ? WHERE session_id = ?`,
		finished.UnixNano(), points, theta, errText, id)
	if err != nil {
		return fmt.Errorf("failed to finish session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// InsertBatch stores one processed frame in a single transaction.
func (db *DB) InsertBatch(ctx context.Context, sessionID string, b cloud.Batch) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_batches (session_id, seq, theta, step, point_count) VALUES (?, ?, ?, ?, ?)`,
		sessionID, int64(b.Seq), b.Theta, b.Step, b.Len()); err != nil {
		return fmt.Errorf("failed to insert batch %d: %w", b.Seq, err)
	}

	if b.Len() > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO scan_points (session_id, seq, idx, x, y, z, rgb) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i, p := range b.Points {
			var c color.RGBA
			if i < len(b.Colors) {
				c = b.Colors[i]
			}
			if _, err := stmt.ExecContext(ctx, sessionID, int64(b.Seq), i, p.X, p.Y, p.Z, packRGB(c)); err != nil {
				return fmt.Errorf("failed to insert point %d of batch %d: %w", i, b.Seq, err)
			}
		}
	}
	return tx.Commit()
}

// Sessions lists stored sessions, newest first.
func (db *DB) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_ns, finished_ns, settings, point_count, theta, error
		 FROM scan_sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Session returns one stored session.
func (db *DB) Session(ctx context.Context, id string) (Session, error) {
	row := db.QueryRowContext(ctx,
		`SELECT session_id, started_ns, finished_ns, settings, point_count, theta, error
		 FROM scan_sessions WHERE session_id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s        Session
		started  int64
		finished sql.NullInt64
		settings string
		errText  sql.NullString
	)
	if err := r.Scan(&s.ID, &started, &finished, &settings, &s.Points, &s.Theta, &errText); err != nil {
		return Session{}, err
	}
	s.Started = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		s.Finished = &t
	}
	if err := json.Unmarshal([]byte(settings), &s.Settings); err != nil {
		return Session{}, fmt.Errorf("session %s: bad settings: %w", s.ID, err)
	}
	s.Error = errText.String
	return s, nil
}

// LoadCloud rebuilds the point cloud of a session, batches in sequence
// order and points in their original order.
func (db *DB) LoadCloud(ctx context.Context, id string) (cloud.Cloud, error) {
	if _, err := db.Session(ctx, id); err != nil {
		return cloud.Cloud{}, err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT seq, theta, step FROM scan_batches WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return cloud.Cloud{}, err
	}
	var batches []cloud.Batch
	index := make(map[int64]int)
	for rows.Next() {
		var seq int64
		var b cloud.Batch
		if err := rows.Scan(&seq, &b.Theta, &b.Step); err != nil {
			rows.Close()
			return cloud.Cloud{}, err
		}
		b.Seq = uint64(seq)
		index[seq] = len(batches)
		batches = append(batches, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return cloud.Cloud{}, err
	}

	prows, err := db.QueryContext(ctx,
		`SELECT seq, x, y, z, rgb FROM scan_points WHERE session_id = ? ORDER BY seq, idx`, id)
	if err != nil {
		return cloud.Cloud{}, err
	}
	defer prows.Close()
	for prows.Next() {
		var (
			seq int64
			p   cloud.Point
			rgb int64
		)
		if err := prows.Scan(&seq, &p.X, &p.Y, &p.Z, &rgb); err != nil {
			return cloud.Cloud{}, err
		}
		i, ok := index[seq]
		if !ok {
			continue
		}
		batches[i].Points = append(batches[i].Points, p)
		batches[i].Colors = append(batches[i].Colors, unpackRGB(rgb))
	}
	if err := prows.Err(); err != nil {
		return cloud.Cloud{}, err
	}
	return cloud.NewCloud(batches), nil
}

// DeleteSession removes a session with its batches and points.
func (db *DB) DeleteSession(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM scan_sessions WHERE session_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func packRGB(c color.RGBA) int64 {
	return int64(c.R)<<16 | int64(c.G)<<8 | int64(c.B)
}

func unpackRGB(v int64) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
