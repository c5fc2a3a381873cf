// Package archive persists accepted observations across sessions in a
// SQLite database. It implements sink.Sink so it joins the sink chain,
// and backs the query endpoints of the control surface.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/salography/fast-alpr/internal/model"
)

// tsLayout is fixed-width so lexicographic order of stored timestamps
// matches time order (RFC3339Nano trims trailing zeros and would not).
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Archive is a cross-session detection store.
type Archive struct {
	db *sql.DB
}

// Detection is one archived plate observation.
type Detection struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	Plate               string    `json:"plate"`
	DetectionConfidence float64   `json:"detection_confidence"`
	OCRConfidence       float64   `json:"ocr_confidence"`
	FrameSeq            uint64    `json:"frame_seq"`
	Source              string    `json:"source"`
	Timestamp           time.Time `json:"timestamp"`
}

// PlateCount aggregates sightings of one plate.
type PlateCount struct {
	Plate    string    `json:"plate"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// Session summarizes one recording session.
type Session struct {
	ID        string     `json:"id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Total     int        `json:"total_detections"`
}

// New opens (creating if needed) the archive database at path.
func New(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}

	// WAL lets the control surface read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: enable WAL: %w", err)
	}

	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			total_detections INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			plate TEXT NOT NULL,
			detection_confidence REAL NOT NULL,
			ocr_confidence REAL NOT NULL,
			frame_seq INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT '',
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_ts ON detections(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_plate_ts ON detections(plate, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_session ON detections(session_id)`,
	}

	for _, migration := range migrations {
		if _, err := a.db.Exec(migration); err != nil {
			return fmt.Errorf("archive: migrate: %w", err)
		}
	}
	return nil
}

// Write stores one observation. Implements sink.Sink.
func (a *Archive) Write(ctx context.Context, obs model.Observation) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO detections
			(id, session_id, plate, detection_confidence, ocr_confidence, frame_seq, source, ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), obs.Session, obs.Plate,
		obs.DetectionConfidence, obs.OCRConfidence,
		obs.FrameSeq, obs.Source, obs.Timestamp.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("archive: insert detection: %w", err)
	}
	return nil
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// StartSession records a new session.
func (a *Archive) StartSession(id string, startedAt time.Time) error {
	_, err := a.db.Exec(
		`INSERT INTO sessions (id, started_at) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING`,
		id, startedAt.UTC().Format(tsLayout))
	if err != nil {
		return fmt.Errorf("archive: start session: %w", err)
	}
	return nil
}

// FinishSession closes out a session with its end time and final count.
func (a *Archive) FinishSession(id string, endedAt time.Time, total int) error {
	_, err := a.db.Exec(
		`UPDATE sessions SET ended_at = ?, total_detections = ? WHERE id = ?`,
		endedAt.UTC().Format(tsLayout), total, id)
	if err != nil {
		return fmt.Errorf("archive: finish session: %w", err)
	}
	return nil
}

// RecentDetections returns the newest detections, newest first.
func (a *Archive) RecentDetections(ctx context.Context, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, session_id, plate, detection_confidence, ocr_confidence, frame_seq, source, ts
			FROM detections ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: recent detections: %w", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

// PlateHistory returns the newest sightings of one plate, newest first.
func (a *Archive) PlateHistory(ctx context.Context, plate string, limit int) ([]Detection, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, session_id, plate, detection_confidence, ocr_confidence, frame_seq, source, ts
			FROM detections WHERE plate = ? ORDER BY ts DESC LIMIT ?`, plate, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: plate history: %w", err)
	}
	defer rows.Close()
	return scanDetections(rows)
}

// DistinctPlates aggregates sightings per plate, most seen first. A
// zero since means all time.
func (a *Archive) DistinctPlates(ctx context.Context, since time.Time) ([]PlateCount, error) {
	query := `SELECT plate, COUNT(*), MAX(ts) FROM detections`
	args := []any{}
	if !since.IsZero() {
		query += ` WHERE ts >= ?`
		args = append(args, since.UTC().Format(tsLayout))
	}
	query += ` GROUP BY plate ORDER BY COUNT(*) DESC, plate ASC`

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("archive: distinct plates: %w", err)
	}
	defer rows.Close()

	var counts []PlateCount
	for rows.Next() {
		var pc PlateCount
		var last string
		if err := rows.Scan(&pc.Plate, &pc.Count, &last); err != nil {
			return nil, fmt.Errorf("archive: scan plate count: %w", err)
		}
		if pc.LastSeen, err = time.Parse(tsLayout, last); err != nil {
			return nil, fmt.Errorf("archive: parse last seen: %w", err)
		}
		counts = append(counts, pc)
	}
	return counts, rows.Err()
}

// Sessions returns the newest sessions, newest first.
func (a *Archive) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, started_at, ended_at, total_detections
			FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var started string
		var ended sql.NullString
		if err := rows.Scan(&s.ID, &started, &ended, &s.Total); err != nil {
			return nil, fmt.Errorf("archive: scan session: %w", err)
		}
		if s.StartedAt, err = time.Parse(tsLayout, started); err != nil {
			return nil, fmt.Errorf("archive: parse started_at: %w", err)
		}
		if ended.Valid {
			t, err := time.Parse(tsLayout, ended.String)
			if err != nil {
				return nil, fmt.Errorf("archive: parse ended_at: %w", err)
			}
			s.EndedAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanDetections(rows *sql.Rows) ([]Detection, error) {
	var detections []Detection
	for rows.Next() {
		var d Detection
		var ts string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.Plate,
			&d.DetectionConfidence, &d.OCRConfidence, &d.FrameSeq, &d.Source, &ts); err != nil {
			return nil, fmt.Errorf("archive: scan detection: %w", err)
		}
		var err error
		if d.Timestamp, err = time.Parse(tsLayout, ts); err != nil {
			return nil, fmt.Errorf("archive: parse timestamp: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}
