package workout

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the append-only workout collection of a single session.
type Store interface {
	Append(ctx context.Context, w Workout) error
	List(ctx context.Context) ([]Workout, error)
	Len(ctx context.Context) (int, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	workouts []Workout
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, w Workout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workouts = append(s.workouts, w)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Workout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Workout, len(s.workouts))
	copy(out, s.workouts)
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workouts), nil
}

// MemoryDSN names a SQLite database that lives only as long as the process.
const MemoryDSN = "file::memory:?cache=shared"

// OpenMemoryDB opens the process-wide in-memory database. It is pinned to one
// connection so every caller sees the same database.
func OpenMemoryDB() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", MemoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening workout database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS workouts (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        workout_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        distance REAL,
        duration REAL,
        latitude REAL,
        longitude REAL,
        cadence REAL,
        pace REAL,
        elevation_gain REAL,
        speed REAL,
        created_at INTEGER)`)
	if err != nil {
		return fmt.Errorf("creating workouts table: %w", err)
	}

	_, err = db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS workouts_session ON workouts (session_id, seq)")
	if err != nil {
		return fmt.Errorf("creating workouts index: %w", err)
	}
	return nil
}

// SQLStore keeps one session's workouts in a shared SQLite database.
type SQLStore struct {
	db      *sql.DB
	session string
}

func NewSQLStore(db *sql.DB, session string) *SQLStore {
	return &SQLStore{
		db:      db,
		session: session,
	}
}

func (s *SQLStore) Append(ctx context.Context, w Workout) error {
	res, err := s.db.ExecContext(ctx, `
    INSERT INTO workouts
    (session_id,
    workout_id,
    kind,
    distance,
    duration,
    latitude,
    longitude,
    cadence,
    pace,
    elevation_gain,
    speed,
    created_at)
    VALUES
    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session,
		w.ID,
		string(w.Kind),
		w.Distance,
		w.Duration,
		w.Location.Latitude,
		w.Location.Longitude,
		w.Cadence,
		w.Pace,
		w.ElevationGain,
		w.Speed,
		w.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting workout: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected != 1 {
		return fmt.Errorf("expected 1 row to be affected, got %d", affected)
	}

	return nil
}

func (s *SQLStore) List(ctx context.Context) ([]Workout, error) {
	rows, err := s.db.QueryContext(ctx, `
    SELECT workout_id, kind, distance, duration, latitude, longitude,
    cadence, pace, elevation_gain, speed, created_at
    FROM workouts WHERE session_id = ? ORDER BY seq`, s.session)
	if err != nil {
		return nil, fmt.Errorf("listing workouts: %w", err)
	}
	defer rows.Close()

	workouts := []Workout{}
	for rows.Next() {
		var (
			w       Workout
			kind    string
			created int64
		)
		if err := rows.Scan(&w.ID, &kind, &w.Distance, &w.Duration, &w.Location.Latitude, &w.Location.Longitude,
			&w.Cadence, &w.Pace, &w.ElevationGain, &w.Speed, &created); err != nil {
			return nil, err
		}
		w.Kind = Kind(kind)
		w.CreatedAt = time.Unix(0, created)
		workouts = append(workouts, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return workouts, nil
}

func (s *SQLStore) Len(ctx context.Context) (int, error) {
	var count int
	row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workouts WHERE session_id = ?", s.session)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("counting workouts: %w", err)
	}
	return count, nil
}

// Drop removes the session's rows once the session itself is gone.
func (s *SQLStore) Drop(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM workouts WHERE session_id = ?", s.session)
	return err
}
