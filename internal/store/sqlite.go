package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"typeprint/internal/keystroke"
)

// Schema for the typeprint sample store.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    username    TEXT NOT NULL UNIQUE,
    created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS samples (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id             INTEGER NOT NULL REFERENCES users(id),
    session_id          TEXT NOT NULL,
    recorded_at         INTEGER NOT NULL,
    is_training         INTEGER NOT NULL DEFAULT 1,
    avg_dwell_time      REAL NOT NULL,
    std_dwell_time      REAL NOT NULL,
    avg_flight_time     REAL NOT NULL,
    std_flight_time     REAL NOT NULL,
    typing_speed        REAL NOT NULL,
    total_typing_time   REAL NOT NULL,
    events              TEXT
);

CREATE INDEX IF NOT EXISTS idx_samples_user ON samples(user_id, recorded_at);

CREATE TABLE IF NOT EXISTS auth_attempts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id         INTEGER NOT NULL REFERENCES users(id),
    attempted_at    INTEGER NOT NULL,
    accepted        INTEGER NOT NULL,
    confidence      REAL NOT NULL,
    knn_score       REAL NOT NULL,
    distance_score  REAL NOT NULL,
    feature_score   REAL NOT NULL,
    threshold       REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempts_user ON auth_attempts(user_id, attempted_at);

CREATE TABLE IF NOT EXISTS training_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     INTEGER NOT NULL REFERENCES users(id),
    trained_at  INTEGER NOT NULL,
    report      TEXT NOT NULL
);
`

// Store represents the SQLite sample store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// CreateUser inserts a new user and returns its ID.
func (s *Store) CreateUser(username string, createdAtNs int64) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO users (username, created_at)
		VALUES (?, ?)`,
		username, createdAtNs,
	)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetUser retrieves a user by ID. Returns nil when not found.
func (s *Store) GetUser(id int64) (*User, error) {
	var u User

	err := s.db.QueryRow(`
		SELECT id, username, created_at
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByName retrieves a user by username. Returns nil when not found.
func (s *Store) GetUserByName(username string) (*User, error) {
	var u User

	err := s.db.QueryRow(`
		SELECT id, username, created_at
		FROM users WHERE username = ?`, username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by name: %w", err)
	}

	return &u, nil
}

// InsertSample inserts a captured sample and returns its ID.
func (s *Store) InsertSample(sm *Sample) (int64, error) {
	var eventsJSON []byte
	if len(sm.Events) > 0 {
		var err error
		eventsJSON, err = json.Marshal(sm.Events)
		if err != nil {
			return 0, fmt.Errorf("marshal events: %w", err)
		}
	}

	f := sm.Features
	result, err := s.db.Exec(`
		INSERT INTO samples (user_id, session_id, recorded_at, is_training,
			avg_dwell_time, std_dwell_time, avg_flight_time, std_flight_time,
			typing_speed, total_typing_time, events)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sm.UserID, sm.SessionID, sm.RecordedAt, sm.IsTraining,
		f.AvgDwellTime, f.StdDwellTime, f.AvgFlightTime, f.StdFlightTime,
		f.TypingSpeed, f.TotalTypingTime, nullableString(eventsJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert sample: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetTrainingSamples retrieves a user's training samples in capture order.
func (s *Store) GetTrainingSamples(userID int64) ([]Sample, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, session_id, recorded_at, is_training,
			avg_dwell_time, std_dwell_time, avg_flight_time, std_flight_time,
			typing_speed, total_typing_time, events
		FROM samples
		WHERE user_id = ? AND is_training = 1
		ORDER BY recorded_at ASC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query training samples: %w", err)
	}
	defer rows.Close()

	return scanSamples(rows)
}

// CountTrainingSamples returns the number of training samples for a user.
func (s *Store) CountTrainingSamples(userID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM samples
		WHERE user_id = ? AND is_training = 1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count training samples: %w", err)
	}
	return n, nil
}

// TrainingProgress reports how many training samples a user has
// against the required count.
func (s *Store) TrainingProgress(userID int64, required int) (Progress, error) {
	n, err := s.CountTrainingSamples(userID)
	if err != nil {
		return Progress{}, err
	}
	return Progress{UserID: userID, Captured: n, Required: required}, nil
}

// InsertAuthAttempt records an authentication decision and returns its ID.
func (s *Store) InsertAuthAttempt(a *AuthAttempt) (int64, error) {
	result, err := s.db.Exec(`
		INSERT INTO auth_attempts (user_id, attempted_at, accepted,
			confidence, knn_score, distance_score, feature_score, threshold)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.UserID, a.AttemptedAt, a.Accepted,
		a.Confidence, a.KNNScore, a.DistScore, a.FeatScore, a.Threshold,
	)
	if err != nil {
		return 0, fmt.Errorf("insert auth attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetAuthAttempts retrieves a user's most recent attempts, newest first.
func (s *Store) GetAuthAttempts(userID int64, limit int) ([]AuthAttempt, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, attempted_at, accepted,
			confidence, knn_score, distance_score, feature_score, threshold
		FROM auth_attempts
		WHERE user_id = ?
		ORDER BY attempted_at DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query auth attempts: %w", err)
	}
	defer rows.Close()

	var attempts []AuthAttempt
	for rows.Next() {
		var a AuthAttempt
		if err := rows.Scan(&a.ID, &a.UserID, &a.AttemptedAt, &a.Accepted,
			&a.Confidence, &a.KNNScore, &a.DistScore, &a.FeatScore, &a.Threshold); err != nil {
			return nil, fmt.Errorf("scan auth attempt: %w", err)
		}
		attempts = append(attempts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auth attempts: %w", err)
	}

	return attempts, nil
}

// InsertTrainingRun records a training run and returns its ID.
func (s *Store) InsertTrainingRun(userID, trainedAtNs int64, report any) (int64, error) {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("marshal training report: %w", err)
	}

	result, err := s.db.Exec(`
		INSERT INTO training_runs (user_id, trained_at, report)
		VALUES (?, ?, ?)`,
		userID, trainedAtNs, string(reportJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("insert training run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetLastTrainingRun retrieves a user's most recent training run.
// Returns nil when the user was never trained.
func (s *Store) GetLastTrainingRun(userID int64) (*TrainingRun, error) {
	var r TrainingRun

	err := s.db.QueryRow(`
		SELECT id, user_id, trained_at, report
		FROM training_runs
		WHERE user_id = ?
		ORDER BY trained_at DESC
		LIMIT 1`, userID,
	).Scan(&r.ID, &r.UserID, &r.TrainedAt, &r.ReportJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get last training run: %w", err)
	}

	return &r, nil
}

// scanSamples is a helper to scan sample rows into a slice.
func scanSamples(rows *sql.Rows) ([]Sample, error) {
	var samples []Sample

	for rows.Next() {
		var sm Sample
		var eventsJSON sql.NullString
		f := &sm.Features

		if err := rows.Scan(&sm.ID, &sm.UserID, &sm.SessionID, &sm.RecordedAt, &sm.IsTraining,
			&f.AvgDwellTime, &f.StdDwellTime, &f.AvgFlightTime, &f.StdFlightTime,
			&f.TypingSpeed, &f.TotalTypingTime, &eventsJSON); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}

		if eventsJSON.Valid && eventsJSON.String != "" {
			var events []keystroke.KeyEvent
			if err := json.Unmarshal([]byte(eventsJSON.String), &events); err != nil {
				return nil, fmt.Errorf("unmarshal events: %w", err)
			}
			sm.Events = events
		}

		samples = append(samples, sm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}

	return samples, nil
}

// nullableString maps empty JSON to NULL so the column stays compact.
func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
