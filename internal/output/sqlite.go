package output

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"
)

// SQLiteSink records runs, parameters, metrics and artifacts in a local
// SQLite database, giving a queryable history across experiments.
type SQLiteSink struct {
	db           *sql.DB
	runID        string
	uploadImages bool
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at TIMESTAMP NOT NULL,
	ended_at   TIMESTAMP
);
CREATE TABLE IF NOT EXISTS params (
	run_id TEXT NOT NULL REFERENCES runs(id),
	key    TEXT NOT NULL,
	value  TEXT NOT NULL,
	PRIMARY KEY (run_id, key)
);
CREATE TABLE IF NOT EXISTS metrics (
	run_id    TEXT NOT NULL REFERENCES runs(id),
	stage     TEXT NOT NULL,
	name      TEXT NOT NULL,
	value     REAL NOT NULL,
	step      INTEGER NOT NULL,
	logged_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS artifacts (
	run_id   TEXT NOT NULL REFERENCES runs(id),
	name     TEXT NOT NULL,
	format   TEXT NOT NULL,
	data     BLOB NOT NULL,
	saved_at TIMESTAMP NOT NULL,
	PRIMARY KEY (run_id, name)
);
`

// NewSQLiteSink opens (or creates) the database at path and registers a new
// run under runName. Images are stored only when uploadImages is set.
func NewSQLiteSink(path, runName string, uploadImages bool) (*SQLiteSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create run schema: %w", err)
	}

	runID := uuid.NewString()
	_, err = db.Exec(`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		runID, runName, time.Now().UTC())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("register run: %w", err)
	}

	return &SQLiteSink{db: db, runID: runID, uploadImages: uploadImages}, nil
}

// RunID returns the identifier assigned to this run.
func (s *SQLiteSink) RunID() string { return s.runID }

// Name implements Destination.
func (s *SQLiteSink) Name() string { return "sqlite" }

// Capabilities implements Destination.
func (s *SQLiteSink) Capabilities() Capability {
	caps := AcceptsConfig | AcceptsScalars
	if s.uploadImages {
		caps |= AcceptsImages
	}
	return caps
}

// LogConfig stores the flattened configuration as run parameters.
func (s *SQLiteSink) LogConfig(cfg map[string]any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO params (run_id, key, value) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, value := range flatten("", cfg) {
		if _, err := stmt.Exec(s.runID, key, value); err != nil {
			return fmt.Errorf("store param %s: %w", key, err)
		}
	}
	return tx.Commit()
}

// LogScalar appends one metric row.
func (s *SQLiteSink) LogScalar(stage, name string, value float64, step int) error {
	_, err := s.db.Exec(
		`INSERT INTO metrics (run_id, stage, name, value, step, logged_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.runID, stage, name, value, step, time.Now().UTC())
	return err
}

// LogImage stores the artifact bytes, replacing a previous image of the
// same name for this run.
func (s *SQLiteSink) LogImage(name string, art *Artifact) error {
	// The blob is copied by the driver, so artifact ownership still ends
	// with the router call.
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (run_id, name, format, data, saved_at) VALUES (?, ?, ?, ?, ?)`,
		s.runID, sanitizeName(name), art.Format, art.Data, time.Now().UTC())
	return err
}

// Close marks the run finished and closes the database.
func (s *SQLiteSink) Close() error {
	_, err := s.db.Exec(`UPDATE runs SET ended_at = ? WHERE id = ?`, time.Now().UTC(), s.runID)
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// flatten converts a nested configuration map to dotted string pairs, the
// shape tracker and database params expect.
func flatten(prefix string, value any) map[string]string {
	out := make(map[string]string)
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			childPrefix := key
			if prefix != "" {
				childPrefix = prefix + "." + key
			}
			for k, s := range flatten(childPrefix, item) {
				out[k] = s
			}
		}
	case []any:
		for i, item := range v {
			for k, s := range flatten(fmt.Sprintf("%s.%d", prefix, i), item) {
				out[k] = s
			}
		}
	default:
		data, err := yaml.Marshal(v)
		if err != nil {
			out[prefix] = fmt.Sprintf("%v", v)
			break
		}
		// yaml.Marshal appends a newline to scalar values.
		out[prefix] = string(data[:len(data)-1])
	}
	return out
}
