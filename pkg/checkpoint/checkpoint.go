package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/models"
)

// Checkpoint is the durable resume position of one job
type Checkpoint struct {
	Job string `json:"job"`
	// Line counts input lines consumed. It never decreases.
	Line int64 `json:"line"`
	// Cursor is the continuation token inside a multi-page unit of work
	Cursor string `json:"cursor"`
	// Committed counts units of work persisted so far
	Committed int64     `json:"committed"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entity is one stored record. A row carries either a sentinel or a body,
// never both.
type Entity struct {
	Kind      string
	ID        string
	Sentinel  models.Sentinel
	Body      json.RawMessage
	UpdatedAt time.Time
}

// NewEntity encodes v as the body of a kind/id entity
func NewEntity(kind, id string, v any) (Entity, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Entity{}, fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return Entity{Kind: kind, ID: id, Body: body}, nil
}

// SentinelEntity returns an entity recording a permanent failure for id
func SentinelEntity(kind, id string, s models.Sentinel) Entity {
	return Entity{Kind: kind, ID: id, Sentinel: s}
}

// IsSentinel reports whether the entity records a permanent failure
func (e Entity) IsSentinel() bool {
	return e.Sentinel != models.SentinelNone
}

// Decode unmarshals the entity body into v
func (e Entity) Decode(v any) error {
	if e.IsSentinel() {
		return fmt.Errorf("%s %s is a %s sentinel", e.Kind, e.ID, e.Sentinel)
	}
	return json.Unmarshal(e.Body, v)
}

// Run is the record of one job invocation
type Run struct {
	ID         string
	Job        string
	State      string
	Processed  int64
	Line       int64
	Cursor     string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Options configures Store behavior.
type Options struct {
	// CreateIfNotExists creates the database file and directory if missing.
	CreateIfNotExists bool
	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
	Logger    logger.Logger
	// Now overrides the clock used for timestamps.
	Now func() time.Time
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Store is a crash-consistent SQLite file holding checkpoints, entities and
// run records. Reads may happen at any time; writes go through a Session.
type Store struct {
	db       *sql.DB
	path     string
	lockPath string
	logger   logger.Logger
	now      func() time.Time
}

const iterateBatch = 500

// Open opens or creates the store at path. Any failure is a *errors.StoreError.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	fail := func(op string, err error) (*Store, error) {
		return nil, &errs.StoreError{Path: path, Op: op, Err: err}
	}

	var dsn string
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return fail("mkdir", err)
		}
		dsn = path + "?mode=rwc"
	} else {
		if _, err := os.Stat(path); err != nil {
			return fail("stat", err)
		}
		dsn = path + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fail("open", err)
	}

	// one connection: SQLite has a single writer and every read must see
	// the last commit
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return fail("pragma", err)
		}
	}

	s := &Store{
		db:       db,
		path:     path,
		lockPath: path + ".lock",
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if s.logger == nil {
		s.logger = logger.GetLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}

	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return fail("schema", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		job TEXT PRIMARY KEY,
		line INTEGER NOT NULL DEFAULT 0,
		cursor TEXT NOT NULL DEFAULT '',
		committed INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entities (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		sentinel TEXT NOT NULL DEFAULT '',
		body TEXT,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (kind, id)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		state TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		line INTEGER NOT NULL DEFAULT 0,
		cursor TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job, finished_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Checkpoint returns the committed checkpoint of job. A job that never
// committed gets a zero checkpoint.
func (s *Store) Checkpoint(ctx context.Context, job string) (Checkpoint, error) {
	return readCheckpoint(ctx, s.db, job)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readCheckpoint(ctx context.Context, q queryer, job string) (Checkpoint, error) {
	cp := Checkpoint{Job: job}
	err := q.QueryRowContext(ctx,
		`SELECT line, cursor, committed, updated_at FROM checkpoints WHERE job = ?`, job,
	).Scan(&cp.Line, &cp.Cursor, &cp.Committed, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("read checkpoint %s: %w", job, err)
	}
	return cp, nil
}

// Checkpoints lists the committed checkpoint of every job
func (s *Store) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job, line, cursor, committed, updated_at FROM checkpoints ORDER BY job`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(&cp.Job, &cp.Line, &cp.Cursor, &cp.Committed, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Entity returns the committed entity kind/id
func (s *Store) Entity(ctx context.Context, kind, id string) (Entity, bool, error) {
	return readEntity(ctx, s.db, kind, id)
}

func readEntity(ctx context.Context, q queryer, kind, id string) (Entity, bool, error) {
	e := Entity{Kind: kind, ID: id}
	var sentinel string
	var body sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT sentinel, body, updated_at FROM entities WHERE kind = ? AND id = ?`, kind, id,
	).Scan(&sentinel, &body, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entity{}, false, nil
	}
	if err != nil {
		return Entity{}, false, fmt.Errorf("read %s %s: %w", kind, id, err)
	}
	e.Sentinel = models.Sentinel(sentinel)
	if body.Valid {
		e.Body = json.RawMessage(body.String)
	}
	return e, true, nil
}

// Count returns the number of entities of kind, and how many are sentinels
func (s *Store) Count(ctx context.Context, kind string) (total, sentinels int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN sentinel != '' THEN 1 ELSE 0 END), 0)
		 FROM entities WHERE kind = ?`, kind,
	).Scan(&total, &sentinels)
	if err != nil {
		return 0, 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return total, sentinels, nil
}

// Iterate lazily yields every committed entity of kind in id order. Rows are
// fetched in batches and no database handle is held while the caller runs,
// so the loop body may open a Session and commit. Each call starts over.
func (s *Store) Iterate(ctx context.Context, kind string) iter.Seq2[Entity, error] {
	return func(yield func(Entity, error) bool) {
		after := ""
		for {
			batch, err := s.entityBatch(ctx, kind, after)
			if err != nil {
				yield(Entity{}, err)
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < iterateBatch {
				return
			}
			after = batch[len(batch)-1].ID
		}
	}
}

func (s *Store) entityBatch(ctx context.Context, kind, after string) ([]Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sentinel, body, updated_at FROM entities
		 WHERE kind = ? AND id > ? ORDER BY id LIMIT ?`, kind, after, iterateBatch)
	if err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	batch := make([]Entity, 0, iterateBatch)
	for rows.Next() {
		e := Entity{Kind: kind}
		var sentinel string
		var body sql.NullString
		if err := rows.Scan(&e.ID, &sentinel, &body, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		e.Sentinel = models.Sentinel(sentinel)
		if body.Valid {
			e.Body = json.RawMessage(body.String)
		}
		batch = append(batch, e)
	}
	return batch, rows.Err()
}

// Runs returns the most recent runs of job, newest first. An empty job
// lists runs of every job.
func (s *Store) Runs(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job, state, processed, line, cursor, error, started_at, finished_at
		 FROM runs WHERE (? = '' OR job = ?) ORDER BY finished_at DESC LIMIT ?`, job, job, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Job, &r.State, &r.Processed, &r.Line, &r.Cursor,
			&r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
