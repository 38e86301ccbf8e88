package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSessionHeld is returned by Begin while another writer session is open
	ErrSessionHeld = errors.New("checkpoint: writer session already held")
	// ErrSessionClosed is returned when a released session is used
	ErrSessionClosed = errors.New("checkpoint: session released")
	// ErrCheckpointRegression is returned when a checkpoint would move backwards
	ErrCheckpointRegression = errors.New("checkpoint: line cursor cannot decrease")
)

type entityKey struct {
	kind string
	id   string
}

// Session is the single writer of a Store. Writes are buffered and become
// durable together on Commit; reads through the session see buffered writes.
type Session struct {
	store       *Store
	lock        *fileLock
	checkpoints map[string]Checkpoint
	entities    map[entityKey]Entity
	order       []entityKey
	runs        []Run
	released    bool
}

// Begin opens the writer session, failing fast with ErrSessionHeld when a
// session is already open on the same file.
func (s *Store) Begin(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock, err := tryLock(s.lockPath)
	if err != nil {
		return nil, err
	}

	return &Session{
		store:       s,
		lock:        lock,
		checkpoints: make(map[string]Checkpoint),
		entities:    make(map[entityKey]Entity),
	}, nil
}

// Acquire blocks until the writer session can be taken, checking every poll.
func (s *Store) Acquire(ctx context.Context, poll time.Duration) (*Session, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}

	for {
		sess, err := s.Begin(ctx)
		if !errors.Is(err, ErrSessionHeld) {
			return sess, err
		}

		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Checkpoint returns the checkpoint of job as seen by this session
func (ss *Session) Checkpoint(ctx context.Context, job string) (Checkpoint, error) {
	if ss.released {
		return Checkpoint{}, ErrSessionClosed
	}
	if cp, ok := ss.checkpoints[job]; ok {
		return cp, nil
	}
	return ss.store.Checkpoint(ctx, job)
}

// SetCheckpoint buffers a new checkpoint for cp.Job. It is rejected with
// ErrCheckpointRegression when cp.Line is behind the current line.
func (ss *Session) SetCheckpoint(ctx context.Context, cp Checkpoint) error {
	current, err := ss.Checkpoint(ctx, cp.Job)
	if err != nil {
		return err
	}
	if cp.Line < current.Line {
		return fmt.Errorf("%w: %s at line %d, got %d", ErrCheckpointRegression, cp.Job, current.Line, cp.Line)
	}
	ss.checkpoints[cp.Job] = cp
	return nil
}

// Entity returns kind/id as seen by this session
func (ss *Session) Entity(ctx context.Context, kind, id string) (Entity, bool, error) {
	if ss.released {
		return Entity{}, false, ErrSessionClosed
	}
	if e, ok := ss.entities[entityKey{kind, id}]; ok {
		return e, true, nil
	}
	return ss.store.Entity(ctx, kind, id)
}

// Has reports whether kind/id exists, as a body or a sentinel
func (ss *Session) Has(ctx context.Context, kind, id string) (bool, error) {
	_, ok, err := ss.Entity(ctx, kind, id)
	return ok, err
}

// SetEntity buffers an insert or replace of e
func (ss *Session) SetEntity(e Entity) error {
	if ss.released {
		return ErrSessionClosed
	}
	if e.Kind == "" || e.ID == "" {
		return fmt.Errorf("entity needs kind and id")
	}
	if e.IsSentinel() && len(e.Body) > 0 {
		return fmt.Errorf("%s %s: sentinel entity cannot carry a body", e.Kind, e.ID)
	}
	if !e.IsSentinel() && len(e.Body) == 0 {
		return fmt.Errorf("%s %s: entity has neither body nor sentinel", e.Kind, e.ID)
	}

	key := entityKey{e.Kind, e.ID}
	if _, ok := ss.entities[key]; !ok {
		ss.order = append(ss.order, key)
	}
	ss.entities[key] = e
	return nil
}

// RecordRun buffers a run record
func (ss *Session) RecordRun(r Run) error {
	if ss.released {
		return ErrSessionClosed
	}
	ss.runs = append(ss.runs, r)
	return nil
}

// Pending returns the number of buffered writes
func (ss *Session) Pending() int {
	return len(ss.checkpoints) + len(ss.entities) + len(ss.runs)
}

// Commit writes every buffered change in one transaction. Either all of them
// become durable or none do. The session stays open afterwards.
func (ss *Session) Commit(ctx context.Context) error {
	if ss.released {
		return ErrSessionClosed
	}
	if ss.Pending() == 0 {
		return nil
	}

	now := ss.store.now().UTC()

	tx, err := ss.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, key := range ss.order {
		e := ss.entities[key]
		var body any
		if len(e.Body) > 0 {
			body = string(e.Body)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (kind, id, sentinel, body, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET
				sentinel = excluded.sentinel,
				body = excluded.body,
				updated_at = excluded.updated_at`,
			e.Kind, e.ID, string(e.Sentinel), body, now,
		); err != nil {
			return fmt.Errorf("write %s %s: %w", e.Kind, e.ID, err)
		}
	}

	for _, cp := range ss.checkpoints {
		// the guard keeps the line monotonic even against a concurrent
		// writer that bypassed the lock
		res, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoints (job, line, cursor, committed, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(job) DO UPDATE SET
				line = excluded.line,
				cursor = excluded.cursor,
				committed = excluded.committed,
				updated_at = excluded.updated_at
			WHERE excluded.line >= checkpoints.line`,
			cp.Job, cp.Line, cp.Cursor, cp.Committed, now,
		)
		if err != nil {
			return fmt.Errorf("write checkpoint %s: %w", cp.Job, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrCheckpointRegression, cp.Job)
		}
	}

	for _, r := range ss.runs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO runs (id, job, state, processed, line, cursor, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.Job, r.State, r.Processed, r.Line, r.Cursor, r.Error,
			r.StartedAt.UTC(), r.FinishedAt.UTC(),
		); err != nil {
			return fmt.Errorf("write run %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	ss.store.logger.DebugWithFields("Store committed", map[string]interface{}{
		"path":        ss.store.path,
		"entities":    len(ss.entities),
		"checkpoints": len(ss.checkpoints),
		"runs":        len(ss.runs),
	})

	ss.reset()
	return nil
}

// Release discards uncommitted writes and gives up the writer lock. It is
// safe to call more than once.
func (ss *Session) Release() error {
	if ss.released {
		return nil
	}
	ss.released = true
	ss.reset()
	return ss.lock.unlock()
}

func (ss *Session) reset() {
	ss.checkpoints = make(map[string]Checkpoint)
	ss.entities = make(map[entityKey]Entity)
	ss.order = nil
	ss.runs = nil
}
