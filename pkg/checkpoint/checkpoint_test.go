package checkpoint

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	opts := DefaultOptions()
	opts.Logger = logger.NewNopLogger()

	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "users.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func userEntity(t *testing.T, id string, following int) Entity {
	t.Helper()
	u := models.NewUser(id)
	u.Following = following
	e, err := NewEntity(models.KindUser, id, u)
	require.NoError(t, err)
	return e
}

func TestOpenCorruptStoreIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a database "), 512), 0600))

	_, err := Open(context.Background(), path, DefaultOptions())
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	opts := DefaultOptions()
	opts.CreateIfNotExists = false

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "absent.db"), opts)
	assert.True(t, errs.IsFatal(err))
}

func TestFreshCheckpointIsZero(t *testing.T) {
	s := openTestStore(t)

	cp, err := s.Checkpoint(context.Background(), "friends")
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{Job: "friends"}, cp)
}

func TestAtMostOneSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, ErrSessionHeld)

	// a second handle on the same file is excluded too
	opts := DefaultOptions()
	opts.Logger = logger.NewNopLogger()
	other, err := Open(ctx, s.Path(), opts)
	require.NoError(t, err)
	defer other.Close()

	_, err = other.Begin(ctx)
	assert.ErrorIs(t, err, ErrSessionHeld)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	second, err := other.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquireWaitsForRelease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	held, err := s.Begin(ctx)
	require.NoError(t, err)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Release()
	}()

	sess, err := s.Acquire(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, sess.Release())
}

func TestAcquireCancelled(t *testing.T) {
	s := openTestStore(t)

	held, err := s.Begin(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = s.Acquire(ctx, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommitMakesWritesDurableTogether(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.SetEntity(userEntity(t, "100", 5)))
	require.NoError(t, sess.SetEntity(SentinelEntity(models.KindFriends, "200", models.SentinelUnauthorized)))
	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "users", Line: 2, Committed: 2}))
	assert.Equal(t, 3, sess.Pending())

	// buffered writes are visible to the session only
	_, ok, err := sess.Entity(ctx, models.KindUser, "100")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Entity(ctx, models.KindUser, "100")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Release())

	e, ok, err := s.Entity(ctx, models.KindUser, "100")
	require.NoError(t, err)
	require.True(t, ok)
	var u models.User
	require.NoError(t, e.Decode(&u))
	assert.Equal(t, 5, u.Following)

	sentinel, ok, err := s.Entity(ctx, models.KindFriends, "200")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SentinelUnauthorized, sentinel.Sentinel)
	assert.Empty(t, sentinel.Body)
	assert.Error(t, sentinel.Decode(&u))

	cp, err := s.Checkpoint(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Line)
	assert.False(t, cp.UpdatedAt.IsZero())
}

func TestReleaseDiscardsUncommitted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetEntity(userEntity(t, "100", 5)))
	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "users", Line: 1}))
	require.NoError(t, sess.Release())

	_, ok, err := s.Entity(ctx, models.KindUser, "100")
	require.NoError(t, err)
	assert.False(t, ok)

	cp, err := s.Checkpoint(ctx, "users")
	require.NoError(t, err)
	assert.Zero(t, cp.Line)

	assert.ErrorIs(t, sess.Commit(ctx), ErrSessionClosed)
	assert.ErrorIs(t, sess.SetEntity(userEntity(t, "1", 1)), ErrSessionClosed)
}

func TestCheckpointIsMonotonic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	defer sess.Release()

	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "geos", Line: 58}))
	require.NoError(t, sess.Commit(ctx))

	// same line with a new cursor is allowed
	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "geos", Line: 58, Cursor: "b26v89c19zqg8o3f"}))
	require.NoError(t, sess.Commit(ctx))

	err = sess.SetCheckpoint(ctx, Checkpoint{Job: "geos", Line: 29})
	assert.ErrorIs(t, err, ErrCheckpointRegression)

	cp, err := s.Checkpoint(ctx, "geos")
	require.NoError(t, err)
	assert.Equal(t, int64(58), cp.Line)
	assert.Equal(t, "b26v89c19zqg8o3f", cp.Cursor)
}

func TestSentinelExclusivity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	defer sess.Release()

	both := userEntity(t, "1", 1)
	both.Sentinel = models.SentinelNotFound
	assert.Error(t, sess.SetEntity(both))
	assert.Error(t, sess.SetEntity(Entity{Kind: models.KindUser, ID: "2"}))

	// a later sentinel replaces the body entirely
	require.NoError(t, sess.SetEntity(userEntity(t, "3", 1)))
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.SetEntity(SentinelEntity(models.KindUser, "3", models.SentinelNotFound)))
	require.NoError(t, sess.Commit(ctx))

	e, ok, err := s.Entity(ctx, models.KindUser, "3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.IsSentinel())
	assert.Empty(t, e.Body)
}

func TestIterateIsLazyAndRestartable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	total := iterateBatch*2 + 7
	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < total; i++ {
		require.NoError(t, sess.SetEntity(userEntity(t, fmt.Sprintf("%06d", i), i)))
	}
	require.NoError(t, sess.SetEntity(SentinelEntity(models.KindFriends, "x", models.SentinelNotFound)))
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Release())

	count := 0
	last := ""
	for e, err := range s.Iterate(ctx, models.KindUser) {
		require.NoError(t, err)
		assert.Greater(t, e.ID, last)
		last = e.ID
		count++
	}
	assert.Equal(t, total, count)

	// early exit, then start over from the beginning
	seen := 0
	for range s.Iterate(ctx, models.KindUser) {
		seen++
		if seen == 3 {
			break
		}
	}
	for e, err := range s.Iterate(ctx, models.KindUser) {
		require.NoError(t, err)
		assert.Equal(t, "000000", e.ID)
		break
	}
}

func TestIterateAllowsWritesInLoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, sess.SetEntity(userEntity(t, fmt.Sprint(i), 0)))
	}
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Release())

	for e, err := range s.Iterate(ctx, models.KindUser) {
		require.NoError(t, err)
		w, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, w.SetEntity(userEntity(t, e.ID, 9)))
		require.NoError(t, w.Commit(ctx))
		require.NoError(t, w.Release())
	}

	total, sentinels, err := s.Count(ctx, models.KindUser)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Zero(t, sentinels)
}

func TestRunsAndCheckpoints(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	start := time.Date(2021, 10, 1, 12, 0, 0, 0, time.UTC)

	sess, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "friends", Line: 10}))
	require.NoError(t, sess.SetCheckpoint(ctx, Checkpoint{Job: "users", Line: 300}))
	require.NoError(t, sess.RecordRun(Run{ID: "a", Job: "users", State: "EXHAUSTED", Processed: 3, Line: 300, StartedAt: start, FinishedAt: start.Add(time.Minute)}))
	require.NoError(t, sess.RecordRun(Run{ID: "b", Job: "friends", State: "ABORTED", Error: "boom", StartedAt: start, FinishedAt: start.Add(2 * time.Minute)}))
	require.NoError(t, sess.Commit(ctx))
	require.NoError(t, sess.Release())

	cps, err := s.Checkpoints(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, "friends", cps[0].Job)
	assert.Equal(t, int64(300), cps[1].Line)

	runs, err := s.Runs(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, "boom", runs[0].Error)

	runs, err = s.Runs(ctx, "users", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, int64(3), runs[0].Processed)
}

func TestProgressFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tweet_data", "saved_next_token.txt")
	pf := NewProgressFile(path)

	pr, err := pf.Load()
	require.NoError(t, err)
	assert.Equal(t, Progress{}, pr)

	require.NoError(t, pf.Save(Progress{Token: "b26v89c19zqg8o3fosbpa7a", Count: 1200}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "b26v89c19zqg8o3fosbpa7a\n1200\n", string(data))

	require.NoError(t, pf.Save(Progress{Count: 1250, Exhausted: true}))
	pr, err = pf.Load()
	require.NoError(t, err)
	assert.Equal(t, Progress{Count: 1250, Exhausted: true}, pr)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestProgressFileLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved_next_token.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc\n"), 0644))

	pr, err := NewProgressFile(path).Load()
	require.NoError(t, err)
	assert.Equal(t, Progress{Token: "abc"}, pr)

	require.NoError(t, os.WriteFile(path, []byte("abc\nmany\n"), 0644))
	_, err = NewProgressFile(path).Load()
	assert.Error(t, err)
}
