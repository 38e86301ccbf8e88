package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twcrawl/internal/crawl"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/models"
)

var twoRows = []string{
	"1,100,2020-01-01T00:00:00Z,",
	"2,200,2020-01-01T00:00:01Z,",
}

func usersHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/users", r.URL.Path)
		switch r.URL.Query().Get("ids") {
		case "100":
			fmt.Fprint(w, `{"data":[{"id":"100","created_at":"2010-01-01T00:00:00.000Z","protected":false,
				"public_metrics":{"followers_count":7,"following_count":5,"tweet_count":42}}]}`)
		case "200":
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"title":"Unauthorized"}`)
		default:
			t.Errorf("unexpected ids %q", r.URL.Query().Get("ids"))
			w.WriteHeader(http.StatusBadRequest)
		}
	}
}

func TestUsersJobTwoRowExample(t *testing.T) {
	env := newTestEnv(t, usersHandler(t))
	store := openTestStore(t, "users.db")
	input := writeInput(t, twoRows...)

	res := runJob(t, NewUsersJob(store, input, 1, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 2, env.api.calls())

	u := loadUser(t, store, "100")
	assert.Equal(t, 5, u.Following)
	assert.Equal(t, 7, u.Followers)
	assert.Equal(t, 42, u.TweetCount)
	assert.Equal(t, models.PriorAdopterUnknown, u.PriorAdopter)

	e, ok, err := store.Entity(context.Background(), models.KindUser, "200")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SentinelUnauthorized, e.Sentinel)
	assert.Empty(t, e.Body)

	cp, err := store.Checkpoint(context.Background(), NameUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp.Line)
	assert.Equal(t, int64(1), cp.Committed)

	assert.True(t, env.log.HasMessage("Item marked with sentinel"))
}

func TestUsersJobResumeIsNoop(t *testing.T) {
	env := newTestEnv(t, usersHandler(t))
	store := openTestStore(t, "users.db")
	input := writeInput(t, twoRows...)

	first := runJob(t, NewUsersJob(store, input, 1, env.deps), nil)
	require.NoError(t, first.Err)
	calls := env.api.calls()

	second := runJob(t, NewUsersJob(store, input, 1, env.deps), nil)
	require.NoError(t, second.Err)
	assert.Equal(t, crawl.StateExhausted, second.State)
	assert.Equal(t, calls, env.api.calls())
	assert.Equal(t, int64(2), second.Progress.Line)

	total, sentinels, err := store.Count(context.Background(), models.KindUser)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), sentinels)
}

func TestUsersJobSkipsKnownAuthors(t *testing.T) {
	env := newTestEnv(t, usersHandler(t))
	store := openTestStore(t, "users.db")
	input := writeInput(t, append(twoRows, "3,100,2020-01-01T00:00:02Z,", "4,200,2020-01-01T00:00:03Z,")...)

	res := runJob(t, NewUsersJob(store, input, 1, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, 2, env.api.calls())

	cp, err := store.Checkpoint(context.Background(), NameUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cp.Line)
}

func TestUsersJobPartialErrors(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100,200,300", r.URL.Query().Get("ids"))
		fmt.Fprint(w, `{
			"data":[{"id":"100","public_metrics":{"following_count":1}}],
			"errors":[
				{"value":"200","resource_id":"200","title":"Not Found Error","detail":"Could not find user"},
				{"value":"999","resource_id":"999","title":"Not Found Error"}
			]
		}`)
	})
	store := openTestStore(t, "users.db")
	input := writeInput(t,
		"1,100,2020-01-01T00:00:00Z,",
		"2,100,2020-01-01T00:00:01Z,",
		"3,200,2020-01-01T00:00:02Z,",
		"4,300,2020-01-01T00:00:03Z,",
	)

	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 1, env.api.calls())

	ctx := context.Background()
	for id, want := range map[string]models.Sentinel{
		"100": models.SentinelNone,
		"200": models.SentinelNotFound,
		"300": models.SentinelNotFound,
	} {
		e, ok, err := store.Entity(ctx, models.KindUser, id)
		require.NoError(t, err)
		require.True(t, ok, id)
		assert.Equal(t, want, e.Sentinel, id)
	}

	_, ok, err := store.Entity(ctx, models.KindUser, "999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUsersJobRetriesSameBatch(t *testing.T) {
	var n atomic.Int32
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ids := strings.Split(r.URL.Query().Get("ids"), ",")
		var data []string
		for _, id := range ids {
			data = append(data, fmt.Sprintf(`{"id":%q}`, id))
		}
		fmt.Fprintf(w, `{"data":[%s]}`, strings.Join(data, ","))
	})
	store := openTestStore(t, "users.db")
	input := writeInput(t, twoRows...)

	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	require.Equal(t, 2, env.api.calls())
	assert.Equal(t, "100,200", env.api.request(0).Query().Get("ids"))
	assert.Equal(t, "100,200", env.api.request(1).Query().Get("ids"))

	loadUser(t, store, "100")
	loadUser(t, store, "200")
}

func TestUsersJobAbortsAfterTwoTransientFailures(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	store := openTestStore(t, "users.db")
	input := writeInput(t, twoRows...)

	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	assert.Equal(t, crawl.StateAborted, res.State)
	assert.ErrorIs(t, res.Err, crawl.ErrTooManyErrors)
	assert.Equal(t, crawl.ExitAborted, crawl.ExitCode(res))
	assert.Equal(t, 2, env.api.calls())

	cp, err := store.Checkpoint(context.Background(), NameUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp.Line)
}

func TestUsersJobSkipsMalformedRows(t *testing.T) {
	env := newTestEnv(t, usersHandler(t))
	store := openTestStore(t, "users.db")
	input := writeInput(t, "1,100,2020-01-01T00:00:00Z,", "garbage", "3,,2020-01-01T00:00:02Z,")

	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Progress.Line)
	loadUser(t, store, "100")
}

func TestUsersJobPausesOnInterrupt(t *testing.T) {
	intr := crawl.NewInterrupt()
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		usersHandler(t)(w, r)
		intr.Trigger("test")
	})
	store := openTestStore(t, "users.db")
	input := writeInput(t, twoRows...)

	res := runJob(t, NewUsersJob(store, input, 1, env.deps), intr)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StatePaused, res.State)
	assert.Equal(t, 1, env.api.calls())

	cp, err := store.Checkpoint(context.Background(), NameUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Line)

	res = runJob(t, NewUsersJob(store, input, 1, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 2, env.api.calls())
	assert.Equal(t, "200", env.api.request(1).Query().Get("ids"))
}

func TestUsersJobStopsWhenBatchRejected(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"title":"Unauthorized"}`)
	})
	store := openTestStore(t, "users.db")
	input := writeInput(t,
		"1,100,2020-01-01T00:00:00Z,",
		"2,200,2020-01-01T00:00:01Z,",
		"3,300,2020-01-01T00:00:02Z,",
		"4,400,2020-01-01T00:00:03Z,",
	)

	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	assert.Equal(t, crawl.StateAborted, res.State)
	assert.True(t, errs.IsType(res.Err, errs.ErrorTypeAuth))
	assert.NotErrorIs(t, res.Err, crawl.ErrTooManyErrors)
	assert.Equal(t, crawl.ExitFatal, crawl.ExitCode(res))
	assert.Equal(t, 1, env.api.calls())
	assert.True(t, env.log.HasMessage("Request rejected, stopping"))

	ctx := context.Background()
	total, _, err := store.Count(ctx, models.KindUser)
	require.NoError(t, err)
	assert.Zero(t, total)
	cp, err := store.Checkpoint(ctx, NameUsers)
	require.NoError(t, err)
	assert.Zero(t, cp.Line)

	// nothing was marked, so the next run asks again
	runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	assert.Equal(t, 2, env.api.calls())
}

func TestUsersJobTrailingMalformedRowsAreNotReread(t *testing.T) {
	env := newTestEnv(t, usersHandler(t))
	store := openTestStore(t, "users.db")
	input := writeInput(t, "1,100,2020-01-01T00:00:00Z,", "garbage", "3,,2020-01-01T00:00:02Z,")

	require.NoError(t, runJob(t, NewUsersJob(store, input, 100, env.deps), nil).Err)
	cp, err := store.Checkpoint(context.Background(), NameUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Line)

	env.log.Clear()
	res := runJob(t, NewUsersJob(store, input, 100, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Progress.Line)
	assert.False(t, env.log.HasMessage("Skipping malformed input row"))
	assert.Equal(t, 1, env.api.calls())
}
