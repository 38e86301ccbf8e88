package jobs

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twcrawl/internal/crawl"
	"twcrawl/pkg/checkpoint"
	"twcrawl/pkg/config"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/models"
)

var priorSearch = config.SearchConfig{
	Query:      "#blacklivesmatter -is:nullcast",
	StartTime:  "2006-03-21T00:00:00Z",
	EndTime:    "2020-05-25T03:59:00Z",
	MaxResults: 10,
}

func seedScanUsers(t *testing.T, store *checkpoint.Store) {
	decided := geotagged("400")
	decided.PriorAdopter = models.PriorAdopterTrue
	decided.ActivityRate = []int{1}

	putEntities(t, store,
		userEntity(t, geotagged("100")),
		userEntity(t, geotagged("200")),
		userEntity(t, models.NewUser("300")),
		userEntity(t, decided),
		checkpoint.SentinelEntity(models.KindUser, "500", models.SentinelNotFound),
	)
}

func TestPriorJobSetsStatus(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "10", q.Get("max_results"))
		switch {
		case strings.HasSuffix(q.Get("query"), "(from:100)"):
			fmt.Fprint(w, `{"data":[{"id":"9"}],"meta":{"result_count":1,"next_token":"x"}}`)
		case strings.HasSuffix(q.Get("query"), "(from:200)"):
			fmt.Fprint(w, `{"meta":{"result_count":0}}`)
		default:
			t.Errorf("unexpected query %q", q.Get("query"))
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	store := openTestStore(t, "users.db")
	seedScanUsers(t, store)

	res := runJob(t, NewPriorJob(store, priorSearch, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 2, env.api.calls())
	assert.Equal(t, "#blacklivesmatter -is:nullcast (from:100)", env.api.request(0).Query().Get("query"))

	assert.Equal(t, models.PriorAdopterTrue, loadUser(t, store, "100").PriorAdopter)
	assert.Equal(t, models.PriorAdopterFalse, loadUser(t, store, "200").PriorAdopter)
	assert.Equal(t, models.PriorAdopterUnknown, loadUser(t, store, "300").PriorAdopter)
	// geotags are kept when the flag is written
	assert.True(t, loadUser(t, store, "100").HasGeotags())

	cp, err := store.Checkpoint(context.Background(), NamePrior)
	require.NoError(t, err)
	assert.Equal(t, int64(5), cp.Line)
	assert.Equal(t, "500", cp.Cursor)
	assert.Equal(t, int64(2), cp.Committed)

	// nothing left to decide
	res = runJob(t, NewPriorJob(store, priorSearch, env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 2, env.api.calls())
}

func TestPriorJobStopsWhenSearchRejected(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	store := openTestStore(t, "users.db")
	seedScanUsers(t, store)

	res := runJob(t, NewPriorJob(store, priorSearch, env.deps), nil)
	assert.Equal(t, crawl.StateAborted, res.State)
	assert.True(t, errs.IsType(res.Err, errs.ErrorTypeAuth))
	assert.Equal(t, crawl.ExitFatal, crawl.ExitCode(res))
	assert.Equal(t, 1, env.api.calls())
	assert.Equal(t, models.PriorAdopterUnknown, loadUser(t, store, "100").PriorAdopter)
	assert.True(t, env.log.HasMessage("Request rejected, stopping"))

	cp, err := store.Checkpoint(context.Background(), NamePrior)
	require.NoError(t, err)
	assert.Zero(t, cp.Line)
	assert.Empty(t, cp.Cursor)
}

func TestActivityJobStopsWhenCountsRejected(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	store := openTestStore(t, "users.db")
	seedScanUsers(t, store)

	search := config.SearchConfig{Query: "-is:nullcast", EndTime: "2020-06-03T00:00:00Z"}
	res := runJob(t, NewActivityJob(store, search, "hour", env.deps), nil)
	assert.Equal(t, crawl.StateAborted, res.State)
	assert.True(t, errs.IsType(res.Err, errs.ErrorTypeNotFound))
	assert.Equal(t, 1, env.api.calls())
	assert.Empty(t, loadUser(t, store, "100").ActivityRate)

	cp, err := store.Checkpoint(context.Background(), NameActivity)
	require.NoError(t, err)
	assert.Empty(t, cp.Cursor)
}

func TestPriorJobResumesAfterCursor(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"meta":{"result_count":0}}`)
	})
	store := openTestStore(t, "users.db")
	seedScanUsers(t, store)
	putCheckpoint(t, store, checkpoint.Checkpoint{Job: NamePrior, Line: 1, Cursor: "100", Committed: 1})

	res := runJob(t, NewPriorJob(store, priorSearch, env.deps), nil)
	require.NoError(t, res.Err)
	require.Equal(t, 1, env.api.calls())
	assert.Equal(t, "#blacklivesmatter -is:nullcast (from:200)", env.api.request(0).Query().Get("query"))
	assert.Equal(t, models.PriorAdopterUnknown, loadUser(t, store, "100").PriorAdopter)
	assert.Equal(t, int64(5), res.Progress.Line)
}

func TestActivityJobCollectsHourlyCounts(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/2/tweets/counts/all", r.URL.Path)
		assert.Equal(t, "hour", q.Get("granularity"))
		switch {
		case strings.HasSuffix(q.Get("query"), "(from:100)") && q.Get("next_token") == "":
			fmt.Fprint(w, `{"data":[
				{"start":"2020-06-01T00:00:00.000Z","end":"2020-06-01T01:00:00.000Z","tweet_count":1},
				{"start":"2020-06-01T01:00:00.000Z","end":"2020-06-01T02:00:00.000Z","tweet_count":0}
			],"meta":{"total_tweet_count":1,"next_token":"c2"}}`)
		case strings.HasSuffix(q.Get("query"), "(from:100)") && q.Get("next_token") == "c2":
			fmt.Fprint(w, `{"data":[
				{"start":"2020-06-01T02:00:00.000Z","end":"2020-06-01T03:00:00.000Z","tweet_count":4}
			],"meta":{"total_tweet_count":4}}`)
		case strings.HasSuffix(q.Get("query"), "(from:200)"):
			fmt.Fprint(w, `{"meta":{"total_tweet_count":0}}`)
		default:
			t.Errorf("unexpected request %s", r.URL.RawQuery)
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	store := openTestStore(t, "users.db")
	seedScanUsers(t, store)

	search := config.SearchConfig{Query: "-is:nullcast", EndTime: "2020-06-03T00:00:00Z"}
	res := runJob(t, NewActivityJob(store, search, "hour", env.deps), nil)
	require.NoError(t, res.Err)
	assert.Equal(t, crawl.StateExhausted, res.State)
	assert.Equal(t, 3, env.api.calls())

	u := loadUser(t, store, "100")
	assert.Equal(t, []int{1, 0, 4}, u.ActivityRate)
	assert.True(t, u.HasGeotags())
	assert.Empty(t, loadUser(t, store, "200").ActivityRate)
	assert.Equal(t, []int{1}, loadUser(t, store, "400").ActivityRate)
	assert.True(t, env.log.HasMessage("No activity counts returned"))

	cp, err := store.Checkpoint(context.Background(), NameActivity)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Committed)
	assert.Equal(t, "500", cp.Cursor)
}
