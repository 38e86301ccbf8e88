package jobs

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twcrawl/internal/crawl"
	"twcrawl/pkg/logger"
	"twcrawl/pkg/models"
)

// mockAPI routes the endpoints a full harvest touches and can fail one of
// them on demand
type mockAPI struct {
	t      *testing.T
	mu     sync.Mutex
	failOn map[string]int
}

func newMockAPI(t *testing.T) *mockAPI {
	return &mockAPI{t: t, failOn: make(map[string]int)}
}

func (m *mockAPI) setError(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[path] = status
}

func (m *mockAPI) errorFor(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failOn[path]
}

func (m *mockAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if status := m.errorFor(r.URL.Path); status != 0 {
		w.WriteHeader(status)
		return
	}

	q := r.URL.Query()
	switch r.URL.Path {
	case "/2/tweets/search/all":
		fmt.Fprint(w, `{"data":[
			{"id":"11","author_id":"100","created_at":"2020-05-26T00:00:00.000Z"},
			{"id":"10","author_id":"200","created_at":"2020-05-25T23:59:00.000Z"},
			{"id":"9","author_id":"100","created_at":"2020-05-25T23:58:00.000Z"}
		],"meta":{"result_count":3,"newest_id":"11","oldest_id":"9"}}`)
	case "/2/users":
		assert.Equal(m.t, "100,200", q.Get("ids"))
		fmt.Fprint(w, `{"data":[
			{"id":"100","created_at":"2010-01-01T00:00:00.000Z","public_metrics":{"followers_count":1,"following_count":1,"tweet_count":1}},
			{"id":"200","created_at":"2011-01-01T00:00:00.000Z","public_metrics":{"followers_count":2,"following_count":2,"tweet_count":2}}
		]}`)
	case "/1.1/friends/ids.json":
		fmt.Fprintf(w, `{"ids":["f%s"],"next_cursor_str":"0"}`, q.Get("user_id"))
	default:
		m.t.Errorf("unexpected request %s", r.URL)
		w.WriteHeader(http.StatusBadRequest)
	}
}

func TestPipelineTweetsThenUsersAndFriends(t *testing.T) {
	api := newMockAPI(t)
	env := newTestEnv(t, api.ServeHTTP)
	usersDB := openTestStore(t, "users.db")
	friendsDB := openTestStore(t, "friends.db")

	dir := t.TempDir()
	out := TweetsOutput{
		TweetsCSV:    filepath.Join(dir, "tweets.csv"),
		MetaCSV:      filepath.Join(dir, "meta.csv"),
		GeoTweetsCSV: filepath.Join(dir, "geo.csv"),
		ProgressFile: filepath.Join(dir, "progress.txt"),
	}

	res := runJob(t, NewTweetsJob(usersDB, tweetSearch, out, 0, env.deps), nil)
	require.NoError(t, res.Err)
	require.Equal(t, crawl.StateExhausted, res.State)

	opts := crawl.Options{
		Logger: logger.NewNopLogger(),
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}
	group := crawl.NewGroup(logger.NewNopLogger())
	group.Add(crawl.NewRunner(NewUsersJob(usersDB, out.TweetsCSV, 100, env.deps), opts))
	group.Add(crawl.NewRunner(NewFriendsJob(friendsDB, out.TweetsCSV, env.deps), opts))

	results := group.Run(context.Background())
	require.Len(t, results, 2)
	for _, r := range results {
		require.NoError(t, r.Err, r.Job)
		assert.Equal(t, crawl.StateExhausted, r.State, r.Job)
	}
	assert.Equal(t, crawl.ExitOK, crawl.ExitCode(results...))

	assert.Equal(t, 2, loadUser(t, usersDB, "200").Followers)

	ctx := context.Background()
	total, sentinels, err := friendsDB.Count(ctx, models.KindFriends)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Zero(t, sentinels)

	cp, err := friendsDB.Checkpoint(ctx, NameFriends)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cp.Line)
}

func TestPipelineGroupAbortsFailingJobOnly(t *testing.T) {
	api := newMockAPI(t)
	api.setError("/1.1/friends/ids.json", http.StatusServiceUnavailable)
	env := newTestEnv(t, api.ServeHTTP)
	usersDB := openTestStore(t, "users.db")
	friendsDB := openTestStore(t, "friends.db")
	input := writeInput(t, twoRows...)

	opts := crawl.Options{
		Logger: logger.NewNopLogger(),
		Sleep:  func(context.Context, time.Duration) error { return nil },
	}
	group := crawl.NewGroup(logger.NewNopLogger())
	group.Add(crawl.NewRunner(NewUsersJob(usersDB, input, 100, env.deps), opts))
	group.Add(crawl.NewRunner(NewFriendsJob(friendsDB, input, env.deps), opts))

	results := group.Run(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, crawl.StateExhausted, results[0].State)
	assert.Equal(t, crawl.StateAborted, results[1].State)
	assert.ErrorIs(t, results[1].Err, crawl.ErrTooManyErrors)
	assert.Equal(t, crawl.ExitAborted, crawl.ExitCode(results...))

	cp, err := friendsDB.Checkpoint(context.Background(), NameFriends)
	require.NoError(t, err)
	assert.Zero(t, cp.Line)
}
