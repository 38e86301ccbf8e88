package paginator

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errs "twcrawl/pkg/errors"
	"twcrawl/pkg/ratelimit"
	"twcrawl/pkg/twitter"
)

type step struct {
	resp *twitter.Response
	err  error
}

type fakeCaller struct {
	steps  []step
	params []url.Values
}

func (f *fakeCaller) Call(_ context.Context, _ twitter.Endpoint, params url.Values) (*twitter.Response, error) {
	f.params = append(f.params, params)
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.resp, s.err
}

func searchPage(next string, ids ...string) *twitter.Response {
	tweets := make([]twitter.Tweet, len(ids))
	for i, id := range ids {
		tweets[i] = twitter.Tweet{ID: id}
	}
	data, _ := json.Marshal(tweets)
	return &twitter.Response{
		Data: data,
		Meta: twitter.Meta{ResultCount: len(ids), NextToken: next},
	}
}

func newGate() (*ratelimit.Gate, *ratelimit.FakeClock) {
	clock := ratelimit.NewFakeClock(time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC))
	gate := ratelimit.NewGate(ratelimit.Intervals{ratelimit.ClassSearch: 3200 * time.Millisecond}, ratelimit.WithClock(clock))
	return gate, clock
}

func TestThreePagesTerminate(t *testing.T) {
	caller := &fakeCaller{steps: []step{
		{resp: searchPage("A", "1", "2")},
		{resp: searchPage("B", "3")},
		{resp: searchPage("", "4")},
	}}
	gate, clock := newGate()

	p := New(caller, gate, Request{
		Endpoint: twitter.EndpointSearchAll,
		Params:   url.Values{"query": {"#blacklivesmatter"}},
	})

	var cursors []string
	for {
		page, err := p.Next(context.Background())
		require.NoError(t, err)
		if page == nil {
			break
		}
		cursors = append(cursors, p.Cursor())
	}

	assert.Equal(t, []string{"A", "B", ""}, cursors)
	assert.True(t, p.Done())
	assert.Equal(t, 3, p.Pages())

	require.Len(t, caller.params, 3)
	assert.Empty(t, caller.params[0].Get("next_token"))
	assert.Equal(t, "A", caller.params[1].Get("next_token"))
	assert.Equal(t, "B", caller.params[2].Get("next_token"))
	for _, params := range caller.params {
		assert.Equal(t, "#blacklivesmatter", params.Get("query"))
	}

	// first request goes straight through, the rest are spaced by the interval
	assert.Equal(t, []time.Duration{0, 3200 * time.Millisecond, 3200 * time.Millisecond}, clock.Sleeps())

	page, err := p.Next(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, page)
	assert.Len(t, caller.params, 3)
}

func TestErrorDoesNotAdvanceCursor(t *testing.T) {
	failure := &errs.Error{Type: errs.ErrorTypeServer, Code: 503}
	caller := &fakeCaller{steps: []step{
		{resp: searchPage("A", "1")},
		{err: failure},
		{resp: searchPage("", "2")},
	}}
	gate, _ := newGate()
	p := New(caller, gate, Request{Endpoint: twitter.EndpointSearchAll})

	page, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "A", p.Cursor())

	_, err = p.Next(context.Background())
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, "A", p.Cursor())
	assert.False(t, p.Done())

	page, err = p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A", page.Cursor)
	assert.False(t, page.HasMore)
	assert.Equal(t, "A", caller.params[2].Get("next_token"))
}

func TestEmptyPageWithTokenIsTerminal(t *testing.T) {
	caller := &fakeCaller{steps: []step{
		{resp: &twitter.Response{Meta: twitter.Meta{ResultCount: 0, NextToken: "stale"}}},
	}}
	gate, _ := newGate()
	p := New(caller, gate, Request{Endpoint: twitter.EndpointSearchAll})

	page, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.True(t, p.Done())
}

func TestCountsPagesFollowTokenWithoutResultCount(t *testing.T) {
	caller := &fakeCaller{steps: []step{
		{resp: &twitter.Response{
			Data: json.RawMessage(`[{"start":"a","end":"b","tweet_count":4}]`),
			Meta: twitter.Meta{TotalTweetCount: 4, NextToken: "next"},
		}},
		{resp: &twitter.Response{
			Data: json.RawMessage(`[{"start":"b","end":"c","tweet_count":1}]`),
			Meta: twitter.Meta{TotalTweetCount: 1},
		}},
	}}
	gate, _ := newGate()

	var total int
	for page, err := range FetchAll(context.Background(), caller, gate, Request{Endpoint: twitter.EndpointCountsAll}) {
		require.NoError(t, err)
		total += page.Response.Meta.TotalTweetCount
	}
	assert.Equal(t, 5, total)
}

func TestCursorForward(t *testing.T) {
	caller := &fakeCaller{steps: []step{
		{resp: &twitter.Response{IDs: []string{"1", "2"}, NextCursorStr: "1650"}},
		{resp: &twitter.Response{IDs: []string{"3"}, NextCursorStr: "0"}},
	}}
	gate, _ := newGate()

	p := New(caller, gate, Request{
		Endpoint: twitter.EndpointFriendIDs,
		Params:   twitter.FriendIDsParams("100"),
		Mode:     CursorForward,
	})
	assert.Equal(t, "-1", p.Cursor())

	var ids []string
	for page, err := range p.All(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, page.Response.IDs...)
	}

	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, "-1", caller.params[0].Get("cursor"))
	assert.Equal(t, "1650", caller.params[1].Get("cursor"))
	assert.True(t, p.Done())
}

func TestResume(t *testing.T) {
	caller := &fakeCaller{steps: []step{{resp: searchPage("", "9")}}}
	gate, _ := newGate()
	p := New(caller, gate, Request{Endpoint: twitter.EndpointSearchAll})

	p.Resume("B")
	_, err := p.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B", caller.params[0].Get("next_token"))

	p.Resume("")
	assert.False(t, p.Done())
	assert.Equal(t, "", p.Cursor())
}

func TestAllStopsOnError(t *testing.T) {
	failure := &errs.Error{Type: errs.ErrorTypeNetwork}
	caller := &fakeCaller{steps: []step{
		{resp: searchPage("A", "1")},
		{err: failure},
	}}
	gate, _ := newGate()
	p := New(caller, gate, Request{Endpoint: twitter.EndpointSearchAll})

	var pages int
	var last error
	for page, err := range p.All(context.Background()) {
		if err != nil {
			last = err
			continue
		}
		pages++
		assert.NotNil(t, page)
	}
	assert.Equal(t, 1, pages)
	assert.ErrorIs(t, last, failure)
	assert.Equal(t, "A", p.Cursor())
}

func TestGateCancellation(t *testing.T) {
	caller := &fakeCaller{}
	gate, _ := newGate()
	p := New(caller, gate, Request{Endpoint: twitter.EndpointSearchAll})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, caller.params)
}
