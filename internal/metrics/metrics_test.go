package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollectorExposesMetrics(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("2/users", 200, 120*time.Millisecond)
	c.ObserveRequest("2/users", 429, 80*time.Millisecond)
	c.ObserveRateWait("users", 3*time.Second)
	c.AddItems("users", 100)
	c.AddItems("users", 0)
	c.RecordSentinel("friends", "unauthorized")
	c.RecordTransientError("users")
	c.SetCheckpoint("users", 4200)
	c.RecordRun("users", "EXHAUSTED")

	body := scrape(t, c)
	assert.Contains(t, body, `twcrawl_api_requests_total{endpoint="2/users",status="200"} 1`)
	assert.Contains(t, body, `twcrawl_api_requests_total{endpoint="2/users",status="429"} 1`)
	assert.Contains(t, body, `twcrawl_items_processed_total{job="users"} 100`)
	assert.Contains(t, body, `twcrawl_sentinels_total{job="friends",sentinel="unauthorized"} 1`)
	assert.Contains(t, body, `twcrawl_transient_errors_total{job="users"} 1`)
	assert.Contains(t, body, `twcrawl_checkpoint_line{job="users"} 4200`)
	assert.Contains(t, body, `twcrawl_runs_total{job="users",state="EXHAUSTED"} 1`)
	assert.Contains(t, body, `twcrawl_rate_gate_wait_seconds_count{class="users"} 1`)
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector()
	b := NewCollector()

	a.AddItems("tweets", 5)
	assert.NotContains(t, scrape(t, b), `twcrawl_items_processed_total{job="tweets"}`)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveRequest("2/users", 200, time.Second)
		c.ObserveRateWait("users", time.Second)
		c.AddItems("users", 1)
		c.RecordSentinel("users", "not-found")
		c.RecordTransientError("users")
		c.SetCheckpoint("users", 1)
		c.RecordRun("users", "ABORTED")
	})
}
