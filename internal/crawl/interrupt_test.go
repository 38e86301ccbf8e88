package crawl

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"twcrawl/pkg/logger"
)

func TestNilInterruptIsNeverRequested(t *testing.T) {
	var i *Interrupt
	assert.False(t, i.Requested())
	assert.Equal(t, "", i.Reason())
}

func TestTriggerKeepsFirstReason(t *testing.T) {
	i := NewInterrupt()
	assert.False(t, i.Requested())

	i.Trigger("signal interrupt")
	i.Trigger("input")
	assert.True(t, i.Requested())
	assert.Equal(t, "signal interrupt", i.Reason())
}

func TestWatchLines(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	i := NewInterrupt()
	i.WatchLines(ctx, pr, logger.NewNopLogger())
	assert.False(t, i.Requested())

	go pw.Write([]byte("\n"))

	assert.Eventually(t, i.Requested, time.Second, 5*time.Millisecond)
	assert.Equal(t, "input", i.Reason())
}

func TestWatchLinesIgnoresEmptyInput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	i := NewInterrupt()
	i.WatchLines(ctx, strings.NewReader(""), logger.NewNopLogger())
	assert.Never(t, i.Requested, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "PAUSED_BY_USER", StatePaused.String())
	assert.Equal(t, "EXHAUSTED", StateExhausted.String())
	assert.Equal(t, "ABORTED", StateAborted.String())
	assert.False(t, StateRunning.Terminal())
	assert.True(t, StateAborted.Terminal())
}
