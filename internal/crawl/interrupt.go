package crawl

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"twcrawl/pkg/logger"
)

// Interrupt is a cooperative stop request. Jobs finish the batch in flight
// and pause at the next boundary. A nil *Interrupt is never requested.
type Interrupt struct {
	requested atomic.Bool
	mu        sync.Mutex
	reason    string
}

// NewInterrupt creates an unset interrupt
func NewInterrupt() *Interrupt {
	return &Interrupt{}
}

// Trigger requests a pause. Only the first reason is kept.
func (i *Interrupt) Trigger(reason string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.requested.Load() {
		return
	}
	i.reason = reason
	i.requested.Store(true)
}

// Requested reports whether a pause was requested
func (i *Interrupt) Requested() bool {
	return i != nil && i.requested.Load()
}

// Reason returns what triggered the interrupt
func (i *Interrupt) Reason() string {
	if i == nil {
		return ""
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reason
}

// WatchLines triggers the interrupt when any line is read from r. The
// goroutine ends at EOF or when ctx is done; a blocked read is abandoned.
func (i *Interrupt) WatchLines(ctx context.Context, r io.Reader, log logger.Logger) {
	lines := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(r)
		if scanner.Scan() {
			close(lines)
		}
	}()

	go func() {
		select {
		case <-lines:
			log.Info("Stop requested from input, pausing after the current batch")
			i.Trigger("input")
		case <-ctx.Done():
		}
	}()
}

// WatchSignals triggers the interrupt on the first SIGINT or SIGTERM and
// calls hardStop on the second. The returned function stops watching.
func (i *Interrupt) WatchSignals(hardStop context.CancelFunc, log logger.Logger) (stop func()) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if !i.Requested() {
					log.WithField("signal", sig.String()).Info("Signal received, pausing after the current batch")
					i.Trigger("signal " + sig.String())
					continue
				}
				log.WithField("signal", sig.String()).Warn("Second signal received, shutting down")
				hardStop()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}
