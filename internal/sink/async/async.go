package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/salography/fast-alpr/internal/model"
	"github.com/salography/fast-alpr/internal/sink"
)

const (
	defaultBufferSize   = 256
	defaultDrainTimeout = 5 * time.Second
)

// Option configures an Async wrapper.
type Option func(*Async)

// WithBufferSize sets the channel buffer capacity. Default: 256.
func WithBufferSize(n int) Option {
	return func(a *Async) { a.bufSize = n }
}

// WithOnError sets the callback invoked when the inner sink's Write
// fails. Default: logs a warning via slog.
func WithOnError(f func(error)) Option {
	return func(a *Async) { a.errFunc = f }
}

// WithDropOnFull makes Write return immediately (dropping the
// observation) when the buffer is full, instead of blocking. Use for
// sinks where lossiness is acceptable; the session log is written
// before fan-out, so a drop here never loses the record of a plate.
func WithDropOnFull() Option {
	return func(a *Async) { a.dropOnFull = true }
}

// Async decouples the frame loop from slow sinks via a buffered
// channel. The engine writes into the channel; a background goroutine
// drains it to the wrapped sink. Errors from the inner sink go to
// errFunc rather than back to the caller.
type Async struct {
	inner      sink.Sink
	ch         chan model.Observation
	done       chan struct{}
	errFunc    func(error)
	bufSize    int
	dropOnFull bool
	closeOnce  sync.Once
}

// New wraps a sink.Sink in an async channel-based writer. The
// background drain goroutine starts immediately.
func New(inner sink.Sink, opts ...Option) *Async {
	a := &Async{
		inner:   inner,
		bufSize: defaultBufferSize,
		errFunc: func(err error) { slog.Warn("async sink write error", "error", err) },
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan model.Observation, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Write sends the observation into the channel. By default, blocks if
// the channel is full (backpressure). With WithDropOnFull, returns nil
// immediately and the observation is lost.
func (a *Async) Write(_ context.Context, obs model.Observation) error {
	if a.dropOnFull {
		select {
		case a.ch <- obs:
		default:
			slog.Warn("async sink buffer full, dropping observation",
				"plate", obs.Plate, "session_id", obs.Session)
		}
		return nil
	}
	a.ch <- obs
	return nil
}

// Close closes the channel, waits for the drain goroutine to finish
// (with a timeout), then closes the inner sink.
func (a *Async) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.ch)
		select {
		case <-a.done:
		case <-time.After(defaultDrainTimeout):
			slog.Warn("async sink drain timed out")
		}
		err = a.inner.Close()
	})
	return err
}

// drain reads observations from the channel and writes them to the
// inner sink.
func (a *Async) drain() {
	defer close(a.done)
	for obs := range a.ch {
		if err := a.inner.Write(context.Background(), obs); err != nil {
			a.errFunc(err)
		}
	}
}
