// Package source provides the frame sources the engine consumes.
//
// Sources produce JPEG-encoded frames on a channel. Implementations
// register themselves under a provider name; configuration selects one
// by name. A source that fails terminally closes its frame channel,
// which the engine observes as end of input.
package source

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

// DefaultMaxReadFailures is the number of consecutive device read
// failures after which a source gives up and closes its frame channel.
const DefaultMaxReadFailures = 30

// Source captures frames from a camera device or stream.
type Source interface {
	// Start begins capture and returns the frame channel. The channel
	// is closed when the context is cancelled, Stop is called, or the
	// source fails terminally.
	Start(ctx context.Context) (<-chan model.Frame, error)

	// Stop ends capture and releases device resources. Safe to call
	// more than once.
	Stop() error

	// Stats reports capture counters.
	Stats() Stats
}

// Config holds provider-specific capture settings.
type Config struct {
	Provider        string
	MaxReadFailures int
	Extra           map[string]string
}

// MaxFailures returns the consecutive-failure limit, applying the
// default when unset.
func (c Config) MaxFailures() int {
	if c.MaxReadFailures < 1 {
		return DefaultMaxReadFailures
	}
	return c.MaxReadFailures
}

// ExtraString reads a string setting from cfg.Extra, returning def
// when absent.
func (c Config) ExtraString(key, def string) string {
	if v, ok := c.Extra[key]; ok && v != "" {
		return v
	}
	return def
}

// ExtraInt reads an integer setting from cfg.Extra, returning def when
// absent. A malformed value is an error.
func (c Config) ExtraInt(key string, def int) (int, error) {
	raw, ok := c.Extra[key]
	if !ok || raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("source: invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

// ExtraFloat reads a float setting from cfg.Extra, returning def when
// absent. A malformed value is an error.
func (c Config) ExtraFloat(key string, def float64) (float64, error) {
	raw, ok := c.Extra[key]
	if !ok || raw == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("source: invalid %s %q: %w", key, raw, err)
	}
	return f, nil
}

// Constructor builds a Source from capture configuration.
type Constructor func(cfg Config) (Source, error)

var registry = map[string]Constructor{}

// Register adds a source constructor under the given provider name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// New builds the source for the provider named in cfg.
func New(cfg Config) (Source, error) {
	ctor, ok := registry[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown source provider: %s", cfg.Provider)
	}
	return ctor(cfg)
}

// Providers returns the names of all registered source providers.
func Providers() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

// Stats holds capture counters for a source.
type Stats struct {
	FramesCaptured uint64    `json:"frames_captured"`
	FramesDropped  uint64    `json:"frames_dropped"`
	ReadFailures   uint64    `json:"read_failures"`
	Reconnects     uint64    `json:"reconnects"`
	LastFrameAt    time.Time `json:"last_frame_at,omitzero"`
}

// Counters accumulates capture statistics. Safe for concurrent use.
type Counters struct {
	captured     atomic.Uint64
	dropped      atomic.Uint64
	readFailures atomic.Uint64
	reconnects   atomic.Uint64
	lastFrame    atomic.Int64
}

// Frame records one delivered frame.
func (c *Counters) Frame(at time.Time) {
	c.captured.Add(1)
	c.lastFrame.Store(at.UnixNano())
}

// Drop records a frame discarded because the consumer was behind.
func (c *Counters) Drop() { c.dropped.Add(1) }

// Failure records a failed device read.
func (c *Counters) Failure() { c.readFailures.Add(1) }

// Reconnect records a reconnection attempt.
func (c *Counters) Reconnect() { c.reconnects.Add(1) }

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Stats {
	s := Stats{
		FramesCaptured: c.captured.Load(),
		FramesDropped:  c.dropped.Load(),
		ReadFailures:   c.readFailures.Load(),
		Reconnects:     c.reconnects.Load(),
	}
	if ns := c.lastFrame.Load(); ns > 0 {
		s.LastFrameAt = time.Unix(0, ns)
	}
	return s
}
