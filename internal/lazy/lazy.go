// Package lazy initializes expensive handles on first use.
package lazy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrUnavailable is returned when every attempt to build the handle failed.
var ErrUnavailable = errors.New("engine unavailable")

// Options controls how a Handle retries a failed build.
type Options struct {
	// Name is used in log lines.
	Name string
	// Attempts is the number of builds tried per Get. Default: 3.
	Attempts int
	// Cleanup runs before every attempt after the first, typically to purge
	// partially downloaded or corrupt model files.
	Cleanup func() error
	// Recoverable reports whether a failed build is worth retrying. If nil,
	// every error is retried.
	Recoverable func(err error) bool
}

// Handle builds a value once and hands the same value to every caller. A
// failed build is not remembered; the next Get tries again.
type Handle[T any] struct {
	build func(ctx context.Context) (T, error)
	opts  Options

	ready atomic.Bool
	mu    sync.Mutex
	value T
}

// New returns a Handle that calls build on first use.
func New[T any](build func(ctx context.Context) (T, error), opts Options) *Handle[T] {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Name == "" {
		opts.Name = "engine"
	}
	return &Handle[T]{build: build, opts: opts}
}

// Get returns the value, building it if needed. Concurrent callers block
// until the first one finishes.
func (h *Handle[T]) Get(ctx context.Context) (T, error) {
	if h.ready.Load() {
		return h.value, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ready.Load() {
		return h.value, nil
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= h.opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			return zero, fmt.Errorf("initializing %s: %w", h.opts.Name, ctx.Err())
		}
		if attempt > 1 && h.opts.Cleanup != nil {
			if err := h.opts.Cleanup(); err != nil {
				slog.Warn("cleanup before retry failed", "engine", h.opts.Name, "error", err)
			}
		}

		v, err := h.build(ctx)
		if err == nil {
			h.value = v
			h.ready.Store(true)
			slog.Info("engine ready", "engine", h.opts.Name, "attempt", attempt)
			return v, nil
		}
		lastErr = err
		slog.Warn("engine init failed", "engine", h.opts.Name, "attempt", attempt, "error", err)

		if h.opts.Recoverable != nil && !h.opts.Recoverable(err) {
			break
		}
	}

	return zero, fmt.Errorf("%w: %s: %w", ErrUnavailable, h.opts.Name, lastErr)
}

// Ready reports whether the value has been built.
func (h *Handle[T]) Ready() bool {
	return h.ready.Load()
}
