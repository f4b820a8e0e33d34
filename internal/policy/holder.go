package policy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rafaeljc/gatekeeper/internal/logger"
)

// Holder publishes the current engine to concurrent readers. Reloads build a
// new engine and swap it in; callers that already hold the previous one keep
// using it until they finish.
type Holder struct {
	current atomic.Pointer[Engine]
}

// NewHolder returns a holder publishing e.
func NewHolder(e *Engine) *Holder {
	if e == nil {
		panic("policy: holder requires an engine")
	}
	h := &Holder{}
	h.current.Store(e)
	return h
}

// Engine returns the current engine.
func (h *Holder) Engine() *Engine { return h.current.Load() }

// Swap publishes e and returns the engine it replaced.
func (h *Holder) Swap(e *Engine) *Engine {
	if e == nil {
		panic("policy: cannot publish a nil engine")
	}
	return h.current.Swap(e)
}

// LoadFunc builds a fresh engine, typically by calling Load with the
// configured sources.
type LoadFunc func(ctx context.Context) *Engine

// Reload builds a new engine with load and publishes it. It returns the
// engine that was current and whether it was replaced.
//
// The current engine is kept when ctx ends during the load, or when every
// source failed (origin "empty") while the current engine was loaded from a
// source. An outage or a shutdown never replaces served rules with nothing.
func (h *Holder) Reload(ctx context.Context, load LoadFunc) (prev *Engine, swapped bool) {
	next := load(ctx)
	if next == nil {
		panic("policy: cannot publish a nil engine")
	}

	for {
		cur := h.Engine()
		if ctx.Err() != nil || (next.Origin() == OriginEmpty && cur.Origin() != OriginEmpty) {
			return cur, false
		}
		if h.current.CompareAndSwap(cur, next) {
			return cur, true
		}
	}
}

// Watch reloads every interval until ctx is done. A non-positive interval
// disables periodic reloads.
func (h *Holder) Watch(ctx context.Context, interval time.Duration, load LoadFunc) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prev, swapped := h.Reload(ctx, load)
			if ctx.Err() != nil {
				return
			}
			if !swapped {
				log.Warn("rules reload failed, keeping the current rules",
					"origin", prev.Origin(),
					"rules", prev.Len(),
				)
				continue
			}
			cur := h.Engine()
			log.Debug("rules reloaded",
				"origin", cur.Origin(),
				"rules", cur.Len(),
				"previous_origin", prev.Origin(),
			)
		}
	}
}
