package orientation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// ConsentGate models a permission prompt answered out of band (the browser
// shell posts the user's answer). Only one prompt is pending at a time.
type ConsentGate struct {
	timeout time.Duration

	mu      sync.Mutex
	pending chan bool
}

// NewConsentGate returns a gate whose prompts expire after timeout
// (0 waits until the request context ends).
func NewConsentGate(timeout time.Duration) *ConsentGate {
	return &ConsentGate{timeout: timeout}
}

func (g *ConsentGate) RequestPermission(ctx context.Context) (bool, error) {
	if g == nil {
		return false, fmt.Errorf("orientation: consent gate is nil")
	}
	if ctx == nil {
		return false, fmt.Errorf("orientation: ctx is nil")
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ch := make(chan bool, 1)
	g.mu.Lock()
	if g.pending != nil {
		g.mu.Unlock()
		return false, fmt.Errorf("orientation: permission prompt already pending")
	}
	g.pending = ch
	g.mu.Unlock()
	log.Printf("orientation: awaiting permission")

	defer func() {
		g.mu.Lock()
		if g.pending == ch {
			g.pending = nil
		}
		g.mu.Unlock()
	}()

	select {
	case granted := <-ch:
		return granted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Pending reports whether a prompt is waiting for an answer.
func (g *ConsentGate) Pending() bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending != nil
}

// Answer resolves the pending prompt. It returns false when none is pending.
func (g *ConsentGate) Answer(granted bool) bool {
	if g == nil {
		return false
	}
	g.mu.Lock()
	ch := g.pending
	g.pending = nil
	g.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- granted
	return true
}
