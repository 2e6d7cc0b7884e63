// Package orientation provides the orientation sources: samples pushed by a
// browser shell over HTTP or WebSocket, samples relayed through MQTT, and
// the consent gate that stands in for the browser permission prompt.
package orientation

import (
	"context"
	"fmt"
	"sync"

	"compass-ng/internal/heading"
	"compass-ng/internal/session"
)

type subFunc func()

func (f subFunc) Unsubscribe() { f() }

// bindContext runs stop once, on Unsubscribe or when ctx ends, whichever
// comes first.
func bindContext(ctx context.Context, stop func()) session.Subscription {
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			stop()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-done:
		}
	}()
	return subFunc(unsubscribe)
}

// fanout delivers samples to registered callbacks.
type fanout struct {
	mu     sync.RWMutex
	subs   map[int]func(heading.Sample)
	nextID int
}

func (f *fanout) add(cb func(heading.Sample)) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]func(heading.Sample))
	}
	id := f.nextID
	f.nextID++
	f.subs[id] = cb
	return id
}

// remove drops id and returns how many subscribers remain.
func (f *fanout) remove(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return len(f.subs)
}

func (f *fanout) publish(s heading.Sample) int {
	f.mu.RLock()
	cbs := make([]func(heading.Sample), 0, len(f.subs))
	for _, cb := range f.subs {
		cbs = append(cbs, cb)
	}
	f.mu.RUnlock()
	for _, cb := range cbs {
		cb(s)
	}
	return len(cbs)
}

// PushSource is fed by the web layer (POST /api/orientation or the
// WebSocket) and fans samples out to subscribers.
type PushSource struct {
	fan fanout
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

func (p *PushSource) Subscribe(ctx context.Context, onSample func(heading.Sample)) (session.Subscription, error) {
	if p == nil {
		return nil, fmt.Errorf("orientation: push source is nil")
	}
	if ctx == nil {
		return nil, fmt.Errorf("orientation: ctx is nil")
	}
	if onSample == nil {
		return nil, fmt.Errorf("orientation: onSample is nil")
	}
	id := p.fan.add(onSample)
	return bindContext(ctx, func() { p.fan.remove(id) }), nil
}

// Push delivers s to every subscriber and reports how many received it.
// Samples pushed with no subscriber (before consent) are dropped.
func (p *PushSource) Push(s heading.Sample) int {
	if p == nil {
		return 0
	}
	return p.fan.publish(s)
}
