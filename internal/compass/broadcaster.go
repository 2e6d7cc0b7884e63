package compass

import "sync"

// Broadcaster fans frames out to any listeners (e.g. WebSocket clients).
// It keeps the most recent frame so new subscribers get an immediate sample.
// Slow subscribers drop frames rather than stall the frame loop.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Frame
	nextID   int
	last     Frame
	haveLast bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Frame)}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Frame) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan Frame, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(f Frame) {
	if b == nil {
		return
	}
	// Hold the read lock while sending so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- f:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = f
	b.haveLast = true
	b.mu.Unlock()
}

func (b *Broadcaster) Last() (Frame, bool) {
	if b == nil {
		return Frame{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}
