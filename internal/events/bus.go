package events

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent events kept for replay.
	DefaultHistorySize = 200

	// DefaultChannelBuffer is the per-subscriber queue length.
	DefaultChannelBuffer = 100
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("event bus is closed")

// SubscriptionID identifies a subscription.
type SubscriptionID string

type subscription struct {
	id      SubscriptionID
	typ     Type
	handler func(Event)
	ch      chan Event
	done    chan struct{}
}

// Bus is a pub/sub hub. Each subscriber has its own goroutine and queue;
// a full queue drops the event for that subscriber only.
type Bus struct {
	mu      sync.RWMutex
	subs    map[SubscriptionID]*subscription
	counter uint64
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int
}

// NewBus creates a bus keeping historySize events.
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		subs:        make(map[SubscriptionID]*subscription),
		historySize: historySize,
	}
}

// Subscribe registers handler for t. An empty t receives every event.
func (b *Bus) Subscribe(t Type, handler func(Event)) (SubscriptionID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}
	b.counter++
	sub := &subscription{
		id:      SubscriptionID(fmt.Sprintf("sub_%d", b.counter)),
		typ:     t,
		handler: handler,
		ch:      make(chan Event, DefaultChannelBuffer),
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.run(sub)
	return sub.id, nil
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler func(Event)) (SubscriptionID, error) {
	return b.Subscribe("", handler)
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return
			}
			sub.handler(ev)
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe removes a subscription. Queued events are discarded.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	close(sub.done)
	return nil
}

// Publish delivers ev to matching subscribers without waiting for them.
func (b *Bus) Publish(ev Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	b.addToHistory(ev)
	for _, sub := range b.subs {
		if sub.typ != "" && sub.typ != ev.Type {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

func (b *Bus) addToHistory(ev Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, ev)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns up to limit recent events of type t (all types when t is
// empty), oldest first. A non-positive limit returns everything kept.
func (b *Bus) History(t Type, limit int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()
	var out []Event
	for i := len(b.history) - 1; i >= 0; i-- {
		if t != "" && b.history[i].Type != t {
			continue
		}
		out = append(out, b.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Dropped returns how many deliveries were skipped because a subscriber
// queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close drains every subscriber queue and stops their goroutines.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
