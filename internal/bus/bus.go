package bus

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// DefaultHistorySize is the number of recent events kept for /health.
	DefaultHistorySize = 200

	// DefaultChannelBuffer is the buffer size for subscriber channels.
	DefaultChannelBuffer = 100
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus is closed")

// SubscriptionID identifies a subscription.
type SubscriptionID string

// Subscription is one registered handler. Each subscription has its own
// goroutine, so a slow handler only delays its own events.
type Subscription struct {
	ID        SubscriptionID
	EventType EventType
	handler   func(Event)
	ch        chan Event
	done      chan struct{}
}

// Bus is an in-process pub/sub hub with wildcard subscriptions and a
// bounded history of recent events. Publishing never blocks: events for
// a subscriber whose buffer is full are dropped and counted.
type Bus struct {
	mu       sync.RWMutex
	typed    map[EventType]map[SubscriptionID]*Subscription
	wildcard map[SubscriptionID]*Subscription
	all      map[SubscriptionID]*Subscription

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	subCounter atomic.Uint64
	dropped    atomic.Uint64
	wg         sync.WaitGroup
	closed     atomic.Bool
}

// NewBus creates a bus with the default history size.
func NewBus() *Bus {
	return NewBusWithConfig(DefaultHistorySize)
}

// NewBusWithConfig creates a bus keeping historySize recent events.
func NewBusWithConfig(historySize int) *Bus {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bus{
		typed:       make(map[EventType]map[SubscriptionID]*Subscription),
		wildcard:    make(map[SubscriptionID]*Subscription),
		all:         make(map[SubscriptionID]*Subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
	}
}

// Subscribe registers handler for eventType. An empty type receives every
// event. It returns "" once the bus is closed.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	if b.closed.Load() {
		return ""
	}

	id := SubscriptionID(fmt.Sprintf("sub_%d", b.subCounter.Add(1)))
	sub := &Subscription{
		ID:        id,
		EventType: eventType,
		handler:   handler,
		ch:        make(chan Event, DefaultChannelBuffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return ""
	}
	b.all[id] = sub
	if eventType == "" {
		b.wildcard[id] = sub
	} else {
		if b.typed[eventType] == nil {
			b.typed[eventType] = make(map[SubscriptionID]*Subscription)
		}
		b.typed[eventType][id] = sub
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go b.handle(sub)
	return id
}

func (b *Bus) handle(sub *Subscription) {
	defer b.wg.Done()
	for {
		select {
		case e := <-sub.ch:
			sub.handler(e)
		case <-sub.done:
			return
		}
	}
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	sub, ok := b.all[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	b.remove(sub)
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// remove drops sub from the maps. Caller holds b.mu.
func (b *Bus) remove(sub *Subscription) {
	delete(b.all, sub.ID)
	if sub.EventType == "" {
		delete(b.wildcard, sub.ID)
		return
	}
	if subs, ok := b.typed[sub.EventType]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(b.typed, sub.EventType)
		}
	}
}

// Publish records event in the history and hands it to matching subscribers.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return ErrClosed
	}
	b.addToHistory(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.wildcard {
		b.deliver(sub, event)
	}
	for _, sub := range b.typed[event.Type] {
		b.deliver(sub, event)
	}
	return nil
}

func (b *Bus) deliver(sub *Subscription, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.dropped.Add(1)
	}
}

func (b *Bus) addToHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns the last n events, oldest first. n <= 0 returns all.
func (b *Bus) History(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// Stats is a snapshot for diagnostics.
type Stats struct {
	Subscriptions int    `json:"subscriptions"`
	HistorySize   int    `json:"history_size"`
	Dropped       uint64 `json:"dropped"`
}

// Stats returns current counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	subs := len(b.all)
	b.mu.RUnlock()

	b.historyMu.RLock()
	hist := len(b.history)
	b.historyMu.RUnlock()

	return Stats{Subscriptions: subs, HistorySize: hist, Dropped: b.dropped.Load()}
}

// SubscriptionsCount returns the number of active subscriptions.
func (b *Bus) SubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.all)
}

// TypedSubscriptionsCount returns the subscriptions for one event type.
func (b *Bus) TypedSubscriptionsCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.typed[eventType])
}

// WildcardSubscriptionsCount returns the number of wildcard subscriptions.
func (b *Bus) WildcardSubscriptionsCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.wildcard)
}

// Close stops every subscription goroutine and waits for them to exit.
// Events still buffered are discarded.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}

	b.mu.Lock()
	for _, sub := range b.all {
		b.remove(sub)
		close(sub.done)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
