package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by pushd components.
const (
	TypeRecipientRegistered = "recipient.registered"
	TypeDispatchSent        = "dispatch.sent"
	TypeDispatchFailed      = "dispatch.failed"
	TypeTriggerScheduled    = "trigger.scheduled"
	TypeTriggerFired        = "trigger.fired"
	TypeConfigReloaded      = "config.reloaded"
)

// Event is an in-process notification. Data holds one of the *Data structs
// below (or nil).
type Event struct {
	Type string
	Time time.Time
	Data any
}

// DispatchData accompanies dispatch.sent and dispatch.failed.
type DispatchData struct {
	Audience   string
	Recipients int
	Success    int
	Failure    int
	Err        string
}

// TriggerData accompanies trigger.scheduled and trigger.fired.
type TriggerData struct {
	ID   string
	Kind string
	Err  string
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory Bus with no background goroutines.
func New() *MemBus {
	return &MemBus{subs: map[uint64]chan Event{}}
}

type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	nextID  uint64
	dropped atomic.Uint64
}

func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Held for reading across the sends so unsubscribe cannot close a
	// channel mid-send; sends are non-blocking so this stays short.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
