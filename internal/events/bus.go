package events

import (
	"sync"
)

// Envelope wraps a published payload with its topic so one subscriber
// channel can watch several streams.
type Envelope struct {
	Topic   Topic
	Payload any
}

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Envelope
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Envelope)}
}

// Subscribe registers a listener for one topic and returns the channel and
// an unsubscribe function.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan Envelope, func()) {
	return b.SubscribeMany([]Topic{t}, buffer)
}

// SubscribeMany registers one channel across several topics; the websocket
// feed uses this to stream the whole engine event trail.
func (b *Bus) SubscribeMany(topics []Topic, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	for _, t := range topics {
		b.subs[t] = append(b.subs[t], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, t := range topics {
				b.subs[t] = removeSub(b.subs[t], ch)
			}
			close(ch)
		})
	}

	return ch, unsub
}

// Publish fan-outs the payload to subscribers without blocking.
func (b *Bus) Publish(t Topic, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- Envelope{Topic: t, Payload: payload}:
		default:
			// drop if subscriber is slow; keep broker non-blocking
		}
	}
}

func removeSub(subs []chan Envelope, ch chan Envelope) []chan Envelope {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}
