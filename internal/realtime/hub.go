// Package realtime fans message-insert events out to subscribers keyed by
// ticket. Events reach the Hub from one of three feeds: directly from the
// message service (local), from a Kafka topic, or from PostgreSQL NOTIFY.
package realtime

import (
	"context"
	"log"
	"sync"
)

// MessageInserted is the change-feed event for a new row in messages.
type MessageInserted struct {
	ID       string `json:"id"`
	TicketID string `json:"ticket_id"`
}

// Channel names the subscription channel for a ticket.
func Channel(ticketID string) string {
	return "messages:" + ticketID
}

// Notifier receives insert events from the write path.
type Notifier interface {
	Notify(ctx context.Context, event MessageInserted) error
}

// Source pushes events from an external feed into dispatch until ctx is
// done or the feed fails.
type Source interface {
	Run(ctx context.Context, dispatch func(MessageInserted)) error
}

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

type subscriber struct {
	events chan MessageInserted
	done   chan struct{}
}

// Hub delivers events to the subscribers of the event's ticket channel.
// Each subscriber gets its own goroutine and bounded queue; a slow
// subscriber loses events instead of blocking the others.
type Hub struct {
	buffer int

	mu       sync.Mutex
	channels map[string]map[*subscriber]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer:   buffer,
		channels: make(map[string]map[*subscriber]struct{}),
	}
}

var _ Notifier = (*Hub)(nil)

// Subscribe registers fn for events on the ticket's channel. The returned
// function unsubscribes; it is safe to call more than once. fn runs on a
// dedicated goroutine, one event at a time.
func (h *Hub) Subscribe(ticketID string, fn func(MessageInserted)) func() {
	sub := &subscriber{
		events: make(chan MessageInserted, h.buffer),
		done:   make(chan struct{}),
	}
	channel := Channel(ticketID)

	h.mu.Lock()
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.channels[channel] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case event := <-sub.events:
				fn(event)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.channels[channel]; ok {
				delete(subs, sub)
				if len(subs) == 0 {
					delete(h.channels, channel)
				}
			}
			h.mu.Unlock()
			close(sub.done)
		})
	}
}

// Dispatch queues event for every subscriber of its ticket channel.
func (h *Hub) Dispatch(event MessageInserted) {
	channel := Channel(event.TicketID)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[channel] {
		select {
		case sub.events <- event:
		default:
			log.Printf("realtime: dropping message %s on %s, subscriber queue full", event.ID, channel)
		}
	}
}

// Notify dispatches in-process; it lets the Hub act as the local feed.
func (h *Hub) Notify(_ context.Context, event MessageInserted) error {
	h.Dispatch(event)
	return nil
}

// Subscribers reports how many subscribers listen on the ticket's channel.
func (h *Hub) Subscribers(ticketID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[Channel(ticketID)])
}

// Nop is the Notifier used when the database itself publishes inserts.
type Nop struct{}

func (Nop) Notify(context.Context, MessageInserted) error { return nil }
