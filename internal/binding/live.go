package binding

import (
	"sync"

	"github.com/refset/support-desk/internal/model"
)

// Subscriber is satisfied by *service.Messages.
type Subscriber interface {
	Subscribe(ticketID string, fn func(model.Message)) func()
}

// Live follows the message feed of one ticket at a time.
type Live struct {
	sub       Subscriber
	onMessage func(model.Message)

	mu          sync.Mutex
	ticketID    string
	unsubscribe func()
}

func NewLive(sub Subscriber, onMessage func(model.Message)) *Live {
	return &Live{sub: sub, onMessage: onMessage}
}

// Watch switches the subscription to ticketID. An empty id only drops the
// current subscription.
func (l *Live) Watch(ticketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ticketID == l.ticketID && (ticketID == "" || l.unsubscribe != nil) {
		return
	}
	l.stopLocked()
	l.ticketID = ticketID
	if ticketID != "" {
		l.unsubscribe = l.sub.Subscribe(ticketID, l.onMessage)
	}
}

// TicketID returns the watched ticket, or "" when idle.
func (l *Live) TicketID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticketID
}

func (l *Live) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopLocked()
	l.ticketID = ""
}

func (l *Live) stopLocked() {
	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
}
