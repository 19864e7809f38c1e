package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/realtime"
)

// fetchTimeout bounds the re-fetch a subscription does for each event.
const fetchTimeout = 10 * time.Second

// SendMessage is a chat entry posted by a customer or an admin.
type SendMessage struct {
	TicketID    string                `json:"ticket_id"`
	Content     string                `json:"content"`
	SenderType  model.SenderType      `json:"sender_type"`
	SenderName  string                `json:"sender_name"`
	Attachments []model.NewAttachment `json:"attachments,omitempty"`
}

// Messages wraps message queries, sends and the per-ticket change feed.
type Messages struct {
	store    backend.Store
	notifier realtime.Notifier
	hub      *realtime.Hub
}

// NewMessages wires the store with the feed. notifier is told about every
// insert (the hub itself for the local feed, a Kafka publisher, or
// realtime.Nop when the database publishes); hub serves subscriptions.
func NewMessages(store backend.Store, notifier realtime.Notifier, hub *realtime.Hub) *Messages {
	return &Messages{store: store, notifier: notifier, hub: hub}
}

// ByTicket returns the ticket's messages oldest first, with attachments.
func (m *Messages) ByTicket(ctx context.Context, ticketID string) ([]model.Message, error) {
	messages, err := m.store.ListMessages(ctx, ticketID)
	if err != nil {
		return nil, fail(ErrFetchMessages, err)
	}
	return messages, nil
}

func (m *Messages) Send(ctx context.Context, in SendMessage) (model.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	in.SenderName = strings.TrimSpace(in.SenderName)
	switch {
	case in.TicketID == "":
		return model.Message{}, fail(ErrSendMessage, invalid("ticket id is required"))
	case in.Content == "":
		return model.Message{}, fail(ErrSendMessage, invalid("message content is required"))
	case !in.SenderType.Valid():
		return model.Message{}, fail(ErrSendMessage, invalid("unknown sender type %q", in.SenderType))
	case in.SenderName == "":
		return model.Message{}, fail(ErrSendMessage, invalid("sender name is required"))
	}

	msg, err := m.insert(ctx, backend.NewMessage{
		TicketID:    in.TicketID,
		Content:     in.Content,
		SenderType:  in.SenderType,
		SenderName:  in.SenderName,
		Attachments: in.Attachments,
	})
	if err != nil {
		return model.Message{}, fail(ErrSendMessage, err)
	}
	return msg, nil
}

// insert stores the message and announces it on the feed. A failed
// announcement is logged; the message is already committed.
func (m *Messages) insert(ctx context.Context, in backend.NewMessage) (model.Message, error) {
	msg, err := m.store.InsertMessage(ctx, in)
	if err != nil {
		return model.Message{}, err
	}
	event := realtime.MessageInserted{ID: msg.ID, TicketID: msg.TicketID}
	if err := m.notifier.Notify(ctx, event); err != nil {
		log.Printf("announce message %s on %s: %v", msg.ID, realtime.Channel(msg.TicketID), err)
	}
	return msg, nil
}

// Subscribe calls fn with every message inserted into the ticket from now
// on, re-fetched with its attachments. The returned function unsubscribes.
func (m *Messages) Subscribe(ticketID string, fn func(model.Message)) func() {
	return m.hub.Subscribe(ticketID, func(event realtime.MessageInserted) {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		msg, err := m.store.GetMessage(ctx, event.ID)
		if err != nil {
			log.Printf("fetch message %s for %s: %v", event.ID, realtime.Channel(ticketID), err)
			return
		}
		fn(msg)
	})
}
