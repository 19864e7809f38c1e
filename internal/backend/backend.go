// Package backend defines the data store the support services delegate to.
// Implementations live in the postgres and sqlite subpackages.
package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/refset/support-desk/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// TicketQuery filters ticket list rows. Zero fields match everything.
type TicketQuery struct {
	CustomerEmail string
	Status        model.Status
	// Search is a case-insensitive substring matched against the subject,
	// customer name and customer email.
	Search string
}

// NewMessage is a message row to insert together with its attachments.
type NewMessage struct {
	TicketID    string
	Content     string
	SenderType  model.SenderType
	SenderName  string
	Attachments []model.NewAttachment
}

// Store is the query surface of the data backend.
type Store interface {
	FindCustomerByEmail(ctx context.Context, email string) (model.Customer, error)
	InsertCustomer(ctx context.Context, name, email string) (model.Customer, error)
	UpdateCustomerName(ctx context.Context, id, name string) (model.Customer, error)

	InsertTicket(ctx context.Context, customerID, subject string) (model.Ticket, error)
	GetTicket(ctx context.Context, id string) (model.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status model.Status) error
	ListTickets(ctx context.Context, query TicketQuery) ([]model.TicketListView, error)

	// InsertMessage stores the message and its attachments atomically and
	// moves the ticket's last_message_at forward.
	InsertMessage(ctx context.Context, msg NewMessage) (model.Message, error)
	ListMessages(ctx context.Context, ticketID string) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)

	Close() error
}

// LikePattern turns a search term into a LIKE pattern that matches it as a
// literal substring. Backslash is the escape character.
func LikePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// NullableType returns nil for an empty MIME type so it is stored as NULL.
func NullableType(fileType string) *string {
	if fileType == "" {
		return nil
	}
	return &fileType
}
