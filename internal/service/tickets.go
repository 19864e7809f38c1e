package service

import (
	"context"
	"errors"
	"strings"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/model"
)

// StatusAll is the filter value that disables status filtering.
const StatusAll = "all"

// CreateTicket is the input of the new-ticket form.
type CreateTicket struct {
	CustomerName   string                `json:"customer_name"`
	CustomerEmail  string                `json:"customer_email"`
	Subject        string                `json:"subject"`
	InitialMessage string                `json:"initial_message"`
	Attachments    []model.NewAttachment `json:"attachments,omitempty"`
}

// Tickets wraps ticket queries and mutations.
type Tickets struct {
	store    backend.Store
	messages *Messages
}

func NewTickets(store backend.Store, messages *Messages) *Tickets {
	return &Tickets{store: store, messages: messages}
}

// All returns every ticket, most recent activity first.
func (t *Tickets) All(ctx context.Context) ([]model.TicketListView, error) {
	views, err := t.store.ListTickets(ctx, backend.TicketQuery{})
	if err != nil {
		return nil, fail(ErrFetchTickets, err)
	}
	return views, nil
}

func (t *Tickets) ByCustomer(ctx context.Context, email string) ([]model.TicketListView, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fail(ErrFetchCustomerTickets, invalid("customer email is required"))
	}
	views, err := t.store.ListTickets(ctx, backend.TicketQuery{CustomerEmail: email})
	if err != nil {
		return nil, fail(ErrFetchCustomerTickets, err)
	}
	return views, nil
}

// ByID returns the ticket with its customer.
func (t *Tickets) ByID(ctx context.Context, id string) (model.Ticket, error) {
	ticket, err := t.store.GetTicket(ctx, id)
	if err != nil {
		return model.Ticket{}, fail(ErrFetchTicket, err)
	}
	return ticket, nil
}

// Create opens a ticket for the customer identified by email, creating or
// renaming the customer as needed, and posts the initial message.
func (t *Tickets) Create(ctx context.Context, in CreateTicket) (model.Ticket, error) {
	in.CustomerName = strings.TrimSpace(in.CustomerName)
	in.CustomerEmail = strings.TrimSpace(in.CustomerEmail)
	in.Subject = strings.TrimSpace(in.Subject)
	in.InitialMessage = strings.TrimSpace(in.InitialMessage)
	switch {
	case in.CustomerName == "":
		return model.Ticket{}, fail(ErrCreateTicket, invalid("customer name is required"))
	case in.CustomerEmail == "":
		return model.Ticket{}, fail(ErrCreateTicket, invalid("customer email is required"))
	case in.Subject == "":
		return model.Ticket{}, fail(ErrCreateTicket, invalid("subject is required"))
	case in.InitialMessage == "":
		return model.Ticket{}, fail(ErrCreateTicket, invalid("initial message is required"))
	}

	customer, err := t.ensureCustomer(ctx, in.CustomerName, in.CustomerEmail)
	if err != nil {
		return model.Ticket{}, fail(ErrCreateTicket, err)
	}

	ticket, err := t.store.InsertTicket(ctx, customer.ID, in.Subject)
	if err != nil {
		return model.Ticket{}, fail(ErrCreateTicket, err)
	}

	msg, err := t.messages.insert(ctx, backend.NewMessage{
		TicketID:    ticket.ID,
		Content:     in.InitialMessage,
		SenderType:  model.SenderCustomer,
		SenderName:  customer.Name,
		Attachments: in.Attachments,
	})
	if err != nil {
		return model.Ticket{}, fail(ErrCreateTicket, err)
	}
	ticket.LastMessageAt = msg.CreatedAt
	ticket.UpdatedAt = msg.CreatedAt
	ticket.Customer = &customer
	return ticket, nil
}

func (t *Tickets) ensureCustomer(ctx context.Context, name, email string) (model.Customer, error) {
	existing, err := t.store.FindCustomerByEmail(ctx, email)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		return t.store.InsertCustomer(ctx, name, email)
	case err != nil:
		return model.Customer{}, err
	case existing.Name != name:
		return t.store.UpdateCustomerName(ctx, existing.ID, name)
	default:
		return existing, nil
	}
}

func (t *Tickets) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return fail(ErrUpdateStatus, invalid("unknown ticket status %q", status))
	}
	if err := t.store.UpdateTicketStatus(ctx, id, status); err != nil {
		return fail(ErrUpdateStatus, err)
	}
	return nil
}

// Search matches query against subject, customer name and email. An empty
// query lists everything.
func (t *Tickets) Search(ctx context.Context, query string) ([]model.TicketListView, error) {
	views, err := t.store.ListTickets(ctx, backend.TicketQuery{Search: strings.TrimSpace(query)})
	if err != nil {
		return nil, fail(ErrSearchTickets, err)
	}
	return views, nil
}

// FilterByStatus lists tickets in one status; "all" or "" lists everything.
func (t *Tickets) FilterByStatus(ctx context.Context, status string) ([]model.TicketListView, error) {
	if status == "" || status == StatusAll {
		return t.All(ctx)
	}
	parsed, err := model.ParseStatus(status)
	if err != nil {
		return nil, fail(ErrFilterTickets, invalid("%v", err))
	}
	views, err := t.store.ListTickets(ctx, backend.TicketQuery{Status: parsed})
	if err != nil {
		return nil, fail(ErrFilterTickets, err)
	}
	return views, nil
}

// Query combines the status filter and search box of the admin sidebar.
func (t *Tickets) Query(ctx context.Context, status, search string) ([]model.TicketListView, error) {
	q := backend.TicketQuery{Search: strings.TrimSpace(search)}
	if status != "" && status != StatusAll {
		parsed, err := model.ParseStatus(status)
		if err != nil {
			return nil, fail(ErrFilterTickets, invalid("%v", err))
		}
		q.Status = parsed
	}
	views, err := t.store.ListTickets(ctx, q)
	if err != nil {
		return nil, fail(ErrFilterTickets, err)
	}
	return views, nil
}
