package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Statuses lists every ticket status in lifecycle order.
var Statuses = []Status{StatusOpen, StatusPending, StatusResolved, StatusClosed}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// ParseStatus converts a raw string into a Status.
func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown ticket status %q", raw)
	}
	return s, nil
}

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAdmin    SenderType = "admin"
)

func (t SenderType) Valid() bool {
	return t == SenderCustomer || t == SenderAdmin
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ticket is a support case opened by a customer.
type Ticket struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	Subject       string    `json:"subject"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastMessageAt time.Time `json:"last_message_at"`

	// Customer is populated by lookups that join the owning customer.
	Customer *Customer `json:"customers,omitempty"`
}

// Message is a single chat entry within a ticket.
type Message struct {
	ID          string       `json:"id"`
	TicketID    string       `json:"ticket_id"`
	Content     string       `json:"content"`
	SenderType  SenderType   `json:"sender_type"`
	SenderName  string       `json:"sender_name"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment references a stored file that belongs to a message.
type Attachment struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	FileType  *string   `json:"file_type"`
	FileSize  *int64    `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAttachment is the client-supplied part of an attachment row, usually
// the result of an upload.
type NewAttachment struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileType string `json:"file_type"`
	FileSize int64  `json:"file_size"`
}

// TicketListView is the denormalized row used by ticket lists.
type TicketListView struct {
	ID              string    `json:"id"`
	Subject         string    `json:"subject"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastMessageAt   time.Time `json:"last_message_at"`
	CustomerName    string    `json:"customer_name"`
	CustomerEmail   string    `json:"customer_email"`
	MessageCount    int       `json:"message_count"`
	AttachmentCount int       `json:"attachment_count"`
}

// ShortID is the abbreviated ticket reference shown in headers.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
