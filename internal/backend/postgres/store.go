// Package postgres implements the support store on PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// NotifyChannel is the LISTEN channel the insert trigger publishes to.
const NotifyChannel = "message_inserts"

type Store struct {
	pool *pgxpool.Pool
}

var _ backend.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for connString and verifies it with a ping.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for the change-feed listener.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Migrate creates tables, the list view and the insert trigger.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (model.Customer, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, email, created_at, updated_at FROM customers WHERE email = $1`, email)
	return scanCustomer(row)
}

func (s *Store) InsertCustomer(ctx context.Context, name, email string) (model.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO customers (id, name, email) VALUES ($1, $2, $3)
		RETURNING id, name, email, created_at, updated_at`,
		uuid.NewString(), name, email)
	c, err := scanCustomer(row)
	if err != nil {
		return model.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateCustomerName(ctx context.Context, id, name string) (model.Customer, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE customers SET name = $1, updated_at = now() WHERE id = $2
		RETURNING id, name, email, created_at, updated_at`,
		name, id)
	return scanCustomer(row)
}

func (s *Store) InsertTicket(ctx context.Context, customerID, subject string) (model.Ticket, error) {
	var t model.Ticket
	var status string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tickets (id, customer_id, subject, status) VALUES ($1, $2, $3, 'open')
		RETURNING id, customer_id, subject, status, created_at, updated_at, last_message_at`,
		uuid.NewString(), customerID, subject,
	).Scan(&t.ID, &t.CustomerID, &t.Subject, &status, &t.CreatedAt, &t.UpdatedAt, &t.LastMessageAt)
	if err != nil {
		return model.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	t.Status = model.Status(status)
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	var (
		t      model.Ticket
		c      model.Customer
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.customer_id, t.subject, t.status, t.created_at, t.updated_at, t.last_message_at,
		       c.id, c.name, c.email, c.created_at, c.updated_at
		FROM tickets t
		JOIN customers c ON c.id = t.customer_id
		WHERE t.id = $1`, id,
	).Scan(&t.ID, &t.CustomerID, &t.Subject, &status, &t.CreatedAt, &t.UpdatedAt, &t.LastMessageAt,
		&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Ticket{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Ticket{}, fmt.Errorf("query ticket: %w", err)
	}
	t.Status = model.Status(status)
	t.Customer = &c
	return t, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status model.Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tickets SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (s *Store) ListTickets(ctx context.Context, q backend.TicketQuery) ([]model.TicketListView, error) {
	var (
		where []string
		args  []any
	)
	if q.CustomerEmail != "" {
		args = append(args, q.CustomerEmail)
		where = append(where, fmt.Sprintf("customer_email = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Search != "" {
		args = append(args, backend.LikePattern(q.Search))
		n := len(args)
		where = append(where, fmt.Sprintf(
			`(subject ILIKE $%d ESCAPE '\' OR customer_name ILIKE $%d ESCAPE '\' OR customer_email ILIKE $%d ESCAPE '\')`,
			n, n, n))
	}

	query := `
		SELECT id, subject, status, created_at, updated_at, last_message_at,
		       customer_name, customer_email, message_count, attachment_count
		FROM ticket_list_view`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY last_message_at DESC, created_at DESC, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	views := []model.TicketListView{}
	for rows.Next() {
		var v model.TicketListView
		var status string
		if err := rows.Scan(&v.ID, &v.Subject, &status, &v.CreatedAt, &v.UpdatedAt, &v.LastMessageAt,
			&v.CustomerName, &v.CustomerEmail, &v.MessageCount, &v.AttachmentCount); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		v.Status = model.Status(status)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return views, nil
}

// InsertMessage runs in one transaction so the NOTIFY raised by the insert
// trigger is delivered only once the attachments are visible.
func (s *Store) InsertMessage(ctx context.Context, in backend.NewMessage) (model.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Message{}, fmt.Errorf("begin message insert: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE tickets SET last_message_at = now(), updated_at = now() WHERE id = $1`, in.TicketID)
	if err != nil {
		return model.Message{}, fmt.Errorf("touch ticket: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Message{}, backend.ErrNotFound
	}

	var msg model.Message
	var senderType string
	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, ticket_id, content, sender_type, sender_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, ticket_id, content, sender_type, sender_name, created_at`,
		uuid.NewString(), in.TicketID, in.Content, string(in.SenderType), in.SenderName,
	).Scan(&msg.ID, &msg.TicketID, &msg.Content, &senderType, &msg.SenderName, &msg.CreatedAt)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.SenderType = model.SenderType(senderType)
	msg.Attachments = []model.Attachment{}

	for _, na := range in.Attachments {
		row := tx.QueryRow(ctx, `
			INSERT INTO attachments (id, message_id, file_name, file_url, file_type, file_size)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, message_id, file_name, file_url, file_type, file_size, created_at`,
			uuid.NewString(), msg.ID, na.FileName, na.FileURL, backend.NullableType(na.FileType), na.FileSize)
		att, err := scanAttachment(row)
		if err != nil {
			return model.Message{}, fmt.Errorf("insert attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, ticketID string) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, ticket_id, content, sender_type, sender_name, created_at
		FROM messages
		WHERE ticket_id = $1
		ORDER BY created_at ASC, seq ASC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		messages = append(messages, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	attRows, err := s.pool.Query(ctx, `
		SELECT a.id, a.message_id, a.file_name, a.file_url, a.file_type, a.file_size, a.created_at
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE m.ticket_id = $1
		ORDER BY a.created_at, a.seq`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer attRows.Close()

	index := make(map[string]int, len(messages))
	for i, msg := range messages {
		index[msg.ID] = i
	}
	for attRows.Next() {
		att, err := scanAttachment(attRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[att.MessageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, att)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return messages, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	msg, err := scanMessage(s.pool.QueryRow(ctx, `
		SELECT id, ticket_id, content, sender_type, sender_name, created_at
		FROM messages WHERE id = $1`, id))
	if err != nil {
		return model.Message{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, file_name, file_url, file_type, file_size, created_at
		FROM attachments WHERE message_id = $1
		ORDER BY created_at, seq`, id)
	if err != nil {
		return model.Message{}, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return model.Message{}, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	if err := rows.Err(); err != nil {
		return model.Message{}, fmt.Errorf("iterate attachments: %w", err)
	}
	return msg, nil
}

func scanCustomer(row pgx.Row) (model.Customer, error) {
	var c model.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Customer{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Customer{}, fmt.Errorf("scan customer: %w", err)
	}
	return c, nil
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var msg model.Message
	var senderType string
	err := row.Scan(&msg.ID, &msg.TicketID, &msg.Content, &senderType, &msg.SenderName, &msg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Message{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg.SenderType = model.SenderType(senderType)
	msg.Attachments = []model.Attachment{}
	return msg, nil
}

func scanAttachment(row pgx.Row) (model.Attachment, error) {
	var att model.Attachment
	if err := row.Scan(&att.ID, &att.MessageID, &att.FileName, &att.FileURL,
		&att.FileType, &att.FileSize, &att.CreatedAt); err != nil {
		return model.Attachment{}, fmt.Errorf("scan attachment: %w", err)
	}
	return att, nil
}
