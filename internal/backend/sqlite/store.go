// Package sqlite provides a SQLite-backed support store. It is used for
// single-node deployments and as the store behind the package tests.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/backend/sqlite/migrations"
	"github.com/refset/support-desk/internal/model"
)

// foldFunc is the SQL name of a Unicode lowercase fold. SQLite's lower()
// only folds ASCII, so search applies foldFunc to both columns and pattern.
const foldFunc = "support_fold"

func init() {
	msqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, fold)
}

func fold(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// Store persists customers, tickets, messages and attachments in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ backend.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite serializes writers anyway; one connection keeps transactions
	// from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (model.Customer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at, updated_at FROM customers WHERE email = ?`, email)
	return scanCustomer(row)
}

func (s *Store) InsertCustomer(ctx context.Context, name, email string) (model.Customer, error) {
	now := s.now().UTC()
	c := model.Customer{
		ID:        uuid.NewString(),
		Name:      name,
		Email:     email,
		CreatedAt: fromMillis(toMillis(now)),
		UpdatedAt: fromMillis(toMillis(now)),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Email, toMillis(now), toMillis(now))
	if err != nil {
		return model.Customer{}, fmt.Errorf("insert customer: %w", err)
	}
	return c, nil
}

func (s *Store) UpdateCustomerName(ctx context.Context, id, name string) (model.Customer, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE customers SET name = ?, updated_at = ? WHERE id = ?`,
		name, toMillis(s.now()), id)
	if err != nil {
		return model.Customer{}, fmt.Errorf("update customer: %w", err)
	}
	if err := requireRow(res); err != nil {
		return model.Customer{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, email, created_at, updated_at FROM customers WHERE id = ?`, id)
	return scanCustomer(row)
}

func (s *Store) InsertTicket(ctx context.Context, customerID, subject string) (model.Ticket, error) {
	now := fromMillis(toMillis(s.now()))
	t := model.Ticket{
		ID:            uuid.NewString(),
		CustomerID:    customerID,
		Subject:       subject,
		Status:        model.StatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, customer_id, subject, status, created_at, updated_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CustomerID, t.Subject, string(t.Status),
		toMillis(now), toMillis(now), toMillis(now))
	if err != nil {
		return model.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (model.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.customer_id, t.subject, t.status, t.created_at, t.updated_at, t.last_message_at,
		       c.id, c.name, c.email, c.created_at, c.updated_at
		FROM tickets t
		JOIN customers c ON c.id = t.customer_id
		WHERE t.id = ?`, id)

	var (
		t                                model.Ticket
		c                                model.Customer
		status                           string
		created, updated, lastMessage    int64
		customerCreated, customerUpdated int64
	)
	err := row.Scan(&t.ID, &t.CustomerID, &t.Subject, &status, &created, &updated, &lastMessage,
		&c.ID, &c.Name, &c.Email, &customerCreated, &customerUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Ticket{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Ticket{}, fmt.Errorf("query ticket: %w", err)
	}
	t.Status = model.Status(status)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	t.LastMessageAt = fromMillis(lastMessage)
	c.CreatedAt = fromMillis(customerCreated)
	c.UpdatedAt = fromMillis(customerUpdated)
	t.Customer = &c
	return t, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id string, status model.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), toMillis(s.now()), id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListTickets(ctx context.Context, q backend.TicketQuery) ([]model.TicketListView, error) {
	query := `
		SELECT id, subject, status, created_at, updated_at, last_message_at,
		       customer_name, customer_email, message_count, attachment_count
		FROM ticket_list_view
		WHERE 1=1`
	var args []any

	if q.CustomerEmail != "" {
		query += ` AND customer_email = ?`
		args = append(args, q.CustomerEmail)
	}
	if q.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(q.Status))
	}
	if q.Search != "" {
		pattern := backend.LikePattern(q.Search)
		query += ` AND (support_fold(subject) LIKE support_fold(?) ESCAPE '\'
		            OR support_fold(customer_name) LIKE support_fold(?) ESCAPE '\'
		            OR support_fold(customer_email) LIKE support_fold(?) ESCAPE '\')`
		args = append(args, pattern, pattern, pattern)
	}
	query += ` ORDER BY last_message_at DESC, created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}
	defer rows.Close()

	views := []model.TicketListView{}
	for rows.Next() {
		var (
			v                             model.TicketListView
			status                        string
			created, updated, lastMessage int64
		)
		if err := rows.Scan(&v.ID, &v.Subject, &status, &created, &updated, &lastMessage,
			&v.CustomerName, &v.CustomerEmail, &v.MessageCount, &v.AttachmentCount); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		v.Status = model.Status(status)
		v.CreatedAt = fromMillis(created)
		v.UpdatedAt = fromMillis(updated)
		v.LastMessageAt = fromMillis(lastMessage)
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return views, nil
}

func (s *Store) InsertMessage(ctx context.Context, in backend.NewMessage) (model.Message, error) {
	now := fromMillis(toMillis(s.now()))
	msg := model.Message{
		ID:          uuid.NewString(),
		TicketID:    in.TicketID,
		Content:     in.Content,
		SenderType:  in.SenderType,
		SenderName:  in.SenderName,
		CreatedAt:   now,
		Attachments: []model.Attachment{},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Message{}, fmt.Errorf("begin message insert: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM tickets WHERE id = ?`, msg.TicketID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("check ticket: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, ticket_id, content, sender_type, sender_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TicketID, msg.Content, string(msg.SenderType), msg.SenderName, toMillis(now),
	); err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}

	for _, na := range in.Attachments {
		size := na.FileSize
		att := model.Attachment{
			ID:        uuid.NewString(),
			MessageID: msg.ID,
			FileName:  na.FileName,
			FileURL:   na.FileURL,
			FileType:  backend.NullableType(na.FileType),
			FileSize:  &size,
			CreatedAt: now,
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO attachments (id, message_id, file_name, file_url, file_type, file_size, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			att.ID, att.MessageID, att.FileName, att.FileURL, att.FileType, size, toMillis(now),
		); err != nil {
			return model.Message{}, fmt.Errorf("insert attachment: %w", err)
		}
		msg.Attachments = append(msg.Attachments, att)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tickets SET last_message_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(now), toMillis(now), msg.TicketID)
	if err != nil {
		return model.Message{}, fmt.Errorf("touch ticket: %w", err)
	}
	if err := requireRow(res); err != nil {
		return model.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.Message{}, fmt.Errorf("commit message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, ticketID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ticket_id, content, sender_type, sender_name, created_at
		FROM messages
		WHERE ticket_id = ?
		ORDER BY created_at ASC, rowid ASC`, ticketID)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	rows.Close()

	byID, err := s.attachmentsForTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if atts, ok := byID[messages[i].ID]; ok {
			messages[i].Attachments = atts
		}
	}
	return messages, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, ticket_id, content, sender_type, sender_name, created_at
		FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return model.Message{}, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, file_name, file_url, file_type, file_size, created_at
		FROM attachments WHERE message_id = ?
		ORDER BY created_at, rowid`, id)
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

func (s *Store) attachmentsForTicket(ctx context.Context, ticketID string) (map[string][]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.message_id, a.file_name, a.file_url, a.file_type, a.file_size, a.created_at
		FROM attachments a
		JOIN messages m ON m.id = a.message_id
		WHERE m.ticket_id = ?
		ORDER BY a.created_at, a.rowid`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	byID := make(map[string][]model.Attachment)
	for rows.Next() {
		att, err := scanAttachment(rows)
		if err != nil {
			return nil, err
		}
		byID[att.MessageID] = append(byID[att.MessageID], att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return byID, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (model.Customer, error) {
	var (
		c                model.Customer
		created, updated int64
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Customer{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Customer{}, fmt.Errorf("scan customer: %w", err)
	}
	c.CreatedAt = fromMillis(created)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func scanMessage(row scanner) (model.Message, error) {
	var (
		msg        model.Message
		senderType string
		created    int64
	)
	err := row.Scan(&msg.ID, &msg.TicketID, &msg.Content, &senderType, &msg.SenderName, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Message{}, backend.ErrNotFound
	}
	if err != nil {
		return model.Message{}, fmt.Errorf("scan message: %w", err)
	}
	msg.SenderType = model.SenderType(senderType)
	msg.CreatedAt = fromMillis(created)
	msg.Attachments = []model.Attachment{}
	return msg, nil
}

func scanAttachment(row scanner) (model.Attachment, error) {
	var (
		att      model.Attachment
		fileType sql.NullString
		fileSize sql.NullInt64
		created  int64
	)
	if err := row.Scan(&att.ID, &att.MessageID, &att.FileName, &att.FileURL,
		&fileType, &fileSize, &created); err != nil {
		return model.Attachment{}, fmt.Errorf("scan attachment: %w", err)
	}
	if fileType.Valid {
		att.FileType = &fileType.String
	}
	if fileSize.Valid {
		att.FileSize = &fileSize.Int64
	}
	att.CreatedAt = fromMillis(created)
	return att, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return backend.ErrNotFound
	}
	return nil
}
