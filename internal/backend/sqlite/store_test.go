package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/model"
)

// tickingClock returns a clock that advances one second per call so row
// ordering by timestamp is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "support.db")
	store, err := Open(context.Background(), path, WithClock(tickingClock()))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedTicket(t *testing.T, store *Store, name, email, subject string) model.Ticket {
	t.Helper()
	ctx := context.Background()
	customer, err := store.FindCustomerByEmail(ctx, email)
	if errors.Is(err, backend.ErrNotFound) {
		customer, err = store.InsertCustomer(ctx, name, email)
	}
	if err != nil {
		t.Fatalf("customer: %v", err)
	}
	ticket, err := store.InsertTicket(ctx, customer.ID, subject)
	if err != nil {
		t.Fatalf("insert ticket: %v", err)
	}
	return ticket
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "support.db")
	for i := 0; i < 2; i++ {
		store, err := Open(context.Background(), path)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("close #%d: %v", i+1, err)
		}
	}
}

func TestCustomerLookupAndRename(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.FindCustomerByEmail(ctx, "ada@example.com"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("find missing customer err = %v, want ErrNotFound", err)
	}

	created, err := store.InsertCustomer(ctx, "Ada", "ada@example.com")
	if err != nil {
		t.Fatalf("insert customer: %v", err)
	}
	found, err := store.FindCustomerByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("find customer: %v", err)
	}
	if found.ID != created.ID {
		t.Fatalf("id = %q, want %q", found.ID, created.ID)
	}

	renamed, err := store.UpdateCustomerName(ctx, created.ID, "Ada Lovelace")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if renamed.Name != "Ada Lovelace" {
		t.Fatalf("name = %q, want %q", renamed.Name, "Ada Lovelace")
	}
	if !renamed.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v <= %v", renamed.UpdatedAt, created.UpdatedAt)
	}

	if _, err := store.InsertCustomer(ctx, "Other", "ada@example.com"); err == nil {
		t.Fatal("expected duplicate email error")
	}
}

func TestGetTicketIncludesCustomer(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ticket := seedTicket(t, store, "Grace", "grace@example.com", "Printer on fire")

	got, err := store.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Status != model.StatusOpen {
		t.Fatalf("status = %q, want open", got.Status)
	}
	if got.Customer == nil || got.Customer.Email != "grace@example.com" {
		t.Fatalf("customer = %+v, want grace@example.com", got.Customer)
	}

	if _, err := store.GetTicket(context.Background(), "missing"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("missing ticket err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTicketStatus(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	ticket := seedTicket(t, store, "Grace", "grace@example.com", "Login loop")

	if err := store.UpdateTicketStatus(ctx, ticket.ID, model.StatusResolved); err != nil {
		t.Fatalf("update status: %v", err)
	}
	got, err := store.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Status != model.StatusResolved {
		t.Fatalf("status = %q, want resolved", got.Status)
	}
	if !got.UpdatedAt.After(ticket.UpdatedAt) {
		t.Fatal("updated_at did not advance")
	}

	if err := store.UpdateTicketStatus(ctx, "missing", model.StatusClosed); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("missing ticket err = %v, want ErrNotFound", err)
	}
}

func TestInsertMessageWithAttachments(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	ticket := seedTicket(t, store, "Grace", "grace@example.com", "Broken invoice")

	msg, err := store.InsertMessage(ctx, backend.NewMessage{
		TicketID:   ticket.ID,
		Content:    "See attached",
		SenderType: model.SenderCustomer,
		SenderName: "Grace",
		Attachments: []model.NewAttachment{
			{FileName: "invoice.pdf", FileURL: "http://files/a.pdf", FileType: "application/pdf", FileSize: 1200},
			{FileName: "notes", FileURL: "http://files/b"},
		},
	})
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(msg.Attachments))
	}

	got, err := store.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if len(got.Attachments) != 2 {
		t.Fatalf("fetched attachments = %d, want 2", len(got.Attachments))
	}
	if got.Attachments[0].FileType == nil || *got.Attachments[0].FileType != "application/pdf" {
		t.Fatalf("file_type = %v, want application/pdf", got.Attachments[0].FileType)
	}
	if got.Attachments[1].FileType != nil {
		t.Fatalf("file_type = %v, want NULL", *got.Attachments[1].FileType)
	}

	reloaded, err := store.GetTicket(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if !reloaded.LastMessageAt.Equal(msg.CreatedAt) {
		t.Fatalf("last_message_at = %v, want %v", reloaded.LastMessageAt, msg.CreatedAt)
	}
}

func TestInsertMessageUnknownTicket(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.InsertMessage(context.Background(), backend.NewMessage{
		TicketID:   "missing",
		Content:    "hello",
		SenderType: model.SenderAdmin,
		SenderName: "Support",
	})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListMessagesOrderedOldestFirst(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	ticket := seedTicket(t, store, "Grace", "grace@example.com", "Refund")
	other := seedTicket(t, store, "Linus", "linus@example.com", "Other")

	contents := []string{"first", "second", "third"}
	for i, content := range contents {
		sender := model.SenderCustomer
		if i%2 == 1 {
			sender = model.SenderAdmin
		}
		var atts []model.NewAttachment
		if i == 2 {
			atts = []model.NewAttachment{{FileName: "x.png", FileURL: "http://files/x.png", FileType: "image/png", FileSize: 10}}
		}
		if _, err := store.InsertMessage(ctx, backend.NewMessage{
			TicketID: ticket.ID, Content: content, SenderType: sender, SenderName: "n", Attachments: atts,
		}); err != nil {
			t.Fatalf("insert %q: %v", content, err)
		}
	}
	if _, err := store.InsertMessage(ctx, backend.NewMessage{
		TicketID: other.ID, Content: "elsewhere", SenderType: model.SenderCustomer, SenderName: "Linus",
	}); err != nil {
		t.Fatalf("insert other: %v", err)
	}

	messages, err := store.ListMessages(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("messages = %d, want %d", len(messages), len(contents))
	}
	for i, msg := range messages {
		if msg.Content != contents[i] {
			t.Fatalf("message[%d] = %q, want %q", i, msg.Content, contents[i])
		}
	}
	if len(messages[0].Attachments) != 0 || len(messages[2].Attachments) != 1 {
		t.Fatalf("attachment counts = %d/%d, want 0/1", len(messages[0].Attachments), len(messages[2].Attachments))
	}

	empty, err := store.ListMessages(ctx, "missing")
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("empty = %#v, want empty non-nil slice", empty)
	}
}

func TestListTicketsFiltersAndOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	billing := seedTicket(t, store, "Grace Hopper", "grace@example.com", "Billing question")
	outage := seedTicket(t, store, "Linus", "linus@example.com", "Site outage 100%")
	login := seedTicket(t, store, "Grace Hopper", "grace@example.com", "Cannot log in")

	// A new message on the oldest ticket moves it to the top.
	if _, err := store.InsertMessage(ctx, backend.NewMessage{
		TicketID: billing.ID, Content: "any update?", SenderType: model.SenderCustomer, SenderName: "Grace Hopper",
		Attachments: []model.NewAttachment{{FileName: "a.txt", FileURL: "u", FileSize: 1}},
	}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := store.UpdateTicketStatus(ctx, outage.ID, model.StatusPending); err != nil {
		t.Fatalf("update status: %v", err)
	}

	all, err := store.ListTickets(ctx, backend.TicketQuery{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	wantOrder := []string{billing.ID, login.ID, outage.ID}
	if len(all) != len(wantOrder) {
		t.Fatalf("all = %d rows, want %d", len(all), len(wantOrder))
	}
	for i, id := range wantOrder {
		if all[i].ID != id {
			t.Fatalf("row %d = %q (%s), want %q", i, all[i].ID, all[i].Subject, id)
		}
	}
	if all[0].MessageCount != 1 || all[0].AttachmentCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", all[0].MessageCount, all[0].AttachmentCount)
	}

	cases := []struct {
		name  string
		query backend.TicketQuery
		want  []string
	}{
		{"by customer", backend.TicketQuery{CustomerEmail: "grace@example.com"}, []string{billing.ID, login.ID}},
		{"by status", backend.TicketQuery{Status: model.StatusPending}, []string{outage.ID}},
		{"search subject case-insensitive", backend.TicketQuery{Search: "BILLING"}, []string{billing.ID}},
		{"search customer name", backend.TicketQuery{Search: "hopper"}, []string{billing.ID, login.ID}},
		{"search email", backend.TicketQuery{Search: "linus@"}, []string{outage.ID}},
		{"percent is literal", backend.TicketQuery{Search: "100%"}, []string{outage.ID}},
		{"underscore is literal", backend.TicketQuery{Search: "_"}, nil},
		{"status and search", backend.TicketQuery{Status: model.StatusOpen, Search: "grace"}, []string{billing.ID, login.ID}},
	}
	for _, tc := range cases {
		got, err := store.ListTickets(ctx, tc.query)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %d rows, want %d", tc.name, len(got), len(tc.want))
		}
		for i, id := range tc.want {
			if got[i].ID != id {
				t.Fatalf("%s: row %d = %q, want %q", tc.name, i, got[i].ID, id)
			}
		}
	}
}

func TestListTicketsSearchFoldsUnicode(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	invoice := seedTicket(t, store, "Élodie Müller", "elodie@example.com", "Ärger mit Rechnung")
	seedTicket(t, store, "Grace Hopper", "grace@example.com", "Billing question")

	for _, term := range []string{"élodie", "Élodie", "ÉLODIE", "ärger", "ÄRGER", "MÜLLER", "rechnung"} {
		got, err := store.ListTickets(ctx, backend.TicketQuery{Search: term})
		if err != nil {
			t.Fatalf("search %q: %v", term, err)
		}
		if len(got) != 1 || got[0].ID != invoice.ID {
			t.Fatalf("search %q = %+v, want the invoice ticket", term, got)
		}
	}
}
