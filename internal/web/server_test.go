package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/refset/support-desk/internal/backend/sqlite"
	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/realtime"
	"github.com/refset/support-desk/internal/service"
	"github.com/refset/support-desk/internal/storage"
)

type testEnv struct {
	handler  http.Handler
	hub      *realtime.Hub
	tickets  *service.Tickets
	messages *service.Messages
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	var mu sync.Mutex
	current := time.Date(2026, time.May, 4, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}

	store, err := sqlite.Open(context.Background(), filepath.Join(dir, "support.db"), sqlite.WithClock(clock))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bucket, err := storage.NewDiskBucket(filepath.Join(dir, "files"), "http://support.test/files")
	if err != nil {
		t.Fatalf("bucket: %v", err)
	}

	hub := realtime.NewHub(8)
	messages := service.NewMessages(store, hub, hub)
	tickets := service.NewTickets(store, messages)
	srv, err := New(Options{
		Tickets:   tickets,
		Messages:  messages,
		Uploads:   service.NewUploads(bucket, 1<<20),
		Files:     bucket,
		AdminName: "Support Team",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{handler: srv.Handler(), hub: hub, tickets: tickets, messages: messages}
}

func (e *testEnv) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doJSON(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	return e.do(t, method, target, "application/json", raw)
}

func (e *testEnv) seed(t *testing.T, name, email, subject, message string) model.Ticket {
	t.Helper()
	ticket, err := e.tickets.Create(context.Background(), service.CreateTicket{
		CustomerName: name, CustomerEmail: email, Subject: subject, InitialMessage: message,
	})
	if err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
	return ticket
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestAPITicketLifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/tickets", service.CreateTicket{
		CustomerName:   "Ada",
		CustomerEmail:  "ada@example.com",
		Subject:        "Billing question",
		InitialMessage: "Why was I charged twice?",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	ticket := decode[model.Ticket](t, rec)
	if ticket.Status != model.StatusOpen || ticket.Customer == nil {
		t.Fatalf("ticket = %+v", ticket)
	}

	rec = env.do(t, http.MethodGet, "/api/tickets?email=ada@example.com", "", nil)
	list := decode[[]model.TicketListView](t, rec)
	if len(list) != 1 || list[0].MessageCount != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = env.doJSON(t, http.MethodPatch, "/api/tickets/"+ticket.ID+"/status", map[string]string{"status": "pending"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch = %d %s", rec.Code, rec.Body.String())
	}
	if got := decode[model.Ticket](t, rec); got.Status != model.StatusPending {
		t.Fatalf("status = %q, want pending", got.Status)
	}

	rec = env.do(t, http.MethodGet, "/api/tickets?status=pending&q=billing", "", nil)
	if list := decode[[]model.TicketListView](t, rec); len(list) != 1 {
		t.Fatalf("pending billing = %+v", list)
	}
	rec = env.do(t, http.MethodGet, "/api/tickets?status=closed", "", nil)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("closed list = %s, want []", body)
	}

	rec = env.doJSON(t, http.MethodPost, "/api/tickets/"+ticket.ID+"/messages", map[string]any{
		"content": "Refund issued", "sender_type": "admin", "sender_name": "Support Team",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/tickets/"+ticket.ID+"/messages", "", nil)
	messages := decode[[]model.Message](t, rec)
	if len(messages) != 2 || messages[1].SenderType != model.SenderAdmin {
		t.Fatalf("messages = %+v", messages)
	}
}

func TestAPIErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ticket := env.seed(t, "Ada", "ada@example.com", "Help", "hi")

	cases := []struct {
		name   string
		rec    *httptest.ResponseRecorder
		status int
	}{
		{"unknown ticket", env.do(t, http.MethodGet, "/api/tickets/missing", "", nil), http.StatusNotFound},
		{"bad filter", env.do(t, http.MethodGet, "/api/tickets?status=archived", "", nil), http.StatusBadRequest},
		{"bad status", env.doJSON(t, http.MethodPatch, "/api/tickets/"+ticket.ID+"/status", map[string]string{"status": "done"}), http.StatusBadRequest},
		{"missing fields", env.doJSON(t, http.MethodPost, "/api/tickets", map[string]string{"subject": "x"}), http.StatusBadRequest},
		{"unknown field", env.doJSON(t, http.MethodPost, "/api/tickets", map[string]string{"priority": "high"}), http.StatusBadRequest},
		{"send to missing", env.doJSON(t, http.MethodPost, "/api/tickets/missing/messages", map[string]string{
			"content": "x", "sender_type": "admin", "sender_name": "S",
		}), http.StatusNotFound},
		{"mismatched ticket", env.doJSON(t, http.MethodPost, "/api/tickets/"+ticket.ID+"/messages", map[string]string{
			"ticket_id": "other", "content": "x", "sender_type": "admin", "sender_name": "S",
		}), http.StatusBadRequest},
	}
	for _, tc := range cases {
		if tc.rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d (%s)", tc.name, tc.rec.Code, tc.status, tc.rec.Body.String())
		}
		if body := decode[map[string]string](t, tc.rec); body["error"] == "" {
			t.Fatalf("%s: missing error body", tc.name)
		}
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileField string, files map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("field: %v", err)
		}
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile(fileField, name)
		if err != nil {
			t.Fatalf("file: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return buf.Bytes(), mw.FormDataContentType()
}

func TestAPIUploadServeDelete(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body, contentType := multipartBody(t, nil, "files", map[string]string{"notes.txt": "hello"})

	rec := env.do(t, http.MethodPost, "/api/uploads", contentType, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d %s", rec.Code, rec.Body.String())
	}
	uploaded := decode[[]model.NewAttachment](t, rec)
	if len(uploaded) != 1 || uploaded[0].FileName != "notes.txt" || uploaded[0].FileSize != 5 {
		t.Fatalf("uploaded = %+v", uploaded)
	}

	fileURL, err := url.Parse(uploaded[0].FileURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	rec = env.do(t, http.MethodGet, fileURL.Path, "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "hello" {
		t.Fatalf("serve = %d %q", rec.Code, rec.Body.String())
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "max-age=3600" {
		t.Fatalf("cache-control = %q", cc)
	}

	rec = env.do(t, http.MethodDelete, "/api/uploads?url="+url.QueryEscape(uploaded[0].FileURL), "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodGet, fileURL.Path, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("after delete = %d, want 404", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/api/uploads", "application/json", []byte("{}"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-multipart upload = %d, want 400", rec.Code)
	}
}

func TestWidgetCreateAndChat(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	body, contentType := multipartBody(t, map[string]string{
		"name":    "Ada",
		"email":   "ada@example.com",
		"subject": "Login loop",
		"message": "It keeps **redirecting** <script>alert(1)</script>",
	}, "attachments", map[string]string{"trace.log": "GET /login 302"})

	rec := env.do(t, http.MethodPost, "/widget/tickets", contentType, body)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	location := rec.Header().Get("Location")
	if !strings.HasPrefix(location, "/widget/tickets/") || !strings.Contains(location, "email=ada%40example.com") {
		t.Fatalf("location = %q", location)
	}

	rec = env.do(t, http.MethodGet, location, "", nil)
	page := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("chat = %d", rec.Code)
	}
	for _, want := range []string{"Login loop", "<strong>redirecting</strong>", "trace.log", `class="row mine"`} {
		if !strings.Contains(page, want) {
			t.Fatalf("chat page missing %q", want)
		}
	}
	if strings.Contains(page, "alert(1)</script>") {
		t.Fatal("raw html from message body rendered")
	}

	rec = env.do(t, http.MethodGet, "/widget?email=ada@example.com", "", nil)
	if !strings.Contains(rec.Body.String(), "Login loop") {
		t.Fatal("widget list missing ticket")
	}
}

func TestWidgetCreateInvalid(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	form := url.Values{"name": {"Ada"}, "email": {"ada@example.com"}, "subject": {""}, "message": {"hi"}}
	rec := env.do(t, http.MethodPost, "/widget/tickets", "application/x-www-form-urlencoded", []byte(form.Encode()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subject is required") {
		t.Fatal("form error not shown")
	}
	if !strings.Contains(rec.Body.String(), `value="Ada"`) {
		t.Fatal("form values not kept")
	}
}

func TestWidgetSendUsesCustomerName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ticket := env.seed(t, "Ada", "ada@example.com", "Help", "hi")

	form := url.Values{"content": {"any update?"}}
	rec := env.do(t, http.MethodPost, "/widget/tickets/"+ticket.ID+"/messages",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("send = %d %s", rec.Code, rec.Body.String())
	}

	messages, err := env.messages.ByTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	last := messages[len(messages)-1]
	if last.SenderType != model.SenderCustomer || last.SenderName != "Ada" {
		t.Fatalf("last = %s/%s, want customer/Ada", last.SenderType, last.SenderName)
	}
}

func TestAdminDashboard(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ticket := env.seed(t, "Ada", "ada@example.com", "Printer on fire", "smoke")
	env.seed(t, "Bob", "bob@example.com", "Password reset", "locked out")

	rec := env.do(t, http.MethodGet, "/admin?q=printer&ticket="+ticket.ID, "", nil)
	page := rec.Body.String()
	if rec.Code != http.StatusOK {
		t.Fatalf("admin = %d", rec.Code)
	}
	if !strings.Contains(page, "Printer on fire") || strings.Contains(page, "Password reset") {
		t.Fatal("search did not filter the sidebar")
	}
	pending := strings.Index(page, `name="status" value="pending"`)
	closed := strings.Index(page, `name="status" value="closed"`)
	if pending < 0 || closed < 0 || pending > closed {
		t.Fatal("status buttons missing or out of order")
	}

	form := url.Values{"status": {"resolved"}, "filter": {"all"}, "q": {"printer"}}
	rec = env.do(t, http.MethodPost, "/admin/tickets/"+ticket.ID+"/status",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/admin?q=printer&ticket="+ticket.ID {
		t.Fatalf("location = %q", loc)
	}

	form = url.Values{"content": {"Extinguisher dispatched"}}
	rec = env.do(t, http.MethodPost, "/admin/tickets/"+ticket.ID+"/messages",
		"application/x-www-form-urlencoded", []byte(form.Encode()))
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("reply = %d %s", rec.Code, rec.Body.String())
	}

	got, err := env.tickets.ByID(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if got.Status != model.StatusResolved {
		t.Fatalf("status = %q, want resolved", got.Status)
	}
	messages, err := env.messages.ByTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if last := messages[len(messages)-1]; last.SenderName != "Support Team" || last.SenderType != model.SenderAdmin {
		t.Fatalf("reply = %+v", last)
	}
}

func TestEventsStreamNewMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ticket := env.seed(t, "Ada", "ada@example.com", "Live chat", "hello")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/admin/tickets/"+ticket.ID+"/events", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	sent, err := env.messages.Send(context.Background(), service.SendMessage{
		TicketID: ticket.ID, Content: "On it", SenderType: model.SenderAdmin, SenderName: "Support Team",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var event struct {
			ID   string `json:"id"`
			HTML string `json:"html"`
		}
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.ID != sent.ID {
			t.Fatalf("event id = %q, want %q", event.ID, sent.ID)
		}
		if !strings.Contains(event.HTML, "row mine") || !strings.Contains(event.HTML, "On it") {
			t.Fatalf("event html = %q", event.HTML)
		}
		return
	}
}

func TestEventsUnknownTicket(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/widget/tickets/missing/events", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFileSize(t *testing.T) {
	t.Parallel()

	n := func(v int64) *int64 { return &v }
	cases := []struct {
		in   *int64
		want string
	}{
		{nil, ""},
		{n(512), "512 B"},
		{n(2048), "2.0 KB"},
		{n(5 << 20), "5.0 MB"},
	}
	for _, tc := range cases {
		if got := fileSize(tc.in); got != tc.want {
			t.Fatalf("fileSize = %q, want %q", got, tc.want)
		}
	}
}

func TestOversizedFormRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	// Larger than the whole body limit, not just one file's limit.
	big := strings.Repeat("x", 6<<20)

	body, contentType := multipartBody(t, nil, "files", map[string]string{"big.bin": big})
	rec := env.do(t, http.MethodPost, "/api/uploads", contentType, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("api upload = %d %s, want 413", rec.Code, rec.Body.String())
	}

	body, contentType = multipartBody(t, map[string]string{
		"email": "ada@example.com", "name": "Ada", "subject": "Huge", "message": "see file",
	}, "attachments", map[string]string{"big.bin": big})
	rec = env.do(t, http.MethodPost, "/widget/tickets", contentType, body)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("widget create = %d, want 413", rec.Code)
	}

	all, err := env.tickets.All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("tickets = %d, want none after rejected form", len(all))
	}
}

// firstEventID connects to a ticket stream and returns the id of the first
// message event.
func firstEventID(t *testing.T, srv *httptest.Server, target, lastEventID string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+target, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if id, ok := strings.CutPrefix(strings.TrimSpace(line), "id: "); ok {
			return id
		}
	}
}

func TestEventsReplayAfterCursor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ticket := env.seed(t, "Ada", "ada@example.com", "Missed messages", "hello")
	initial, err := env.messages.ByTicket(context.Background(), ticket.ID)
	if err != nil || len(initial) != 1 {
		t.Fatalf("initial messages = %v, %v", initial, err)
	}

	send := func(content string) model.Message {
		msg, err := env.messages.Send(context.Background(), service.SendMessage{
			TicketID: ticket.ID, Content: content, SenderType: model.SenderAdmin, SenderName: "Support Team",
		})
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		return msg
	}
	// Both land after the page rendered but before any stream connected.
	first := send("first reply")
	second := send("second reply")

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	target := eventsURL("/widget/tickets/", ticket.ID, initial)
	if got := firstEventID(t, srv, target, ""); got != first.ID {
		t.Fatalf("after page render: first event = %q, want %q", got, first.ID)
	}
	// A reconnecting browser sends the last id it saw, which wins over the
	// page cursor.
	if got := firstEventID(t, srv, target, first.ID); got != second.ID {
		t.Fatalf("after reconnect: first event = %q, want %q", got, second.ID)
	}
}

func TestMessagesAfter(t *testing.T) {
	t.Parallel()

	messages := []model.Message{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tests := []struct {
		cursor string
		want   []string
	}{
		{"a", []string{"b", "c"}},
		{"c", nil},
		{"unknown", nil},
	}
	for _, tt := range tests {
		var got []string
		for _, msg := range messagesAfter(messages, tt.cursor) {
			got = append(got, msg.ID)
		}
		if !slices.Equal(got, tt.want) {
			t.Fatalf("messagesAfter(%q) = %v, want %v", tt.cursor, got, tt.want)
		}
	}
}
