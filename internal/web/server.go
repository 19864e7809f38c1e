// Package web serves the customer widget, the admin dashboard and a JSON
// API over the ticket, message and upload services.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"time"

	"github.com/refset/support-desk/internal/backend"
	"github.com/refset/support-desk/internal/service"
)

//go:embed templates/*.html
var templates embed.FS

// DefaultKeepAlive is the interval of SSE comment pings.
const DefaultKeepAlive = 25 * time.Second

type Options struct {
	Tickets  *service.Tickets
	Messages *service.Messages
	Uploads  *service.Uploads
	// Files serves uploaded objects under /files/.
	Files http.Handler
	// AdminName signs replies posted from the dashboard.
	AdminName string
	Debug     bool
	KeepAlive time.Duration
}

type Server struct {
	tickets   *service.Tickets
	messages  *service.Messages
	uploads   *service.Uploads
	files     http.Handler
	adminName string
	debug     bool
	keepAlive time.Duration
	tmpl      *template.Template
}

func New(opts Options) (*Server, error) {
	tmpl, err := template.New("").Funcs(funcs).ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s := &Server{
		tickets:   opts.Tickets,
		messages:  opts.Messages,
		uploads:   opts.Uploads,
		files:     opts.Files,
		adminName: opts.AdminName,
		debug:     opts.Debug,
		keepAlive: opts.KeepAlive,
		tmpl:      tmpl,
	}
	if s.adminName == "" {
		s.adminName = "Support Team"
	}
	if s.keepAlive <= 0 {
		s.keepAlive = DefaultKeepAlive
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/widget", http.StatusFound)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /widget", s.handleWidgetList)
	mux.HandleFunc("GET /widget/new", s.handleWidgetNew)
	mux.HandleFunc("POST /widget/tickets", s.handleWidgetCreate)
	mux.HandleFunc("GET /widget/tickets/{id}", s.handleWidgetChat)
	mux.HandleFunc("POST /widget/tickets/{id}/messages", s.handleWidgetSend)
	mux.HandleFunc("GET /widget/tickets/{id}/events", s.handleEvents(viewCustomer))

	mux.HandleFunc("GET /admin", s.handleAdmin)
	mux.HandleFunc("POST /admin/tickets/{id}/status", s.handleAdminStatus)
	mux.HandleFunc("POST /admin/tickets/{id}/messages", s.handleAdminSend)
	mux.HandleFunc("GET /admin/tickets/{id}/events", s.handleEvents(viewAdmin))

	mux.HandleFunc("GET /api/tickets", s.handleAPIListTickets)
	mux.HandleFunc("POST /api/tickets", s.handleAPICreateTicket)
	mux.HandleFunc("GET /api/tickets/{id}", s.handleAPIGetTicket)
	mux.HandleFunc("PATCH /api/tickets/{id}/status", s.handleAPIUpdateStatus)
	mux.HandleFunc("GET /api/tickets/{id}/messages", s.handleAPIListMessages)
	mux.HandleFunc("POST /api/tickets/{id}/messages", s.handleAPISendMessage)
	mux.HandleFunc("POST /api/uploads", s.handleAPIUpload)
	mux.HandleFunc("DELETE /api/uploads", s.handleAPIDeleteUpload)

	if s.files != nil {
		mux.Handle("GET /files/{name}", s.files)
	}

	if s.debug {
		return logRequests(mux)
	}
	return mux
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("render %s: %v", name, err)
	}
}

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, err error, status int) {
	jsonResponse(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	jsonError(w, err, statusFor(err))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE working through the logging wrapper.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}
