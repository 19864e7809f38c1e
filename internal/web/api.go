package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", service.ErrInvalid, err)
	}
	return nil
}

func (s *Server) handleAPIListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		tickets []model.TicketListView
		err     error
	)
	if email := strings.TrimSpace(q.Get("email")); email != "" {
		tickets, err = s.tickets.ByCustomer(r.Context(), email)
	} else {
		tickets, err = s.tickets.Query(r.Context(), q.Get("status"), q.Get("q"))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if tickets == nil {
		tickets = []model.TicketListView{}
	}
	jsonResponse(w, http.StatusOK, tickets)
}

func (s *Server) handleAPICreateTicket(w http.ResponseWriter, r *http.Request) {
	var in service.CreateTicket
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	ticket, err := s.tickets.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, ticket)
}

func (s *Server) handleAPIGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.ByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ticket)
}

func (s *Server) handleAPIUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status model.Status `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := s.tickets.UpdateStatus(r.Context(), id, in.Status); err != nil {
		writeError(w, err)
		return
	}
	ticket, err := s.tickets.ByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusOK, ticket)
}

func (s *Server) handleAPIListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.messages.ByTicket(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	jsonResponse(w, http.StatusOK, messages)
}

func (s *Server) handleAPISendMessage(w http.ResponseWriter, r *http.Request) {
	var in service.SendMessage
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if in.TicketID != "" && in.TicketID != id {
		jsonError(w, fmt.Errorf("ticket_id %q does not match path", in.TicketID), http.StatusBadRequest)
		return
	}
	in.TicketID = id
	msg, err := s.messages.Send(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	jsonResponse(w, http.StatusCreated, msg)
}

func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		writeError(w, err)
		return
	}
	if r.MultipartForm == nil {
		jsonError(w, fmt.Errorf("multipart form required"), http.StatusBadRequest)
		return
	}
	attachments, err := s.uploadForm(r, "files")
	if err != nil {
		writeError(w, err)
		return
	}
	if len(attachments) == 0 {
		jsonError(w, fmt.Errorf("no files in field %q", "files"), http.StatusBadRequest)
		return
	}
	jsonResponse(w, http.StatusCreated, attachments)
}

func (s *Server) handleAPIDeleteUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.uploads.Delete(r.Context(), r.URL.Query().Get("url")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
