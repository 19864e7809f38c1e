package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

var adminFilters = []string{
	service.StatusAll,
	string(model.StatusPending),
	string(model.StatusOpen),
	string(model.StatusResolved),
	string(model.StatusClosed),
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.renderAdmin(w, r, http.StatusOK, q.Get("status"), q.Get("q"), q.Get("ticket"), "")
}

func (s *Server) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.parseForm(w, r); err != nil {
		s.renderAdmin(w, r, statusFor(err), "", "", id, err.Error())
		return
	}
	filter, search := r.FormValue("filter"), r.FormValue("q")

	err := s.tickets.UpdateStatus(r.Context(), id, model.Status(r.FormValue("status")))
	if err != nil {
		s.renderAdmin(w, r, statusFor(err), filter, search, id, err.Error())
		return
	}
	http.Redirect(w, r, adminURL(filter, search, id), http.StatusSeeOther)
}

func (s *Server) handleAdminSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.parseForm(w, r); err != nil {
		s.renderAdmin(w, r, statusFor(err), "", "", id, err.Error())
		return
	}
	filter, search := r.FormValue("filter"), r.FormValue("q")

	attachments, err := s.uploadForm(r, "attachments")
	if err != nil {
		s.renderAdmin(w, r, statusFor(err), filter, search, id, err.Error())
		return
	}
	_, err = s.messages.Send(r.Context(), service.SendMessage{
		TicketID:    id,
		Content:     r.FormValue("content"),
		SenderType:  model.SenderAdmin,
		SenderName:  s.adminName,
		Attachments: attachments,
	})
	if err != nil {
		s.discard(r, attachments)
		s.renderAdmin(w, r, statusFor(err), filter, search, id, err.Error())
		return
	}
	http.Redirect(w, r, adminURL(filter, search, id), http.StatusSeeOther)
}

// renderAdmin draws the sidebar for the filter and search plus the
// conversation of ticketID, if one is selected.
func (s *Server) renderAdmin(w http.ResponseWriter, r *http.Request, status int, filter, search, ticketID, errMsg string) {
	ctx := r.Context()
	if filter == "" {
		filter = service.StatusAll
	}
	page := adminPage{
		Status:  filter,
		Query:   search,
		Filters: adminFilters,
		Buttons: statusButtons,
		Error:   errMsg,
	}

	tickets, err := s.tickets.Query(ctx, filter, search)
	if err != nil {
		page.Error = err.Error()
		s.render(w, statusFor(err), "admin.html", page)
		return
	}
	page.Tickets = tickets

	if ticketID = strings.TrimSpace(ticketID); ticketID != "" {
		ticket, err := s.tickets.ByID(ctx, ticketID)
		if err != nil {
			page.Error = err.Error()
			s.render(w, statusFor(err), "admin.html", page)
			return
		}
		messages, err := s.messages.ByTicket(ctx, ticketID)
		if err != nil {
			page.Error = err.Error()
			s.render(w, statusFor(err), "admin.html", page)
			return
		}
		page.Selected = &ticket
		page.Messages = bubbles(messages, viewAdmin)
		page.EventsURL = eventsURL("/admin/tickets/", ticket.ID, messages)
	}

	s.render(w, status, "admin.html", page)
}

func adminURL(filter, search, ticketID string) string {
	v := url.Values{}
	if filter != "" && filter != service.StatusAll {
		v.Set("status", filter)
	}
	if search != "" {
		v.Set("q", search)
	}
	if ticketID != "" {
		v.Set("ticket", ticketID)
	}
	if len(v) == 0 {
		return "/admin"
	}
	return "/admin?" + v.Encode()
}
