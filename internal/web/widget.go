package web

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

func (s *Server) handleWidgetList(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	page := widgetListPage{Email: email}
	if email == "" {
		s.render(w, http.StatusOK, "widget_list.html", page)
		return
	}

	tickets, err := s.tickets.ByCustomer(r.Context(), email)
	if err != nil {
		page.Error = err.Error()
		s.render(w, statusFor(err), "widget_list.html", page)
		return
	}
	page.Tickets = tickets
	s.render(w, http.StatusOK, "widget_list.html", page)
}

func (s *Server) handleWidgetNew(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.render(w, http.StatusOK, "widget_new.html", widgetNewPage{
		Email: q.Get("email"),
		Name:  q.Get("name"),
	})
}

func (s *Server) handleWidgetCreate(w http.ResponseWriter, r *http.Request) {
	page := widgetNewPage{}
	if err := s.parseForm(w, r); err != nil {
		page.Error = err.Error()
		s.render(w, statusFor(err), "widget_new.html", page)
		return
	}
	page.Email = r.FormValue("email")
	page.Name = r.FormValue("name")
	page.Subject = r.FormValue("subject")
	page.Message = r.FormValue("message")

	attachments, err := s.uploadForm(r, "attachments")
	if err != nil {
		page.Error = err.Error()
		s.render(w, statusFor(err), "widget_new.html", page)
		return
	}

	ticket, err := s.tickets.Create(r.Context(), service.CreateTicket{
		CustomerName:   page.Name,
		CustomerEmail:  page.Email,
		Subject:        page.Subject,
		InitialMessage: page.Message,
		Attachments:    attachments,
	})
	if err != nil {
		s.discard(r, attachments)
		page.Error = err.Error()
		s.render(w, statusFor(err), "widget_new.html", page)
		return
	}

	http.Redirect(w, r, widgetChatURL(ticket.ID, strings.TrimSpace(page.Email)), http.StatusSeeOther)
}

func (s *Server) handleWidgetChat(w http.ResponseWriter, r *http.Request) {
	s.renderChat(w, r, r.PathValue("id"), http.StatusOK, "")
}

func (s *Server) handleWidgetSend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.parseForm(w, r); err != nil {
		s.renderChat(w, r, id, statusFor(err), err.Error())
		return
	}

	ticket, err := s.tickets.ByID(r.Context(), id)
	if err != nil {
		s.renderChat(w, r, id, statusFor(err), err.Error())
		return
	}
	senderName := ""
	if ticket.Customer != nil {
		senderName = ticket.Customer.Name
	}

	attachments, err := s.uploadForm(r, "attachments")
	if err != nil {
		s.renderChat(w, r, id, statusFor(err), err.Error())
		return
	}
	_, err = s.messages.Send(r.Context(), service.SendMessage{
		TicketID:    id,
		Content:     r.FormValue("content"),
		SenderType:  model.SenderCustomer,
		SenderName:  senderName,
		Attachments: attachments,
	})
	if err != nil {
		s.discard(r, attachments)
		s.renderChat(w, r, id, statusFor(err), err.Error())
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" && ticket.Customer != nil {
		email = ticket.Customer.Email
	}
	http.Redirect(w, r, widgetChatURL(id, email), http.StatusSeeOther)
}

// renderChat draws the customer's view of a ticket, with errMsg above the
// composer when a post failed.
func (s *Server) renderChat(w http.ResponseWriter, r *http.Request, id string, status int, errMsg string) {
	ctx := r.Context()
	ticket, err := s.tickets.ByID(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	messages, err := s.messages.ByTicket(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	email := r.URL.Query().Get("email")
	if email == "" && ticket.Customer != nil {
		email = ticket.Customer.Email
	}
	s.render(w, status, "chat.html", chatPage{
		Ticket:    ticket,
		Messages:  bubbles(messages, viewCustomer),
		Email:     email,
		PostURL:   "/widget/tickets/" + url.PathEscape(id) + "/messages?email=" + url.QueryEscape(email),
		EventsURL: eventsURL("/widget/tickets/", id, messages),
		Error:     errMsg,
	})
}

// discard removes files uploaded for a post that was then rejected.
func (s *Server) discard(r *http.Request, attachments []model.NewAttachment) {
	for _, att := range attachments {
		_ = s.uploads.Delete(r.Context(), att.FileURL)
	}
}

func widgetChatURL(id, email string) string {
	u := "/widget/tickets/" + url.PathEscape(id)
	if email != "" {
		u += "?email=" + url.QueryEscape(email)
	}
	return u
}
