package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/refset/support-desk/internal/binding"
	"github.com/refset/support-desk/internal/model"
)

// sseEvent is the payload of a "message" event: the row plus the bubble
// already rendered for the page that asked.
type sseEvent struct {
	model.Message
	HTML template.HTML `json:"html"`
}

// handleEvents streams the ticket's new messages as Server-Sent Events.
func (s *Server) handleEvents(view string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := r.PathValue("id")
		if _, err := s.tickets.ByID(ctx, id); err != nil {
			writeError(w, err)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		incoming := make(chan model.Message, 16)
		live := binding.NewLive(s.messages, func(msg model.Message) {
			select {
			case incoming <- msg:
			case <-ctx.Done():
			}
		})
		live.Watch(id)
		defer live.Close()

		// Messages after the cursor were inserted between the page render
		// (or the last event a reconnecting client saw) and the subscribe.
		cursor := r.Header.Get("Last-Event-ID")
		if cursor == "" {
			cursor = r.URL.Query().Get("after")
		}
		var backlog []model.Message
		if cursor != "" {
			all, err := s.messages.ByTicket(ctx, id)
			if err != nil {
				writeError(w, err)
				return
			}
			backlog = messagesAfter(all, cursor)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		replayed := make(map[string]bool, len(backlog))
		for _, msg := range backlog {
			if err := s.writeEvent(w, msg, view); err != nil {
				log.Printf("stream %s: %v", id, err)
				return
			}
			replayed[msg.ID] = true
		}
		flusher.Flush()

		ping := time.NewTicker(s.keepAlive)
		defer ping.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-incoming:
				if replayed[msg.ID] {
					continue
				}
				if err := s.writeEvent(w, msg, view); err != nil {
					log.Printf("stream %s: %v", id, err)
					return
				}
				flusher.Flush()
			case <-ping.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

func (s *Server) writeEvent(w http.ResponseWriter, msg model.Message, view string) error {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, "bubble", newBubble(msg, view)); err != nil {
		return fmt.Errorf("render bubble: %w", err)
	}
	data, err := json.Marshal(sseEvent{Message: msg, HTML: template.HTML(buf.String())})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", msg.ID, data)
	return err
}

// messagesAfter returns the messages following the one with id cursor. An
// unknown cursor yields nothing.
func messagesAfter(messages []model.Message, cursor string) []model.Message {
	for i, msg := range messages {
		if msg.ID == cursor {
			return messages[i+1:]
		}
	}
	return nil
}

// eventsURL is the stream of a ticket page, resuming after the last message
// the page rendered.
func eventsURL(prefix, ticketID string, messages []model.Message) string {
	u := prefix + url.PathEscape(ticketID) + "/events"
	if n := len(messages); n > 0 {
		u += "?after=" + url.QueryEscape(messages[n-1].ID)
	}
	return u
}
