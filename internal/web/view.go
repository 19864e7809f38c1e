package web

import (
	"bytes"
	"fmt"
	"html/template"
	"log"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/refset/support-desk/internal/model"
)

const (
	viewCustomer = "customer"
	viewAdmin    = "admin"
)

// statusButtons is the order of the dashboard's status switcher.
var statusButtons = []model.Status{
	model.StatusPending,
	model.StatusOpen,
	model.StatusResolved,
	model.StatusClosed,
}

// Raw HTML in message bodies is dropped and unsafe link schemes are
// filtered; goldmark does both unless html.WithUnsafe is set.
var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

func renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		log.Printf("render markdown: %v", err)
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(buf.String())
}

var funcs = template.FuncMap{
	"markdown": renderMarkdown,
	"short":    model.ShortID,
	"date":     func(t time.Time) string { return t.Local().Format("Jan 2, 2006") },
	"clock":    func(t time.Time) string { return t.Local().Format("15:04") },
	"size":     fileSize,
	"title":    title,
}

// title capitalizes a status or filter name.
func title(v any) string {
	s := fmt.Sprint(v)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func fileSize(n *int64) string {
	if n == nil {
		return ""
	}
	size := float64(*n)
	for _, unit := range []string{"B", "KB", "MB"} {
		if size < 1024 {
			if unit == "B" {
				return fmt.Sprintf("%d B", *n)
			}
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f GB", size)
}

// bubble is a message as drawn in a conversation. Mine puts it on the
// right: customer messages in the widget, admin messages in the dashboard.
type bubble struct {
	model.Message
	Mine bool
}

func newBubble(msg model.Message, view string) bubble {
	mine := msg.SenderType == model.SenderCustomer
	if view == viewAdmin {
		mine = msg.SenderType == model.SenderAdmin
	}
	return bubble{Message: msg, Mine: mine}
}

func bubbles(messages []model.Message, view string) []bubble {
	out := make([]bubble, 0, len(messages))
	for _, msg := range messages {
		out = append(out, newBubble(msg, view))
	}
	return out
}

type widgetListPage struct {
	Email   string
	Tickets []model.TicketListView
	Error   string
}

type widgetNewPage struct {
	Email   string
	Name    string
	Subject string
	Message string
	Error   string
}

type chatPage struct {
	Ticket    model.Ticket
	Messages  []bubble
	Email     string
	PostURL   string
	EventsURL string
	Error     string
}

type adminPage struct {
	Status    string
	Query     string
	Filters   []string
	Tickets   []model.TicketListView
	Selected  *model.Ticket
	Messages  []bubble
	EventsURL string
	Buttons   []model.Status
	Error     string
}
