// Package console is a terminal version of the admin dashboard: a ticket
// sidebar with status tabs and search, and a live conversation pane.
package console

import (
	"context"
	"fmt"
	"log"
	"slices"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/refset/support-desk/internal/binding"
	"github.com/refset/support-desk/internal/model"
	"github.com/refset/support-desk/internal/service"
)

// tabs is the sidebar's status filter order.
var tabs = []string{
	service.StatusAll,
	string(model.StatusPending),
	string(model.StatusOpen),
	string(model.StatusResolved),
	string(model.StatusClosed),
}

// statusCycle is the order "s" steps a ticket through.
var statusCycle = []model.Status{
	model.StatusPending,
	model.StatusOpen,
	model.StatusResolved,
	model.StatusClosed,
}

type mode int

const (
	modeBrowse mode = iota
	modeSearch
	modeReply
)

type filter struct {
	Status string
	Search string
}

type ticketsLoadedMsg struct {
	state binding.State[[]model.TicketListView]
}

type conversationLoadedMsg struct {
	state binding.State[[]model.Message]
}

type liveMsg struct {
	message model.Message
}

// actionDoneMsg reports the outcome of a reply or status change.
type actionDoneMsg struct {
	flash string
	err   error
}

type Model struct {
	ctx       context.Context
	tickets   *service.Tickets
	messages  *service.Messages
	adminName string
	keys      KeyMap

	list   *binding.Query[filter, []model.TicketListView]
	convo  *binding.Query[string, []model.Message]
	live   *binding.Live
	events chan model.Message

	tab    int
	cursor int
	mode   mode
	search textinput.Model
	reply  textinput.Model

	width  int
	height int
	flash  string
	err    error
}

func New(ctx context.Context, tickets *service.Tickets, messages *service.Messages, adminName string) Model {
	events := make(chan model.Message, 32)

	search := textinput.New()
	search.Placeholder = "Search tickets..."
	search.Prompt = "/ "
	search.Cursor.SetMode(cursor.CursorStatic)
	reply := textinput.New()
	reply.Placeholder = "Type your reply..."
	reply.Prompt = "> "
	reply.Cursor.SetMode(cursor.CursorStatic)

	return Model{
		ctx:       ctx,
		tickets:   tickets,
		messages:  messages,
		adminName: adminName,
		keys:      DefaultKeyMap,
		list: binding.New(func(ctx context.Context, f filter) ([]model.TicketListView, error) {
			return tickets.Query(ctx, f.Status, f.Search)
		}),
		convo: binding.New(messages.ByTicket).SkipZero(),
		live: binding.NewLive(messages, func(msg model.Message) {
			select {
			case events <- msg:
			default:
				log.Printf("console: dropping live message %s, queue full", msg.ID)
			}
		}),
		events: events,
		search: search,
		reply:  reply,
		width:  100,
		height: 30,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.loadTickets(), waitForMessage(m.events))
}

// Close drops the live subscription.
func (m Model) Close() {
	m.live.Close()
}

func waitForMessage(events <-chan model.Message) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return liveMsg{message: msg}
	}
}

func (m Model) currentFilter() filter {
	return filter{Status: tabs[m.tab], Search: m.search.Value()}
}

func (m Model) loadTickets() tea.Cmd {
	q, f, ctx := m.list, m.currentFilter(), m.ctx
	return func() tea.Msg {
		return ticketsLoadedMsg{state: q.Set(ctx, f)}
	}
}

func (m Model) refresh() tea.Cmd {
	list, convo, ctx := m.list, m.convo, m.ctx
	f := m.currentFilter()
	return tea.Batch(
		func() tea.Msg {
			// Set fetches when the filter changed; Refetch covers the
			// unchanged case.
			if list.Param() != f {
				return ticketsLoadedMsg{state: list.Set(ctx, f)}
			}
			return ticketsLoadedMsg{state: list.Refetch(ctx)}
		},
		func() tea.Msg {
			return conversationLoadedMsg{state: convo.Refetch(ctx)}
		},
	)
}

func (m Model) openTicket(id string) tea.Cmd {
	m.live.Watch(id)
	convo, ctx := m.convo, m.ctx
	return func() tea.Msg {
		return conversationLoadedMsg{state: convo.Set(ctx, id)}
	}
}

func (m Model) sendReply(content string) tea.Cmd {
	messages, ctx := m.messages, m.ctx
	in := service.SendMessage{
		TicketID:   m.convo.Param(),
		Content:    content,
		SenderType: model.SenderAdmin,
		SenderName: m.adminName,
	}
	return func() tea.Msg {
		if _, err := messages.Send(ctx, in); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: "reply sent"}
	}
}

func (m Model) cycleStatus(id string) tea.Cmd {
	tickets, ctx := m.tickets, m.ctx
	return func() tea.Msg {
		ticket, err := tickets.ByID(ctx, id)
		if err != nil {
			return actionDoneMsg{err: err}
		}
		next := nextStatus(ticket.Status)
		if err := tickets.UpdateStatus(ctx, id, next); err != nil {
			return actionDoneMsg{err: err}
		}
		return actionDoneMsg{flash: fmt.Sprintf("#%s is now %s", model.ShortID(id), next)}
	}
}

func nextStatus(current model.Status) model.Status {
	i := slices.Index(statusCycle, current)
	return statusCycle[(i+1)%len(statusCycle)]
}

func (m Model) rows() []model.TicketListView {
	return m.list.State().Data
}

func (m Model) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = message.Width, message.Height
		return m, nil

	case ticketsLoadedMsg:
		m.err = message.state.Err
		if n := len(message.state.Data); m.cursor >= n {
			m.cursor = max(n-1, 0)
		}
		return m, nil

	case conversationLoadedMsg:
		if message.state.Err != nil {
			m.err = message.state.Err
		}
		return m, nil

	case liveMsg:
		if message.message.TicketID == m.convo.Param() {
			m.convo.Update(func(rows []model.Message) []model.Message {
				if slices.ContainsFunc(rows, func(r model.Message) bool { return r.ID == message.message.ID }) {
					return rows
				}
				return append(rows, message.message)
			})
		}
		return m, tea.Batch(m.refetchList(), waitForMessage(m.events))

	case actionDoneMsg:
		m.flash, m.err = message.flash, message.err
		if message.err != nil {
			return m, nil
		}
		return m, m.refresh()

	case tea.KeyMsg:
		switch m.mode {
		case modeSearch:
			return m.handleSearchKeys(message)
		case modeReply:
			return m.handleReplyKeys(message)
		}
		return m.handleBrowseKeys(message)
	}
	return m, nil
}

func (m Model) refetchList() tea.Cmd {
	list, ctx := m.list, m.ctx
	return func() tea.Msg {
		return ticketsLoadedMsg{state: list.Refetch(ctx)}
	}
}

func (m Model) handleBrowseKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.flash = ""
	switch {
	case key.Matches(message, m.keys.Quit):
		m.live.Close()
		return m, tea.Quit

	case key.Matches(message, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(message, m.keys.Down):
		if m.cursor < len(m.rows())-1 {
			m.cursor++
		}

	case key.Matches(message, m.keys.NextTab):
		m.tab = (m.tab + 1) % len(tabs)
		m.cursor = 0
		return m, m.loadTickets()

	case key.Matches(message, m.keys.PrevTab):
		m.tab = (m.tab + len(tabs) - 1) % len(tabs)
		m.cursor = 0
		return m, m.loadTickets()

	case key.Matches(message, m.keys.Open):
		rows := m.rows()
		if m.cursor < len(rows) {
			return m, m.openTicket(rows[m.cursor].ID)
		}

	case key.Matches(message, m.keys.Search):
		m.mode = modeSearch
		return m, m.search.Focus()

	case key.Matches(message, m.keys.Reply):
		if m.convo.Param() == "" {
			m.flash = "open a ticket first"
			return m, nil
		}
		m.mode = modeReply
		return m, m.reply.Focus()

	case key.Matches(message, m.keys.Status):
		if id := m.convo.Param(); id != "" {
			return m, m.cycleStatus(id)
		}
		m.flash = "open a ticket first"

	case key.Matches(message, m.keys.Refresh):
		return m, m.refresh()
	}
	return m, nil
}

func (m Model) handleSearchKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, m.keys.Submit):
		m.mode = modeBrowse
		m.search.Blur()
		m.cursor = 0
		return m, m.loadTickets()
	case key.Matches(message, m.keys.Cancel):
		m.mode = modeBrowse
		m.search.Blur()
		m.search.SetValue(m.list.Param().Search)
		return m, nil
	}
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(message)
	return m, cmd
}

func (m Model) handleReplyKeys(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, m.keys.Submit):
		content := m.reply.Value()
		m.mode = modeBrowse
		m.reply.Blur()
		m.reply.Reset()
		return m, m.sendReply(content)
	case key.Matches(message, m.keys.Cancel):
		m.mode = modeBrowse
		m.reply.Blur()
		return m, nil
	}
	var cmd tea.Cmd
	m.reply, cmd = m.reply.Update(message)
	return m, cmd
}
