package console

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/refset/support-desk/internal/model"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	faintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	selectedStyle = lipgloss.NewStyle().Reverse(true)
	activeTab     = lipgloss.NewStyle().Bold(true).Underline(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	mineStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, true, false, false)

	statusColors = map[model.Status]lipgloss.Color{
		model.StatusOpen:     lipgloss.Color("4"),
		model.StatusPending:  lipgloss.Color("3"),
		model.StatusResolved: lipgloss.Color("2"),
		model.StatusClosed:   lipgloss.Color("8"),
	}
)

func statusBadge(s model.Status) string {
	return lipgloss.NewStyle().Foreground(statusColors[s]).Render("[" + string(s) + "]")
}

func (m Model) View() string {
	sidebarWidth := max(m.width*2/5, 30)
	panelWidth := max(m.width-sidebarWidth-1, 20)
	bodyHeight := max(m.height-2, 5)

	sidebar := paneStyle.Width(sidebarWidth).Height(bodyHeight).Render(m.renderSidebar(sidebarWidth, bodyHeight))
	panel := lipgloss.NewStyle().Width(panelWidth).Height(bodyHeight).Render(m.renderConversation(panelWidth, bodyHeight))

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, sidebar, " ", panel),
		m.renderFooter(),
	)
}

func (m Model) renderSidebar(width, height int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Support Tickets"))
	b.WriteString("\n")

	names := make([]string, len(tabs))
	for i, tab := range tabs {
		if i == m.tab {
			names[i] = activeTab.Render(tab)
		} else {
			names[i] = faintStyle.Render(tab)
		}
	}
	b.WriteString(strings.Join(names, " "))
	b.WriteString("\n")

	if m.mode == modeSearch {
		b.WriteString(m.search.View())
	} else if q := m.list.Param().Search; q != "" {
		b.WriteString(faintStyle.Render("search: " + q))
	}
	b.WriteString("\n\n")

	rows := m.rows()
	if len(rows) == 0 {
		b.WriteString(faintStyle.Render("No tickets found"))
		return b.String()
	}

	// Three lines per ticket plus a gap.
	visible := max((height-4)/4, 1)
	start := 0
	if m.cursor >= visible {
		start = m.cursor - visible + 1
	}
	for i := start; i < len(rows) && i < start+visible; i++ {
		b.WriteString(m.renderTicket(rows[i], i == m.cursor, width))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderTicket(t model.TicketListView, selected bool, width int) string {
	subject := truncate(t.Subject, width-len(t.Status)-4)
	if t.ID == m.convo.Param() {
		subject = "* " + subject
	}
	head := subject + " " + statusBadge(t.Status)
	if selected {
		head = selectedStyle.Render(subject) + " " + statusBadge(t.Status)
	}

	counts := fmt.Sprintf("%d messages", t.MessageCount)
	if t.AttachmentCount > 0 {
		counts += fmt.Sprintf(", %d files", t.AttachmentCount)
	}
	return strings.Join([]string{
		head,
		faintStyle.Render(truncate(t.CustomerName+" <"+t.CustomerEmail+">", width)),
		faintStyle.Render(fmt.Sprintf("#%s  %s  %s", model.ShortID(t.ID), counts, t.LastMessageAt.Local().Format("Jan 2"))),
	}, "\n")
}

func (m Model) renderConversation(width, height int) string {
	id := m.convo.Param()
	if id == "" {
		return faintStyle.Render("Select a ticket to view the conversation")
	}

	var header string
	for _, t := range m.rows() {
		if t.ID == id {
			header = titleStyle.Render(truncate(t.Subject, width-12)) + " " + statusBadge(t.Status) + "\n" +
				faintStyle.Render(t.CustomerName+" <"+t.CustomerEmail+">")
			break
		}
	}
	if header == "" {
		header = titleStyle.Render("#" + model.ShortID(id))
	}

	state := m.convo.State()
	var lines []string
	if state.Loading {
		lines = append(lines, faintStyle.Render("loading..."))
	}
	for _, msg := range state.Data {
		lines = append(lines, renderMessage(msg, width)...)
	}

	// Keep the newest lines in view.
	room := max(height-4, 1)
	if m.mode == modeReply {
		room--
	}
	if len(lines) > room {
		lines = lines[len(lines)-room:]
	}

	out := header + "\n\n" + strings.Join(lines, "\n")
	if m.mode == modeReply {
		out += "\n" + m.reply.View()
	}
	return out
}

// renderMessage draws admin messages on the right, customer messages on
// the left, as the dashboard does.
func renderMessage(msg model.Message, width int) []string {
	mine := msg.SenderType == model.SenderAdmin
	align := lipgloss.Left
	if mine {
		align = lipgloss.Right
	}
	box := lipgloss.NewStyle().Width(width).Align(align)

	meta := fmt.Sprintf("%s  %s", msg.SenderName, msg.CreatedAt.Local().Format("15:04"))
	body := lipgloss.NewStyle().MaxWidth(width * 4 / 5).Render(msg.Content)
	if mine {
		body = mineStyle.Render(body)
	}

	lines := []string{box.Render(faintStyle.Render(meta))}
	lines = append(lines, strings.Split(box.Render(body), "\n")...)
	for _, att := range msg.Attachments {
		lines = append(lines, box.Render(faintStyle.Render("+ "+att.FileName)))
	}
	return append(lines, "")
}

func (m Model) renderFooter() string {
	if m.err != nil {
		return errorStyle.Render(m.err.Error())
	}
	if m.flash != "" {
		return m.flash
	}
	var parts []string
	for _, b := range m.keys.help() {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return faintStyle.Render(strings.Join(parts, "  "))
}

func truncate(s string, width int) string {
	if width <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
