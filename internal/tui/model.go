// Package tui is the interactive browser over ranked job records.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"eures-rank/internal/domain"
	"eures-rank/internal/rank"
	"eures-rank/internal/summarizer"
	"eures-rank/internal/textclean"
)

// Ranker is the TUI-facing subset of rank.Service.
type Ranker interface {
	Query(ctx context.Context, text string, page, pageSize int) (rank.Page, error)
}

// Model is the Bubble Tea model for the browser.
type Model struct {
	ctx       context.Context
	ranker    Ranker
	pageSize  int
	header    string
	input     textinput.Model
	viewport  viewport.Model
	page      rank.Page
	status    string
	cursor    int
	ready     bool
	lastQuery string
}

// New creates a browser model. header is shown above the results, typically store stats.
func New(ctx context.Context, ranker Ranker, pageSize int, header string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe the job you want and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	return Model{
		ctx:      ctx,
		ranker:   ranker,
		pageSize: pageSize,
		header:   header,
		input:    ti,
		viewport: viewport.New(0, 0),
		status:   "Type to search. Up/down moves, left/right pages.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 2 + 1 + qh + 1 // header lines, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-rh)
		m.viewport.SetContent(m.renderCurrent())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			if q := strings.TrimSpace(m.input.Value()); q != "" {
				m = m.search(q, 1)
				return m, nil
			}
		case "down":
			if n := len(m.page.Results); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "up":
			if n := len(m.page.Results); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.viewport.SetContent(m.renderCurrent())
				return m, nil
			}
		case "right", "pgdown":
			if m.lastQuery != "" && m.page.Page < m.page.Pages() {
				m = m.search(m.lastQuery, m.page.Page+1)
				return m, nil
			}
		case "left", "pgup":
			if m.lastQuery != "" && m.page.Page > 1 {
				m = m.search(m.lastQuery, m.page.Page-1)
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) search(q string, page int) Model {
	res, err := m.ranker.Query(m.ctx, q, page, m.pageSize)
	if err != nil {
		m.status = "Error: " + err.Error()
		m.page = rank.Page{}
	} else {
		m.page = res
		m.lastQuery = q
		m.status = fmt.Sprintf("%d ranked records for %q, page %d/%d", res.Total, q, res.Page, res.Pages())
	}
	m.cursor = 0
	m.viewport.SetContent(m.renderCurrent())
	m.viewport.GotoTop()
	return m
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	title := lipgloss.NewStyle().Bold(true).Render("EURES job ranking")
	header := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.header)
	results := resultBoxStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return title + "\n" + header + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrent() string {
	if len(m.page.Results) == 0 {
		return "No results yet."
	}
	r := m.page.Results[m.cursor]
	pos := (m.page.Page-1)*m.page.PageSize + m.cursor + 1
	return renderResult(r, pos, m.page.Total, m.lastQuery)
}

func renderResult(r domain.SearchResult, pos, total int, query string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Result %d/%d  score=%.3f  id=%s\n", pos, total, r.Score, r.Record.ID)
	b.WriteString(titleStyle.Render(r.Record.Title))
	if r.Record.Location != "" {
		b.WriteString("  " + r.Record.Location)
	}
	b.WriteString("\n")
	if emp := r.Record.Metadata["employer"]; emp != "" {
		b.WriteString(emp + "\n")
	}
	if a := r.Record.Annotation; a != nil {
		fmt.Fprintf(&b, "match %.1f: %s\n", a.Score, a.Justification)
	}
	b.WriteString("\n")
	b.WriteString(highlightBestSentence(textclean.Text(r.Record.Description), query))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle     = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)

// highlightBestSentence emphasises the sentence sharing the most words with query.
func highlightBestSentence(text, query string) string {
	sentences := summarizer.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	best, bestScore := 0, -1
	for i, s := range sentences {
		if score := overlap(qTokens, s); score > bestScore {
			best, bestScore = i, score
		}
	}
	sentences[best] = highlightStyle.Render(sentences[best])
	return strings.Join(sentences, " ")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := summarizer.Tokens(s)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func overlap(query map[string]struct{}, sentence string) int {
	score := 0
	for t := range toTokenSet(sentence) {
		if _, ok := query[t]; ok {
			score++
		}
	}
	return score
}
