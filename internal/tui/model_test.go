package tui

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
	"eures-rank/internal/rank"
)

type fakeRanker struct {
	corpus []domain.JobRecord
	pages  []int
}

func (f *fakeRanker) Query(_ context.Context, _ string, page, pageSize int) (rank.Page, error) {
	f.pages = append(f.pages, page)
	return rank.Rank([]float32{1, 0}, f.corpus, page, pageSize), nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestBrowsePagesThroughResults(t *testing.T) {
	r := &fakeRanker{corpus: []domain.JobRecord{
		{ID: "1", Title: "Cook", Embedding: []float32{1, 0}},
		{ID: "2", Title: "Baker", Embedding: []float32{1, 1}},
		{ID: "3", Title: "Driver", Embedding: []float32{0, 1}},
	}}
	var m tea.Model = New(context.Background(), r, 2, "3 records")
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m, _ = m.Update(key("chef"))
	m, _ = m.Update(key("enter"))

	got := m.(Model)
	require.Len(t, got.page.Results, 2)
	assert.Equal(t, "1", got.page.Results[0].Record.ID)
	assert.Contains(t, got.View(), "Cook")

	m, _ = m.Update(key("down"))
	assert.Equal(t, 1, m.(Model).cursor)

	m, _ = m.Update(key("right"))
	got = m.(Model)
	assert.Equal(t, 2, got.page.Page)
	assert.Equal(t, "3", got.page.Results[0].Record.ID)
	assert.Zero(t, got.cursor)

	m, _ = m.Update(key("right"))
	m, _ = m.Update(key("left"))
	assert.Equal(t, []int{1, 2, 1}, r.pages)
}

func TestHighlightBestSentence(t *testing.T) {
	out := highlightBestSentence("We sell bread. The bakery needs a baker.", "baker wanted")
	assert.Contains(t, out, "We sell bread.")
	assert.Contains(t, out, "The bakery needs a baker.")
}
