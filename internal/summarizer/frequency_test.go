package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarizePicksFrequentSentence(t *testing.T) {
	text := "Warehouse operative wanted in Rotterdam. Forklift licence required. " +
		"The warehouse operative handles warehouse stock. Lunch is provided."
	got := NewFrequency().Summarize(text, 1)
	assert.Equal(t, "The warehouse operative handles warehouse stock.", got)
}

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	text := "Drivers needed. Weather is nice. Drivers with licence C drive trucks for drivers."
	got := NewFrequency().Summarize(text, 2)
	assert.Equal(t, "Drivers needed. Drivers with licence C drive trucks for drivers.", got)
}

func TestSummarizeShortText(t *testing.T) {
	assert.Equal(t, "Nurse wanted", NewFrequency().Summarize("  Nurse wanted  ", 3))
	assert.Empty(t, NewFrequency().Summarize("", 1))
}

func TestSentencesSplitsLines(t *testing.T) {
	assert.Equal(t, []string{"Tasks:", "Pick orders", "Pack boxes."},
		Sentences("Tasks:\nPick orders\n\nPack boxes."))
}
