// Package summarizer picks the most representative sentences of a job
// description for short result excerpts.
package summarizer

import (
	"math"
	"regexp"
	"slices"
	"strings"
)

var (
	tokenRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]*`)
)

// Frequency ranks sentences by the normalised frequency of their non-stopword tokens.
type Frequency struct {
	stopwords map[string]struct{}
}

func NewFrequency() *Frequency {
	return &Frequency{stopwords: defaultStopwords()}
}

// Summarize returns up to n sentences of text in their original order.
func (s *Frequency) Summarize(text string, n int) string {
	if n <= 0 {
		n = 1
	}
	sentences := Sentences(text)
	if len(sentences) <= n {
		return strings.Join(sentences, " ")
	}

	freq := map[string]float64{}
	top := 0.0
	for _, sent := range sentences {
		for _, tok := range tokens(sent) {
			if _, ok := s.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
			top = max(top, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := tokens(sent)
		score := 0.0
		for _, tok := range toks {
			score += freq[tok] / top
		}
		// long sentences would otherwise always win
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, score}
	}
	slices.SortStableFunc(ranked, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return 0
	})

	picked := make([]int, n)
	for i := range picked {
		picked[i] = ranked[i].idx
	}
	slices.Sort(picked)
	out := make([]string, n)
	for i, idx := range picked {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

// Sentences splits text on sentence punctuation and line breaks.
func Sentences(text string) []string {
	var out []string
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if s = strings.TrimSpace(s); s != "" && tokenRe.MatchString(s) {
			out = append(out, s)
		}
	}
	return out
}

// Tokens returns the lower-cased words of text.
func Tokens(text string) []string { return tokens(text) }

func tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "out", "off", "own", "same", "too", "very",
		"can", "will", "just", "should", "now", "we", "you", "our", "your", "us", "they", "their",
		"job", "position", "candidate", "work", "working", "apply",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
