package hashing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/domain"
	"eures-rank/internal/vecmath"
)

func TestEmbedIsDeterministicAndNormalised(t *testing.T) {
	e := New(64)
	a, err := e.Embed(context.Background(), "Senior Go engineer, distributed systems")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "Senior Go engineer, distributed systems")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, vecmath.Norm(a), 1e-6)
}

func TestSharedVocabularyScoresHigher(t *testing.T) {
	e := New(256)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "backend engineer golang kubernetes")
	near, _ := e.Embed(ctx, "We hire a golang backend engineer to run kubernetes clusters")
	far, _ := e.Embed(ctx, "Pastry chef for a seaside bakery")
	assert.Greater(t, vecmath.Cosine(q, near), vecmath.Cosine(q, far))
}

func TestEmbedStopwordsOnly(t *testing.T) {
	_, err := New(8).Embed(context.Background(), "the and of")
	assert.ErrorIs(t, err, domain.ErrRecordSkipped)
}
