package ranker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compass-investigate/compass/internal/scientific"
)

func newHyp(statement string, confidence float64, metadata map[string]any) *scientific.Hypothesis {
	return scientific.NewHypothesis(scientific.HypothesisParams{
		AgentID:           "test-agent",
		Statement:         statement,
		InitialConfidence: confidence,
		Metadata:          metadata,
	})
}

func TestRankOrdersByConfidenceDescending(t *testing.T) {
	h1 := newHyp("the database connection pool is exhausted", 0.4, nil)
	h2 := newHyp("network partition between services", 0.9, nil)
	h3 := newHyp("disk is full on the application host", 0.6, nil)

	result := New().Rank([]*scientific.Hypothesis{h1, h2, h3})
	ranked := result.Ranked

	require.Len(t, ranked, 3)
	assert.Equal(t, h2, ranked[0].Hypothesis)
	assert.Equal(t, h3, ranked[1].Hypothesis)
	assert.Equal(t, h1, ranked[2].Hypothesis)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 3, ranked[2].Rank)
	assert.Equal(t, 0, result.DeduplicatedCount)
	assert.Empty(t, result.Conflicts)
}

func TestRankDedupsNearDuplicateStatements(t *testing.T) {
	h1 := newHyp("the database connection is exhausted", 0.9, nil)
	h2 := newHyp("the db conn is exhausted", 0.8, nil)

	result := New().Rank([]*scientific.Hypothesis{h1, h2})

	require.Len(t, result.Ranked, 1)
	assert.Equal(t, h1, result.Ranked[0].Hypothesis)
	assert.Equal(t, 1, result.DeduplicatedCount)
}

func TestRankKeepsDistinctStatements(t *testing.T) {
	h1 := newHyp("the database connection pool is exhausted", 0.9, nil)
	h2 := newHyp("network partition between payment and ledger services", 0.8, nil)

	result := New().Rank([]*scientific.Hypothesis{h1, h2})

	assert.Len(t, result.Ranked, 2)
}

func TestRankFlagsConflictWithoutDroppingEitherHypothesis(t *testing.T) {
	h1 := newHyp("the outage was caused by a deployment", 0.9, map[string]any{
		"conflicts_with": []string{"network partition"},
	})
	h2 := newHyp("a network partition caused the outage", 0.5, nil)

	result := New().Rank([]*scientific.Hypothesis{h1, h2})

	require.Len(t, result.Ranked, 2)
	assert.Equal(t, h1, result.Ranked[0].Hypothesis)
	assert.Equal(t, h2, result.Ranked[1].Hypothesis)
	require.Len(t, result.Conflicts, 1)
	assert.Contains(t, result.Conflicts[0], "the outage was caused by a deployment")
	assert.Contains(t, result.Conflicts[0], "a network partition caused the outage")
	assert.Contains(t, result.Conflicts[0], "0.90")
	assert.Contains(t, result.Conflicts[0], "0.50")
}

func TestRankTruncatesToTopN(t *testing.T) {
	var hs []*scientific.Hypothesis
	statements := []string{
		"cause alpha affecting the checkout service",
		"cause beta affecting the billing service",
		"cause gamma affecting the shipping service",
		"cause delta affecting the inventory service",
		"cause epsilon affecting the search service",
		"cause zeta affecting the recommendation service",
	}
	for i, s := range statements {
		hs = append(hs, newHyp(s, 1.0-float64(i)*0.1, nil))
	}

	r := New()
	r.TopN = 3
	ranked := r.Rank(hs).Ranked

	require.Len(t, ranked, 3)
	assert.Equal(t, 1, ranked[0].Rank)
	assert.Equal(t, 3, ranked[2].Rank)
}

func TestRankIsIdempotentOnItsOwnOutput(t *testing.T) {
	h1 := newHyp("the database connection pool is exhausted", 0.9, nil)
	h2 := newHyp("network partition between payment and ledger services", 0.8, nil)

	r := New()
	first := r.Rank([]*scientific.Hypothesis{h1, h2}).Ranked

	survivors := make([]*scientific.Hypothesis, 0, len(first))
	for _, rk := range first {
		survivors = append(survivors, rk.Hypothesis)
	}
	second := r.Rank(survivors).Ranked

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Hypothesis, second[i].Hypothesis)
	}
}
