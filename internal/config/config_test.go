package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestValidateRejectsNonPositiveBudget(t *testing.T) {
	c := Defaults()
	c.DefaultBudgetLimit = 0
	require.Error(t, c.Validate())
}

func TestValidateRejectsBadSimilarityThreshold(t *testing.T) {
	c := Defaults()
	c.RankerSimilarityThreshold = 1.5
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RankerSimilarityThreshold")
}
