package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/davidguzman1991/clinical-core/internal/domain"
)

func codes(results []domain.RankedResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Code)
	}
	return out
}

func TestGroupParentChildNoopWithoutParent(t *testing.T) {
	results := []domain.RankedResult{{Code: "E11.9"}, {Code: "G43.9"}}

	out := groupParentChild(results)

	assert.Equal(t, []string{"E11.9", "G43.9"}, codes(out))
}

func TestGroupParentChildMovesChildrenAfterParent(t *testing.T) {
	results := []domain.RankedResult{
		{Code: "Z99.9", Score: 30},
		{Code: "E11.8", Score: 25},
		{Code: "E11", Score: 20},
		{Code: "E11.9", Score: 15},
	}

	out := groupParentChild(results)

	assert.Equal(t, []string{"Z99.9", "E11", "E11.8", "E11.9"}, codes(out))
}

func TestGroupParentChildPreservesUnrelatedOrder(t *testing.T) {
	results := []domain.RankedResult{
		{Code: "A00", Score: 40},
		{Code: "B01", Score: 30},
		{Code: "C02", Score: 20},
	}

	out := groupParentChild(results)

	assert.Equal(t, []string{"A00", "B01", "C02"}, codes(out))
}

func TestGroupParentChildMultipleParents(t *testing.T) {
	results := []domain.RankedResult{
		{Code: "E11", Score: 40},
		{Code: "G43", Score: 35},
		{Code: "E11.9", Score: 30},
		{Code: "G43.1", Score: 20},
		{Code: "Z99.9", Score: 10},
	}

	out := groupParentChild(results)

	assert.Equal(t, []string{"E11", "E11.9", "G43", "G43.1", "Z99.9"}, codes(out))
}
