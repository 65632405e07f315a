package search

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/domain"
	"github.com/davidguzman1991/clinical-core/internal/rank"
	"github.com/davidguzman1991/clinical-core/internal/retrieve"
	"github.com/davidguzman1991/clinical-core/internal/searchlog"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testSearchConfig() *config.SearchConfig {
	return &config.SearchConfig{
		Weights: config.RankWeights{
			ExactMatch: 100, PrefixMatch: 50, DescriptionMatch: 20,
			Similarity: 0.30, PriorityBoost: 10, IntentBonus: 15, TagMatch: 5, DictionaryBoost: 8, FrequencyBoost: 2,
		},
		SimilarityThreshold:   0.20,
		DefaultLimit:          10,
		MaxLimit:              50,
		CandidateMultiplier:   4,
		EnableIntentDetection: true,
		EnableSearchLogging:   false,
	}
}

func newOrchestrator(ms *store.MemStore) *Orchestrator {
	log := testLogger()
	retriever := retrieve.New(ms, log)
	engine := rank.New(testSearchConfig())
	writer := searchlog.New(ms, log)
	return New(ms, retriever, engine, writer, testSearchConfig(), log)
}

func TestSearchNaturalLanguage(t *testing.T) {
	ms := store.NewMemStore(true)
	ms.SeedExtended(domain.ICD10Code{
		Code: "E11.9", Description: "Diabetes mellitus tipo 2 sin complicaciones",
		DescriptionNormalized: "diabetes mellitus tipo 2 sin complicaciones",
		SearchText:            "diabetes mellitus tipo 2 sin complicaciones",
		Priority:              domain.PriorityHigh, Tags: "cardiometabolic",
	})
	o := newOrchestrator(ms)

	resp, err := o.Search(context.Background(), Request{Query: "diabetes mellitus", Limit: 10})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "E11.9", resp.Results[0].Code)
	assert.Equal(t, "cardiometabolic", resp.Intent)
	assert.Equal(t, "base", resp.Source)
}

func TestSearchCodeQuery(t *testing.T) {
	ms := store.NewMemStore(false)
	ms.SeedExtended(domain.ICD10Code{Code: "E11.9", Description: "Diabetes mellitus tipo 2"})
	o := newOrchestrator(ms)

	resp, err := o.Search(context.Background(), Request{Query: "E119", Limit: 10})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "E11.9", resp.Results[0].Code)
	assert.True(t, resp.Results[0].MatchFeatures.ExactCodeMatch)
}

func TestSearchRetryPlanExpandsHeadacheVariant(t *testing.T) {
	ms := store.NewMemStore(true)
	ms.SeedExtended(domain.ICD10Code{
		Code: "G43.9", Description: "Migraña no especificada",
		DescriptionNormalized: "migrana no especificada",
		SearchText:            "cefalea migrana", Priority: domain.PriorityMedium, Tags: "neurological",
	})
	o := newOrchestrator(ms)

	resp, err := o.Search(context.Background(), Request{Query: "dolor de cabeza", Limit: 10})

	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "G43.9", resp.Results[0].Code)
	assert.Equal(t, "variant:cefalea", resp.Source)
}

func TestSearchDictionaryEntryBoostsCodeToTop(t *testing.T) {
	ms := store.NewMemStore(true)
	ms.SeedExtended(
		domain.ICD10Code{
			Code: "E11.9", Description: "Diabetes mellitus tipo 2 sin complicaciones",
			DescriptionNormalized: "diabetes mellitus tipo 2 sin complicaciones",
			SearchText:            "diabetes mellitus tipo 2 sin complicaciones",
			Priority:              domain.PriorityHigh, Tags: "cardiometabolic",
		},
		domain.ICD10Code{
			Code: "R73.9", Description: "Hiperglucemia no especificada",
			DescriptionNormalized: "hiperglucemia no especificada",
			SearchText:            "hiperglucemia no especificada",
		},
	)
	ms.SeedDictionary(domain.DictionaryEntry{Term: "diabetes tipo 2", ICD10Code: "E11.9", Priority: 10})
	o := newOrchestrator(ms)

	resp, err := o.Search(context.Background(), Request{Query: "diabetes tipo 2", Limit: 10})

	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "E11.9", resp.Results[0].Code)
	assert.Contains(t, resp.Results[0].Explanation, "dictionary_priority=10")
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	ms := store.NewMemStore(false)
	o := newOrchestrator(ms)

	_, err := o.Search(context.Background(), Request{Query: "   "})

	require.Error(t, err)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSearchHonorsCancellation(t *testing.T) {
	ms := store.NewMemStore(false)
	o := newOrchestrator(ms)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Search(ctx, Request{Query: "diabetes"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
