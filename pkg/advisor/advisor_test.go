package advisor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/advisor"
	"github.com/Ramsey-B/fern/pkg/catalog"
	"github.com/Ramsey-B/fern/pkg/catalog/catalogtest"
	"github.com/Ramsey-B/fern/pkg/models"
)

const project = "p-advisor"

func seeded(t *testing.T) *catalog.MemoryStore {
	store := catalog.NewMemoryStore()
	catalogtest.Seed(t, store,
		catalogtest.Code(project, 1, "Trust in Institutions", models.CodeStatusValidated),
		catalogtest.Code(project, 2, "Distrust", models.CodeStatusPending),
		catalogtest.Code(project, 3, "Noise", models.CodeStatusRejected),
	)
	return store
}

func TestAdvisor_Advise(t *testing.T) {
	store := seeded(t)
	a := advisor.NewAdvisor(catalogtest.Logger(), 0)
	require.Equal(t, advisor.DefaultThreshold, a.Threshold())

	tests := []struct {
		name      string
		label     string
		hints     []models.SimilarityHint
		wantClass models.DuplicateClass
		wantMatch int64
	}{
		{name: "exact after normalization", label: "  trust IN institutions ", wantClass: models.DuplicateExact, wantMatch: 1},
		{name: "rejected entries are not duplicates", label: "noise", wantClass: models.DuplicateNone},
		{
			name:      "near from hint above threshold",
			label:     "Mistrust",
			hints:     []models.SimilarityHint{{StableID: 1, Score: 0.4}, {StableID: 2, Score: 0.91}},
			wantClass: models.DuplicateNear,
			wantMatch: 2,
		},
		{
			name:      "hint at threshold counts",
			label:     "Mistrust",
			hints:     []models.SimilarityHint{{StableID: 2, Score: 0.85}},
			wantClass: models.DuplicateNear,
			wantMatch: 2,
		},
		{
			name:      "hint below threshold",
			label:     "Mistrust",
			hints:     []models.SimilarityHint{{StableID: 2, Score: 0.84}},
			wantClass: models.DuplicateNone,
		},
		{
			name:      "hint on unknown or rejected code ignored",
			label:     "Mistrust",
			hints:     []models.SimilarityHint{{StableID: 99, Score: 0.99}, {StableID: 3, Score: 0.95}},
			wantClass: models.DuplicateNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advice, err := a.Advise(context.Background(), store, project, tt.label, tt.hints)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClass, advice.Classification)
			assert.Equal(t, 0.85, advice.Threshold)
			if tt.wantMatch == 0 {
				assert.Nil(t, advice.Match)
				return
			}
			require.NotNil(t, advice.Match)
			assert.Equal(t, tt.wantMatch, advice.Match.SID())
		})
	}
}

func TestAdvisor_CustomThreshold(t *testing.T) {
	store := seeded(t)
	a := advisor.NewAdvisor(catalogtest.Logger(), 0.5)

	advice, err := a.Advise(context.Background(), store, project, "Mistrust", []models.SimilarityHint{{StableID: 2, Score: 0.6}})
	require.NoError(t, err)
	assert.Equal(t, models.DuplicateNear, advice.Classification)
	assert.Equal(t, 0.6, advice.Score)
}
