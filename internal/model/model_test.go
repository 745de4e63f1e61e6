package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/internal/model"
)

func TestHistoryItemTimestamp(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(2 * time.Hour)

	item := model.HistoryItem{CreatedAt: created, UpdatedAt: updated}
	assert.Equal(t, updated, item.Timestamp())

	item.UpdatedAt = time.Time{}
	assert.Equal(t, created, item.Timestamp())
}

func TestHistoryItemInput(t *testing.T) {
	item := model.HistoryItem{UserInputs: []model.InputPair{
		{Variable: "destination", Value: "Kyoto"},
		{Variable: "days", Value: "5"},
	}}

	v, ok := item.Input("destination")
	require.True(t, ok)
	assert.Equal(t, "Kyoto", v)

	_, ok = item.Input("budget")
	assert.False(t, ok)
}

func TestFileMetaDisplayURL(t *testing.T) {
	f := model.FileMeta{FileURL: "https://files.example.com/a.pdf"}
	assert.Equal(t, "https://files.example.com/a.pdf", f.DisplayURL())

	f.SignedURL = "https://files.example.com/a.pdf?sig=abc"
	assert.Equal(t, "https://files.example.com/a.pdf?sig=abc", f.DisplayURL())
}

func TestExecutionDetailInputs(t *testing.T) {
	pair := func(v string) []model.InputPair {
		return []model.InputPair{{Variable: "topic", Value: v}}
	}

	cases := []struct {
		name   string
		detail model.ExecutionDetail
		want   string
	}{
		{
			name: "user_inputs wins over all later keys",
			detail: model.ExecutionDetail{
				UserInputs:   pair("current"),
				AgentInputs:  pair("agent"),
				LegacyInputs: pair("legacy"),
			},
			want: "current",
		},
		{
			name:   "Agent_inputs when user_inputs empty",
			detail: model.ExecutionDetail{AgentInputs: pair("agent"), LegacyInputs: pair("legacy")},
			want:   "agent",
		},
		{
			name:   "inputs when both newer keys empty",
			detail: model.ExecutionDetail{LegacyInputs: pair("legacy")},
			want:   "legacy",
		},
		{
			name:   "execution_data wrapper as last resort",
			detail: model.ExecutionDetail{ExecutionData: &model.ExecutionData{UserInputs: pair("nested")}},
			want:   "nested",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.detail.Inputs()
			require.Len(t, got, 1)
			assert.Equal(t, tc.want, got[0].Value)
		})
	}

	assert.Nil(t, model.ExecutionDetail{}.Inputs())
}
