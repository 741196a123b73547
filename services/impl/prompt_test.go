package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/models"
)

func TestBuildSupportPrompt_SourcesJoinedWithSeparator(t *testing.T) {
	sources := []models.SearchResult{
		{Text: "Refunds take 5-7 business days."},
		{Text: "Contact billing for invoice copies."},
	}
	prompt := BuildSupportPrompt("How long do refunds take?", sources, nil)

	assert.Contains(t, prompt, "Context from the knowledge base:")
	assert.Contains(t, prompt, "Refunds take 5-7 business days."+contextSeparator+"Contact billing for invoice copies.")
	assert.Contains(t, prompt, "Question: How long do refunds take?")
	assert.Contains(t, prompt, "Rules:")
}

func TestBuildSupportPrompt_NoSourcesOmitsContextSection(t *testing.T) {
	prompt := BuildSupportPrompt("anything", nil, nil)
	assert.NotContains(t, prompt, "Context from the knowledge base:")
	assert.NotContains(t, prompt, "Known customer data:")
	assert.NotContains(t, prompt, "Recent conversation:")
}

func TestBuildSupportPrompt_CustomerDataSortedByKey(t *testing.T) {
	opts := &models.QueryOptions{
		Context: map[string]any{"name": "Dana", "email": "dana@example.com"},
	}
	prompt := BuildSupportPrompt("where is my order", nil, opts)

	require.Contains(t, prompt, "Known customer data:")
	emailIdx := strings.Index(prompt, "- email: dana@example.com")
	nameIdx := strings.Index(prompt, "- name: Dana")
	require.Greater(t, emailIdx, -1)
	require.Greater(t, nameIdx, -1)
	assert.Less(t, emailIdx, nameIdx)
}

func TestBuildSupportPrompt_HistoryWindowAndRoles(t *testing.T) {
	history := make([]models.Message, 0, 12)
	for i := 0; i < 12; i++ {
		history = append(history, models.Message{SenderType: models.SenderCustomer, Content: "old"})
	}
	history[0].Content = "dropped-first"
	history[1].Content = "dropped-second"
	history = append(history, models.Message{SenderType: models.SenderAI, Content: "bot reply"})
	history = append(history, models.Message{SenderType: models.SenderAgent, Content: "agent reply"})
	history = history[4:] // keep it simple: 10 entries ending with ai+agent

	prompt := BuildSupportPrompt("next question", nil, &models.QueryOptions{History: history})

	assert.Contains(t, prompt, "Recent conversation:")
	assert.Contains(t, prompt, "Assistant: bot reply")
	assert.Contains(t, prompt, "Agent: agent reply")
	assert.NotContains(t, prompt, "dropped-first")
	assert.NotContains(t, prompt, "dropped-second")
}

func TestBuildSupportPrompt_TruncatesLongHistory(t *testing.T) {
	history := make([]models.Message, 0, 15)
	for i := 0; i < 15; i++ {
		history = append(history, models.Message{SenderType: models.SenderCustomer, Content: "turn"})
	}
	history[0].Content = "very-first-turn"

	prompt := BuildSupportPrompt("q about things", nil, &models.QueryOptions{History: history})
	assert.NotContains(t, prompt, "very-first-turn")
	assert.Equal(t, maxHistoryMessages, strings.Count(prompt, "Customer: turn"))
}

func TestBuildSupportPrompt_IdentityModeAddsCollectionRule(t *testing.T) {
	opts := &models.QueryOptions{PromptType: "identity"}
	prompt := BuildSupportPrompt("I need a refund", nil, opts)
	assert.Contains(t, prompt, "Ask the customer for their name and email")

	plain := BuildSupportPrompt("I need a refund", nil, &models.QueryOptions{})
	assert.NotContains(t, plain, "Ask the customer for their name and email")
}
