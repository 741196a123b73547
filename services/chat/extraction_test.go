package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/models"
)

// stubLLM returns a fixed generation for extraction tests.
type stubLLM struct {
	text string
	err  error
}

func (s *stubLLM) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (*models.Generation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Generation{Text: s.text, Model: "stub"}, nil
}

func (s *stubLLM) GenerateStream(ctx context.Context, prompt string, opts models.GenerateOptions) (<-chan models.GenerationDelta, error) {
	out := make(chan models.GenerationDelta)
	close(out)
	return out, nil
}

func (s *stubLLM) Healthy(ctx context.Context) error { return nil }
func (s *stubLLM) Name() string                      { return "stub/stub" }

func TestExtract_RegexOnly(t *testing.T) {
	extractor := NewEntityExtractor(nil)
	entities, err := extractor.Extract(context.Background(), "Hi, my name is Dana Smith, reach me at Dana.Smith@Example.COM or +1 (555) 123-4567, order #AB1234")
	require.NoError(t, err)

	assert.Equal(t, "dana.smith@example.com", entities["email"])
	assert.Equal(t, "Dana Smith", entities["name"])
	assert.Contains(t, entities["phone"], "555")
	assert.Equal(t, "AB1234", entities["order_number"])
}

func TestExtract_RegexWinsOverLLM(t *testing.T) {
	extractor := NewEntityExtractor(&stubLLM{text: `{"email":"wrong@example.com","phone":"999-999-9999"}`})
	entities, err := extractor.Extract(context.Background(), "my email is right@example.com")
	require.NoError(t, err)

	assert.Equal(t, "right@example.com", entities["email"], "regex hit is kept")
	assert.Equal(t, "999-999-9999", entities["phone"], "LLM fills keys the regex missed")
}

func TestExtract_LLMFailureDegradesToRegex(t *testing.T) {
	extractor := NewEntityExtractor(&stubLLM{err: errors.New("provider down")})
	entities, err := extractor.Extract(context.Background(), "contact me at someone@example.com")
	require.NoError(t, err)
	assert.Equal(t, "someone@example.com", entities["email"])
}

func TestExtract_NothingFound(t *testing.T) {
	extractor := NewEntityExtractor(nil)
	entities, err := extractor.Extract(context.Background(), "how do I reset my password")
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestParseEntityJSON(t *testing.T) {
	t.Run("tolerates surrounding prose", func(t *testing.T) {
		entities := parseEntityJSON("Sure! Here you go: {\"name\":\"Dana\"} hope that helps")
		require.NotNil(t, entities)
		assert.Equal(t, "Dana", entities["name"])
	})

	t.Run("drops unknown and non-string keys", func(t *testing.T) {
		entities := parseEntityJSON(`{"name":"Dana","age":42,"admin":true,"notes":""}`)
		require.NotNil(t, entities)
		assert.Len(t, entities, 1)
		assert.Equal(t, "Dana", entities["name"])
	})

	t.Run("nil on junk", func(t *testing.T) {
		assert.Nil(t, parseEntityJSON("no json here"))
		assert.Nil(t, parseEntityJSON("{broken"))
		assert.Nil(t, parseEntityJSON(`{"irrelevant":"x"}`))
	})
}
