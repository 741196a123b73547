package impl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecursiveSplitter_ShortTextSingleChunk(t *testing.T) {
	splitter := NewRecursiveSplitter(1000, 100)
	chunks := splitter.Split("just a short paragraph")
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a short paragraph", chunks[0])
}

func TestRecursiveSplitter_EmptyInput(t *testing.T) {
	splitter := NewRecursiveSplitter(1000, 100)
	assert.Empty(t, splitter.Split(""))
	assert.Empty(t, splitter.Split("   \n  "))
}

func TestRecursiveSplitter_RespectsChunkSize(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("This is sentence number one of the paragraph. ")
	}
	splitter := NewRecursiveSplitter(200, 20)
	chunks := splitter.Split(b.String())

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), 200, "chunk exceeds size: %q", chunk)
	}
}

func TestRecursiveSplitter_PrefersParagraphBoundaries(t *testing.T) {
	para1 := strings.Repeat("alpha beta gamma. ", 8)
	para2 := strings.Repeat("delta epsilon zeta. ", 8)
	text := strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	splitter := NewRecursiveSplitter(160, 0)
	chunks := splitter.Split(text)

	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Contains(t, chunks[0], "alpha")
	assert.Contains(t, chunks[len(chunks)-1], "zeta")
}

func TestRecursiveSplitter_OverlapCarriesTail(t *testing.T) {
	words := make([]string, 100)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	splitter := NewRecursiveSplitter(120, 30)
	chunks := splitter.Split(text)
	require.Greater(t, len(chunks), 1)

	// Consecutive chunks share text when overlap is configured.
	for i := 1; i < len(chunks); i++ {
		tail := chunks[i-1][len(chunks[i-1])-10:]
		assert.Contains(t, chunks[i], strings.TrimSpace(tail))
	}
}

func TestRecursiveSplitter_AllChunksReconstructContent(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 30)
	splitter := NewRecursiveSplitter(150, 0)
	chunks := splitter.Split(text)

	joined := strings.Join(chunks, " ")
	for _, word := range []string{"quick", "brown", "lazy"} {
		assert.Contains(t, joined, word)
	}
}
