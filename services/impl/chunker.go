package impl

import "strings"

// defaultSeparators, coarsest first. The empty separator is the terminal
// fallback: split at character boundaries.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// RecursiveSplitter splits text into overlapping chunks by recursively trying
// coarser separators first (paragraphs, lines, sentences, words, characters).
// The split is deterministic for a fixed input and configuration.
type RecursiveSplitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

func NewRecursiveSplitter(chunkSize, chunkOverlap int) *RecursiveSplitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &RecursiveSplitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   defaultSeparators,
	}
}

// Split returns the chunks of text, each at most chunkSize characters, with
// chunkOverlap characters carried between neighbors. Whitespace-only chunks
// are dropped.
func (s *RecursiveSplitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	pieces := s.splitRecursive(text, s.separators)
	return s.mergeWithOverlap(pieces)
}

// splitRecursive cuts text on the first separator that appears in it; pieces
// still over the limit recurse with the finer separators.
func (s *RecursiveSplitter) splitRecursive(text string, separators []string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}

	sep := separators[len(separators)-1]
	rest := separators
	for i, candidate := range separators {
		if candidate == "" || strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	if sep == "" {
		// Character-level split, the last resort for unbroken runs.
		var out []string
		for len(text) > s.chunkSize {
			out = append(out, text[:s.chunkSize])
			text = text[s.chunkSize:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	var pieces []string
	for _, part := range strings.Split(text, sep) {
		if part == "" {
			continue
		}
		// Keep the separator attached so merged chunks read naturally.
		candidate := part + sep
		if len(candidate) <= s.chunkSize {
			pieces = append(pieces, candidate)
		} else {
			pieces = append(pieces, s.splitRecursive(candidate, rest)...)
		}
	}
	return pieces
}

// mergeWithOverlap greedily packs pieces into chunks up to chunkSize, then
// seeds each following chunk with the tail of the previous one.
func (s *RecursiveSplitter) mergeWithOverlap(pieces []string) []string {
	var chunks []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
	}

	for _, piece := range pieces {
		if current.Len() > 0 && current.Len()+len(piece) > s.chunkSize {
			tail := overlapTail(current.String(), s.chunkOverlap)
			flush()
			current.WriteString(tail)
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

// overlapTail returns the last n characters of text, extended left to the
// nearest space so the overlap does not begin mid-word.
func overlapTail(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if len(text) <= n {
		return text
	}
	tail := text[len(text)-n:]
	if idx := strings.IndexByte(tail, ' '); idx > 0 && idx < len(tail)-1 {
		tail = tail[idx+1:]
	}
	return tail
}
