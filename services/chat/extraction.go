package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\s().\-]{7,}[0-9]`)
	namePattern  = regexp.MustCompile(`(?i)\bmy name is\s+([A-Za-z][A-Za-z'\-]+(?:\s+[A-Za-z][A-Za-z'\-]+)?)`)
	orderPattern = regexp.MustCompile(`(?i)\border\s*(?:number|no\.?|#)?\s*[:#]?\s*([A-Z0-9]{4,}[\-A-Z0-9]*)`)
)

const extractionPrompt = `Extract customer details from the message below. Respond with a single JSON object using only these keys when present: "name", "email", "phone", "order_number". Omit keys you cannot find. No prose.

Message: %q`

// entityExtractor pulls identity facts out of customer messages. The LLM
// handles phrasing the regexes miss; the regexes keep extraction working when
// the provider is down or returns junk.
type entityExtractor struct {
	llm services.LLMService
}

func NewEntityExtractor(llm services.LLMService) services.EntityExtractor {
	return &entityExtractor{llm: llm}
}

func (e *entityExtractor) Extract(ctx context.Context, content string) (map[string]any, error) {
	entities := extractWithRegex(content)

	if e.llm != nil {
		if llmEntities := e.extractWithLLM(ctx, content); llmEntities != nil {
			// Regex hits are higher precision; LLM output fills the gaps.
			for k, v := range llmEntities {
				if _, taken := entities[k]; !taken {
					entities[k] = v
				}
			}
		}
	}
	return entities, nil
}

func extractWithRegex(content string) map[string]any {
	entities := make(map[string]any)
	if m := emailPattern.FindString(content); m != "" {
		entities["email"] = strings.ToLower(m)
	}
	if m := phonePattern.FindString(content); m != "" {
		entities["phone"] = strings.TrimSpace(m)
	}
	if m := namePattern.FindStringSubmatch(content); len(m) == 2 {
		entities["name"] = m[1]
	}
	if m := orderPattern.FindStringSubmatch(content); len(m) == 2 {
		entities["order_number"] = m[1]
	}
	return entities
}

func (e *entityExtractor) extractWithLLM(ctx context.Context, content string) map[string]any {
	temp := 0.0
	generation, err := e.llm.Generate(ctx, fmt.Sprintf(extractionPrompt, content), models.GenerateOptions{
		Temperature:     &temp,
		MaxOutputTokens: 200,
	})
	if err != nil {
		log.Printf("[EXTRACT] LLM extraction failed, regex only: %v", err)
		return nil
	}
	return parseEntityJSON(generation.Text)
}

// parseEntityJSON tolerates prose around the object and keeps only known
// string-valued keys.
func parseEntityJSON(text string) map[string]any {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil
	}
	allowed := map[string]bool{"name": true, "email": true, "phone": true, "order_number": true}
	entities := make(map[string]any)
	for k, v := range raw {
		if !allowed[k] {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			entities[k] = strings.TrimSpace(s)
		}
	}
	if len(entities) == 0 {
		return nil
	}
	return entities
}
