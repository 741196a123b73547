package impl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tas-support-backend/models"
)

const maxHistoryMessages = 10

const contextSeparator = "\n\n---\n\n"

// BuildSupportPrompt assembles the grounded generation prompt: collected
// customer facts, retrieved passages, recent conversation, the question, and
// the answering rules.
func BuildSupportPrompt(question string, sources []models.SearchResult, opts *models.QueryOptions) string {
	var b strings.Builder

	b.WriteString("You are a helpful customer support assistant. Answer using only the provided context.\n\n")

	if opts != nil && len(opts.Context) > 0 {
		b.WriteString("Known customer data:\n")
		keys := make([]string, 0, len(opts.Context))
		for k := range opts.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %v\n", k, opts.Context[k])
		}
		b.WriteString("\n")
	}

	if len(sources) > 0 {
		b.WriteString("Context from the knowledge base:\n")
		passages := make([]string, 0, len(sources))
		for _, s := range sources {
			passages = append(passages, s.Text)
		}
		b.WriteString(strings.Join(passages, contextSeparator))
		b.WriteString("\n\n")
	}

	if opts != nil && len(opts.History) > 0 {
		history := opts.History
		if len(history) > maxHistoryMessages {
			history = history[len(history)-maxHistoryMessages:]
		}
		b.WriteString("Recent conversation:\n")
		for _, msg := range history {
			role := "Customer"
			switch msg.SenderType {
			case models.SenderAI:
				role = "Assistant"
			case models.SenderAgent:
				role = "Agent"
			case models.SenderSystem:
				role = "System"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\n", question)

	b.WriteString("Rules:\n")
	b.WriteString("- Answer only from the context above; if it does not contain the answer, say you don't know and offer to connect the customer with a human agent.\n")
	b.WriteString("- Be concise and friendly.\n")
	b.WriteString("- Never invent order numbers, prices, policies, or dates.\n")
	b.WriteString("- Address the customer by name when it is known.\n")
	if opts != nil && opts.PromptType == "identity" {
		b.WriteString("- A human agent will take over shortly. Ask the customer for their name and email so the agent can look into their issue, but do not ask again for anything already listed under known customer data.\n")
	}

	return b.String()
}
