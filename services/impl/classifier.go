package impl

import (
	"regexp"
	"strings"

	"github.com/tas-support-backend/models"
)

var greetingPattern = regexp.MustCompile(`^(hi|hiya|hello|hey|howdy|good\s+(morning|afternoon|evening)|greetings|yo|sup|what'?s\s+up|thanks?|thank\s+you|bye|goodbye|see\s+ya|ok(ay)?)[\s!.,?]*$`)

// ClassifyQuestion routes trivial social messages away from retrieval so a
// bare "hello" never burns an embedding call.
func ClassifyQuestion(question string) models.QueryRoute {
	normalized := strings.ToLower(strings.TrimSpace(question))
	if greetingPattern.MatchString(normalized) {
		return models.RouteGreeting
	}
	return models.RouteVector
}

// GreetingReply is the canned response for the greeting route.
func GreetingReply() string {
	return "Hello! How can I help you today?"
}
