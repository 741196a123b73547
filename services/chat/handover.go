package chat

import (
	"regexp"
	"strings"

	"github.com/tas-support-backend/models"
)

// Detector thresholds. Confidence here is the detector's certainty that a
// human should take over, not the retrieval confidence.
const (
	repetitionSimilarity   = 0.7
	repetitionLookback     = 5
	maxSimilarQuestions    = 3
	prolongedExchanges     = 6
	prolongedShortReplies  = 3
	shortReplyLength       = 120
	lowConfidenceThreshold = 0.35
	lowConfidenceStreak    = 2
)

// identityRequest is the verdict message for non-immediate handovers: the
// customer is asked to identify themselves before an agent is assigned.
const identityRequest = "I can connect you with a member of our team. Could you share your name and email so they can look into this for you?"

var (
	explicitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(talk|speak|chat)\s+(to|with)\s+(a\s+)?(human|person|agent|representative|someone real)\b`),
		regexp.MustCompile(`(?i)\b(human|real person|live agent|real agent)\b.*\b(please|now)\b`),
		regexp.MustCompile(`(?i)\btransfer\s+me\b`),
		regexp.MustCompile(`(?i)\b(get|need|want)\s+(me\s+)?(a\s+)?(human|agent|representative|manager|supervisor)\b`),
		regexp.MustCompile(`(?i)\bstop\s+(the\s+)?bot\b`),
		regexp.MustCompile(`(?i)\b(legal|lawyer|lawsuit|sue|suing)\b`),
		regexp.MustCompile(`(?i)\bemergency\b`),
	}

	assistedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\brefund\b`),
		regexp.MustCompile(`(?i)\bcancel\s+(my\s+)?(order|subscription|account)\b`),
		regexp.MustCompile(`(?i)\b(billing|payment|charge[ds]?)\s+(issue|problem|dispute|error)\b`),
		regexp.MustCompile(`(?i)\bpayment\s+(failed|declined)\b`),
		regexp.MustCompile(`(?i)\b(charged|billed)\s+twice\b`),
		regexp.MustCompile(`(?i)\bfile\s+a\s+complaint\b`),
		regexp.MustCompile(`(?i)\b(account|login)\s+(locked|blocked)\b`),
		regexp.MustCompile(`(?i)\bchargeback\b`),
	}

	frustrationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(this is )?(ridiculous|unacceptable|useless|terrible|awful|worst)\b`),
		regexp.MustCompile(`(?i)\b(so\s+)?(frustrat(ed|ing)|angry|furious|fed up)\b`),
		regexp.MustCompile(`(?i)\byou('re| are)\s+not\s+help(ing|ful)\b`),
		regexp.MustCompile(`(?i)\bwaste\s+of\s+time\b`),
		regexp.MustCompile(`!{3,}`),
	}
)

// HandoverDetector decides when the AI should hand the conversation to a
// human. Pure: same message plus same history yields the same verdict.
type HandoverDetector struct{}

func NewHandoverDetector() *HandoverDetector {
	return &HandoverDetector{}
}

// Detect applies the rules in priority order and returns the first hit, or
// nil when the AI keeps the conversation. entities are the collected session
// facts: a customer we can already identify skips the identity exchange and
// goes straight to an agent.
func (d *HandoverDetector) Detect(content string, history []models.Message, entities map[string]any) *models.HandoverDecision {
	trimmed := strings.TrimSpace(content)

	if matchesAny(trimmed, explicitPatterns) {
		return &models.HandoverDecision{
			ShouldHandover: true,
			Immediate:      true,
			Reason:         models.ReasonExplicitRequest,
			Confidence:     1.0,
		}
	}

	if matchesAny(trimmed, assistedPatterns) {
		return identityGated(models.ReasonAssistedIssue, 0.85, entities)
	}

	if matchesAny(trimmed, frustrationPatterns) || isShouting(trimmed) {
		return identityGated(models.ReasonFrustration, 0.9, entities)
	}

	if d.isRepetitive(trimmed, history) {
		return &models.HandoverDecision{
			ShouldHandover: true,
			Immediate:      true,
			Reason:         models.ReasonRepetitiveQuestion,
			Confidence:     0.8,
		}
	}

	if d.isProlonged(history) {
		return &models.HandoverDecision{
			ShouldHandover: true,
			Immediate:      true,
			Reason:         models.ReasonProlongedExchange,
			Confidence:     0.75,
		}
	}

	if d.hasLowConfidenceStreak(history) {
		return &models.HandoverDecision{
			ShouldHandover: true,
			Immediate:      true,
			Reason:         models.ReasonLowConfidence,
			Confidence:     0.7,
		}
	}

	return nil
}

// identityGated builds the verdict for rules that promote to immediate only
// when the customer is already identified.
func identityGated(reason string, confidence float64, entities map[string]any) *models.HandoverDecision {
	immediate := hasIdentity(entities)
	decision := &models.HandoverDecision{
		ShouldHandover: true,
		Immediate:      immediate,
		Reason:         reason,
		Confidence:     confidence,
	}
	if !immediate {
		decision.Message = identityRequest
	}
	return decision
}

func matchesAny(content string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// hasIdentity: any of email, name, or phone counts.
func hasIdentity(entities map[string]any) bool {
	for _, key := range []string{"email", "name", "phone"} {
		if v, _ := entities[key].(string); v != "" {
			return true
		}
	}
	return false
}

// isShouting: mostly-uppercase messages of meaningful length read as anger.
func isShouting(content string) bool {
	letters, upper := 0, 0
	for _, r := range content {
		if r >= 'a' && r <= 'z' {
			letters++
		} else if r >= 'A' && r <= 'Z' {
			letters++
			upper++
		}
	}
	return letters >= 12 && float64(upper)/float64(letters) > 0.8
}

// isRepetitive pairs the new message against the last few customer messages
// by token Jaccard similarity. One echo is normal conversation; the rule
// fires only once enough pairs within the lookback window match.
func (d *HandoverDetector) isRepetitive(content string, history []models.Message) bool {
	current := tokenSet(content)
	if len(current) < 3 {
		return false
	}
	seen, similar := 0, 0
	for i := len(history) - 1; i >= 0 && seen < repetitionLookback; i-- {
		if history[i].SenderType != models.SenderCustomer {
			continue
		}
		seen++
		if jaccard(current, tokenSet(history[i].Content)) >= repetitionSimilarity {
			similar++
			if similar >= maxSimilarQuestions {
				return true
			}
		}
	}
	return false
}

// isProlonged: a long back-and-forth where the assistant keeps producing
// short answers is going nowhere.
func (d *HandoverDetector) isProlonged(history []models.Message) bool {
	customerTurns, shortReplies := 0, 0
	for _, msg := range history {
		switch msg.SenderType {
		case models.SenderCustomer:
			customerTurns++
		case models.SenderAI:
			if len(strings.TrimSpace(msg.Content)) < shortReplyLength {
				shortReplies++
			}
		}
	}
	return customerTurns >= prolongedExchanges && shortReplies >= prolongedShortReplies
}

// hasLowConfidenceStreak checks the most recent AI replies for consecutive
// low retrieval confidence.
func (d *HandoverDetector) hasLowConfidenceStreak(history []models.Message) bool {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderType != models.SenderAI {
			continue
		}
		meta := models.MetadataFromJSON(history[i].Metadata)
		if meta == nil || meta.Confidence == nil {
			return false
		}
		if *meta.Confidence >= lowConfidenceThreshold {
			return false
		}
		streak++
		if streak >= lowConfidenceStreak {
			return true
		}
	}
	return false
}

var tokenPattern = regexp.MustCompile(`[a-z0-9']+`)

func tokenSet(content string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(content), -1) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
