package models

import "time"

type QueuePriority int

const (
	PriorityLow    QueuePriority = 0
	PriorityNormal QueuePriority = 1
	PriorityHigh   QueuePriority = 2
	PriorityVIP    QueuePriority = 3
)

func (p QueuePriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityHigh:
		return "HIGH"
	case PriorityVIP:
		return "VIP"
	default:
		return "NORMAL"
	}
}

// Agent is the normalized directory record. Local and external sources both
// map into this shape before selection.
type Agent struct {
	ID            string      `json:"id"`
	Source        AgentSource `json:"source"`
	Name          string      `json:"name"`
	Email         string      `json:"email"`
	Status        string      `json:"status"` // online/offline/busy/away
	MaxConcurrent int         `json:"max_concurrent"`
	CurrentLoad   int         `json:"current_load"`
	Department    string      `json:"department,omitempty"`
	Skills        []string    `json:"skills,omitempty"`
}

// Available reports whether the agent can take one more conversation.
func (a Agent) Available() bool {
	return a.Status == "online" && a.CurrentLoad < a.MaxConcurrent
}

// AgentRequirements narrows selection for a handover.
type AgentRequirements struct {
	Department     string   `json:"department,omitempty"`
	RequiredSkills []string `json:"required_skills,omitempty"`
}

// QueueEntry is a room waiting for a human agent. Ordering: priority DESC,
// then enqueued_at ASC.
type QueueEntry struct {
	TenantID       string         `json:"tenant_id"`
	RoomID         uint           `json:"room_id"`
	Priority       QueuePriority  `json:"priority"`
	Department     string         `json:"department,omitempty"`
	RequiredSkills []string       `json:"required_skills,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	CustomerInfo   map[string]any `json:"customer_info,omitempty"`
}

// HandoverDecision is the detector verdict. A nil decision means the AI keeps
// the conversation.
type HandoverDecision struct {
	ShouldHandover bool    `json:"shouldHandover"`
	Immediate      bool    `json:"immediate"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
	Message        string  `json:"message,omitempty"`
}

// Handover reasons, in detector priority order.
const (
	ReasonExplicitRequest    = "explicit_request"
	ReasonAssistedIssue      = "assisted_issue"
	ReasonFrustration        = "frustration"
	ReasonRepetitiveQuestion = "repetitive_questions"
	ReasonProlongedExchange  = "prolonged_back_and_forth"
	ReasonLowConfidence      = "low_ai_confidence"
)
