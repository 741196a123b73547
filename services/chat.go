package services

import (
	"context"
	"time"

	"github.com/tas-support-backend/models"
)

// SessionStore is the durable conversation state: rooms, messages, session
// contexts. All operations are tenant-scoped.
type SessionStore interface {
	// ResolveSession finds the active room for (tenant, sessionToken) or
	// creates a new one. Returns the room and whether it is new.
	ResolveSession(ctx context.Context, tenantID, sessionToken, visitorID string) (*models.ChatRoom, bool, error)
	GetRoom(ctx context.Context, tenantID string, roomID uint) (*models.ChatRoom, error)
	UpdateRoom(ctx context.Context, room *models.ChatRoom) error
	CloseRoom(ctx context.Context, tenantID string, roomID uint) error
	// CloseIdleRooms closes active rooms with no activity since the cutoff.
	CloseIdleRooms(ctx context.Context, cutoff time.Time) (int, error)
	TouchRoom(ctx context.Context, tenantID string, roomID uint) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	// RecentMessages returns the newest limit messages in ascending order.
	RecentMessages(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error)
	History(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error)
	Conversations(ctx context.Context, tenantID, visitorID string) ([]models.ConversationSummary, error)

	// GetContext lazily creates the per-room context on first access.
	GetContext(ctx context.Context, tenantID string, roomID uint) (*models.SessionContext, error)
	// MergeEntities merges keys into collected_entities. A nil value deletes
	// the key (used only for the internal handover flags).
	MergeEntities(ctx context.Context, tenantID string, roomID uint, entities map[string]any) (*models.SessionContext, error)

	GetClient(ctx context.Context, tenantID string) (*models.Client, error)

	// EnsureAgentUser returns the local user row for an agent, creating one
	// keyed by email for external agents so FK constraints hold.
	EnsureAgentUser(ctx context.Context, tenantID string, agent models.Agent) (*models.User, error)
}

// ConversationService orchestrates one customer turn end to end. Turns are
// serialized per room; distinct rooms proceed concurrently.
type ConversationService interface {
	ProcessMessage(ctx context.Context, tenantID string, roomID uint, content string) (*models.TurnResult, error)
	// Escalate forces agent assignment for a room regardless of detector
	// signals (POST /chat/escalate).
	Escalate(ctx context.Context, tenantID string, roomID uint) (*models.HandoverResult, error)
	PostAgentMessage(ctx context.Context, tenantID string, roomID uint, agentID uint, content string) (*models.Message, error)
	CloseConversation(ctx context.Context, tenantID string, roomID uint) error
}

// AgentDirectory unions local and external agent sources, scores candidates,
// and manages the waiting queue.
type AgentDirectory interface {
	ListAvailable(ctx context.Context, tenantID string) ([]models.Agent, error)
	// SelectAgent returns nil (no error) when nobody qualifies.
	SelectAgent(ctx context.Context, tenantID string, req models.AgentRequirements) (*models.Agent, error)
	// ReserveAgent bumps the selected agent's load at its source.
	ReserveAgent(ctx context.Context, agent models.Agent) error
	ReleaseAgent(ctx context.Context, agent models.Agent) error

	Enqueue(entry models.QueueEntry)
	// DequeueNext pops the best waiting entry for the tenant, if any.
	DequeueNext(tenantID string) (*models.QueueEntry, bool)
	QueuePosition(tenantID string, roomID uint) (position int, waiting int)
	SweepQueue(olderThan time.Duration) int
}

// RealtimeNotifier fans conversation events out to room subscribers and
// mirrors enriched payloads to the external agent bridge. Delivery is
// best-effort; the store is the source of truth.
type RealtimeNotifier interface {
	EmitNewMessage(room *models.ChatRoom, msg *models.Message)
	EmitTyping(room *models.ChatRoom, sender string, isTyping bool)
	EmitSessionUpdate(room *models.ChatRoom, payload map[string]any)
	MirrorToBridge(room *models.ChatRoom, msg *models.Message, entities map[string]any)
	NotifyAgentAssigned(room *models.ChatRoom, agent models.Agent)
}

// EntityExtractor pulls customer identity out of free text, merging LLM
// output with regex fallbacks.
type EntityExtractor interface {
	Extract(ctx context.Context, content string) (map[string]any, error)
}
