package models

import (
	"time"

	"gorm.io/datatypes"
)

type RoomStatus string
type SenderType string
type AgentSource string

const (
	RoomStatusActive RoomStatus = "active"
	RoomStatusClosed RoomStatus = "closed"

	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderAgent    SenderType = "agent"
	SenderSystem   SenderType = "system"

	AgentSourceLocal    AgentSource = "local"
	AgentSourceExternal AgentSource = "external"
)

// Client is a tenant of the platform. ClientID is the tenant identifier used
// everywhere (vector collections, room scoping, cache keys).
type Client struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	ClientID  string         `json:"client_id" gorm:"uniqueIndex;size:100;not null"`
	Name      string         `json:"name" gorm:"size:255"`
	Settings  datatypes.JSON `json:"settings,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func (Client) TableName() string { return "clients" }

// User is a human agent (or admin). External directory agents get a local row
// keyed by email on first assignment so message FKs hold.
type User struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	ClientID      string         `json:"client_id" gorm:"index;size:100"`
	Name          string         `json:"name" gorm:"size:255;not null"`
	Email         string         `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Role          string         `json:"role" gorm:"size:50;default:agent"`
	Status        string         `json:"status" gorm:"size:20;default:offline"`
	MaxConcurrent int            `json:"max_concurrent" gorm:"default:3"`
	CurrentLoad   int            `json:"current_load" gorm:"default:0"`
	Department    string         `json:"department,omitempty" gorm:"size:100"`
	Skills        datatypes.JSON `json:"skills,omitempty"`
	Source        AgentSource    `json:"source" gorm:"size:20;default:local"`
	ExternalID    string         `json:"external_id,omitempty" gorm:"size:100"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// ChatRoom is one conversation between a visitor and the AI / a human agent.
type ChatRoom struct {
	ID              uint        `json:"id" gorm:"primaryKey"`
	ClientID        string      `json:"client_id" gorm:"index;size:100;not null"`
	SessionToken    string      `json:"session_token" gorm:"uniqueIndex;size:64;not null"`
	VisitorID       string      `json:"visitor_id" gorm:"index;size:100"`
	Status          RoomStatus  `json:"status" gorm:"size:20;default:active;index"`
	AssignedAgentID *uint       `json:"assigned_agent_id,omitempty" gorm:"index"`
	AssignedAgent   *User       `json:"assigned_agent,omitempty" gorm:"foreignKey:AssignedAgentID"`
	AgentSource     *string     `json:"agent_source,omitempty" gorm:"size:20"`
	Takeover        bool        `json:"takeover" gorm:"default:false"`
	CustomerEmail   *string     `json:"customer_email,omitempty" gorm:"size:255"`
	CustomerName    *string     `json:"customer_name,omitempty" gorm:"size:255"`
	CreatedAt       time.Time   `json:"created_at"`
	LastActivityAt  time.Time   `json:"last_activity_at" gorm:"index"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// Message ordering within a room is created_at then id.
type Message struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	RoomID     uint           `json:"room_id" gorm:"index;not null"`
	Room       *ChatRoom      `json:"-" gorm:"foreignKey:RoomID"`
	ClientID   string         `json:"client_id" gorm:"index;size:100;not null"`
	SenderType SenderType     `json:"sender_type" gorm:"size:20;not null"`
	SenderID   *uint          `json:"sender_id,omitempty"`
	Content    string         `json:"content" gorm:"type:text;not null"`
	Metadata   datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at" gorm:"index"`
}

func (Message) TableName() string { return "messages" }

// SessionContext accumulates structured conversation state. CollectedEntities
// is monotonic for the life of the room: keys are added or overwritten, never
// dropped, except the internal pendingHandover/handoverReason flags which are
// cleared on handover resolution.
type SessionContext struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	RoomID            uint           `json:"room_id" gorm:"uniqueIndex:idx_session_room_client;not null"`
	Room              *ChatRoom      `json:"-" gorm:"foreignKey:RoomID"`
	ClientID          string         `json:"client_id" gorm:"uniqueIndex:idx_session_room_client;size:100;not null"`
	CollectedEntities datatypes.JSON `json:"collected_entities"`
	CurrentWorkflow   *string        `json:"current_workflow,omitempty" gorm:"size:100"`
	WorkflowState     datatypes.JSON `json:"workflow_state,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

func (SessionContext) TableName() string { return "session_contexts" }

// MessageMetadata is the structured shape stored in Message.Metadata for AI
// replies.
type MessageMetadata struct {
	Sources       []QuerySource `json:"sources,omitempty"`
	Intent        string        `json:"intent,omitempty"`
	Confidence    *float64      `json:"confidence,omitempty"`
	QueryDuration int64         `json:"queryDuration,omitempty"`
}

// ConversationSummary is a row of GET /chat/conversations/:clientId.
type ConversationSummary struct {
	RoomID        uint      `json:"roomId"`
	StartedAt     time.Time `json:"startedAt"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	Status        string    `json:"status"`
}

// TurnResult is what ProcessMessage returns for a completed customer turn.
type TurnResult struct {
	CustomerMessage *Message        `json:"customerMessage"`
	AIMessage       *Message        `json:"aiMessage,omitempty"`
	Sources         []QuerySource   `json:"sources,omitempty"`
	Handover        *HandoverResult `json:"handover,omitempty"`
}

// HandoverResult reports the outcome of handover arbitration for a turn.
type HandoverResult struct {
	Reason        string `json:"reason"`
	AssignedAgent *Agent `json:"assignedAgent,omitempty"`
	Queued        bool   `json:"queued"`
}
