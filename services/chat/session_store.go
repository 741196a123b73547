package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
	"gorm.io/gorm"
)

// sessionStore is the GORM-backed conversation state. Every query is scoped by
// client_id; a roomID from another tenant behaves as not found.
type sessionStore struct {
	db *gorm.DB
}

func NewSessionStore(db *gorm.DB) services.SessionStore {
	return &sessionStore{db: db}
}

func newSessionToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func (s *sessionStore) ResolveSession(ctx context.Context, tenantID, sessionToken, visitorID string) (*models.ChatRoom, bool, error) {
	if sessionToken != "" {
		var room models.ChatRoom
		err := s.db.WithContext(ctx).
			Where("client_id = ? AND session_token = ? AND status = ?", tenantID, sessionToken, models.RoomStatusActive).
			First(&room).Error
		if err == nil {
			return &room, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to resolve session: %w", err)
		}
	}

	// Closed or unknown token: start a fresh room with a fresh token.
	room := models.ChatRoom{
		ClientID:       tenantID,
		SessionToken:   newSessionToken(),
		VisitorID:      visitorID,
		Status:         models.RoomStatusActive,
		LastActivityAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&room).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create chat room: %w", err)
	}
	return &room, true, nil
}

func (s *sessionStore) GetRoom(ctx context.Context, tenantID string, roomID uint) (*models.ChatRoom, error) {
	var room models.ChatRoom
	err := s.db.WithContext(ctx).
		Preload("AssignedAgent").
		Where("client_id = ? AND id = ?", tenantID, roomID).
		First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("room %d not found for tenant %s", roomID, tenantID)
		}
		return nil, fmt.Errorf("failed to load room %d: %w", roomID, err)
	}
	return &room, nil
}

func (s *sessionStore) UpdateRoom(ctx context.Context, room *models.ChatRoom) error {
	if err := s.db.WithContext(ctx).Save(room).Error; err != nil {
		return fmt.Errorf("failed to update room %d: %w", room.ID, err)
	}
	return nil
}

func (s *sessionStore) CloseRoom(ctx context.Context, tenantID string, roomID uint) error {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("client_id = ? AND id = ? AND status = ?", tenantID, roomID, models.RoomStatusActive).
		Updates(map[string]any{"status": models.RoomStatusClosed, "closed_at": now})
	if result.Error != nil {
		return fmt.Errorf("failed to close room %d: %w", roomID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("room %d not found or already closed", roomID)
	}
	return nil
}

func (s *sessionStore) CloseIdleRooms(ctx context.Context, cutoff time.Time) (int, error) {
	now := time.Now()
	result := s.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("status = ? AND last_activity_at < ?", models.RoomStatusActive, cutoff).
		Updates(map[string]any{"status": models.RoomStatusClosed, "closed_at": now})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to close idle rooms: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}

func (s *sessionStore) TouchRoom(ctx context.Context, tenantID string, roomID uint) error {
	return s.db.WithContext(ctx).Model(&models.ChatRoom{}).
		Where("client_id = ? AND id = ?", tenantID, roomID).
		Update("last_activity_at", time.Now()).Error
}

func (s *sessionStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to persist message: %w", err)
	}
	return s.TouchRoom(ctx, msg.ClientID, msg.RoomID)
}

// RecentMessages loads the newest limit messages, returned oldest first.
func (s *sessionStore) RecentMessages(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND room_id = ?", tenantID, roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for room %d: %w", roomID, err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *sessionStore) History(ctx context.Context, tenantID string, roomID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := s.db.WithContext(ctx).
		Where("client_id = ? AND room_id = ?", tenantID, roomID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load history for room %d: %w", roomID, err)
	}
	return messages, nil
}

func (s *sessionStore) Conversations(ctx context.Context, tenantID, visitorID string) ([]models.ConversationSummary, error) {
	var rooms []models.ChatRoom
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND visitor_id = ?", tenantID, visitorID).
		Order("last_activity_at DESC").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(rooms))
	for _, room := range rooms {
		summary := models.ConversationSummary{
			RoomID:        room.ID,
			StartedAt:     room.CreatedAt,
			LastMessageAt: room.LastActivityAt,
			Status:        string(room.Status),
		}
		var last models.Message
		err := s.db.WithContext(ctx).
			Where("client_id = ? AND room_id = ?", tenantID, room.ID).
			Order("created_at DESC, id DESC").
			First(&last).Error
		if err == nil {
			summary.LastMessage = last.Content
			summary.LastMessageAt = last.CreatedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load last message for room %d: %w", room.ID, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *sessionStore) GetContext(ctx context.Context, tenantID string, roomID uint) (*models.SessionContext, error) {
	var sc models.SessionContext
	err := s.db.WithContext(ctx).
		Where(models.SessionContext{RoomID: roomID, ClientID: tenantID}).
		Attrs(models.SessionContext{CollectedEntities: []byte("{}")}).
		FirstOrCreate(&sc).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load session context for room %d: %w", roomID, err)
	}
	return &sc, nil
}

func (s *sessionStore) MergeEntities(ctx context.Context, tenantID string, roomID uint, entities map[string]any) (*models.SessionContext, error) {
	sc, err := s.GetContext(ctx, tenantID, roomID)
	if err != nil {
		return nil, err
	}

	merged := models.EntitiesFromJSON(sc.CollectedEntities)
	for k, v := range entities {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}

	data, err := models.ConvertToJSON(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode collected entities: %w", err)
	}
	sc.CollectedEntities = data
	sc.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(sc).Error; err != nil {
		return nil, fmt.Errorf("failed to save session context for room %d: %w", roomID, err)
	}
	return sc, nil
}

func (s *sessionStore) GetClient(ctx context.Context, tenantID string) (*models.Client, error) {
	var client models.Client
	err := s.db.WithContext(ctx).Where("client_id = ?", tenantID).First(&client).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unknown tenant %s", tenantID)
		}
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	return &client, nil
}

func (s *sessionStore) EnsureAgentUser(ctx context.Context, tenantID string, agent models.Agent) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", agent.Email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to look up agent %s: %w", agent.Email, err)
	}

	skills, _ := models.ConvertToJSON(agent.Skills)
	user = models.User{
		ClientID:      tenantID,
		Name:          agent.Name,
		Email:         agent.Email,
		Role:          "agent",
		Status:        agent.Status,
		MaxConcurrent: agent.MaxConcurrent,
		CurrentLoad:   agent.CurrentLoad,
		Department:    agent.Department,
		Skills:        skills,
		Source:        agent.Source,
		ExternalID:    agent.ID,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to create agent user %s: %w", agent.Email, err)
	}
	return &user, nil
}
