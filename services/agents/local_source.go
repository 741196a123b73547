package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tas-support-backend/models"
	"gorm.io/gorm"
)

// Source lists agents from one backing directory and tracks their load there.
type Source interface {
	List(ctx context.Context, tenantID string) ([]models.Agent, error)
	Reserve(ctx context.Context, agent models.Agent) error
	Release(ctx context.Context, agent models.Agent) error
}

// localSource reads agents from the users table. Load bookkeeping is guarded
// against races and negative counts at the SQL level.
type localSource struct {
	db *gorm.DB
}

func NewLocalSource(db *gorm.DB) Source {
	return &localSource{db: db}
}

func (s *localSource) List(ctx context.Context, tenantID string) ([]models.Agent, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Where("role = ? AND (client_id = ? OR client_id = '')", "agent", tenantID).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list local agents: %w", err)
	}

	agents := make([]models.Agent, 0, len(users))
	for _, user := range users {
		agents = append(agents, localAgent(user))
	}
	return agents, nil
}

func localAgent(user models.User) models.Agent {
	var skills []string
	if len(user.Skills) > 0 {
		_ = json.Unmarshal(user.Skills, &skills)
	}
	return models.Agent{
		ID:            strconv.FormatUint(uint64(user.ID), 10),
		Source:        models.AgentSourceLocal,
		Name:          user.Name,
		Email:         user.Email,
		Status:        user.Status,
		MaxConcurrent: user.MaxConcurrent,
		CurrentLoad:   user.CurrentLoad,
		Department:    user.Department,
		Skills:        skills,
	}
}

func (s *localSource) Reserve(ctx context.Context, agent models.Agent) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND current_load < max_concurrent", agent.ID).
		Update("current_load", gorm.Expr("current_load + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to reserve agent %s: %w", agent.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("agent %s is at capacity", agent.ID)
	}
	return nil
}

func (s *localSource) Release(ctx context.Context, agent models.Agent) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND current_load > 0", agent.ID).
		Update("current_load", gorm.Expr("current_load - 1")).Error
}
