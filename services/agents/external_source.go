package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewExternalSource builds the configured external directory: a direct SQL
// connection when EXTERNAL_AGENT_DB_ENABLED, otherwise the REST API. Returns
// nil when neither is configured.
func NewExternalSource(cfg *config.ExternalAgentConfig) (Source, error) {
	if cfg.DBEnabled && cfg.DBURI != "" {
		return newExternalDBSource(cfg)
	}
	if cfg.APIURL != "" {
		return newExternalAPISource(cfg), nil
	}
	return nil, nil
}

// externalAPISource talks to a remote agent directory over REST.
type externalAPISource struct {
	cfg    *config.ExternalAgentConfig
	client *http.Client
}

func newExternalAPISource(cfg *config.ExternalAgentConfig) Source {
	return &externalAPISource{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *externalAPISource) request(ctx context.Context, method, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return err
	}
	if s.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("external agent API request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("external agent API returned %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (s *externalAPISource) List(ctx context.Context, tenantID string) ([]models.Agent, error) {
	var out struct {
		Agents []models.Agent `json:"agents"`
	}
	url := fmt.Sprintf("%s/agents?tenant=%s", s.cfg.APIURL, tenantID)
	if err := s.request(ctx, http.MethodGet, url, &out); err != nil {
		return nil, err
	}
	for i := range out.Agents {
		out.Agents[i].Source = models.AgentSourceExternal
	}
	return out.Agents, nil
}

func (s *externalAPISource) Reserve(ctx context.Context, agent models.Agent) error {
	return s.request(ctx, http.MethodPost, fmt.Sprintf("%s/agents/%s/reserve", s.cfg.APIURL, agent.ID), nil)
}

func (s *externalAPISource) Release(ctx context.Context, agent models.Agent) error {
	return s.request(ctx, http.MethodPost, fmt.Sprintf("%s/agents/%s/release", s.cfg.APIURL, agent.ID), nil)
}

// externalDBSource reads a foreign agents table directly. Column names come
// from the per-deployment field map, so the same code serves helpdesk schemas
// we do not control.
type externalDBSource struct {
	db    *gorm.DB
	cfg   *config.ExternalAgentConfig
	query string
}

func newExternalDBSource(cfg *config.ExternalAgentConfig) (Source, error) {
	var dialector gorm.Dialector
	switch cfg.DBType {
	case "postgres":
		dialector = postgres.Open(cfg.DBURI)
	case "mysql":
		dialector = mysql.Open(cfg.DBURI)
	default:
		return nil, fmt.Errorf("unsupported external agent DB type: %s", cfg.DBType)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect external agent DB: %w", err)
	}

	f := cfg.FieldMap
	query := fmt.Sprintf(
		"SELECT %s AS id, %s AS name, %s AS email, %s AS status, %s AS max_concurrent, %s AS current_load, %s AS department FROM %s",
		f["id"], f["name"], f["email"], f["status"], f["max_concurrent"], f["current_load"], f["department"], cfg.TableName,
	)
	log.Printf("[AGENTS] External agent DB connected (%s, table=%s)", cfg.DBType, cfg.TableName)
	return &externalDBSource{db: db, cfg: cfg, query: query}, nil
}

type externalAgentRow struct {
	ID            string `gorm:"column:id"`
	Name          string `gorm:"column:name"`
	Email         string `gorm:"column:email"`
	Status        string `gorm:"column:status"`
	MaxConcurrent int    `gorm:"column:max_concurrent"`
	CurrentLoad   int    `gorm:"column:current_load"`
	Department    string `gorm:"column:department"`
}

func (s *externalDBSource) List(ctx context.Context, tenantID string) ([]models.Agent, error) {
	var rows []externalAgentRow
	if err := s.db.WithContext(ctx).Raw(s.query).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query external agents: %w", err)
	}
	agents := make([]models.Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, models.Agent{
			ID:            row.ID,
			Source:        models.AgentSourceExternal,
			Name:          row.Name,
			Email:         row.Email,
			Status:        row.Status,
			MaxConcurrent: row.MaxConcurrent,
			CurrentLoad:   row.CurrentLoad,
			Department:    row.Department,
		})
	}
	return agents, nil
}

func (s *externalDBSource) Reserve(ctx context.Context, agent models.Agent) error {
	f := s.cfg.FieldMap
	sql := fmt.Sprintf(
		"UPDATE %s SET %s = %s + 1 WHERE %s = ? AND %s < %s",
		s.cfg.TableName, f["current_load"], f["current_load"], f["id"], f["current_load"], f["max_concurrent"],
	)
	result := s.db.WithContext(ctx).Exec(sql, agent.ID)
	if result.Error != nil {
		return fmt.Errorf("failed to reserve external agent %s: %w", agent.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("external agent %s is at capacity", agent.ID)
	}
	return nil
}

func (s *externalDBSource) Release(ctx context.Context, agent models.Agent) error {
	f := s.cfg.FieldMap
	sql := fmt.Sprintf(
		"UPDATE %s SET %s = %s - 1 WHERE %s = ? AND %s > 0",
		s.cfg.TableName, f["current_load"], f["current_load"], f["id"], f["current_load"],
	)
	return s.db.WithContext(ctx).Exec(sql, agent.ID).Error
}
