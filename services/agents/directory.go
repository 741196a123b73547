package agents

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/services"
)

// directory unions the local and external agent sources behind one view and
// owns the waiting queue. Listings are memoized briefly per tenant; reserve
// and release invalidate so capacity changes show up immediately.
type directory struct {
	cfg      *config.RoutingConfig
	local    Source
	external Source
	queue    *WaitQueue
	cacheTTL time.Duration

	mu     sync.Mutex
	cached map[string]listingEntry
}

type listingEntry struct {
	agents []models.Agent
	at     time.Time
}

func NewDirectory(cfg *config.RoutingConfig, local, external Source, queue *WaitQueue, cacheTTL time.Duration) services.AgentDirectory {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &directory{
		cfg:      cfg,
		local:    local,
		external: external,
		queue:    queue,
		cacheTTL: cacheTTL,
		cached:   make(map[string]listingEntry),
	}
}

func (d *directory) ListAvailable(ctx context.Context, tenantID string) ([]models.Agent, error) {
	agents, err := d.list(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	available := make([]models.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Available() {
			available = append(available, a)
		}
	}
	return available, nil
}

func (d *directory) list(ctx context.Context, tenantID string) ([]models.Agent, error) {
	d.mu.Lock()
	if entry, ok := d.cached[tenantID]; ok && time.Since(entry.at) < d.cacheTTL {
		agents := make([]models.Agent, len(entry.agents))
		copy(agents, entry.agents)
		d.mu.Unlock()
		return agents, nil
	}
	d.mu.Unlock()

	var agents []models.Agent
	if d.local != nil {
		locals, err := d.local.List(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		agents = append(agents, locals...)
	}
	if d.external != nil {
		// An unreachable external directory degrades to local-only routing.
		externals, err := d.external.List(ctx, tenantID)
		if err != nil {
			log.Printf("[AGENTS] External directory unavailable for %s: %v", tenantID, err)
		} else {
			agents = append(agents, externals...)
		}
	}

	d.mu.Lock()
	d.cached[tenantID] = listingEntry{agents: agents, at: time.Now()}
	d.mu.Unlock()

	result := make([]models.Agent, len(agents))
	copy(result, agents)
	return result, nil
}

func (d *directory) invalidate(tenantID string) {
	d.mu.Lock()
	if tenantID == "" {
		d.cached = make(map[string]listingEntry)
	} else {
		delete(d.cached, tenantID)
	}
	d.mu.Unlock()
}

func (d *directory) SelectAgent(ctx context.Context, tenantID string, req models.AgentRequirements) (*models.Agent, error) {
	agents, err := d.list(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return SelectBest(agents, req, d.cfg.PreferLocalAgents), nil
}

func (d *directory) sourceFor(agent models.Agent) (Source, error) {
	switch agent.Source {
	case models.AgentSourceLocal:
		if d.local == nil {
			return nil, fmt.Errorf("no local agent source configured")
		}
		return d.local, nil
	case models.AgentSourceExternal:
		if d.external == nil {
			return nil, fmt.Errorf("no external agent source configured")
		}
		return d.external, nil
	}
	return nil, fmt.Errorf("unknown agent source %q", agent.Source)
}

func (d *directory) ReserveAgent(ctx context.Context, agent models.Agent) error {
	source, err := d.sourceFor(agent)
	if err != nil {
		return err
	}
	if err := source.Reserve(ctx, agent); err != nil {
		return err
	}
	d.invalidate("")
	return nil
}

func (d *directory) ReleaseAgent(ctx context.Context, agent models.Agent) error {
	source, err := d.sourceFor(agent)
	if err != nil {
		return err
	}
	if err := source.Release(ctx, agent); err != nil {
		return err
	}
	d.invalidate("")
	return nil
}

func (d *directory) Enqueue(entry models.QueueEntry) {
	d.queue.Enqueue(entry)
	log.Printf("[AGENTS] Room %d queued for tenant %s (%s)", entry.RoomID, entry.TenantID, entry.Priority)
}

func (d *directory) DequeueNext(tenantID string) (*models.QueueEntry, bool) {
	return d.queue.DequeueNext(tenantID)
}

func (d *directory) QueuePosition(tenantID string, roomID uint) (int, int) {
	return d.queue.QueuePosition(tenantID, roomID)
}

func (d *directory) SweepQueue(olderThan time.Duration) int {
	return d.queue.SweepQueue(olderThan)
}
