package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tas-support-backend/models"
)

func onlineAgent(id string, load, max int) models.Agent {
	return models.Agent{
		ID:            id,
		Source:        models.AgentSourceLocal,
		Name:          "Agent " + id,
		Status:        "online",
		MaxConcurrent: max,
		CurrentLoad:   load,
	}
}

func TestScoreAgent_CapacityDominates(t *testing.T) {
	idle := onlineAgent("a", 0, 4)
	busy := onlineAgent("b", 3, 4)
	req := models.AgentRequirements{}

	assert.InDelta(t, 100.0, ScoreAgent(idle, req, false), 1e-9)
	assert.InDelta(t, 25.0, ScoreAgent(busy, req, false), 1e-9)
}

func TestScoreAgent_Bonuses(t *testing.T) {
	agent := onlineAgent("a", 0, 4)
	agent.Department = "billing"
	agent.Skills = []string{"refunds", "invoices"}

	req := models.AgentRequirements{Department: "billing", RequiredSkills: []string{"refunds"}}
	assert.InDelta(t, 100+20+30+10, ScoreAgent(agent, req, true), 1e-9)

	// Each matched skill earns its own bonus.
	req.RequiredSkills = []string{"refunds", "invoices"}
	assert.InDelta(t, 100+40+30+10, ScoreAgent(agent, req, true), 1e-9)

	// A missing skill forfeits only its own bonus.
	req.RequiredSkills = []string{"refunds", "escalations"}
	assert.InDelta(t, 100+20+30+10, ScoreAgent(agent, req, true), 1e-9)

	// No matches, no skill bonus.
	req.RequiredSkills = []string{"escalations"}
	assert.InDelta(t, 100+30+10, ScoreAgent(agent, req, true), 1e-9)

	external := agent
	external.Source = models.AgentSourceExternal
	assert.InDelta(t, 100+30, ScoreAgent(external, models.AgentRequirements{Department: "billing"}, true), 1e-9)
}

func TestSelectBest_PicksHighestScore(t *testing.T) {
	candidates := []models.Agent{
		onlineAgent("loaded", 3, 4),
		onlineAgent("idle", 0, 4),
	}
	best := SelectBest(candidates, models.AgentRequirements{}, false)
	require.NotNil(t, best)
	assert.Equal(t, "idle", best.ID)
}

func TestSelectBest_SkipsUnavailable(t *testing.T) {
	offline := onlineAgent("offline", 0, 4)
	offline.Status = "offline"
	full := onlineAgent("full", 4, 4)

	assert.Nil(t, SelectBest([]models.Agent{offline, full}, models.AgentRequirements{}, false))
}

func TestSelectBest_DepartmentFilter(t *testing.T) {
	billing := onlineAgent("billing-1", 0, 4)
	billing.Department = "billing"
	sales := onlineAgent("sales-1", 0, 4)
	sales.Department = "sales"
	generalist := onlineAgent("generalist", 1, 4)

	best := SelectBest([]models.Agent{billing, sales, generalist}, models.AgentRequirements{Department: "billing"}, false)
	require.NotNil(t, best)
	assert.Equal(t, "billing-1", best.ID, "wrong-department agents are filtered, generalists stay eligible")
}

func TestSelectBest_TieBreaksOnLoadThenID(t *testing.T) {
	// Same free-capacity ratio, different absolute load.
	lighter := onlineAgent("zz", 1, 4)
	heavier := onlineAgent("aa", 2, 8)
	best := SelectBest([]models.Agent{heavier, lighter}, models.AgentRequirements{}, false)
	require.NotNil(t, best)
	assert.Equal(t, "zz", best.ID, "lower absolute load wins the tie")

	a := onlineAgent("alpha", 1, 4)
	b := onlineAgent("beta", 1, 4)
	best = SelectBest([]models.Agent{b, a}, models.AgentRequirements{}, false)
	require.NotNil(t, best)
	assert.Equal(t, "alpha", best.ID, "equal score and load falls back to ID order")
}

func TestSelectBest_PreferLocalBreaksSourceTie(t *testing.T) {
	local := onlineAgent("local", 1, 4)
	external := onlineAgent("external", 1, 4)
	external.Source = models.AgentSourceExternal

	best := SelectBest([]models.Agent{external, local}, models.AgentRequirements{}, true)
	require.NotNil(t, best)
	assert.Equal(t, "local", best.ID)

	best = SelectBest([]models.Agent{external, local}, models.AgentRequirements{}, false)
	require.NotNil(t, best)
	assert.Equal(t, "external", best.ID, "without preference the ID order decides")
}

func TestSelectBest_Empty(t *testing.T) {
	assert.Nil(t, SelectBest(nil, models.AgentRequirements{}, false))
}
