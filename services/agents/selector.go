package agents

import (
	"sort"

	"github.com/tas-support-backend/models"
)

// Scoring weights. Free capacity dominates; each matched skill and the
// department nudge; local agents win ties against equally loaded external
// ones.
const (
	capacityWeight   = 100.0
	skillMatchBonus  = 20.0
	departmentBonus  = 30.0
	localSourceBonus = 10.0
)

// ScoreAgent rates one candidate for a requirement set.
func ScoreAgent(agent models.Agent, req models.AgentRequirements, preferLocal bool) float64 {
	score := 0.0
	if agent.MaxConcurrent > 0 {
		score += (1 - float64(agent.CurrentLoad)/float64(agent.MaxConcurrent)) * capacityWeight
	}
	score += float64(countSkillMatches(agent.Skills, req.RequiredSkills)) * skillMatchBonus
	if req.Department != "" && agent.Department == req.Department {
		score += departmentBonus
	}
	if preferLocal && agent.Source == models.AgentSourceLocal {
		score += localSourceBonus
	}
	return score
}

func countSkillMatches(have, want []string) int {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[s] = struct{}{}
	}
	matches := 0
	for _, s := range want {
		if _, ok := set[s]; ok {
			matches++
		}
	}
	return matches
}

// SelectBest filters to available candidates and picks the highest score.
// Ties break on lower current load, then lexicographic agent ID so selection
// is deterministic.
func SelectBest(candidates []models.Agent, req models.AgentRequirements, preferLocal bool) *models.Agent {
	available := make([]models.Agent, 0, len(candidates))
	for _, a := range candidates {
		if !a.Available() {
			continue
		}
		if req.Department != "" && a.Department != "" && a.Department != req.Department {
			continue
		}
		available = append(available, a)
	}
	if len(available) == 0 {
		return nil
	}

	sort.Slice(available, func(i, j int) bool {
		si := ScoreAgent(available[i], req, preferLocal)
		sj := ScoreAgent(available[j], req, preferLocal)
		if si != sj {
			return si > sj
		}
		if available[i].CurrentLoad != available[j].CurrentLoad {
			return available[i].CurrentLoad < available[j].CurrentLoad
		}
		return available[i].ID < available[j].ID
	})
	best := available[0]
	return &best
}
