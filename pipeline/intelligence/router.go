package intelligence

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// RoutingDecision is the router's full output: the chosen primary
// expert, up to two secondaries, and a human-readable explanation
// quoting the category, sub-category, the primary's top matching
// strength, and the rounded confidence.
type RoutingDecision struct {
	Primary     string
	Secondaries []string
	Scores      map[string]float64
	Reason      string
}

// Router implements the mixture-of-experts scoring formula over the
// classification and the registry's current candidates.
type Router struct {
	registry CandidateSource
}

// NewRouter builds a router reading candidates from registry.
func NewRouter(registry CandidateSource) *Router {
	return &Router{registry: registry}
}

// Route scores every available expert against classification and
// returns the primary/secondary selection.
func (r *Router) Route(c Classification) RoutingDecision {
	candidates := r.registry.Candidates()
	if len(candidates) == 0 {
		return RoutingDecision{Reason: "no experts registered"}
	}

	suggested := map[string]int{}
	for i, name := range c.SuggestedAgents {
		suggested[name] = i
	}

	scores := make(map[string]float64, len(candidates))
	for _, cand := range candidates {
		scores[cand.Name] = score(cand, c, suggested)
	}

	priorities := make(map[string]int, len(candidates))
	for _, cand := range candidates {
		priorities[cand.Name] = cand.Priority
	}

	names := make([]string, 0, len(candidates))
	for _, cand := range candidates {
		names = append(names, cand.Name)
	}
	sort.SliceStable(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return tieBreak(names[i], names[j], suggested, priorities)
	})

	primary := names[0]
	primaryScore := scores[primary]

	secondaries := []string{}
	for _, name := range names[1:] {
		if scores[name] > 0.5*primaryScore {
			secondaries = append(secondaries, name)
		}
		if len(secondaries) == 2 {
			break
		}
	}

	topStrength := ""
	for _, cand := range candidates {
		if cand.Name == primary && len(cand.Strengths) > 0 {
			topStrength = cand.Strengths[0]
			break
		}
	}

	reason := fmt.Sprintf("category=%s sub_category=%s strength=%s confidence=%.2f",
		c.PrimaryCategory, c.SubCategory, topStrength, round2(c.Confidence))

	return RoutingDecision{Primary: primary, Secondaries: secondaries, Scores: scores, Reason: reason}
}

// tieBreak orders a and b when they score equally: the one whose name
// appears earlier in suggested_agents wins; if only one of them appears
// there at all, that one wins; if neither appears, the one with the
// higher static priority wins; a remaining tie falls back to name order
// for determinism.
func tieBreak(a, b string, suggested map[string]int, priorities map[string]int) bool {
	ai, aok := suggested[a]
	bi, bok := suggested[b]
	switch {
	case aok && bok:
		return ai < bi
	case aok != bok:
		return aok
	case priorities[a] != priorities[b]:
		return priorities[a] > priorities[b]
	default:
		return a < b
	}
}

// score implements the formula: a 0.4 weight for suggested-agent
// membership (plus a 0.1 bonus for the suggested primary), 0.3 for
// capability match, 0.2 for strength match, 0.1 for complexity-tier
// fit, all damped by the expert's success rate and clamped to [0,1].
func score(cand Candidate, c Classification, suggested map[string]int) float64 {
	s := 0.0
	if idx, ok := suggested[cand.Name]; ok {
		s += 0.4
		if idx == 0 {
			s += 0.1
		}
	}
	s += 0.3 * capabilityMatch(cand.Capabilities, c.PrimaryCategory, c.SubCategory)
	s += 0.2 * strengthMatch(cand.Strengths, c.PrimaryCategory)
	s += 0.1 * complexityTier(cand, c.Complexity)

	s *= 0.5 + 0.5*cand.SuccessRate

	return math.Max(0, math.Min(1, s))
}

// capabilityMatch reports how well an expert's declared capabilities
// cover the classification's category and sub-category: 1.0 for a
// match against both, 0.5 for either alone, 0 for neither.
func capabilityMatch(capabilities []string, category Domain, action Action) float64 {
	hasCategory := hasCI(capabilities, string(category))
	hasAction := hasCI(capabilities, string(action))
	switch {
	case hasCategory && hasAction:
		return 1.0
	case hasCategory || hasAction:
		return 0.5
	default:
		return 0
	}
}

// strengthMatch reports whether any of the expert's self-reported
// strengths names the classification's category.
func strengthMatch(strengths []string, category Domain) float64 {
	if hasCI(strengths, string(category)) {
		return 1.0
	}
	return 0
}

// complexityTier rewards experts whose capability list explicitly
// names the complexity tier (e.g. a "complex" or "multi-step"
// capability), otherwise grants partial credit to any expert for
// simple/moderate requests, since most experts can handle those.
func complexityTier(cand Candidate, complexity Complexity) float64 {
	if hasCI(cand.Capabilities, string(complexity)) {
		return 1.0
	}
	if complexity == ComplexityComplex {
		return 0
	}
	return 0.5
}

func hasCI(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
