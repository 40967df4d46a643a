package intelligence

import (
	"math"
	"sort"
	"strings"
)

// Classification is L2's full output: the intent parse folded together
// with the combined rule/semantic confidence score and the category
// breakdown the routing decision's reason string quotes from.
type Classification struct {
	PrimaryCategory    Domain
	SubCategory         Action
	Complexity          Complexity
	Confidence          float64
	CategoryScores      map[Domain]float64
	SuggestedAgents     []string
	RequiresMultiAgent  bool
}

// Classifier combines the lexical rule pass with an optional semantic
// embedding backend, degrading gracefully to rule-only when the backend
// is unavailable or errors.
type Classifier struct {
	embeddings EmbeddingBackend
	registry   CandidateSource
}

// CandidateSource is the subset of the agent registry the classifier
// and router need: the list of currently available experts.
type CandidateSource interface {
	Candidates() []Candidate
}

// Candidate mirrors agents.Candidate without importing the agents
// package, so this package stays usable without pulling in L4's
// concrete expert types. pipeline.go adapts agents.Registry to this
// interface at construction time.
type Candidate struct {
	Name         string
	Capabilities []string
	Strengths    []string
	SuccessRate  float64
	Priority     int
}

// NewClassifier builds a classifier. embeddings may be nil, in which
// case scoring is rule-only.
func NewClassifier(embeddings EmbeddingBackend, registry CandidateSource) *Classifier {
	return &Classifier{embeddings: embeddings, registry: registry}
}

// ruleScores computes a normalized [0,1] score per domain from the
// keyword tables, the rule signal the semantic score (when present) is
// blended against.
func ruleScores(lower string) map[Domain]float64 {
	raw := map[Domain]float64{}
	max := 0.0
	for _, entry := range domainKeywordTable {
		score := phraseScore(lower, entry.phrases)
		raw[entry.domain] = score
		if score > max {
			max = score
		}
	}
	if max == 0 {
		return map[Domain]float64{DomainGeneral: 1.0}
	}
	normalized := make(map[Domain]float64, len(raw))
	for domain, score := range raw {
		normalized[domain] = score / max
	}
	return normalized
}

func ruleWinner(scores map[Domain]float64) (Domain, float64) {
	best := DomainGeneral
	bestScore := -1.0
	// Stable iteration: sort domain names so ties resolve deterministically.
	domains := make([]Domain, 0, len(scores))
	for d := range scores {
		domains = append(domains, d)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })
	for _, d := range domains {
		if scores[d] > bestScore {
			bestScore = scores[d]
			best = d
		}
	}
	return best, bestScore
}

// Classify runs the full L2 classification contract over content using
// session-enriched context. embedding, if non-nil, is the request's
// precomputed vector from the optional semantic backend.
func (c *Classifier) Classify(content string, embedding []float32) Classification {
	intent := ParseIntent(content)
	lower := strings.ToLower(content)
	rScores := ruleScores(lower)
	rWinner, rWinnerScore := ruleWinner(rScores)

	primary := rWinner
	confidence := math.Min(1, rWinnerScore)

	if c.embeddings != nil && len(embedding) > 0 {
		if sScores, err := c.embeddings.Score(embedding); err == nil && len(sScores) > 0 {
			sWinner, sWinnerScore := domainWinner(sScores)
			if sWinner == rWinner {
				confidence = 0.7*sWinnerScore + 0.3*rWinnerScore
			} else {
				confidence = 0.85 * sWinnerScore
				primary = sWinner
			}
			for d, v := range sScores {
				rScores[d] = math.Max(rScores[d], v)
			}
		}
	}

	suggested, requiresMulti := c.suggestAgents(primary, intent, confidence)

	return Classification{
		PrimaryCategory:    primary,
		SubCategory:        intent.Action,
		Complexity:         intent.Complexity,
		Confidence:         confidence,
		CategoryScores:     rScores,
		SuggestedAgents:    suggested,
		RequiresMultiAgent: requiresMulti,
	}
}

func domainWinner(scores map[Domain]float64) (Domain, float64) {
	return ruleWinner(scores)
}

// suggestAgents picks up to 3 experts best matching the classification,
// ranked by capability/strength match against the primary category and
// sub-category, then damped by success rate — the same signal shape
// the router applies per-request, used here to pre-seed the
// suggested_agents list the router's 0.4 weight reads back.
func (c *Classifier) suggestAgents(primary Domain, intent Intent, confidence float64) ([]string, bool) {
	if c.registry == nil {
		return nil, intent.Complexity == ComplexityComplex
	}
	candidates := c.registry.Candidates()
	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, cand := range candidates {
		s := capabilityMatch(cand.Capabilities, primary, intent.Action)*0.6 + strengthMatch(cand.Strengths, primary)*0.4
		s *= 0.5 + 0.5*cand.SuccessRate
		ranked = append(ranked, scored{name: cand.Name, score: s})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := []string{}
	for _, r := range ranked {
		if r.score <= 0 {
			continue
		}
		out = append(out, r.name)
		if len(out) == 3 {
			break
		}
	}
	requiresMulti := intent.Complexity == ComplexityComplex || len(out) > 1
	return out, requiresMulti
}
