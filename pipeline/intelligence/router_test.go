package intelligence

import (
	"strings"
	"testing"
)

func classificationFixture() Classification {
	return Classification{
		PrimaryCategory: DomainCode,
		SubCategory:     ActionCreate,
		Complexity:      ComplexitySimple,
		Confidence:      0.9,
		SuggestedAgents: []string{"code-expert"},
	}
}

func TestRouteSelectsSuggestedPrimaryWithBonus(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "code-expert", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "generalist", Capabilities: []string{"general"}, SuccessRate: 1.0},
	}}
	router := NewRouter(registry)
	decision := router.Route(classificationFixture())

	if decision.Primary != "code-expert" {
		t.Fatalf("Primary = %q, want code-expert", decision.Primary)
	}
	if decision.Scores["code-expert"] <= decision.Scores["generalist"] {
		t.Fatalf("code-expert score %v should exceed generalist score %v",
			decision.Scores["code-expert"], decision.Scores["generalist"])
	}
}

func TestRouteSelectsSecondariesAboveHalfPrimaryScore(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "code-expert", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "code-helper", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "unrelated", Capabilities: []string{"business"}, SuccessRate: 1.0},
	}}
	c := classificationFixture()
	c.SuggestedAgents = []string{"code-expert", "code-helper"}
	router := NewRouter(registry)
	decision := router.Route(c)

	found := false
	for _, s := range decision.Secondaries {
		if s == "code-helper" {
			found = true
		}
		if s == "unrelated" {
			t.Fatal("unrelated expert should not qualify as a secondary")
		}
	}
	if !found {
		t.Fatal("code-helper should have qualified as a secondary")
	}
}

func TestRouteCapsSecondariesAtTwo(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "a", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "b", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "c", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
		{Name: "d", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0},
	}}
	c := classificationFixture()
	c.SuggestedAgents = []string{"a", "b", "c", "d"}
	router := NewRouter(registry)
	decision := router.Route(c)

	if len(decision.Secondaries) > 2 {
		t.Fatalf("len(Secondaries) = %d, want at most 2", len(decision.Secondaries))
	}
}

func TestRouteWithNoExpertsReturnsEmptyDecision(t *testing.T) {
	router := NewRouter(stubCandidateSource{})
	decision := router.Route(classificationFixture())

	if decision.Primary != "" {
		t.Fatalf("Primary = %q, want empty", decision.Primary)
	}
}

func TestRouteReasonNamesTopStrengthAndConfidence(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "code-expert", Capabilities: []string{"code"}, Strengths: []string{"refactoring", "testing"}, SuccessRate: 1.0},
	}}
	router := NewRouter(registry)
	decision := router.Route(classificationFixture())

	if decision.Reason == "" {
		t.Fatal("expected a non-empty routing reason")
	}
	if !strings.Contains(decision.Reason, "strength=refactoring") {
		t.Errorf("reason %q does not name the top strength", decision.Reason)
	}
	if !strings.Contains(decision.Reason, "confidence=0.90") {
		t.Errorf("reason %q does not name the confidence", decision.Reason)
	}
}

func TestRouteTieBreaksByPriorityWhenNeitherSuggested(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "alpha", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0, Priority: 1},
		{Name: "zeta", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0, Priority: 5},
	}}
	c := classificationFixture()
	c.SuggestedAgents = nil
	router := NewRouter(registry)
	decision := router.Route(c)

	if decision.Scores["alpha"] != decision.Scores["zeta"] {
		t.Fatalf("expected alpha and zeta to tie on score, got %v vs %v", decision.Scores["alpha"], decision.Scores["zeta"])
	}
	if decision.Primary != "zeta" {
		t.Fatalf("Primary = %q, want zeta (higher static priority)", decision.Primary)
	}
}

func TestRouteTieBreaksBySuggestedAgentsOrder(t *testing.T) {
	registry := stubCandidateSource{candidates: []Candidate{
		{Name: "alpha", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0, Priority: 9},
		{Name: "zeta", Capabilities: []string{"code"}, Strengths: []string{"code"}, SuccessRate: 1.0, Priority: 0},
	}}
	c := classificationFixture()
	// Neither candidate sits at index 0, so both get the same +0.4
	// suggested-membership credit with no index-0 bonus, and thus tie on
	// score despite alpha's much higher static priority.
	c.SuggestedAgents = []string{"other", "zeta", "alpha"}
	router := NewRouter(registry)
	decision := router.Route(c)

	if decision.Scores["alpha"] != decision.Scores["zeta"] {
		t.Fatalf("expected alpha and zeta to tie on score, got %v vs %v", decision.Scores["alpha"], decision.Scores["zeta"])
	}
	if decision.Primary != "zeta" {
		t.Fatalf("Primary = %q, want zeta (earlier in suggested_agents)", decision.Primary)
	}
}

func TestCapabilityMatchScoresBothCategoryAndAction(t *testing.T) {
	if got := capabilityMatch([]string{"code", "create"}, DomainCode, ActionCreate); got != 1.0 {
		t.Fatalf("capabilityMatch = %v, want 1.0", got)
	}
	if got := capabilityMatch([]string{"code"}, DomainCode, ActionCreate); got != 0.5 {
		t.Fatalf("capabilityMatch = %v, want 0.5", got)
	}
	if got := capabilityMatch([]string{"business"}, DomainCode, ActionCreate); got != 0 {
		t.Fatalf("capabilityMatch = %v, want 0", got)
	}
}
