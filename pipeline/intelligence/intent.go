// Package intelligence implements L2: intent parsing, MoE-style expert
// routing, session context enrichment, and classification caching ahead
// of the orchestration tier.
package intelligence

import (
	"strings"
)

// Action enumerates the verbs the lexical pass can recognize in a
// request's content.
type Action string

const (
	ActionCreate       Action = "create"
	ActionAnalyze      Action = "analyze"
	ActionConfigure    Action = "configure"
	ActionSearch       Action = "search"
	ActionTroubleshoot Action = "troubleshoot"
	ActionAutomate     Action = "automate"
	ActionQuery        Action = "query"
)

// Domain enumerates the subject-matter categories the classifier scores
// a request against.
type Domain string

const (
	DomainCode     Domain = "code"
	DomainNetwork  Domain = "network"
	DomainCloud    Domain = "cloud"
	DomainDocument Domain = "document"
	DomainWeb      Domain = "web"
	DomainKnowledge Domain = "knowledge"
	DomainBusiness Domain = "business"
	DomainGeneral  Domain = "general"
)

// Complexity buckets request length/shape into a coarse tier the router
// and orchestration strategy selector both read.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Intent is the deterministic lexical parse of a request's content.
type Intent struct {
	Action          Action
	Domain          Domain
	Complexity      Complexity
	RequiresContext bool
	IsQuestion      bool
}

// actionEntry pairs a category with its recognizing vocabulary.
type actionEntry struct {
	action  Action
	phrases []string
}

// actionKeywordTable lists each action's single words and multi-word
// phrases, in priority order so a tied rule score always resolves to
// the earlier entry rather than depending on map iteration order.
// Phrase matches (len > 1 word) score double a single-word hit, per
// the classifier's rule-score weighting. ActionQuery is listed last
// since its vocabulary ("list", "how do") overlaps generic wording
// most other actions should win ties against.
var actionKeywordTable = []actionEntry{
	{ActionCreate, []string{"create", "build", "write", "generate", "add", "implement", "new file", "scaffold"}},
	{ActionTroubleshoot, []string{"fix", "debug", "troubleshoot", "diagnose", "why is", "broken", "not working", "error"}},
	{ActionAnalyze, []string{"analyze", "review", "inspect", "summarize", "explain", "assess", "evaluate"}},
	{ActionConfigure, []string{"configure", "set up", "setup", "install", "enable", "disable", "tune"}},
	{ActionSearch, []string{"search", "find", "look for", "locate", "grep"}},
	{ActionAutomate, []string{"automate", "schedule", "recurring", "every day", "cron", "trigger"}},
	{ActionQuery, []string{"what is", "what are", "how do", "how does", "can you tell me", "list"}},
}

// domainEntry pairs a domain with its recognizing vocabulary.
type domainEntry struct {
	domain  Domain
	phrases []string
}

// domainKeywordTable lists each domain's recognizing vocabulary in
// priority order, for the same tie-break reason as actionKeywordTable.
var domainKeywordTable = []domainEntry{
	{DomainCode, []string{"function", "python", "golang", "go ", "code", "bug", "compile", "class", "variable", "repository", "pull request"}},
	{DomainNetwork, []string{"network", "dns", "firewall", "latency", "packet", "tcp", "vpn", "socket"}},
	{DomainCloud, []string{"aws", "gcp", "azure", "kubernetes", "cloud", "terraform", "container", "deployment"}},
	{DomainDocument, []string{"report", "document", "pdf", "attached report", "memo", "spreadsheet"}},
	{DomainWeb, []string{"website", "html", "css", "browser", "webpage", "frontend", "url"}},
	{DomainKnowledge, []string{"knowledge base", "wiki", "faq", "article", "reference"}},
	{DomainBusiness, []string{"invoice", "revenue", "customer", "sales", "budget", "forecast"}},
}

// complexityCueWords are phrases whose presence escalates a request to
// complex regardless of word count.
var complexityCueWords = []string{
	"and then", "after that", "step by step", "multiple steps", "integrate",
	"architecture", "end to end", "across", "orchestrate",
}

// questionWords trigger IsQuestion when they open the (trimmed,
// lowercased) content.
var questionWords = []string{"what", "why", "how", "when", "where", "who", "which", "is", "are", "can", "does", "do"}

// ParseIntent runs the fixed-vocabulary lexical pass over content.
func ParseIntent(content string) Intent {
	lower := strings.ToLower(content)
	words := strings.Fields(lower)
	wordCount := len(words)

	return Intent{
		Action:          classifyAction(lower),
		Domain:          classifyDomain(lower),
		Complexity:      classifyComplexity(lower, wordCount),
		RequiresContext: requiresContext(lower),
		IsQuestion:      isQuestion(lower),
	}
}

func classifyAction(lower string) Action {
	best := ActionQuery
	bestScore := 0.0
	for _, entry := range actionKeywordTable {
		score := phraseScore(lower, entry.phrases)
		if score > bestScore {
			bestScore = score
			best = entry.action
		}
	}
	return best
}

func classifyDomain(lower string) Domain {
	best := DomainGeneral
	bestScore := 0.0
	for _, entry := range domainKeywordTable {
		score := phraseScore(lower, entry.phrases)
		if score > bestScore {
			bestScore = score
			best = entry.domain
		}
	}
	return best
}

// phraseScore sums one point per single-word hit and two points per
// multi-word phrase hit, the rule score's doubled weight on phrases.
func phraseScore(lower string, phrases []string) float64 {
	score := 0.0
	for _, phrase := range phrases {
		if !strings.Contains(lower, phrase) {
			continue
		}
		if strings.Contains(phrase, " ") {
			score += 2
		} else {
			score++
		}
	}
	return score
}

// classifyComplexity applies the word-count thresholds, escalated by
// any complexity cue word regardless of length.
func classifyComplexity(lower string, wordCount int) Complexity {
	for _, cue := range complexityCueWords {
		if strings.Contains(lower, cue) {
			return ComplexityComplex
		}
	}
	switch {
	case wordCount > 50:
		return ComplexityComplex
	case wordCount >= 20:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

// requiresContext reports whether content references something outside
// itself (a prior turn, an attachment, a pronoun standing in for
// earlier state) that session context enrichment should resolve.
func requiresContext(lower string) bool {
	for _, marker := range []string{"it", "that", "this", "the previous", "again", "attached", "above"} {
		if containsWord(lower, marker) {
			return true
		}
	}
	return false
}

func isQuestion(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	for _, qw := range questionWords {
		if first == qw {
			return true
		}
	}
	return false
}

// containsWord reports whether word appears in lower as a whole word,
// not merely as a substring of a longer word.
func containsWord(lower, word string) bool {
	for _, field := range strings.Fields(lower) {
		field = strings.Trim(field, ".,!?;:\"'()")
		if field == word {
			return true
		}
	}
	return false
}
