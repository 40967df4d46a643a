package intelligence

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// Interaction is one turn recorded into a session's FIFO: truncated
// user text and a truncated summary of the response that followed it.
type Interaction struct {
	UserText  string
	Summary   string
	Recorded  time.Time
}

// SessionContext is the per-session state L2 reads before forwarding a
// request and writes after receiving its response.
type SessionContext struct {
	CreatedAt    time.Time
	LastActivity time.Time
	Interactions []Interaction
	Variables    map[string]string
}

const (
	maxUserTextLen = 1000
	maxSummaryLen  = 2000
)

var (
	quotedPattern = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
	pathPattern   = regexp.MustCompile(`(?:[.~]?/)?(?:[\w.-]+/)+[\w.-]+`)
	urlPattern    = regexp.MustCompile(`https?://[^\s]+`)
)

// ContextManager holds every active session, enforcing the FIFO depth
// and TTL eviction the data model names.
type ContextManager struct {
	mu           sync.Mutex
	sessions     map[string]*SessionContext
	historyDepth int
	ttl          time.Duration
}

// NewContextManager builds a manager holding up to historyDepth
// interactions per session, evicting sessions idle for longer than ttl.
func NewContextManager(historyDepth int, ttl time.Duration) *ContextManager {
	if historyDepth <= 0 {
		historyDepth = 10
	}
	return &ContextManager{
		sessions:     map[string]*SessionContext{},
		historyDepth: historyDepth,
		ttl:          ttl,
	}
}

// Get returns the session's context, creating it if absent and
// evicting it first if it has aged past the TTL.
func (m *ContextManager) Get(sessionID string) *SessionContext {
	if sessionID == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.sessions[sessionID]
	if ok && m.ttl > 0 && time.Since(sc.LastActivity) > m.ttl {
		delete(m.sessions, sessionID)
		ok = false
	}
	if !ok {
		sc = &SessionContext{
			CreatedAt:    time.Now(),
			LastActivity: time.Now(),
			Variables:    map[string]string{},
		}
		m.sessions[sessionID] = sc
	}
	return sc
}

// Record appends one interaction to sessionID's FIFO, truncating both
// fields and evicting the oldest entry once the configured depth is
// exceeded, then re-extracts variables from userText.
func (m *ContextManager) Record(sessionID, userText, summary string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sc, ok := m.sessions[sessionID]
	if !ok {
		sc = &SessionContext{CreatedAt: time.Now(), Variables: map[string]string{}}
		m.sessions[sessionID] = sc
	}
	sc.LastActivity = time.Now()
	sc.Interactions = append(sc.Interactions, Interaction{
		UserText: truncate(userText, maxUserTextLen),
		Summary:  truncate(summary, maxSummaryLen),
		Recorded: sc.LastActivity,
	})
	if len(sc.Interactions) > m.historyDepth {
		sc.Interactions = sc.Interactions[len(sc.Interactions)-m.historyDepth:]
	}
	extractVariables(sc.Variables, userText)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// extractVariables harvests quoted strings, file-like paths, and URLs
// from text into dest, keyed quoted_<i>/path_<i>/url_<i> in order of
// first appearance, the deterministic key space downstream experts can
// address by index.
func extractVariables(dest map[string]string, text string) {
	for i, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		dest[fmt.Sprintf("quoted_%d", i)] = value
	}
	for i, m := range urlPattern.FindAllString(text, -1) {
		dest[fmt.Sprintf("url_%d", i)] = m
	}
	for i, m := range pathPattern.FindAllString(text, -1) {
		if urlPattern.MatchString(m) {
			continue
		}
		dest[fmt.Sprintf("path_%d", i)] = m
	}
}
