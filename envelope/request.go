// Package envelope holds the Request/Response value types that thread
// through every tier of the pipeline as a single object, each tier
// reading its inputs and returning a (possibly mutated) copy via the
// With* builders below rather than mutating shared state in place.
package envelope

import (
	"time"

	"github.com/google/uuid"
)

// RequestType tags the shape of a request's content.
type RequestType string

const (
	RequestGeneral  RequestType = "general"
	RequestQuery    RequestType = "query"
	RequestCommand  RequestType = "command"
	RequestWorkflow RequestType = "workflow"
	RequestWebhook  RequestType = "webhook"
)

// Source tags where a request originated.
type Source string

const (
	SourceCLI     Source = "cli"
	SourceAPI     Source = "api"
	SourceWebhook Source = "webhook"
	SourceTrigger Source = "trigger"
)

// Priority orders requests for scheduling purposes.
type Priority string

const (
	PriorityCritical   Priority = "CRITICAL"
	PriorityHigh       Priority = "HIGH"
	PriorityNormal     Priority = "NORMAL"
	PriorityLow        Priority = "LOW"
	PriorityBackground Priority = "BACKGROUND"
)

// Attachment is an opaque reference to out-of-band content (a file, a
// blob, a URL) the pipeline passes along without interpreting.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	Ref         string `json:"ref"`
}

// RoutingHints carries fields set by upstream callers or populated by L2
// and L3 as a request descends through the pipeline. Once a request has
// entered L2, L2 owns Classification; once in L3, L3 owns TargetWorkflow.
type RoutingHints struct {
	TargetAgent    string `json:"target_agent,omitempty"`
	TargetWorkflow string `json:"target_workflow,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// Request is the immutable-on-write envelope every tier receives. Tiers
// that need to set a field return a copy via a With* method; the
// original Request a caller holds is never mutated out from under it.
type Request struct {
	RequestID  string      `json:"request_id"`
	TraceID    string      `json:"trace_id"`
	ParentID   string      `json:"parent_id,omitempty"`
	Content    string      `json:"content"`
	Type       RequestType `json:"request_type"`
	Source     Source      `json:"source"`
	UserID     string      `json:"user_id,omitempty"`
	SessionID  string      `json:"session_id,omitempty"`
	Priority   Priority    `json:"priority"`
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int         `json:"max_retries"`

	Context     map[string]interface{} `json:"context,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
	Hints       RoutingHints           `json:"hints"`

	// Embedding is a scratch field populated by L2's optional semantic
	// backend. It never carries routing semantics on its own; the router
	// formula in the intelligence tier is the only reader.
	Embedding []float32 `json:"embedding,omitempty"`

	// SpanID correlates this request to a telemetry span. Populated by
	// the tier that opens the span, never by upstream callers.
	SpanID string `json:"span_id,omitempty"`
}

// New builds a Request with a fresh request id and trace id, sane
// defaults for priority/timeout/retries, and an empty context map ready
// to receive entries.
func New(content string, reqType RequestType, source Source) *Request {
	return &Request{
		RequestID:  uuid.NewString(),
		TraceID:    uuid.NewString(),
		Content:    content,
		Type:       reqType,
		Source:     source,
		Priority:   PriorityNormal,
		Timeout:    30 * time.Second,
		MaxRetries: 3,
		Context:    map[string]interface{}{},
	}
}

// clone returns a shallow copy of r with independent Context/Attachments/
// Embedding slices/maps, so mutating the copy's collections never
// touches the original's.
func (r *Request) clone() *Request {
	cp := *r
	if r.Context != nil {
		cp.Context = make(map[string]interface{}, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	if r.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), r.Attachments...)
	}
	if r.Embedding != nil {
		cp.Embedding = append([]float32(nil), r.Embedding...)
	}
	return &cp
}

// WithParentID returns a copy of r linking it to a parent pipeline run.
func (r *Request) WithParentID(parentID string) *Request {
	cp := r.clone()
	cp.ParentID = parentID
	return cp
}

// WithSession returns a copy of r tagged with a user/session pair.
func (r *Request) WithSession(userID, sessionID string) *Request {
	cp := r.clone()
	cp.UserID = userID
	cp.SessionID = sessionID
	return cp
}

// WithContext returns a copy of r with one context entry merged in.
func (r *Request) WithContext(key string, value interface{}) *Request {
	cp := r.clone()
	if cp.Context == nil {
		cp.Context = map[string]interface{}{}
	}
	cp.Context[key] = value
	return cp
}

// WithClassification returns a copy of r with L2's classification hint
// set. Callers below L2 must use this rather than mutating Hints
// directly, since Request is treated as owned-for-the-call.
func (r *Request) WithClassification(classification string) *Request {
	cp := r.clone()
	cp.Hints.Classification = classification
	return cp
}

// WithTargetAgent returns a copy of r with a target agent hint set.
func (r *Request) WithTargetAgent(agentID string) *Request {
	cp := r.clone()
	cp.Hints.TargetAgent = agentID
	return cp
}

// WithTargetWorkflow returns a copy of r with L3's target workflow hint
// set. Only L3 should call this per the ownership rule in the data model.
func (r *Request) WithTargetWorkflow(workflowID string) *Request {
	cp := r.clone()
	cp.Hints.TargetWorkflow = workflowID
	return cp
}

// WithEmbedding returns a copy of r carrying L2's semantic embedding.
func (r *Request) WithEmbedding(embedding []float32) *Request {
	cp := r.clone()
	cp.Embedding = embedding
	return cp
}

// WithSpanID returns a copy of r tagged with a telemetry span id.
func (r *Request) WithSpanID(spanID string) *Request {
	cp := r.clone()
	cp.SpanID = spanID
	return cp
}

// WithAttachment returns a copy of r with one more attachment appended.
func (r *Request) WithAttachment(a Attachment) *Request {
	cp := r.clone()
	cp.Attachments = append(cp.Attachments, a)
	return cp
}
