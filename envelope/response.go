package envelope

import "time"

// Status is the lifecycle state of a Response as it moves through tiers.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimeout   Status = "TIMEOUT"
	StatusRetrying  Status = "RETRYING"
)

// Response is the envelope returned by Process. Every tier that touches
// a Response on its way back out prepends its own name to LayerTrace
// before returning, so the trace reads outermost-first.
type Response struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Content   interface{} `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Status    Status `json:"status"`

	StepsCompleted int    `json:"steps_completed"`
	TotalSteps     int    `json:"total_steps"`
	ExecutedBy     string `json:"executed_by,omitempty"`

	LayerTrace []string               `json:"layer_trace,omitempty"`
	Artifacts  map[string]interface{} `json:"artifacts,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	DurationMS int64 `json:"duration_ms"`

	startedAt time.Time
}

// NewResponse builds a pending Response correlated to req's request id,
// stamping the start time used by Finish to compute DurationMS.
func NewResponse(requestID string) *Response {
	return &Response{
		RequestID: requestID,
		Status:    StatusPending,
		Artifacts: map[string]interface{}{},
		Metadata:  map[string]interface{}{},
		startedAt: time.Now(),
	}
}

func (r *Response) clone() *Response {
	cp := *r
	if r.LayerTrace != nil {
		cp.LayerTrace = append([]string(nil), r.LayerTrace...)
	}
	if r.Artifacts != nil {
		cp.Artifacts = make(map[string]interface{}, len(r.Artifacts))
		for k, v := range r.Artifacts {
			cp.Artifacts[k] = v
		}
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// WithLayer returns a copy of r with layer prepended to LayerTrace, the
// pattern every tier uses on its way back out so the trace reads
// outermost-first regardless of call depth.
func (r *Response) WithLayer(layer string) *Response {
	cp := r.clone()
	cp.LayerTrace = append([]string{layer}, cp.LayerTrace...)
	return cp
}

// WithStatus returns a copy of r with a new status.
func (r *Response) WithStatus(status Status) *Response {
	cp := r.clone()
	cp.Status = status
	return cp
}

// WithContent returns a copy of r carrying the given success/content/error.
func (r *Response) WithContent(content interface{}, success bool, errMsg string) *Response {
	cp := r.clone()
	cp.Content = content
	cp.Success = success
	cp.Error = errMsg
	return cp
}

// WithSteps returns a copy of r with updated step counters.
func (r *Response) WithSteps(completed, total int) *Response {
	cp := r.clone()
	cp.StepsCompleted = completed
	cp.TotalSteps = total
	return cp
}

// WithExecutedBy returns a copy of r naming the terminal expert.
func (r *Response) WithExecutedBy(expertID string) *Response {
	cp := r.clone()
	cp.ExecutedBy = expertID
	return cp
}

// WithArtifact returns a copy of r with one artifact entry merged in.
func (r *Response) WithArtifact(key string, value interface{}) *Response {
	cp := r.clone()
	if cp.Artifacts == nil {
		cp.Artifacts = map[string]interface{}{}
	}
	cp.Artifacts[key] = value
	return cp
}

// WithMetadata returns a copy of r with one metadata entry merged in.
func (r *Response) WithMetadata(key string, value interface{}) *Response {
	cp := r.clone()
	if cp.Metadata == nil {
		cp.Metadata = map[string]interface{}{}
	}
	cp.Metadata[key] = value
	return cp
}

// Finish returns a copy of r with DurationMS computed from the start
// time stamped in NewResponse.
func (r *Response) Finish() *Response {
	cp := r.clone()
	if !r.startedAt.IsZero() {
		cp.DurationMS = time.Since(r.startedAt).Milliseconds()
	}
	return cp
}
