// Package protocol defines the message envelope exchanged between agents.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies what a message is for.
type MessageType string

const (
	// TypeTaskRequest asks another agent to perform work.
	TypeTaskRequest MessageType = "task_request"
	// TypeTaskResponse answers a task request.
	TypeTaskResponse MessageType = "task_response"
	// TypeStatusUpdate reports an agent's current state.
	TypeStatusUpdate MessageType = "status_update"
	// TypeCoordination carries supervisor/worker coordination traffic.
	TypeCoordination MessageType = "coordination"
	// TypeErrorReport reports a failure to the sender's supervisor.
	TypeErrorReport MessageType = "error_report"
	// TypeCompletion signals that a unit of work finished.
	TypeCompletion MessageType = "completion"
	// TypeHeartbeat is a periodic liveness signal.
	TypeHeartbeat MessageType = "heartbeat"
	// TypeBroadcast is addressed to every agent.
	TypeBroadcast MessageType = "broadcast"
)

// IsValid returns true for a recognized message type.
func (t MessageType) IsValid() bool {
	switch t {
	case TypeTaskRequest, TypeTaskResponse, TypeStatusUpdate, TypeCoordination,
		TypeErrorReport, TypeCompletion, TypeHeartbeat, TypeBroadcast:
		return true
	}
	return false
}

// String returns the wire tag of the message type.
func (t MessageType) String() string { return string(t) }

// Priority orders messages within a recipient's queue. Lower ordinal means
// more urgent.
type Priority int

const (
	// PriorityCritical preempts everything else.
	PriorityCritical Priority = 1
	// PriorityHigh is for time-sensitive traffic.
	PriorityHigh Priority = 2
	// PriorityMedium is the default.
	PriorityMedium Priority = 3
	// PriorityLow is for traffic that can wait.
	PriorityLow Priority = 4
	// PriorityBackground is for housekeeping traffic.
	PriorityBackground Priority = 5
)

// IsValid returns true for a recognized priority ordinal.
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// Status is the lifecycle state of a message.
type Status string

const (
	// StatusPending means the message is queued, waiting for a consumer.
	StatusPending Status = "pending"
	// StatusProcessing means the message has been delivered to a consumer.
	StatusProcessing Status = "processing"
	// StatusProcessed means the consumer acknowledged the message.
	StatusProcessed Status = "processed"
	// StatusFailed is terminal: processing failed and retries are exhausted.
	StatusFailed Status = "failed"
	// StatusExpired is terminal: the message outlived its deadline.
	StatusExpired Status = "expired"
)

// Hop records one step of a message's route, for audit only.
type Hop struct {
	Agent     string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentMessage is the envelope for all agent-to-agent communication.
// The id, sender and creation time are immutable after construction; only
// the queue layer mutates status, retry count and the processed timestamp.
type AgentMessage struct {
	// ID is the unique message identifier.
	ID string `json:"id"`
	// Type is the message type tag.
	Type MessageType `json:"type"`
	// FromAgent is the sender's agent id.
	FromAgent string `json:"from_agent"`
	// ToAgent is the recipient's agent id, empty for broadcasts.
	ToAgent string `json:"to_agent,omitempty"`
	// Content is the opaque payload.
	Content map[string]interface{} `json:"content"`
	// ParentMessageID links a response back to its request.
	ParentMessageID string `json:"parent_message_id,omitempty"`
	// Priority is the urgency ordinal (1 = critical .. 5 = background).
	Priority Priority `json:"priority"`
	// CreatedAt is set once, at construction.
	CreatedAt time.Time `json:"created_at"`
	// ProcessedAt is stamped when the message reaches a terminal state.
	ProcessedAt time.Time `json:"processed_at,omitempty"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// RetryCount is how many times delivery has been retried.
	RetryCount int `json:"retry_count"`
	// MaxRetries caps RetryCount.
	MaxRetries int `json:"max_retries"`
	// ExpiresAt is an optional absolute deadline.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	// Compression marks the stored record as gzip-compressed.
	Compression bool `json:"compression,omitempty"`
	// RouteHistory is an append-only audit trail of hops. It is never
	// consulted for routing decisions.
	RouteHistory []Hop `json:"route_history,omitempty"`
}

// DefaultMaxRetries is the retry ceiling applied when none is set.
const DefaultMaxRetries = 3

// New creates a message from the given sender to the given recipient.
// An empty recipient addresses every agent (broadcast).
func New(from, to string, typ MessageType, content map[string]interface{}) (*AgentMessage, error) {
	if from == "" {
		return nil, &ValidationError{Field: "from_agent", Reason: "must not be empty"}
	}
	if !typ.IsValid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unrecognized message type %q", typ)}
	}
	if content == nil {
		content = make(map[string]interface{})
	}
	return &AgentMessage{
		ID:         uuid.New().String(),
		Type:       typ,
		FromAgent:  from,
		ToAgent:    to,
		Content:    content,
		Priority:   PriorityMedium,
		CreatedAt:  time.Now().UTC(),
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
	}, nil
}

// WithPriority sets the priority ordinal.
func (m *AgentMessage) WithPriority(p Priority) *AgentMessage {
	m.Priority = p
	return m
}

// WithMaxRetries sets the retry ceiling.
func (m *AgentMessage) WithMaxRetries(n int) *AgentMessage {
	m.MaxRetries = n
	return m
}

// WithExpiration sets an absolute expiry deadline.
func (m *AgentMessage) WithExpiration(t time.Time) *AgentMessage {
	m.ExpiresAt = t
	return m
}

// WithTTL sets the expiry deadline relative to now.
func (m *AgentMessage) WithTTL(ttl time.Duration) *AgentMessage {
	m.ExpiresAt = time.Now().UTC().Add(ttl)
	return m
}

// WithParent links this message to the message it answers.
func (m *AgentMessage) WithParent(parentID string) *AgentMessage {
	m.ParentMessageID = parentID
	return m
}

// IsBroadcast returns true when the message has no single recipient.
func (m *AgentMessage) IsBroadcast() bool { return m.ToAgent == "" }

// IsExpired reports whether the message's deadline has passed at the given
// instant. Messages without a deadline never expire.
func (m *AgentMessage) IsExpired(now time.Time) bool {
	if m.ExpiresAt.IsZero() {
		return false
	}
	return now.After(m.ExpiresAt)
}

// CanRetry reports whether the message may be redelivered.
func (m *AgentMessage) CanRetry() bool {
	return m.RetryCount < m.MaxRetries && !m.IsExpired(time.Now().UTC())
}

// IncrementRetry bumps the retry counter.
func (m *AgentMessage) IncrementRetry() {
	m.RetryCount++
}

// SetStatus transitions the lifecycle state, stamping ProcessedAt on
// terminal transitions.
func (m *AgentMessage) SetStatus(s Status) {
	m.Status = s
	switch s {
	case StatusProcessed, StatusFailed, StatusExpired:
		m.ProcessedAt = time.Now().UTC()
	}
}

// AppendHop records a routing hop for audit.
func (m *AgentMessage) AppendHop(agent string) {
	m.RouteHistory = append(m.RouteHistory, Hop{Agent: agent, Timestamp: time.Now().UTC()})
}

// Response builds a reply addressed back at this message's sender. The reply
// inherits the priority and carries this message's id as its parent.
func (m *AgentMessage) Response(responder string, content map[string]interface{}) (*AgentMessage, error) {
	resp, err := New(responder, m.FromAgent, TypeTaskResponse, content)
	if err != nil {
		return nil, err
	}
	resp.ParentMessageID = m.ID
	resp.Priority = m.Priority
	return resp, nil
}

// Clone returns a deep copy of the message.
func (m *AgentMessage) Clone() *AgentMessage {
	clone := *m
	if m.Content != nil {
		clone.Content = make(map[string]interface{}, len(m.Content))
		for k, v := range m.Content {
			clone.Content[k] = v
		}
	}
	if m.RouteHistory != nil {
		clone.RouteHistory = make([]Hop, len(m.RouteHistory))
		copy(clone.RouteHistory, m.RouteHistory)
	}
	return &clone
}

// Marshal encodes the message as its canonical JSON wire record.
func (m *AgentMessage) Marshal() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message %s: %w", m.ID, err)
	}
	return data, nil
}

// Unmarshal decodes a wire record produced by Marshal. Unknown extra fields
// are ignored so newer writers stay readable.
func Unmarshal(data []byte) (*AgentMessage, error) {
	var m AgentMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if !m.Type.IsValid() {
		return nil, fmt.Errorf("decode message %s: unrecognized type %q", m.ID, m.Type)
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	return &m, nil
}

// ValidationError reports a malformed message at construction time.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s %s", e.Field, e.Reason)
}
