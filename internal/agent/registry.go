package agent

import (
	"sort"
	"sync"
	"time"

	"github.com/Uh-X3L/agentmq/internal/protocol"
)

// Info describes a registered agent.
type Info struct {
	// ID is the agent's queue address.
	ID string `json:"id"`
	// Role is the agent's function, for example "coordinator" or "worker".
	Role string `json:"role"`
	// Capabilities lists what the agent can do.
	Capabilities []string `json:"capabilities,omitempty"`
	// RegisteredAt is when the agent first registered.
	RegisteredAt time.Time `json:"registered_at"`
	// LastSeen is the time of the last heartbeat or registration.
	LastSeen time.Time `json:"last_seen"`
	// Status is the last reported state string.
	Status string `json:"status,omitempty"`
}

// Registry tracks known agents and their liveness, fed by registrations and
// heartbeats. A supervisor drains its queue and applies each heartbeat here.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Info
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[string]*Info),
		now:    time.Now,
	}
}

// Register adds or refreshes an agent.
func (r *Registry) Register(id, role string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	info, ok := r.agents[id]
	if !ok {
		info = &Info{ID: id, RegisteredAt: now}
		r.agents[id] = info
	}
	info.Role = role
	info.Capabilities = append([]string(nil), capabilities...)
	info.LastSeen = now
}

// Deregister removes an agent.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, id)
}

// RecordRegistration applies a registration coordination message, as sent by
// Client.RegisterWithSupervisor.
func (r *Registry) RecordRegistration(msg *protocol.AgentMessage) {
	if msg == nil || msg.Type != protocol.TypeCoordination {
		return
	}
	if action, _ := msg.Content["action"].(string); action != "register" {
		return
	}
	role, _ := msg.Content["role"].(string)
	var capabilities []string
	switch raw := msg.Content["capabilities"].(type) {
	case []interface{}:
		// Content that crossed the wire decodes as untyped JSON.
		for _, c := range raw {
			if s, ok := c.(string); ok {
				capabilities = append(capabilities, s)
			}
		}
	case []string:
		capabilities = raw
	}
	r.Register(msg.FromAgent, role, capabilities)
}

// RecordHeartbeat refreshes an agent's liveness from a heartbeat message.
// Unregistered senders are added with an empty role.
func (r *Registry) RecordHeartbeat(msg *protocol.AgentMessage) {
	if msg == nil || msg.Type != protocol.TypeHeartbeat {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	info, ok := r.agents[msg.FromAgent]
	if !ok {
		info = &Info{ID: msg.FromAgent, RegisteredAt: now}
		r.agents[msg.FromAgent] = info
	}
	info.LastSeen = now
	if s, ok := msg.Content["status"].(string); ok {
		info.Status = s
	}
}

// Get returns a copy of the agent's info.
func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.agents[id]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Active returns the agents seen within the given window, sorted by id.
func (r *Registry) Active(window time.Duration) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := r.now().Add(-window)
	var out []Info
	for _, info := range r.agents {
		if !info.LastSeen.Before(cutoff) {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithRole returns the agents holding the role, sorted by id.
func (r *Registry) WithRole(role string) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Info
	for _, info := range r.agents {
		if info.Role == role {
			out = append(out, *info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
