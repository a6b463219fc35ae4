package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskRequest is the structured content of a task_request message.
type TaskRequest struct {
	TaskID               string                 `json:"task_id"`
	TaskType             string                 `json:"task_type"`
	Description          string                 `json:"description"`
	Parameters           map[string]interface{} `json:"parameters,omitempty"`
	Deadline             string                 `json:"deadline,omitempty"`
	RequiredCapabilities []string               `json:"required_capabilities,omitempty"`
}

// TaskResponse is the structured content of a task_response message.
type TaskResponse struct {
	TaskID    string                 `json:"task_id"`
	Status    string                 `json:"status"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Error     string                 `json:"error_message,omitempty"`
	Progress  float64                `json:"progress,omitempty"`
	NextSteps []string               `json:"next_steps,omitempty"`
}

// StatusUpdate is the structured content of a status_update message.
type StatusUpdate struct {
	AgentID      string   `json:"agent_id"`
	Status       string   `json:"status"`
	CurrentTask  string   `json:"current_task,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	LoadFactor   float64  `json:"load_factor,omitempty"`
}

// NewTaskRequestMessage builds a task_request message carrying the given
// structured request.
func NewTaskRequestMessage(from, to string, req TaskRequest, priority Priority) (*AgentMessage, error) {
	if req.TaskID == "" {
		req.TaskID = fmt.Sprintf("task_%s_%s", time.Now().UTC().Format("20060102_150405"), to)
	}
	content, err := toContent(req)
	if err != nil {
		return nil, err
	}
	msg, err := New(from, to, TypeTaskRequest, content)
	if err != nil {
		return nil, err
	}
	return msg.WithPriority(priority), nil
}

// NewBroadcast builds a message with an empty recipient. It lands on the
// shared broadcast queue, not on every agent's queue; a supervisor drains
// that queue and fans the message out to individual agents.
func NewBroadcast(from string, typ MessageType, content map[string]interface{}) (*AgentMessage, error) {
	return New(from, "", typ, content)
}

// NewHeartbeat builds a low-priority heartbeat addressed to the supervisor.
func NewHeartbeat(agentID, supervisorID string, status StatusUpdate) (*AgentMessage, error) {
	status.AgentID = agentID
	content, err := toContent(status)
	if err != nil {
		return nil, err
	}
	msg, err := New(agentID, supervisorID, TypeHeartbeat, content)
	if err != nil {
		return nil, err
	}
	return msg.WithPriority(PriorityLow), nil
}

// toContent flattens a structured payload into the envelope's content map.
func toContent(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode content: %w", err)
	}
	var content map[string]interface{}
	if err := json.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return content, nil
}
