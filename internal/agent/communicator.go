// Package agent is the client-side surface agents use to talk to each other
// over the queue.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Uh-X3L/agentmq/internal/protocol"
	"github.com/Uh-X3L/agentmq/internal/queue"
)

// Communicator is what an agent implementation sees: enqueue, drain,
// acknowledge and supervisor bookkeeping.
type Communicator interface {
	// Send enqueues one message. The return value reports whether it was
	// stored.
	Send(ctx context.Context, msg *protocol.AgentMessage) bool

	// SendBatch enqueues messages grouped per destination.
	SendBatch(ctx context.Context, msgs []*protocol.AgentMessage) error

	// Receive pops up to limit messages addressed to this agent.
	Receive(ctx context.Context, limit int, opts ...queue.ReceiveOption) []*protocol.AgentMessage

	// Ack acknowledges successful processing of a delivered message.
	Ack(ctx context.Context, messageID string) bool

	// Nack reports a processing failure; the queue retries the message
	// while its retry budget lasts.
	Nack(ctx context.Context, messageID string) bool

	// RegisterWithSupervisor announces this agent, its role and its
	// capabilities to the supervisor.
	RegisterWithSupervisor(ctx context.Context, role string, capabilities []string) bool

	// Heartbeat tells the supervisor this agent is alive.
	Heartbeat(ctx context.Context, status protocol.StatusUpdate) bool
}

// Client is the Communicator implementation over a queue.Manager. Messages
// popped while waiting on a response are stashed locally and handed out by
// the next Receive, so a Request never loses unrelated traffic.
type Client struct {
	id         string
	supervisor string
	mgr        *queue.Manager
	log        *logrus.Entry

	mu    sync.Mutex
	stash []*protocol.AgentMessage
}

// NewClient creates an agent client. supervisor is the agent id heartbeats
// are addressed to; it may be empty for agents without one.
func NewClient(id, supervisor string, mgr *queue.Manager, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.New()
	}
	return &Client{
		id:         id,
		supervisor: supervisor,
		mgr:        mgr,
		log:        log.WithField("agent_id", id),
	}
}

// ID returns the agent id this client sends as.
func (c *Client) ID() string { return c.id }

// Send enqueues one message.
func (c *Client) Send(ctx context.Context, msg *protocol.AgentMessage) bool {
	return c.mgr.Send(ctx, msg)
}

// SendBatch enqueues messages grouped per destination.
func (c *Client) SendBatch(ctx context.Context, msgs []*protocol.AgentMessage) error {
	return c.mgr.SendBatch(ctx, msgs)
}

// Receive pops up to limit messages addressed to this agent, draining the
// local stash before the queue.
func (c *Client) Receive(ctx context.Context, limit int, opts ...queue.ReceiveOption) []*protocol.AgentMessage {
	if limit <= 0 {
		limit = 1
	}
	out := c.takeStashed(limit)
	if len(out) >= limit {
		return out
	}
	return append(out, c.mgr.Receive(ctx, c.id, limit-len(out), opts...)...)
}

// Ack acknowledges successful processing.
func (c *Client) Ack(ctx context.Context, messageID string) bool {
	return c.mgr.MarkProcessed(ctx, messageID, c.id, queue.OutcomeProcessed)
}

// Nack reports a processing failure.
func (c *Client) Nack(ctx context.Context, messageID string) bool {
	return c.mgr.MarkProcessed(ctx, messageID, c.id, queue.OutcomeFailed)
}

// Request sends a task request and waits for the matching response,
// correlated by parent message id. Unrelated messages popped while waiting
// are stashed for the next Receive.
func (c *Client) Request(ctx context.Context, to string, req protocol.TaskRequest, priority protocol.Priority, timeout time.Duration) (*protocol.AgentMessage, error) {
	msg, err := protocol.NewTaskRequestMessage(c.id, to, req, priority)
	if err != nil {
		return nil, err
	}
	if !c.mgr.Send(ctx, msg) {
		return nil, queue.ErrStoreUnavailable
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, context.DeadlineExceeded
		}
		batch := c.mgr.Receive(ctx, c.id, 10, queue.WithBlock(remaining))
		var reply *protocol.AgentMessage
		for _, got := range batch {
			if reply == nil && got.ParentMessageID == msg.ID && got.Type == protocol.TypeTaskResponse {
				reply = got
				continue
			}
			c.stashMessage(got)
		}
		if reply != nil {
			c.Ack(ctx, reply.ID)
			return reply, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// RegisterWithSupervisor announces this agent to the supervisor so it shows
// up in the supervisor's registry. Without a supervisor it is a no-op
// returning true.
func (c *Client) RegisterWithSupervisor(ctx context.Context, role string, capabilities []string) bool {
	if c.supervisor == "" {
		return true
	}
	msg, err := protocol.New(c.id, c.supervisor, protocol.TypeCoordination, map[string]interface{}{
		"action":       "register",
		"role":         role,
		"capabilities": capabilities,
	})
	if err != nil {
		c.log.WithError(err).Warn("Failed to build registration")
		return false
	}
	msg.WithPriority(protocol.PriorityHigh)
	return c.mgr.Send(ctx, msg)
}

// Heartbeat sends a status update to the supervisor. Without a supervisor
// it is a no-op returning true.
func (c *Client) Heartbeat(ctx context.Context, status protocol.StatusUpdate) bool {
	if c.supervisor == "" {
		return true
	}
	msg, err := protocol.NewHeartbeat(c.id, c.supervisor, status)
	if err != nil {
		c.log.WithError(err).Warn("Failed to build heartbeat")
		return false
	}
	return c.mgr.Send(ctx, msg)
}

// Broadcast publishes a message on the shared broadcast queue. The
// supervisor drains that queue and fans the message out; Broadcast itself
// does not write to individual agent queues.
func (c *Client) Broadcast(ctx context.Context, typ protocol.MessageType, content map[string]interface{}) bool {
	msg, err := protocol.NewBroadcast(c.id, typ, content)
	if err != nil {
		c.log.WithError(err).Warn("Failed to build broadcast")
		return false
	}
	return c.mgr.Send(ctx, msg)
}

func (c *Client) stashMessage(msg *protocol.AgentMessage) {
	c.mu.Lock()
	c.stash = append(c.stash, msg)
	c.mu.Unlock()
}

func (c *Client) takeStashed(limit int) []*protocol.AgentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.stash) == 0 {
		return nil
	}
	n := limit
	if n > len(c.stash) {
		n = len(c.stash)
	}
	out := make([]*protocol.AgentMessage, n)
	copy(out, c.stash[:n])
	c.stash = append([]*protocol.AgentMessage(nil), c.stash[n:]...)
	return out
}
