// =============================================================================
// 🚚 Transport - 传输端口模拟实现
// =============================================================================
// 按 agent 编排返回结果，记录每次发送
//
// 使用方法:
//
//	tr := mocks.NewTransport("mock").
//		FailAgent("agent-b", types.NewTransportError("unreachable", nil)).
//		FailTimes("agent-c", 2, transientErr)
//
// =============================================================================
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// Sent 一次发送记录
type Sent struct {
	EnvelopeID string
	AgentID    string
	Topic      string
	Priority   types.Priority
}

// Transport 可编排的传输端口
type Transport struct {
	name string

	mu        sync.Mutex
	sent      []Sent
	calls     map[string]int
	failures  map[string]error
	failTimes map[string]int
	delay     time.Duration
	block     chan struct{}
	seq       int
}

// NewTransport creates a transport that succeeds for every target.
func NewTransport(name string) *Transport {
	return &Transport{
		name:      name,
		calls:     make(map[string]int),
		failures:  make(map[string]error),
		failTimes: make(map[string]int),
	}
}

// FailAgent makes every send to agentID return err.
func (t *Transport) FailAgent(agentID string, err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[agentID] = err
	delete(t.failTimes, agentID)
	return t
}

// FailTimes makes the first n sends to agentID return err.
func (t *Transport) FailTimes(agentID string, n int, err error) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[agentID] = err
	t.failTimes[agentID] = n
	return t
}

// WithDelay makes every send sleep d (respecting ctx).
func (t *Transport) WithDelay(d time.Duration) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delay = d
	return t
}

// Block makes sends wait until Unblock is called.
func (t *Transport) Block() *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.block = make(chan struct{})
	return t
}

// Unblock releases blocked sends.
func (t *Transport) Unblock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.block != nil {
		close(t.block)
		t.block = nil
	}
}

// Name implements transport.Port.
func (t *Transport) Name() string { return t.name }

// Send implements transport.Port.
func (t *Transport) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	t.mu.Lock()
	delay, block := t.delay, t.block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[target.AgentID]++
	t.sent = append(t.sent, Sent{
		EnvelopeID: env.ID(),
		AgentID:    target.AgentID,
		Topic:      target.Topic,
		Priority:   env.Priority(),
	})

	if err, ok := t.failures[target.AgentID]; ok {
		n, limited := t.failTimes[target.AgentID]
		if !limited {
			return "", err
		}
		if n > 0 {
			t.failTimes[target.AgentID] = n - 1
			return "", err
		}
	}
	t.seq++
	return fmt.Sprintf("%s-%d", t.name, t.seq), nil
}

// Calls returns how many sends targeted agentID.
func (t *Transport) Calls(agentID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[agentID]
}

// Sent returns every send in order.
func (t *Transport) Sent() []Sent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Sent(nil), t.sent...)
}
