package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testEnvelope(t *testing.T) types.Envelope {
	t.Helper()
	env, err := types.NewEnvelope(types.EnvelopeSpec{ID: "env-1", TenantID: "t1", Priority: types.PriorityNormal}, time.Now())
	require.NoError(t, err)
	return env
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("send: %w", context.DeadlineExceeded), false},
		{"transient structured", types.NewTransientTransportError("x", nil), true},
		{"permanent structured", types.NewTransportError("x", nil), false},
		{"validation", types.NewValidationError("bad"), false},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, true},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"broken pipe", syscall.EPIPE, true},
		{"truncated", io.ErrUnexpectedEOF, true},
		{"closed", net.ErrClosed, true},
		{"plain", errors.New("unsupported payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.NoError(t, Classify(nil, nil))

	err := Classify(context.Canceled, nil)
	assert.Same(t, context.Canceled, err)

	v := types.NewValidationError("bad")
	assert.Same(t, v, Classify(v, func(error) bool { return true }))

	err = Classify(syscall.ECONNRESET, nil)
	assert.True(t, types.IsCode(err, types.ErrTransientTransport))
	assert.True(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, syscall.ECONNRESET)

	err = Classify(errors.New("nope"), nil)
	assert.True(t, types.IsCode(err, types.ErrTransport))
	assert.False(t, types.IsRetryable(err))

	// A structured error that already agrees is returned as is.
	transient := types.NewTransientTransportError("busy", nil)
	assert.Same(t, transient, Classify(transient, nil))

	// A custom classifier can override the error's own flag.
	err = Classify(transient, func(error) bool { return false })
	assert.False(t, types.IsRetryable(err))
	assert.ErrorIs(t, err, transient)
}

func TestFunc(t *testing.T) {
	p := Func{ID: "fn", SendFn: func(_ context.Context, env types.Envelope, target types.Target) (string, error) {
		return env.ID() + "@" + target.AgentID, nil
	}}
	id, err := p.Send(context.Background(), testEnvelope(t), types.Target{AgentID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "env-1@a1", id)
	assert.Equal(t, "fn", p.Name())
}

func countingPort(calls *atomic.Int32) Port {
	return Func{ID: "counted", SendFn: func(context.Context, types.Envelope, types.Target) (string, error) {
		calls.Add(1)
		return "ok", nil
	}}
}

func TestRateLimited_Disabled(t *testing.T) {
	var calls atomic.Int32
	_, wrapped := NewRateLimited(countingPort(&calls), RateLimitConfig{}).(*RateLimited)
	assert.False(t, wrapped)
}

func TestRateLimited_FailFast(t *testing.T) {
	var calls atomic.Int32
	p := NewRateLimited(countingPort(&calls), RateLimitConfig{RequestsPerSecond: 0.001, Burst: 2})
	assert.Equal(t, "counted", p.Name())

	env := testEnvelope(t)
	for i := 0; i < 2; i++ {
		_, err := p.Send(context.Background(), env, types.Target{AgentID: "a1"})
		require.NoError(t, err)
	}
	_, err := p.Send(context.Background(), env, types.Target{AgentID: "a1"})
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestRateLimited_WaitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	p := NewRateLimited(countingPort(&calls), RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, Wait: true})

	env := testEnvelope(t)
	_, err := p.Send(context.Background(), env, types.Target{AgentID: "a1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Send(ctx, env, types.Target{AgentID: "a1"})
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
