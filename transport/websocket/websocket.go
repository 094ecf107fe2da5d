// Package websocket delivers envelopes over WebSocket connections: one
// connection per target endpoint, a JSON envelope frame out and a JSON ack
// frame carrying the delivery id back.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agentmesh/internal/tlsutil"
	"github.com/BaSui01/agentmesh/types"
	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Name is the transport identifier.
const Name = "websocket"

// Subprotocol is negotiated on every connection.
const Subprotocol = "agentmesh.v1"

// Frame types.
const (
	FrameEnvelope = "envelope"
	FrameAck      = "ack"
)

// EnvelopeFrame 发往 agent 端点的帧
type EnvelopeFrame struct {
	Type     string             `json:"type"`
	Target   types.Target       `json:"target"`
	Envelope types.EnvelopeView `json:"envelope"`
}

// AckFrame agent 端点的确认帧
type AckFrame struct {
	Type       string `json:"type"`
	EnvelopeID string `json:"envelope_id"`
	DeliveryID string `json:"delivery_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
}

// Config WebSocket 传输配置
type Config struct {
	// URLTemplate builds the endpoint for an agent; "{agent_id}" and
	// "{topic}" are substituted.
	URLTemplate string `json:"url_template" yaml:"url_template"`
	// Endpoints overrides the template per agent id.
	Endpoints map[string]string `json:"endpoints" yaml:"endpoints"`
	// DialTimeout bounds connection setup.
	DialTimeout time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	// AckTimeout bounds the wait for an ack after writing a frame.
	AckTimeout time.Duration `json:"ack_timeout" yaml:"ack_timeout"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URLTemplate: "ws://localhost:8090/agents/{agent_id}",
		DialTimeout: 5 * time.Second,
		AckTimeout:  10 * time.Second,
	}
}

// Transport WebSocket 传输，按端点缓存连接
type Transport struct {
	config    Config
	logger    *zap.Logger
	tlsClient *http.Client

	mu     sync.Mutex
	conns  map[string]*endpointConn
	closed bool
}

// endpointConn serialises request/ack exchanges on one connection.
type endpointConn struct {
	mu   sync.Mutex
	url  string
	conn *ws.Conn
}

// New creates a websocket transport.
func New(config Config, logger *zap.Logger) *Transport {
	def := DefaultConfig()
	if config.URLTemplate == "" {
		config.URLTemplate = def.URLTemplate
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = def.DialTimeout
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = def.AckTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		config: config,
		logger: logger.With(zap.String("component", "transport"), zap.String("transport", Name)),
		conns:  make(map[string]*endpointConn),

		tlsClient: tlsutil.WebSocketClient(),
	}
}

// Name implements transport.Port.
func (t *Transport) Name() string { return Name }

// Endpoint resolves the URL for target.
func (t *Transport) Endpoint(target types.Target) string {
	if url, ok := t.config.Endpoints[target.AgentID]; ok {
		return url
	}
	topic := target.Topic
	if topic == "" {
		topic = types.AgentTopic(target.AgentID)
	}
	return strings.NewReplacer("{agent_id}", target.AgentID, "{topic}", topic).Replace(t.config.URLTemplate)
}

// Send implements transport.Port.
func (t *Transport) Send(ctx context.Context, env types.Envelope, target types.Target) (string, error) {
	ec, err := t.endpoint(t.Endpoint(target))
	if err != nil {
		return "", err
	}

	ec.mu.Lock()
	defer ec.mu.Unlock()

	if ec.conn == nil {
		dialCtx, cancel := context.WithTimeout(ctx, t.config.DialTimeout)
		opts := &ws.DialOptions{Subprotocols: []string{Subprotocol}}
		if strings.HasPrefix(ec.url, "wss://") {
			opts.HTTPClient = t.tlsClient
		}
		conn, _, err := ws.Dial(dialCtx, ec.url, opts)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", types.NewTransientTransportError("dial "+ec.url, err)
		}
		ec.conn = conn
		t.logger.Debug("connected", zap.String("url", ec.url))
	}

	frame := EnvelopeFrame{Type: FrameEnvelope, Target: target, Envelope: env.View()}
	ackCtx, cancel := context.WithTimeout(ctx, t.config.AckTimeout)
	defer cancel()

	if err := wsjson.Write(ackCtx, ec.conn, frame); err != nil {
		return "", t.broken(ctx, ec, "write", err)
	}
	var ack AckFrame
	if err := wsjson.Read(ackCtx, ec.conn, &ack); err != nil {
		return "", t.broken(ctx, ec, "read ack", err)
	}

	if ack.Type != FrameAck || ack.EnvelopeID != env.ID() {
		t.drop(ec)
		return "", types.NewTransportError(
			fmt.Sprintf("unexpected frame %q for envelope %q", ack.Type, ack.EnvelopeID), nil)
	}
	if ack.Error != "" {
		e := types.NewTransportError("agent rejected envelope: "+ack.Error, nil)
		if ack.Retryable {
			e = types.NewTransientTransportError("agent deferred envelope: "+ack.Error, nil)
		}
		return "", e
	}
	return ack.DeliveryID, nil
}

func (t *Transport) endpoint(url string) (*endpointConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, types.NewTransportError("websocket transport closed", nil)
	}
	ec, ok := t.conns[url]
	if !ok {
		ec = &endpointConn{url: url}
		t.conns[url] = ec
	}
	return ec, nil
}

// broken drops the connection and reports a transient failure unless the
// caller gave up.
func (t *Transport) broken(ctx context.Context, ec *endpointConn, op string, err error) error {
	t.drop(ec)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTransientTransportError(op+" timed out on "+ec.url, err)
	}
	return types.NewTransientTransportError(op+" failed on "+ec.url, err)
}

// drop closes the connection; the caller holds ec.mu.
func (t *Transport) drop(ec *endpointConn) {
	if ec.conn != nil {
		_ = ec.conn.Close(ws.StatusGoingAway, "reset")
		ec.conn = nil
	}
}

// Connections returns how many endpoints hold an open connection.
func (t *Transport) Connections() int {
	t.mu.Lock()
	conns := make([]*endpointConn, 0, len(t.conns))
	for _, ec := range t.conns {
		conns = append(conns, ec)
	}
	t.mu.Unlock()

	n := 0
	for _, ec := range conns {
		ec.mu.Lock()
		if ec.conn != nil {
			n++
		}
		ec.mu.Unlock()
	}
	return n
}

// Close closes every connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := t.conns
	t.conns = make(map[string]*endpointConn)
	t.mu.Unlock()

	for _, ec := range conns {
		ec.mu.Lock()
		if ec.conn != nil {
			_ = ec.conn.Close(ws.StatusNormalClosure, "shutdown")
			ec.conn = nil
		}
		ec.mu.Unlock()
	}
	return nil
}
