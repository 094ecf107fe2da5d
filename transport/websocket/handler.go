package websocket

import (
	"context"
	"net/http"

	ws "github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// AcceptFunc handles one envelope frame on the agent side and returns the
// ack to send back. The envelope id is filled in when left empty.
type AcceptFunc func(ctx context.Context, frame EnvelopeFrame) AckFrame

// Handler is the agent-side endpoint: it upgrades the request and answers
// every envelope frame with an ack.
type Handler struct {
	accept AcceptFunc
	logger *zap.Logger
}

// NewHandler creates an agent endpoint.
func NewHandler(accept AcceptFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{accept: accept, logger: logger.With(zap.String("component", "ws_agent_endpoint"))}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{Subprotocols: []string{Subprotocol}})
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	ctx := r.Context()
	for {
		var frame EnvelopeFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		ack := h.accept(ctx, frame)
		ack.Type = FrameAck
		if ack.EnvelopeID == "" {
			ack.EnvelopeID = frame.Envelope.ID
		}
		if err := wsjson.Write(ctx, conn, ack); err != nil {
			return
		}
	}
}
