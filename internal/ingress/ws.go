// Copyright 2025 James Ross
package ingress

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flyingrobots/go-model-router/internal/admission"
	"github.com/flyingrobots/go-model-router/internal/frame"
	"github.com/flyingrobots/go-model-router/internal/routererr"
	"github.com/flyingrobots/go-model-router/internal/session"
)

// upgrader accepts any origin; the transport's own auth/TLS concerns are
// out of this subsystem's scope (§1) and are the caller's responsibility.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriteTimeout bounds how long a single frame write may block before the
// connection is dropped as unresponsive.
const wsWriteTimeout = 10 * time.Second

// WS handles /ws: a stream of canonical JSON frames (§3). Fragment groups
// are tracked per (session_id, stream_id, msg_seq); only the SYN fragment
// of a group is admitted through the pipeline, per "only the SYN fragment
// initiates admission."
func (h *Handler) WS(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		groups := map[string]*frame.Group{}
		tenant := r.Header.Get(tenantHeader)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := frame.Decode(raw)
			if err != nil {
				h.writeWSError(conn, routererr.ErrBadInput)
				continue
			}

			groupKey := f.SessionID + "|" + f.StreamID + "|" + strconv.FormatUint(f.MsgSeq, 10)
			g, ok := groups[groupKey]
			if !ok {
				g = &frame.Group{}
				groups[groupKey] = g
			}

			if err := g.Append(f); err != nil {
				h.writeWSError(conn, routererr.ErrSeqGap)
				delete(groups, groupKey)
				continue
			}

			if !f.IsSYN() {
				// Non-admitting continuation fragment: buffered by the
				// group only, nothing to admit.
				if g.Complete() {
					delete(groups, groupKey)
				}
				continue
			}

			sessKey := session.NewKey(tenant, f.SessionID)
			if err := sessKey.Validate(); err != nil {
				h.writeWSError(conn, routererr.ErrBadInput)
				delete(groups, groupKey)
				continue
			}

			admReq := admission.Request{
				Tenant:  tenant,
				Session: sessKey,
				Adapter: h.adapterName,
				Prompt:  string(f.Payload),
			}

			result, aerr := h.pipeline.Do(r.Context(), admReq, func(ctx context.Context) (admission.DownstreamResult, error) {
				return h.adapter.Call(ctx, admReq)
			})
			if aerr != nil {
				h.writeWSError(conn, aerr)
			} else {
				h.writeWSResult(conn, result)
			}

			if g.Complete() {
				delete(groups, groupKey)
			}
		}
	}
}

func (h *Handler) writeWSError(conn *websocket.Conn, e *routererr.Error) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(routererr.Payload{
		Code:      string(e.Kind),
		Message:   e.Message,
		Retryable: e.Retryable,
		BackoffMS: e.BackoffMS,
	})
}

func (h *Handler) writeWSResult(conn *websocket.Conn, result admission.DownstreamResult) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	_ = conn.WriteJSON(askResponse{
		InTokens:  result.InTokens,
		OutTokens: result.OutTokens,
		USDMicros: result.USDMicros,
	})
}
