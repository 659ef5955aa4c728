// Copyright 2025 James Ross
package ingress

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/flyingrobots/go-model-router/internal/admission"
	"github.com/flyingrobots/go-model-router/internal/routererr"
	"github.com/flyingrobots/go-model-router/internal/session"
)

// tenantHeader carries the caller's tenant id; admission key issuance and
// auth are out of this subsystem's core (§1), so ingress trusts whatever
// upstream auth middleware has already validated and stamped here.
const tenantHeader = "X-Tenant-ID"

// askRequest is the wire shape of POST /v1/ask (§6).
type askRequest struct {
	Prompt             string  `json:"prompt"`
	Quality            string  `json:"quality,omitempty"`
	LatencySLOMs       int     `json:"latency_slo_ms,omitempty"`
	TaskType           string  `json:"task_type,omitempty"`
	ConversationID     string  `json:"conversation_id"`
	EstimatedUSDMicros float64 `json:"estimated_usd_micros,omitempty"`
}

// askResponse is returned on a successful admission + downstream call.
type askResponse struct {
	InTokens  int64 `json:"in_tokens"`
	OutTokens int64 `json:"out_tokens"`
	USDMicros int64 `json:"usd_micros"`
}

// Handler serves the §6 external HTTP surface, wired to the admission
// pipeline (C5) and a pluggable Adapter for the actual downstream call.
type Handler struct {
	pipeline    *admission.Pipeline
	adapter     Adapter
	adapterName string
}

// NewHandler builds the ingress Handler. adapterName identifies which
// downstream adapter this handler targets, feeding the per-adapter circuit
// breaker (C7) and accounting (C8) keys.
func NewHandler(pipeline *admission.Pipeline, adapter Adapter, adapterName string) *Handler {
	return &Handler{pipeline: pipeline, adapter: adapter, adapterName: adapterName}
}

// Ask handles POST /v1/ask: decode, derive (tenant, session) from the
// tenant header and conversation_id, and run the admission pipeline around
// the adapter call.
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		routererr.WriteHTTP(w, routererr.ErrBadInput)
		return
	}

	tenant := r.Header.Get(tenantHeader)
	sessKey := session.NewKey(tenant, req.ConversationID)
	if err := sessKey.Validate(); err != nil {
		routererr.WriteHTTP(w, routererr.ErrBadInput)
		return
	}

	admReq := admission.Request{
		Tenant:             tenant,
		Session:            sessKey,
		Adapter:            h.adapterName,
		Prompt:             req.Prompt,
		EstimatedUSDMicros: req.EstimatedUSDMicros,
	}

	result, aerr := h.pipeline.Do(r.Context(), admReq, func(ctx context.Context) (admission.DownstreamResult, error) {
		return h.adapter.Call(ctx, admReq)
	})
	if aerr != nil {
		routererr.WriteHTTP(w, aerr)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(askResponse{
		InTokens:  result.InTokens,
		OutTokens: result.OutTokens,
		USDMicros: result.USDMicros,
	})
}
