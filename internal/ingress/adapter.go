// Copyright 2025 James Ross
// Package ingress implements the external HTTP/WebSocket surface of §6:
// POST /v1/ask and the /ws frame stream, both wired to the admission
// pipeline (C5). Calling an actual downstream model is not part of this
// subsystem's hard-engineering core (§1: admission, fair-scheduling, and
// flow-control only) — Adapter is the seam a real deployment plugs a model
// client into; the router binary (cmd/router) wires in a deterministic stub so
// the pipeline end to end is exercised without depending on any model SDK.
package ingress

import (
	"context"

	"github.com/flyingrobots/go-model-router/internal/admission"
)

// Adapter executes one admitted request against a downstream model and
// reports usage for accounting (C8) and predictability.
type Adapter interface {
	Call(ctx context.Context, req admission.Request) (admission.DownstreamResult, error)
}

// AdapterFunc adapts a plain function to the Adapter interface.
type AdapterFunc func(ctx context.Context, req admission.Request) (admission.DownstreamResult, error)

func (f AdapterFunc) Call(ctx context.Context, req admission.Request) (admission.DownstreamResult, error) {
	return f(ctx, req)
}
