// Copyright 2025 James Ross
package ingress

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/flyingrobots/go-model-router/internal/admission"
	"github.com/flyingrobots/go-model-router/internal/frame"
	"github.com/flyingrobots/go-model-router/internal/routererr"
)

func TestWSAdmitsSYNFrameAndRespondsOnce(t *testing.T) {
	adapter := AdapterFunc(func(ctx context.Context, req admission.Request) (admission.DownstreamResult, error) {
		return admission.DownstreamResult{InTokens: 1, OutTokens: 2, USDMicros: 3}, nil
	})
	h := newTestHandler(t, adapter)

	srv := httptest.NewServer(h.WS(zap.NewNop()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := &frame.Frame{
		V:         1,
		SessionID: "c1",
		StreamID:  "s1",
		MsgSeq:    1,
		FragSeq:   0,
		Flags:     []frame.Flag{frame.FlagSYN},
		Payload:   json.RawMessage(`"hello"`),
	}
	raw, err := frame.Encode(f)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp askResponse
	if err := json.Unmarshal(respRaw, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.InTokens != 1 || resp.OutTokens != 2 || resp.USDMicros != 3 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestWSRejectsSequenceGap(t *testing.T) {
	h := newTestHandler(t, AdapterFunc(func(ctx context.Context, req admission.Request) (admission.DownstreamResult, error) {
		t.Fatal("downstream should not be invoked")
		return admission.DownstreamResult{}, nil
	}))

	srv := httptest.NewServer(h.WS(zap.NewNop()))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := &frame.Frame{
		V:         1,
		SessionID: "c1",
		StreamID:  "s1",
		MsgSeq:    1,
		FragSeq:   3,
		Flags:     []frame.Flag{frame.FlagSYN},
	}
	raw, _ := frame.Encode(f)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, respRaw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var payload routererr.Payload
	if err := json.Unmarshal(respRaw, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Code != string(routererr.KindSeqRetry) {
		t.Fatalf("expected ESEQ_RETRY, got %+v", payload)
	}
}
