// Copyright 2025 James Ross
package adminapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flyingrobots/go-model-router/internal/fairsched"
	"github.com/flyingrobots/go-model-router/internal/rbac"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	fair := fairsched.New(5*time.Millisecond, 250, 500, 64)
	t.Cleanup(fair.Shutdown)
	log, err := NewAuditLogger(filepath.Join(t.TempDir(), "audit.log"), 1<<20, 3, 16)
	if err != nil {
		t.Fatalf("audit logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	keys := rbac.NewKeyStore(false)
	return NewHandler(fair, nil, keys, log, nil)
}

func TestSetWeightAndServed(t *testing.T) {
	h := newTestHandler(t)
	h.Fair.SetWeight("tenantA:c1", 2.0)

	req := httptest.NewRequest(http.MethodGet, "/admin/fair/served", nil)
	w := httptest.NewRecorder()
	h.Served(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tenantA:c1") {
		t.Fatalf("expected session in response, got %s", w.Body.String())
	}
}

func TestSetWeightRejectsBadInput(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/fair/weight?session=s&weight=notanumber", nil)
	w := httptest.NewRecorder()
	h.SetWeight(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAddAndRemoveKeyAudited(t *testing.T) {
	h := newTestHandler(t)

	body := strings.NewReader(`{"key":"secret1","roles":["read"]}`)
	req := httptest.NewRequest(http.MethodPost, "/admin/keys", body)
	w := httptest.NewRecorder()
	h.AddKey(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	entries := h.AuditLog.Recent(10)
	if len(entries) != 1 || entries[0].Action != "key.add" {
		t.Fatalf("expected key.add audit entry, got %+v", entries)
	}

	hash := rbac.HashKey("secret1")
	w2 := httptest.NewRecorder()
	h.RemoveKey(w2, httptest.NewRequest(http.MethodDelete, "/admin/keys/"+hash, nil), hash)
	if w2.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w2.Code)
	}

	entries = h.AuditLog.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries after remove, got %d", len(entries))
	}
}

func TestVersionAndStateHealth(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	h.VersionInfo(w, httptest.NewRequest(http.MethodGet, "/admin/version", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_version") {
		t.Fatalf("unexpected version response: %d %s", w.Code, w.Body.String())
	}

	h.Fair.Acquire(context.Background(), "t1:c1", 4, time.Now().Add(time.Second))
	w2 := httptest.NewRecorder()
	h.StateHealth(w2, httptest.NewRequest(http.MethodGet, "/admin/state_health", nil))
	if w2.Code != http.StatusOK || !strings.Contains(w2.Body.String(), "active_sessions") {
		t.Fatalf("unexpected state_health response: %d %s", w2.Code, w2.Body.String())
	}
}
