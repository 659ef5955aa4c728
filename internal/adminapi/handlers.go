// Copyright 2025 James Ross
package adminapi

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flyingrobots/go-model-router/internal/abuse"
	"github.com/flyingrobots/go-model-router/internal/fairsched"
	"github.com/flyingrobots/go-model-router/internal/rbac"
	"github.com/flyingrobots/go-model-router/internal/routererr"
)

// Version is set at build time via -ldflags; it defaults to "dev".
var Version = "dev"

// Handler implements the §6 admin endpoints, reading fair-scheduler state
// directly rather than through a duplicated admin-owned copy.
type Handler struct {
	Fair      *fairsched.Scheduler
	Breaker   *abuse.Breaker
	Keys      *rbac.KeyStore
	AuditLog  *AuditLogger
	adapters  []string // known adapter names, for state_health circuit reporting
}

// NewHandler wires a Handler from its dependencies.
func NewHandler(fair *fairsched.Scheduler, breaker *abuse.Breaker, keys *rbac.KeyStore, auditLog *AuditLogger, adapters []string) *Handler {
	return &Handler{Fair: fair, Breaker: breaker, Keys: keys, AuditLog: auditLog, adapters: adapters}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// SetWeight handles POST /admin/fair/weight?session=S&weight=W (role: write).
func (h *Handler) SetWeight(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	weightStr := r.URL.Query().Get("weight")
	if session == "" || weightStr == "" {
		routererr.WriteHTTP(w, routererr.ErrBadInput)
		return
	}
	weight, err := strconv.ParseFloat(weightStr, 64)
	if err != nil || weight <= 0 {
		routererr.WriteHTTP(w, routererr.ErrBadInput)
		return
	}
	h.Fair.SetWeight(session, weight)
	w.WriteHeader(http.StatusNoContent)
}

// Served handles GET /admin/fair/served?limit=N (role: read).
func (h *Handler) Served(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	rows := h.Fair.SnapshotServed(limit)
	resp := ServedResponse{Served: make([]ServedRow, 0, len(rows))}
	for _, row := range rows {
		resp.Served = append(resp.Served, ServedRow{
			Session:         row.Session,
			Served:          row.ServedCount,
			Weight:          row.Weight,
			ServedPerWeight: row.ServedPerWeight,
		})
	}
	writeJSON(w, resp)
}

// VersionInfo handles GET /admin/version.
func (h *Handler) VersionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, VersionResponse{Version: Version, GoVersion: runtime.Version()})
}

// StateHealth handles GET /admin/state_health.
func (h *Handler) StateHealth(w http.ResponseWriter, r *http.Request) {
	weights := h.Fair.SnapshotWeights()
	weighted := 0
	for _, wt := range weights {
		if wt != 1.0 {
			weighted++
		}
	}
	resp := StateHealthResponse{
		ActiveSessions:   h.Fair.ActiveSessionCount(),
		WeightedSessions: weighted,
	}
	if h.Breaker != nil && len(h.adapters) > 0 {
		resp.CircuitStates = make(map[string]string, len(h.adapters))
		for _, a := range h.adapters {
			resp.CircuitStates[a] = h.Breaker.State(a).String()
		}
	}
	writeJSON(w, resp)
}

// Audit handles GET /admin/audit.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	if h.AuditLog == nil {
		writeJSON(w, []AuditEntry{})
		return
	}
	writeJSON(w, h.AuditLog.Recent(limit))
}

// AddKey handles POST /admin/keys {roles:[]}.
func (h *Handler) AddKey(w http.ResponseWriter, r *http.Request) {
	var req AddKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Key == "" || len(req.Roles) == 0 {
		routererr.WriteHTTP(w, routererr.ErrBadInput)
		return
	}
	roles := make([]rbac.Role, 0, len(req.Roles))
	for _, r := range req.Roles {
		roles = append(roles, rbac.Role(r))
	}
	hash := rbac.HashKey(req.Key)
	if !h.Keys.Add(hash, roles) {
		routererr.WriteHTTP(w, routererr.New(routererr.KindPolicy, http.StatusConflict, "key already exists"))
		return
	}
	h.logKeyEvent("key.add", hash)
	w.WriteHeader(http.StatusCreated)
}

// RemoveKey handles DELETE /admin/keys/{hash}.
func (h *Handler) RemoveKey(w http.ResponseWriter, r *http.Request, hash string) {
	if !h.Keys.Remove(hash) {
		routererr.WriteHTTP(w, routererr.New(routererr.KindBadInput, http.StatusNotFound, "key not found"))
		return
	}
	h.logKeyEvent("key.remove", hash)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) logKeyEvent(action, hash string) {
	if h.AuditLog == nil {
		return
	}
	_ = h.AuditLog.Log(AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Result:    "SUCCESS",
		Detail:    map[string]string{"key_hash": hash},
	})
}
