// Copyright 2025 James Ross
// Package persistence implements C9: periodic snapshot of counters/weights,
// startup restore, and the idle-session sweep. Two backends implement the
// same Store interface — a JSON file (default) and an optional Redis-backed
// store — following the teacher's redisclient-as-an-injected-dependency
// pattern rather than baking a single backend into the snapshot logic.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Snapshot is the persisted document of §6: "a single JSON document at a
// configured path with fields: registry, promotion, demotion,
// rate_limit_dropped, lat_buckets, fair_weights".
type Snapshot struct {
	Registry          map[string]int     `json:"registry"`
	Promotion         int64              `json:"promotion"`
	Demotion          int64              `json:"demotion"`
	RateLimitDropped  int64              `json:"rate_limit_dropped"`
	LatBuckets        map[string]int64   `json:"lat_buckets"`
	FairWeights       map[string]float64 `json:"fair_weights"`
}

// Store persists and loads a Snapshot.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// JSONFileStore is the default backend: a single JSON document at a
// configured filesystem path.
type JSONFileStore struct {
	Path string
}

// NewJSONFileStore returns a file-backed Store at path.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{Path: path}
}

// Load reads the snapshot from disk; a missing file is not an error — the
// caller starts clean (§4.9).
func (s *JSONFileStore) Load(ctx context.Context) (*Snapshot, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("persistence: read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("persistence: snapshot corrupt: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot atomically via a temp-file rename, so a crash
// mid-write never corrupts the previous good snapshot.
func (s *JSONFileStore) Save(ctx context.Context, snap *Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("persistence: marshal snapshot: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persistence: mkdir: %w", err)
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("persistence: write temp snapshot: %w", err)
	}
	return os.Rename(tmp, s.Path)
}
