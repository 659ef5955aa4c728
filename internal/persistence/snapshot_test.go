// Copyright 2025 James Ross
package persistence

import (
	"context"
	"path/filepath"
	"testing"
)

func TestJSONFileStoreMissingFileStartsClean(t *testing.T) {
	s := NewJSONFileStore(filepath.Join(t.TempDir(), "nope", "snapshot.json"))
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot for missing file, got %+v", snap)
	}
}

func TestJSONFileStoreRoundTrip(t *testing.T) {
	s := NewJSONFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	want := &Snapshot{
		Registry:         map[string]int{"tenantA": 3, "tenantB": 1},
		Promotion:        42,
		Demotion:         7,
		RateLimitDropped: 11,
		LatBuckets:       map[string]int64{"p50": 120, "p95": 480},
		FairWeights:      map[string]float64{"tenantA": 2, "tenantB": 1},
	}

	if err := s.Save(context.Background(), want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil snapshot")
	}
	if got.Promotion != want.Promotion || got.Demotion != want.Demotion || got.RateLimitDropped != want.RateLimitDropped {
		t.Fatalf("counters did not round-trip: got %+v", got)
	}
	for k, v := range want.FairWeights {
		if got.FairWeights[k] != v {
			t.Fatalf("fair_weights[%s] = %v, want %v", k, got.FairWeights[k], v)
		}
	}
	for k, v := range want.Registry {
		if got.Registry[k] != v {
			t.Fatalf("registry[%s] = %v, want %v", k, got.Registry[k], v)
		}
	}
	for k, v := range want.LatBuckets {
		if got.LatBuckets[k] != v {
			t.Fatalf("lat_buckets[%s] = %v, want %v", k, got.LatBuckets[k], v)
		}
	}
}

func TestJSONFileStoreOverwriteIsAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	s := NewJSONFileStore(path)

	first := &Snapshot{FairWeights: map[string]float64{"a": 1}}
	second := &Snapshot{FairWeights: map[string]float64{"a": 2, "b": 3}}

	if err := s.Save(context.Background(), first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.Save(context.Background(), second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.FairWeights["a"] != 2 || got.FairWeights["b"] != 3 {
		t.Fatalf("expected second snapshot to win, got %+v", got.FairWeights)
	}
}
