// Copyright 2025 James Ross
package session

import (
	"testing"
	"time"
)

func TestKeyValidate(t *testing.T) {
	cases := []struct {
		key Key
		ok  bool
	}{
		{NewKey("tenant-a", "conv-1"), true},
		{Key("missing-colon"), false},
		{Key(":conv-1"), false},
		{Key("tenant-a:"), false},
		{Key("tenant a:conv-1"), false},
	}
	for _, c := range cases {
		err := c.key.Validate()
		if (err == nil) != c.ok {
			t.Errorf("Validate(%q) error=%v, want ok=%v", c.key, err, c.ok)
		}
	}
}

func TestRegistryTouchCreatesDefaultWeight(t *testing.T) {
	r := NewRegistry()
	key := NewKey("tenantA", "c1")
	now := time.Now()
	r.Touch(key, now)

	if w := r.Weight(key); w != 1.0 {
		t.Fatalf("expected default weight 1.0, got %v", w)
	}
	if !r.LastActivity(key).Equal(now) {
		t.Fatalf("expected last activity to match touch time")
	}
}

func TestRegistrySetWeightRejectsNonPositive(t *testing.T) {
	r := NewRegistry()
	key := NewKey("tenantA", "c1")
	r.Touch(key, time.Now())
	r.SetWeight(key, 0)
	r.SetWeight(key, -1)
	if w := r.Weight(key); w != 1.0 {
		t.Fatalf("expected weight unchanged at 1.0, got %v", w)
	}
	r.SetWeight(key, 3.5)
	if w := r.Weight(key); w != 3.5 {
		t.Fatalf("expected weight 3.5, got %v", w)
	}
}

func TestRegistrySweepRequiresIdleAndZeroInFlight(t *testing.T) {
	r := NewRegistry()
	stale := NewKey("tenantA", "stale")
	busy := NewKey("tenantA", "busy")
	fresh := NewKey("tenantA", "fresh")

	base := time.Now()
	r.Touch(stale, base.Add(-time.Hour))
	r.Touch(busy, base.Add(-time.Hour))
	r.Touch(fresh, base)

	inFlight := map[Key]int{busy: 2}
	idle := r.Sweep(base, 15*time.Minute, func(k Key) int { return inFlight[k] })

	if len(idle) != 1 || idle[0] != stale {
		t.Fatalf("expected only %q idle, got %v", stale, idle)
	}
}

func TestRegistrySnapshotAndRestoreRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Touch(NewKey("a", "1"), time.Now())
	r.SetWeight(NewKey("a", "1"), 2.0)

	snap := r.Snapshot()

	r2 := NewRegistry()
	r2.Restore(snap, time.Now())
	if w := r2.Weight(NewKey("a", "1")); w != 2.0 {
		t.Fatalf("expected restored weight 2.0, got %v", w)
	}
}

func TestRegistryForget(t *testing.T) {
	r := NewRegistry()
	key := NewKey("a", "1")
	r.Touch(key, time.Now())
	r.Forget(key)
	if r.Len() != 0 {
		t.Fatalf("expected registry empty after forget, got len=%d", r.Len())
	}
	if w := r.Weight(key); w != 1.0 {
		t.Fatalf("expected default weight for forgotten key, got %v", w)
	}
}
