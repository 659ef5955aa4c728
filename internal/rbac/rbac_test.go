// Copyright 2025 James Ross
package rbac

import "testing"

func TestOpenWhenStoreEmptyAndNotStrict(t *testing.T) {
	s := NewKeyStore(false)
	ok, roles := s.Authorize("anything", RoleWrite)
	if !ok {
		t.Fatal("expected open access when no keys configured and not strict")
	}
	if !HasRole(roles, RoleWrite) {
		t.Fatalf("expected implicit write role, got %v", roles)
	}
}

func TestStrictRejectsUnknownKeyEvenWhenEmpty(t *testing.T) {
	s := NewKeyStore(true)
	ok, _ := s.Authorize("anything", RoleRead)
	if ok {
		t.Fatal("expected strict mode to reject when store is empty")
	}
}

func TestSeedAndAuthorize(t *testing.T) {
	s := NewKeyStore(true)
	s.Seed(map[string][]Role{HashKey("secret-write"): {RoleWrite}, HashKey("secret-read"): {RoleRead}})

	ok, _ := s.Authorize("secret-write", RoleWrite)
	if !ok {
		t.Fatal("expected write key to satisfy write role")
	}
	ok, _ = s.Authorize("secret-write", RoleRead)
	if !ok {
		t.Fatal("expected write to imply read")
	}
	ok, _ = s.Authorize("secret-read", RoleWrite)
	if ok {
		t.Fatal("expected read-only key to be denied write")
	}
	ok, _ = s.Authorize("bogus", RoleRead)
	if ok {
		t.Fatal("expected unknown key to be denied")
	}
}

func TestAddAndRemove(t *testing.T) {
	s := NewKeyStore(true)
	hash := HashKey("newkey")
	if !s.Add(hash, []Role{RoleRead}) {
		t.Fatal("expected Add to succeed for new hash")
	}
	if s.Add(hash, []Role{RoleRead}) {
		t.Fatal("expected Add to fail for duplicate hash")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 key, got %d", s.Len())
	}
	if !s.Remove(hash) {
		t.Fatal("expected Remove to succeed")
	}
	if s.Remove(hash) {
		t.Fatal("expected Remove to fail for missing hash")
	}
}
