// Copyright 2025 James Ross
// Package session defines the session key (tenant + conversation) and the
// Registry that tracks last-activity/weight metadata used to drive the idle
// sweep (§4.9). Session in-flight/window state itself is owned by fairsched
// and aimd per §3's ownership note; this package only owns identity and
// activity bookkeeping, following the teacher's TenantID-as-validated-string
// pattern from multi-tenant-isolation rather than its quota/encryption model,
// which has no analog in this spec.
package session

import (
	"regexp"
	"strings"
)

const (
	maxKeyLength = 128
	minKeyLength = 1
)

var keySegmentRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// Key identifies a session: tenant plus conversation, joined by ':'.
type Key string

// NewKey joins a tenant and conversation id into a Key.
func NewKey(tenant, conversation string) Key {
	return Key(tenant + ":" + conversation)
}

// Validate checks the key's two segments are non-empty and safe to use as a
// metric label value and map key.
func (k Key) Validate() error {
	s := string(k)
	if len(s) < minKeyLength || len(s) > maxKeyLength {
		return ErrInvalidKeyLength
	}
	tenant, conv, ok := strings.Cut(s, ":")
	if !ok || tenant == "" || conv == "" {
		return ErrInvalidKeyFormat
	}
	if !keySegmentRegex.MatchString(tenant) || !keySegmentRegex.MatchString(conv) {
		return ErrInvalidKeyFormat
	}
	return nil
}

// Tenant returns the tenant segment of the key.
func (k Key) Tenant() string {
	tenant, _, _ := strings.Cut(string(k), ":")
	return tenant
}

// String returns the raw key string.
func (k Key) String() string { return string(k) }
