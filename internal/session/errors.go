// Copyright 2025 James Ross
package session

import "errors"

var (
	// ErrInvalidKeyLength is returned when a session key is empty or exceeds maxKeyLength.
	ErrInvalidKeyLength = errors.New("session: key length out of bounds")
	// ErrInvalidKeyFormat is returned when a session key is missing its tenant
	// or conversation segment, or either segment contains disallowed characters.
	ErrInvalidKeyFormat = errors.New("session: key must be \"tenant:conversation\" using [a-zA-Z0-9._-]")
)
