// Copyright 2025 James Ross
package adminapi

import "time"

// Config configures the admin HTTP surface of §6.
type Config struct {
	ListenAddr       string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	RPS              float64
	RPSBurst         float64
	StrictMode       bool
	AuditPath        string
	AuditMaxBytes    int64
	AuditMaxBackups  int
	CORSAllowOrigins []string
}
