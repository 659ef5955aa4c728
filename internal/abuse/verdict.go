// Copyright 2025 James Ross
package abuse

import "time"

// ThreatLevel is the severity surfaced in telemetry for a blocked request.
type ThreatLevel string

const (
	Low      ThreatLevel = "LOW"
	Medium   ThreatLevel = "MEDIUM"
	High     ThreatLevel = "HIGH"
	Critical ThreatLevel = "CRITICAL"
)

// BlockReason is an enumerated internal reason; it is surfaced in telemetry
// but never in the client-facing error payload (§4.7: "opaque 4xx/5xx").
type BlockReason string

const (
	ReasonNone    BlockReason = ""
	ReasonLoop    BlockReason = "loop"
	ReasonAnomaly BlockReason = "anomaly"
	ReasonCircuit BlockReason = "circuit"
	ReasonReplay  BlockReason = "replay"
)

// Verdict is the combined result of the four sub-mechanisms.
type Verdict struct {
	Blocked bool
	Reason  BlockReason
	Level   ThreatLevel
}

// Prevention composes the Loop detector, Anomaly detector, Breaker, and
// AntiReplay into the single verdict consumed by the admission pipeline's
// pre-check step (§4.5 step 2).
type Prevention struct {
	Loop    *LoopDetector
	Anomaly *AnomalyDetector
	Breaker *Breaker
	Replay  *AntiReplay
}

// NewPrevention wires the four sub-mechanisms from config-derived parameters.
func NewPrevention(loop *LoopDetector, anomaly *AnomalyDetector, breaker *Breaker, replay *AntiReplay) *Prevention {
	return &Prevention{Loop: loop, Anomaly: anomaly, Breaker: breaker, Replay: replay}
}

// CheckLoopAndAnomaly runs the two request-shape checks; the circuit
// breaker is checked separately per-downstream once an adapter is chosen,
// and anti-replay only applies to frames that carry a nonce.
func (p *Prevention) CheckLoopAndAnomaly(tenant, signature string, now time.Time) Verdict {
	if p.Loop != nil && p.Loop.Check(tenant, signature, now) {
		return Verdict{Blocked: true, Reason: ReasonLoop, Level: High}
	}
	if p.Anomaly != nil {
		p.Anomaly.RecordRequest(tenant, now)
		if p.Anomaly.Blocked(tenant) {
			return Verdict{Blocked: true, Reason: ReasonAnomaly, Level: High}
		}
	}
	return Verdict{}
}

// CheckReplay validates a (nonce, ts, session) triple when present.
func (p *Prevention) CheckReplay(nonce string, ts int64, session string, now time.Time) Verdict {
	if p.Replay == nil || nonce == "" {
		return Verdict{}
	}
	if !p.Replay.Check(nonce, ts, session, now) {
		return Verdict{Blocked: true, Reason: ReasonReplay, Level: Medium}
	}
	return Verdict{}
}

// CheckCircuit validates the downstream adapter's breaker state.
func (p *Prevention) CheckCircuit(adapter string) Verdict {
	if p.Breaker == nil {
		return Verdict{}
	}
	if !p.Breaker.Allow(adapter) {
		return Verdict{Blocked: true, Reason: ReasonCircuit, Level: Critical}
	}
	return Verdict{}
}

// TickAnomaly runs the periodic anomaly tick for tenant and returns a
// verdict if a sustained spike was flagged.
func (p *Prevention) TickAnomaly(tenant string) Verdict {
	if p.Anomaly == nil {
		return Verdict{}
	}
	if p.Anomaly.Tick(tenant) {
		return Verdict{Blocked: true, Reason: ReasonAnomaly, Level: High}
	}
	return Verdict{}
}
