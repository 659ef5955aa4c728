// Copyright 2025 James Ross
// Package aimd implements the AIMD Controller (C3): a per-session
// congestion window using additive-increase/multiplicative-decrease. This
// follows the spec's resolved Open Question (§9): increments are per-ack by
// default (matching the distilled source) with an AckN escape hatch so a
// caller doing true per-RTT batching can fold many acks into one increment.
package aimd

import (
	"sync"
)

// State is one session's congestion window.
type State struct {
	mu       sync.Mutex
	current  int
	minCap   int
	maxCap   int
	aiStep   int
	mdFactor float64
	inFlight int
}

func newState(minCap, maxCap, aiStep int, mdFactor float64) *State {
	return &State{current: minCap, minCap: minCap, maxCap: maxCap, aiStep: aiStep, mdFactor: mdFactor}
}

// Current returns the current window size.
func (s *State) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// InFlight returns the number of admitted-but-unacked/unlost units.
func (s *State) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Admit grants n units of parallelism if in_flight+n ≤ current.
func (s *State) Admit(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight+n <= s.current {
		s.inFlight += n
		return true
	}
	return false
}

// Ack records n successful completions: in_flight decreases by n and the
// window grows additively by ai_step, capped at max_cap.
func (s *State) Ack(n int) {
	s.AckN(n)
}

// AckN is the per-RTT batching escape hatch: it applies a single additive
// step regardless of n, for callers that want to fold an entire round-trip's
// worth of acks into one increment instead of incrementing per message.
func (s *State) AckN(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight -= n
	if s.inFlight < 0 {
		s.inFlight = 0
	}
	s.current += s.aiStep
	if s.current > s.maxCap {
		s.current = s.maxCap
	}
}

// Loss records one lost unit: it releases that unit from in_flight, then
// applies multiplicative decrease: current ← max(min_cap,
// floor(current*md_factor)); if in_flight > current, in_flight is clipped to
// current. A concurrent Ack racing a Loss is serialized by the state's lock
// and Loss's effect wins observable precedence: this call always computes
// the decrease from the window value visible at the moment it acquires the
// lock, so a Loss that lands after a concurrent Ack has already bumped
// current still multiplies from the post-ack value and then clips in_flight
// to match, leaving no window state where in_flight could exceed current.
func (s *State) Loss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight > 0 {
		s.inFlight--
	}
	next := int(float64(s.current) * s.mdFactor)
	if next < s.minCap {
		next = s.minCap
	}
	s.current = next
	if s.inFlight > s.current {
		s.inFlight = s.current
	}
}

// SetMaxCap adjusts the ceiling this session's window may grow to; used by
// C6's global throttle to contract/expand the envelope.
func (s *State) SetMaxCap(maxCap int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxCap = maxCap
	if s.current > s.maxCap {
		s.current = s.maxCap
	}
}

// nudgeDeltaPct is the percentage-delta threshold a usage swing must cross
// before Nudge adjusts the window; below it Nudge is a no-op.
const nudgeDeltaPct = 0.20

// Nudge applies the supplemental usage-delta heuristic between full AIMD
// ack/loss cycles: if currUsage has grown more than 20% past prevUsage the
// window shrinks by 10%, and if it has shrunk by more than 20% the window
// grows by 10%, both clamped to [min_cap, max_cap]. This never substitutes
// for the canonical per-ack Ack/Loss transitions; it only trims the window
// between them when usage is trending hard in one direction.
func (s *State) Nudge(prevUsage, currUsage float64) {
	if prevUsage <= 0 {
		return
	}
	delta := (currUsage - prevUsage) / prevUsage

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case delta > nudgeDeltaPct:
		s.current = s.current - s.current/10
	case delta < -nudgeDeltaPct:
		s.current = s.current + s.current/10
	default:
		return
	}
	if s.current < s.minCap {
		s.current = s.minCap
	}
	if s.current > s.maxCap {
		s.current = s.maxCap
	}
}

// Controller owns per-session AIMD state, created on first use.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*State
	minCap   int
	maxCap   int
	aiStep   int
	mdFactor float64
}

// NewController configures global defaults applied to every new session.
func NewController(minCap, maxCap, aiStep int, mdFactor float64) *Controller {
	return &Controller{
		sessions: map[string]*State{},
		minCap:   minCap,
		maxCap:   maxCap,
		aiStep:   aiStep,
		mdFactor: mdFactor,
	}
}

// Get returns the session's window state, creating default state on first
// use (§4.3).
func (c *Controller) Get(session string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[session]
	if !ok {
		s = newState(c.minCap, c.maxCap, c.aiStep, c.mdFactor)
		c.sessions[session] = s
	}
	return s
}

// SetGlobalMaxCap updates max_cap for every currently-tracked session, used
// by the SLO auto-throttle (C6) to contract or restore the envelope.
func (c *Controller) SetGlobalMaxCap(maxCap int) {
	c.mu.Lock()
	sessions := make([]*State, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.maxCap = maxCap
	c.mu.Unlock()
	for _, s := range sessions {
		s.SetMaxCap(maxCap)
	}
}

// Nudge applies the supplemental usage-delta window heuristic (see
// State.Nudge) to one session, creating default state on first use.
func (c *Controller) Nudge(session string, prevUsage, currUsage float64) {
	c.Get(session).Nudge(prevUsage, currUsage)
}

// Evict removes a session's window state (called by C9's idle sweep).
func (c *Controller) Evict(session string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, session)
}

// Len reports the number of tracked sessions.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
