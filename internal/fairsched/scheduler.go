// Copyright 2025 James Ross
// Package fairsched implements the Fair Scheduler (C4), the central
// algorithm of the router: deficit-weighted-fair admission across sessions
// with anti-starvation boost and wait-time telemetry (§4.4). The waiter
// wake-up pattern (a per-waiter done channel, FIFO per session, a
// background stepping loop) follows the weighted-fair-queue scheduler in
// the retrieved example pack; the admission algorithm itself — served/weight
// ratio selection, starvation boost, deficit accounting — is this spec's own
// and has no teacher analogue, so it is built directly from §4.4.
package fairsched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// waiter is one pending acquire() call.
type waiter struct {
	session   string
	enqueued  time.Time
	done      chan bool // true: granted, false: cancelled/terminal
	cancelled bool
}

// sessionState is the scheduler's own bookkeeping for one session; separate
// from aimd.State, which owns the window value itself (§3 ownership note:
// "the Fair Scheduler owns Session state and its queue").
type sessionState struct {
	weight      float64
	servedCount int64
	inFlight    int
	window      int
	queue       []*waiter
}

func (s *sessionState) ratio() float64 {
	if s.weight <= 0 {
		return float64(s.servedCount)
	}
	return float64(s.servedCount) / s.weight
}

// Scheduler is the Fair Scheduler (C4).
type Scheduler struct {
	mu       sync.Mutex
	sessions map[string]*sessionState

	starveMS      int64
	starveBoostMS int64
	queueCap      int

	waitHist *waitHistogram

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// waitHistogram records fair_sched_wait_ms observations; kept local to avoid
// a hard dependency on a specific metrics backend from the algorithm core.
type waitHistogram struct {
	mu     sync.Mutex
	record func(ms float64)
}

func (h *waitHistogram) observe(ms float64) {
	if h == nil || h.record == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(ms)
}

// New creates a Scheduler. tickInterval is the periodic scheduling step
// cadence (default 10ms per §4.4 step 3); starveMS/starveBoostMS/queueCap
// follow the same section's defaults (250ms/500ms/64).
func New(tickInterval time.Duration, starveMS, starveBoostMS, queueCap int) *Scheduler {
	s := &Scheduler{
		sessions:      map[string]*sessionState{},
		starveMS:      int64(starveMS),
		starveBoostMS: int64(starveBoostMS),
		queueCap:      queueCap,
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.tickLoop(tickInterval)
	return s
}

// OnWaitObserved registers a callback invoked with each wait duration in
// milliseconds, wired to the fair_sched_wait_ms histogram at construction.
func (s *Scheduler) OnWaitObserved(fn func(ms float64)) {
	s.waitHist = &waitHistogram{record: fn}
}

func (s *Scheduler) session(name string) *sessionState {
	st, ok := s.sessions[name]
	if !ok {
		st = &sessionState{weight: 1.0}
		s.sessions[name] = st
	}
	return st
}

// SetWeight sets a session's scheduling weight; w must be > 0, default 1.0.
func (s *Scheduler) SetWeight(session string, w float64) {
	if w <= 0 {
		w = 1.0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(session).weight = w
}

// SnapshotWeights returns every tracked weight (including the default 1.0),
// keyed by session.
func (s *Scheduler) SnapshotWeights() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.sessions))
	for name, st := range s.sessions {
		out[name] = st.weight
	}
	return out
}

// Served is a row of the admin `served` report, ordered by served desc.
type Served struct {
	Session       string
	ServedCount   int64
	Weight        float64
	ServedPerWeight float64
}

// SnapshotServed returns per-session served counts ordered by served desc,
// truncated to limit (0 means unlimited).
func (s *Scheduler) SnapshotServed(limit int) []Served {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Served, 0, len(s.sessions))
	for name, st := range s.sessions {
		spw := 0.0
		if st.weight > 0 {
			spw = float64(st.servedCount) / st.weight
		}
		out = append(out, Served{Session: name, ServedCount: st.servedCount, Weight: st.weight, ServedPerWeight: spw})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServedCount > out[j].ServedCount })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Acquire attempts to obtain a ticket for session within window slots,
// returning true if granted before deadline. On timeout it returns false
// without altering served counts (§4.4).
func (s *Scheduler) Acquire(ctx context.Context, session string, window int, deadline time.Time) bool {
	s.mu.Lock()
	st := s.session(session)
	st.window = window

	// Fast path: slot available and no other session has been starved
	// longer than starveMS.
	if st.inFlight < window && !s.anyoneStarvedLongerThan(s.starveMS) {
		st.inFlight++
		st.servedCount++
		s.mu.Unlock()
		return true
	}

	if len(st.queue) >= s.queueCap {
		s.mu.Unlock()
		return false
	}

	w := &waiter{session: session, enqueued: time.Now(), done: make(chan bool, 1)}
	st.queue = append(st.queue, w)
	s.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case granted := <-w.done:
		return granted
	case <-ctx.Done():
		s.cancelWaiter(session, w)
		return false
	case <-timer.C:
		s.cancelWaiter(session, w)
		return false
	}
}

func (s *Scheduler) cancelWaiter(session string, w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[session]
	if !ok {
		return
	}
	for i, q := range st.queue {
		if q == w {
			st.queue = append(st.queue[:i], st.queue[i+1:]...)
			w.cancelled = true
			return
		}
	}
	// Already dequeued: either Shutdown sent a terminal false, or the
	// scheduling step granted it after the deadline fired. A late grant is
	// handed back so the slot and served count are not consumed; the next
	// scheduling step passes the slot to the next eligible waiter.
	select {
	case granted := <-w.done:
		if granted {
			st.inFlight--
			st.servedCount--
		}
	default:
	}
}

// anyoneStarvedLongerThan must be called with s.mu held.
func (s *Scheduler) anyoneStarvedLongerThan(ms int64) bool {
	now := time.Now()
	for _, st := range s.sessions {
		if len(st.queue) == 0 {
			continue
		}
		age := now.Sub(st.queue[0].enqueued).Milliseconds()
		if age > ms {
			return true
		}
	}
	return false
}

// Release returns one ticket to session and runs a scheduling step.
func (s *Scheduler) Release(session string) {
	s.mu.Lock()
	st, ok := s.sessions[session]
	if ok && st.inFlight > 0 {
		st.inFlight--
	}
	s.mu.Unlock()
	s.step()
}

func (s *Scheduler) tickLoop(interval time.Duration) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.step()
		case <-s.stopCh:
			return
		}
	}
}

// Step forces an immediate scheduling pass. Exported so the admission
// pipeline can trigger a pass right after a window change (e.g. an AIMD ack
// growing the window) rather than waiting for the next tick.
func (s *Scheduler) Step() {
	s.step()
}

// step implements §4.4 step 3: compute eligible sessions' ratio, pick the
// smallest (tie-break earliest head-of-queue), honor the starvation-boost
// preemption, and dequeue+wake one waiter. A session is only eligible while
// in_flight < window, using the window last supplied to Acquire for that
// session, which preserves the in_flight ≤ window invariant even when the
// step runs off the periodic tick rather than a fresh Acquire call.
func (s *Scheduler) step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// Starvation boost: any waiting session whose head waited longer than
	// starveBoostMS preempts ratio-based selection.
	var boosted string
	var boostedAge int64 = -1
	for name, st := range s.sessions {
		if len(st.queue) == 0 || st.inFlight >= st.window {
			continue
		}
		age := now.Sub(st.queue[0].enqueued).Milliseconds()
		if age > s.starveBoostMS && age > boostedAge {
			boosted = name
			boostedAge = age
		}
	}

	var chosen string
	if boosted != "" {
		chosen = boosted
	} else {
		bestRatio := -1.0
		var bestEnqueue time.Time
		for name, st := range s.sessions {
			if len(st.queue) == 0 || st.inFlight >= st.window {
				continue
			}
			r := st.ratio()
			hoq := st.queue[0].enqueued
			if chosen == "" || r < bestRatio || (r == bestRatio && hoq.Before(bestEnqueue)) {
				chosen = name
				bestRatio = r
				bestEnqueue = hoq
			}
		}
	}

	if chosen == "" {
		return
	}
	st := s.sessions[chosen]
	for len(st.queue) > 0 {
		w := st.queue[0]
		st.queue = st.queue[1:]
		if w.cancelled {
			// Its slot was not consumed; roll the grant to the next waiter.
			continue
		}
		st.inFlight++
		st.servedCount++
		waitMS := float64(time.Since(w.enqueued).Milliseconds())
		w.done <- true
		s.waitHist.observe(waitMS)
		return
	}
}

// ActiveSessionCount returns the number of sessions the scheduler currently
// tracks (fair_sched_weighted_sessions counts the subset with non-default
// weight; callers can filter SnapshotWeights for that).
func (s *Scheduler) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// InFlight returns a session's current in-flight count, the read the C9
// idle sweep uses to satisfy "sessions with in_flight==0" before evicting.
func (s *Scheduler) InFlight(session string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[session]
	if !ok {
		return 0
	}
	return st.inFlight
}

// Evict drops a session's bookkeeping entirely (C9 idle sweep); it is the
// caller's responsibility to ensure in_flight==0 first.
func (s *Scheduler) Evict(session string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

// Shutdown stops the periodic tick loop and wakes every pending waiter with
// a terminal failure (§4.9: "pending waiters in the scheduler are woken
// with a terminal failure").
func (s *Scheduler) Shutdown() {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.sessions {
		for _, w := range st.queue {
			select {
			case w.done <- false:
			default:
			}
		}
		st.queue = nil
	}
}
