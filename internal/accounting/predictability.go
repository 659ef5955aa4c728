// Copyright 2025 James Ross
package accounting

import "sync"

// PredictabilityPoint is the §3 data model.
type PredictabilityPoint struct {
	Adapter    string
	PredTokens int64
	ObsTokens  int64
	PredUSD    int64
	ObsUSD     int64
}

func mape(pred, obs float64) float64 {
	if pred <= 0 {
		if obs == 0 {
			return 0
		}
		return 1
	}
	return absf(obs-pred) / pred
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// mapeObserver receives each computed MAPE sample; wired to a histogram at
// construction (e.g. adapter_estimate_mape_tokens / _usd).
type mapeObserver func(value float64)

// Predictability records MAPE for tokens and USD and increments an
// under-estimation counter when observed exceeds predicted (§4.8).
type Predictability struct {
	mu               sync.Mutex
	underTokensTotal int64
	underUSDTotal    int64
	onTokenMAPE      mapeObserver
	onUSDMAPE        mapeObserver
}

// NewPredictability optionally wires histogram callbacks for each MAPE
// dimension; either may be nil.
func NewPredictability(onTokenMAPE, onUSDMAPE func(float64)) *Predictability {
	return &Predictability{onTokenMAPE: onTokenMAPE, onUSDMAPE: onUSDMAPE}
}

// Record computes MAPE for both dimensions of p and updates counters.
func (pr *Predictability) Record(p PredictabilityPoint) {
	mt := mape(float64(p.PredTokens), float64(p.ObsTokens))
	mu := mape(float64(p.PredUSD), float64(p.ObsUSD))

	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.onTokenMAPE != nil {
		pr.onTokenMAPE(mt)
	}
	if pr.onUSDMAPE != nil {
		pr.onUSDMAPE(mu)
	}
	if p.ObsTokens > p.PredTokens {
		pr.underTokensTotal++
	}
	if p.ObsUSD > p.PredUSD {
		pr.underUSDTotal++
	}
}

// UnderEstimateCounts returns the accumulated under-estimation counts.
func (pr *Predictability) UnderEstimateCounts() (tokens, usd int64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.underTokensTotal, pr.underUSDTotal
}
