// Package detector evaluates option-chain snapshots against the signal rules.
package detector

import (
	"github.com/blockzenith/scanner/internal/models"
)

// Mode selects how strict a qualification must be.
type Mode string

const (
	// ModeLevel fires on absolute volume/OI levels alone.
	ModeLevel Mode = "level"
	// ModeMomentum additionally requires a same-cycle jump, filtering for
	// fresh entries rather than positions already on the board.
	ModeMomentum Mode = "momentum"
)

// Config holds the rule thresholds.
type Config struct {
	Mode                Mode
	VolumeThreshold     int64
	OIThreshold         int64
	VolumeJumpThreshold int64
	OIJumpThreshold     int64
}

// DefaultConfig returns the thresholds of the default deployment.
func DefaultConfig() Config {
	return Config{
		Mode:                ModeLevel,
		VolumeThreshold:     150000,
		OIThreshold:         75000,
		VolumeJumpThreshold: 20000,
		OIJumpThreshold:     10000,
	}
}

// Candidate is a strike/side that qualified under the configured rules.
type Candidate struct {
	Key          models.SignalKey
	Volume       int64
	OpenInterest int64
	Price        float64
}

// Detector applies the signal rules and tracks per-key momentum state.
// It is owned by the single scan goroutine and needs no synchronization.
type Detector struct {
	config Config
	states map[models.SignalKey]models.MomentumState
}

// New creates a detector with empty momentum state.
func New(config Config) *Detector {
	return &Detector{
		config: config,
		states: make(map[models.SignalKey]models.MomentumState),
	}
}

// Evaluate scans every strike/side of the snapshot and returns the qualifying
// candidates. Momentum state for every observed key is updated to the current
// values whether or not it qualified, so the next cycle's delta is always
// against the immediately preceding cycle.
func (d *Detector) Evaluate(snapshot *models.OptionChainSnapshot) []Candidate {
	var candidates []Candidate
	for strike, entry := range snapshot.Strikes {
		sides := []struct {
			side  models.Side
			quote models.SideQuote
		}{
			{models.SideCall, entry.Call},
			{models.SidePut, entry.Put},
		}
		for _, s := range sides {
			key := models.SignalKey{Instrument: snapshot.Instrument, Strike: strike, Side: s.side}
			if d.evaluateSide(key, s.quote) {
				candidates = append(candidates, Candidate{
					Key:          key,
					Volume:       s.quote.Volume,
					OpenInterest: s.quote.OpenInterest,
					Price:        s.quote.LastPrice,
				})
			}
		}
	}
	return candidates
}

func (d *Detector) evaluateSide(key models.SignalKey, q models.SideQuote) bool {
	// Missing prior state is a zero baseline: the first observation of a key
	// shows the full values as its delta but may still qualify on level.
	prev := d.states[key]
	volumeDelta := q.Volume - prev.PrevVolume
	oiDelta := q.OpenInterest - prev.PrevOpenInterest

	d.states[key] = models.MomentumState{
		PrevVolume:       q.Volume,
		PrevOpenInterest: q.OpenInterest,
	}

	levelQualifies := q.Volume > d.config.VolumeThreshold || q.OpenInterest > d.config.OIThreshold
	if !levelQualifies {
		return false
	}
	if d.config.Mode == ModeMomentum {
		return volumeDelta > d.config.VolumeJumpThreshold || oiDelta > d.config.OIJumpThreshold
	}
	return true
}

// State returns the momentum state last recorded for key.
func (d *Detector) State(key models.SignalKey) (models.MomentumState, bool) {
	s, ok := d.states[key]
	return s, ok
}
