// Package models defines the core domain entities: instruments, option-chain
// snapshots, signal keys, and alert records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Side identifies the call or put leg of a strike.
type Side string

const (
	SideCall Side = "CE"
	SidePut  Side = "PE"
)

// InstrumentSpec is the static configuration for one tracked index.
// Immutable for the process lifetime.
type InstrumentSpec struct {
	ID      int    `mapstructure:"id"`
	Name    string `mapstructure:"name"`
	Segment string `mapstructure:"segment"`
}

// DefaultInstruments returns the indices tracked in the default deployment.
func DefaultInstruments() []InstrumentSpec {
	return []InstrumentSpec{
		{ID: 13, Name: "NIFTY", Segment: "IDX_I"},
		{ID: 25, Name: "BANKNIFTY", Segment: "IDX_I"},
	}
}

// SideQuote holds the traded figures for one side of a strike.
type SideQuote struct {
	Volume       int64
	OpenInterest int64
	LastPrice    float64
}

// StrikeEntry pairs the call and put quotes at one strike price.
type StrikeEntry struct {
	Call SideQuote
	Put  SideQuote
}

// OptionChainSnapshot is one normalized fetch of an instrument's option chain.
// Strike keys are the upstream's string form (e.g. "20000.000000") and are
// unique within a snapshot; no ordering is guaranteed.
type OptionChainSnapshot struct {
	Instrument string
	Expiry     string
	Strikes    map[string]StrikeEntry
}

// SignalKey is the identity under which momentum and dedup state are tracked.
type SignalKey struct {
	Instrument string
	Strike     string
	Side       Side
}

func (k SignalKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Instrument, k.Strike, k.Side)
}

// MomentumState carries the previous cycle's observation for one SignalKey.
// Updated every cycle whether or not a signal fired, so deltas are always
// cycle-over-cycle.
type MomentumState struct {
	PrevVolume       int64
	PrevOpenInterest int64
}

// AlertRecord is one detected institutional signal, as stored in the ledger.
type AlertRecord struct {
	ID              string
	Key             SignalKey
	Volume          int64
	OpenInterest    int64
	Price           float64
	FirstDetectedAt time.Time
}

// Validate checks alert record field constraints.
func (r *AlertRecord) Validate() error {
	if r.Key.Instrument == "" {
		return errors.New("alert instrument must not be empty")
	}
	if r.Key.Strike == "" {
		return errors.New("alert strike must not be empty")
	}
	if r.Key.Side != SideCall && r.Key.Side != SidePut {
		return fmt.Errorf("alert side must be %s or %s", SideCall, SidePut)
	}
	if r.Volume < 0 {
		return errors.New("alert volume must not be negative")
	}
	if r.OpenInterest < 0 {
		return errors.New("alert open interest must not be negative")
	}
	if r.Price < 0 {
		return errors.New("alert price must not be negative")
	}
	return nil
}
