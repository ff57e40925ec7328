package detector

import (
	"testing"

	"github.com/blockzenith/scanner/internal/models"
)

func snapshot(strike string, call, put models.SideQuote) *models.OptionChainSnapshot {
	return &models.OptionChainSnapshot{
		Instrument: "NIFTY",
		Expiry:     "2026-09-02",
		Strikes: map[string]models.StrikeEntry{
			strike: {Call: call, Put: put},
		},
	}
}

func TestEvaluate_LevelRule(t *testing.T) {
	tests := []struct {
		name      string
		call      models.SideQuote
		put       models.SideQuote
		wantSides []models.Side
	}{
		{
			name:      "below both thresholds never fires",
			call:      models.SideQuote{Volume: 150000, OpenInterest: 75000},
			put:       models.SideQuote{Volume: 149999, OpenInterest: 74999},
			wantSides: nil,
		},
		{
			name:      "call volume above threshold",
			call:      models.SideQuote{Volume: 160000, OpenInterest: 1000, LastPrice: 120.5},
			wantSides: []models.Side{models.SideCall},
		},
		{
			name:      "put oi above threshold",
			put:       models.SideQuote{Volume: 100, OpenInterest: 80000},
			wantSides: []models.Side{models.SidePut},
		},
		{
			name:      "both sides qualify independently",
			call:      models.SideQuote{Volume: 200000},
			put:       models.SideQuote{OpenInterest: 90000},
			wantSides: []models.Side{models.SideCall, models.SidePut},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(DefaultConfig())
			got := d.Evaluate(snapshot("20000.000000", tt.call, tt.put))

			sides := make(map[models.Side]bool)
			for _, c := range got {
				sides[c.Key.Side] = true
			}
			if len(got) != len(tt.wantSides) {
				t.Fatalf("got %d candidates, want %d (%v)", len(got), len(tt.wantSides), got)
			}
			for _, s := range tt.wantSides {
				if !sides[s] {
					t.Errorf("expected a candidate on side %s", s)
				}
			}
		})
	}
}

func TestEvaluate_CandidateCarriesObservedValues(t *testing.T) {
	d := New(DefaultConfig())
	got := d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 160000, OpenInterest: 80000, LastPrice: 120.5},
		models.SideQuote{}))

	if len(got) != 1 {
		t.Fatalf("got %d candidates, want 1", len(got))
	}
	c := got[0]
	if c.Key.Instrument != "NIFTY" || c.Key.Strike != "20000.000000" || c.Key.Side != models.SideCall {
		t.Errorf("unexpected key: %+v", c.Key)
	}
	if c.Volume != 160000 || c.OpenInterest != 80000 || c.Price != 120.5 {
		t.Errorf("unexpected values: %+v", c)
	}
}

func TestEvaluate_MomentumStateAlwaysUpdated(t *testing.T) {
	d := New(DefaultConfig())

	// Neither side qualifies, state must still track the observation.
	d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 1000, OpenInterest: 500},
		models.SideQuote{Volume: 2000, OpenInterest: 700}))

	callKey := models.SignalKey{Instrument: "NIFTY", Strike: "20000.000000", Side: models.SideCall}
	putKey := models.SignalKey{Instrument: "NIFTY", Strike: "20000.000000", Side: models.SidePut}

	if s, ok := d.State(callKey); !ok || s.PrevVolume != 1000 || s.PrevOpenInterest != 500 {
		t.Errorf("call state = %+v (ok=%v), want {1000 500}", s, ok)
	}
	if s, ok := d.State(putKey); !ok || s.PrevVolume != 2000 || s.PrevOpenInterest != 700 {
		t.Errorf("put state = %+v (ok=%v), want {2000 700}", s, ok)
	}

	// A qualifying cycle updates state the same way.
	d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 200000, OpenInterest: 90000},
		models.SideQuote{Volume: 2000, OpenInterest: 700}))

	if s, _ := d.State(callKey); s.PrevVolume != 200000 || s.PrevOpenInterest != 90000 {
		t.Errorf("call state after qualifying cycle = %+v, want {200000 90000}", s)
	}
}

func TestEvaluate_MomentumMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeMomentum
	d := New(cfg)

	// First observation: zero baseline, so the full volume counts as the
	// jump and the candidate qualifies.
	got := d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 160000, OpenInterest: 80000}, models.SideQuote{}))
	if len(got) != 1 {
		t.Fatalf("first observation: got %d candidates, want 1", len(got))
	}

	// Second cycle, unchanged values: level still qualifies but there is no
	// jump, so momentum mode suppresses it.
	got = d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 160000, OpenInterest: 80000}, models.SideQuote{}))
	if len(got) != 0 {
		t.Fatalf("unchanged cycle: got %d candidates, want 0", len(got))
	}

	// Third cycle, volume jumps by 50000: qualifies again.
	got = d.Evaluate(snapshot("20000.000000",
		models.SideQuote{Volume: 210000, OpenInterest: 80000}, models.SideQuote{}))
	if len(got) != 1 {
		t.Fatalf("jump cycle: got %d candidates, want 1", len(got))
	}

	// Level mode with the same sequence would have fired every cycle.
	level := New(DefaultConfig())
	for i := 0; i < 3; i++ {
		got = level.Evaluate(snapshot("20000.000000",
			models.SideQuote{Volume: 160000, OpenInterest: 80000}, models.SideQuote{}))
		if len(got) != 1 {
			t.Fatalf("level mode cycle %d: got %d candidates, want 1", i, len(got))
		}
	}
}

func TestEvaluate_MomentumModeStillRequiresLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = ModeMomentum
	d := New(cfg)

	// Huge jump but below the absolute level thresholds: never a candidate.
	d.Evaluate(snapshot("20000.000000", models.SideQuote{Volume: 100}, models.SideQuote{}))
	got := d.Evaluate(snapshot("20000.000000", models.SideQuote{Volume: 140000}, models.SideQuote{}))
	if len(got) != 0 {
		t.Fatalf("jump without level: got %d candidates, want 0", len(got))
	}
}

func TestEvaluate_KeysTrackedPerInstrumentStrikeSide(t *testing.T) {
	d := New(DefaultConfig())

	d.Evaluate(&models.OptionChainSnapshot{
		Instrument: "NIFTY",
		Strikes: map[string]models.StrikeEntry{
			"20000.000000": {Call: models.SideQuote{Volume: 10}},
			"20100.000000": {Call: models.SideQuote{Volume: 20}},
		},
	})
	d.Evaluate(&models.OptionChainSnapshot{
		Instrument: "BANKNIFTY",
		Strikes: map[string]models.StrikeEntry{
			"20000.000000": {Call: models.SideQuote{Volume: 30}},
		},
	})

	niftyKey := models.SignalKey{Instrument: "NIFTY", Strike: "20000.000000", Side: models.SideCall}
	bankKey := models.SignalKey{Instrument: "BANKNIFTY", Strike: "20000.000000", Side: models.SideCall}
	if s, _ := d.State(niftyKey); s.PrevVolume != 10 {
		t.Errorf("NIFTY state = %+v, want PrevVolume 10", s)
	}
	if s, _ := d.State(bankKey); s.PrevVolume != 30 {
		t.Errorf("BANKNIFTY state = %+v, want PrevVolume 30", s)
	}
}
