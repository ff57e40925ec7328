package ledger

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blockzenith/scanner/internal/models"
)

func newTestLedger(t *testing.T, policy Policy) *Ledger {
	t.Helper()
	l, err := New(":memory:", policy)
	if err != nil {
		t.Fatalf("failed to create test ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testRecord(volume, oi int64) *models.AlertRecord {
	return &models.AlertRecord{
		Key:             models.SignalKey{Instrument: "NIFTY", Strike: "20000.000000", Side: models.SideCall},
		Volume:          volume,
		OpenInterest:    oi,
		Price:           120.5,
		FirstDetectedAt: time.Now(),
	}
}

func TestLedger_RecordAndHasFired(t *testing.T) {
	l := newTestLedger(t, PolicyValueTuple)

	rec := testRecord(160000, 80000)
	fired, err := l.HasFired(rec)
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if fired {
		t.Error("empty ledger should not report fired")
	}

	if err := l.Record(rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.ID == "" {
		t.Error("Record should assign an ID")
	}

	fired, err = l.HasFired(testRecord(160000, 80000))
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if !fired {
		t.Error("recorded tuple should report fired")
	}
}

func TestLedger_ValueTuplePolicy(t *testing.T) {
	l := newTestLedger(t, PolicyValueTuple)

	if err := l.Record(testRecord(160000, 80000)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Same key, changed volume: fresh activity under value-tuple.
	fired, err := l.HasFired(testRecord(210000, 80000))
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if fired {
		t.Error("changed volume should be a new alert under value-tuple policy")
	}

	// Changed OI likewise.
	fired, _ = l.HasFired(testRecord(160000, 90000))
	if fired {
		t.Error("changed OI should be a new alert under value-tuple policy")
	}
}

func TestLedger_KeyOnlyPolicy(t *testing.T) {
	l := newTestLedger(t, PolicyKeyOnly)

	if err := l.Record(testRecord(160000, 80000)); err != nil {
		t.Fatalf("Record: %v", err)
	}

	// Same key with any values stays suppressed until reset.
	fired, err := l.HasFired(testRecord(210000, 95000))
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if !fired {
		t.Error("changed values must stay suppressed under key-only policy")
	}

	// A different strike is a different key.
	other := testRecord(210000, 95000)
	other.Key.Strike = "20100.000000"
	fired, _ = l.HasFired(other)
	if fired {
		t.Error("different strike should not be suppressed")
	}
}

func TestLedger_Reset(t *testing.T) {
	l := newTestLedger(t, PolicyValueTuple)

	if err := l.Record(testRecord(160000, 80000)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	fired, err := l.HasFired(testRecord(160000, 80000))
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if fired {
		t.Error("reset ledger should not report fired")
	}
	if n, _ := l.Count(); n != 0 {
		t.Errorf("Count after reset = %d, want 0", n)
	}
}

func TestLedger_SurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ledger.db")

	l, err := New(dbPath, PolicyValueTuple)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := l.Record(testRecord(160000, 80000)); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Fresh process instance over the same file.
	reopened, err := New(dbPath, PolicyValueTuple)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	fired, err := reopened.HasFired(testRecord(160000, 80000))
	if err != nil {
		t.Fatalf("HasFired: %v", err)
	}
	if !fired {
		t.Error("alert recorded before restart must still report fired")
	}
}

func TestLedger_RejectsInvalidRecord(t *testing.T) {
	l := newTestLedger(t, PolicyValueTuple)

	bad := testRecord(160000, 80000)
	bad.Key.Side = "XX"
	if err := l.Record(bad); err == nil {
		t.Error("Record should reject an invalid record")
	}
}

func TestLedger_RejectsUnknownPolicy(t *testing.T) {
	if _, err := New(":memory:", Policy("sometimes")); err == nil {
		t.Error("New should reject unknown policies")
	}
}

func TestLedger_ConcurrentResetDuringScan(t *testing.T) {
	l := newTestLedger(t, PolicyValueTuple)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 50; i++ {
			rec := testRecord(160000+i, 80000)
			_, _ = l.HasFired(rec)
			_ = l.Record(rec)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			_ = l.Reset()
		}
	}()
	wg.Wait()

	// No corruption: the ledger still answers queries.
	if _, err := l.Count(); err != nil {
		t.Errorf("Count after concurrent reset: %v", err)
	}
}
