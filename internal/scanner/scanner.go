// Package scanner drives the scan-detect-dedup-notify loop.
//
// The loop gates on an armed credential and the trading window, walks the
// configured instruments sequentially each cycle, and hands qualifying
// signals to the ledger and dispatcher. Time is injected so transitions can
// be tested without real waiting.
package scanner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blockzenith/scanner/internal/detector"
	"github.com/blockzenith/scanner/internal/dhan"
	"github.com/blockzenith/scanner/internal/logger"
	"github.com/blockzenith/scanner/internal/models"
)

// State is the scanner's current position in its lifecycle.
type State string

const (
	StateUnarmed          State = "UNARMED"
	StateWaitingForMarket State = "WAITING_FOR_MARKET"
	StateScanning         State = "SCANNING"
)

// Session yields the operator-armed credential.
type Session interface {
	Get() (string, bool)
	Clear()
}

// Calendar answers whether the trading window is open.
type Calendar interface {
	IsOpen(now time.Time) bool
}

// Fetcher produces option-chain snapshots.
type Fetcher interface {
	Fetch(ctx context.Context, inst models.InstrumentSpec, token string) (*models.OptionChainSnapshot, error)
}

// Ledger is the durable dedup record of dispatched alerts.
type Ledger interface {
	HasFired(rec *models.AlertRecord) (bool, error)
	Record(rec *models.AlertRecord) error
}

// Dispatcher delivers notifications.
type Dispatcher interface {
	SendAlert(inst models.InstrumentSpec, rec *models.AlertRecord) error
	SendNotice(text string) error
}

// Clock abstracts time so tests can advance it synthetically. Sleep returns
// false when the context was cancelled before the duration elapsed.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// NewClock returns the wall clock.
func NewClock() Clock { return realClock{} }

// Config holds the scan-loop timing and instrument set.
type Config struct {
	Instruments    []models.InstrumentSpec
	IdleInterval   time.Duration // unarmed: poll for a new credential
	ClosedInterval time.Duration // market closed: avoid busy-waiting
	CycleInterval  time.Duration // steady-state polling cadence
	PacingInterval time.Duration // between instruments, upstream rate limits
	BackoffBase    time.Duration
	BackoffCap     time.Duration
}

type backoffState struct {
	consecutive int
	nextAttempt time.Time
}

// Scanner is the orchestrating state machine.
type Scanner struct {
	cfg        Config
	session    Session
	calendar   Calendar
	fetcher    Fetcher
	detector   *detector.Detector
	ledger     Ledger
	dispatcher Dispatcher
	clock      Clock

	mu      sync.RWMutex
	state   State
	backoff map[string]*backoffState
}

// New assembles a scanner. A nil clock defaults to the wall clock.
func New(cfg Config, session Session, calendar Calendar, fetcher Fetcher, det *detector.Detector, ledger Ledger, dispatcher Dispatcher, clock Clock) *Scanner {
	if clock == nil {
		clock = NewClock()
	}
	return &Scanner{
		cfg:        cfg,
		session:    session,
		calendar:   calendar,
		fetcher:    fetcher,
		detector:   det,
		ledger:     ledger,
		dispatcher: dispatcher,
		clock:      clock,
		state:      StateUnarmed,
		backoff:    make(map[string]*backoffState),
	}
}

// State returns the scanner's current state. Safe for concurrent use.
func (s *Scanner) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Scanner) setState(st State) {
	s.mu.Lock()
	if s.state != st {
		logger.Info("scanner state: %s -> %s", s.state, st)
		s.state = st
	}
	s.mu.Unlock()
}

// Run executes the loop until ctx is cancelled. Armed state and the market
// window are re-evaluated every cycle, not just once.
func (s *Scanner) Run(ctx context.Context) {
	logger.Info("scanner started (%d instruments, cycle %v)", len(s.cfg.Instruments), s.cfg.CycleInterval)
	for {
		if ctx.Err() != nil {
			logger.Info("scanner stopped")
			return
		}

		if _, armed := s.session.Get(); !armed {
			s.setState(StateUnarmed)
			if !s.clock.Sleep(ctx, s.cfg.IdleInterval) {
				return
			}
			continue
		}

		if !s.calendar.IsOpen(s.clock.Now()) {
			s.setState(StateWaitingForMarket)
			if !s.clock.Sleep(ctx, s.cfg.ClosedInterval) {
				return
			}
			continue
		}

		s.setState(StateScanning)
		s.runCycle(ctx)

		if !s.clock.Sleep(ctx, s.cfg.CycleInterval) {
			return
		}
	}
}

func (s *Scanner) runCycle(ctx context.Context) {
	token, ok := s.session.Get()
	if !ok {
		return
	}
	start := s.clock.Now()

	for i, inst := range s.cfg.Instruments {
		if i > 0 && !s.clock.Sleep(ctx, s.cfg.PacingInterval) {
			return
		}
		if ctx.Err() != nil {
			return
		}

		if bo := s.backoff[inst.Name]; bo != nil && s.clock.Now().Before(bo.nextAttempt) {
			logger.Debug("%s in backoff until %v, skipping", inst.Name, bo.nextAttempt)
			continue
		}

		snapshot, err := s.fetcher.Fetch(ctx, inst, token)
		if err != nil {
			if errors.Is(err, dhan.ErrAuthExpired) {
				s.handleAuthExpiry(inst, err)
				return
			}
			s.noteTransientFailure(inst.Name, err)
			continue
		}
		s.clearBackoff(inst.Name)

		logger.Debug("%s snapshot: %d strikes (expiry %s)", inst.Name, len(snapshot.Strikes), snapshot.Expiry)
		s.processSnapshot(inst, snapshot)
	}

	logger.Info("scan cycle completed in %v", s.clock.Now().Sub(start))
}

// handleAuthExpiry clears the session and tells the operator once. The loop
// re-evaluates from the top and lands in UNARMED.
func (s *Scanner) handleAuthExpiry(inst models.InstrumentSpec, err error) {
	logger.Warn("access token expired while scanning %s: %v", inst.Name, err)
	s.session.Clear()
	notice := "Dhan access token expired. Send a fresh daily token to re-arm the scanner."
	if nerr := s.dispatcher.SendNotice(notice); nerr != nil {
		logger.Error("failed to deliver token-expiry notice: %v", nerr)
	}
}

func (s *Scanner) processSnapshot(inst models.InstrumentSpec, snapshot *models.OptionChainSnapshot) {
	for _, cand := range s.detector.Evaluate(snapshot) {
		rec := &models.AlertRecord{
			Key:             cand.Key,
			Volume:          cand.Volume,
			OpenInterest:    cand.OpenInterest,
			Price:           cand.Price,
			FirstDetectedAt: s.clock.Now(),
		}

		// Ledger failures degrade to possible duplicates instead of killing
		// the scan.
		fired, err := s.ledger.HasFired(rec)
		if err != nil {
			logger.Error("ledger query failed for %s, continuing degraded: %v", rec.Key, err)
		}
		if fired {
			logger.Debug("suppressing already-reported signal %s", rec.Key)
			continue
		}
		if err := s.ledger.Record(rec); err != nil {
			logger.Error("ledger record failed for %s, continuing degraded: %v", rec.Key, err)
		}

		// A failed delivery is logged and not retried: the signal stays
		// recorded, trading one missed notification against a storm.
		if err := s.dispatcher.SendAlert(inst, rec); err != nil {
			logger.Error("alert delivery failed for %s, record kept: %v", rec.Key, err)
			continue
		}
		logger.Info("alert dispatched: %s volume=%d oi=%d price=%.2f",
			rec.Key, rec.Volume, rec.OpenInterest, rec.Price)
	}
}

func (s *Scanner) noteTransientFailure(instrument string, err error) {
	bo := s.backoff[instrument]
	if bo == nil {
		bo = &backoffState{}
		s.backoff[instrument] = bo
	}
	bo.consecutive++

	delay := s.cfg.BackoffBase
	for i := 1; i < bo.consecutive; i++ {
		delay *= 2
		if delay >= s.cfg.BackoffCap {
			delay = s.cfg.BackoffCap
			break
		}
	}
	bo.nextAttempt = s.clock.Now().Add(delay)
	logger.Warn("fetch %s failed (%d consecutive), next attempt in %v: %v",
		instrument, bo.consecutive, delay, err)
}

func (s *Scanner) clearBackoff(instrument string) {
	if bo := s.backoff[instrument]; bo != nil && bo.consecutive > 0 {
		logger.Info("%s recovered after %d consecutive failures", instrument, bo.consecutive)
	}
	delete(s.backoff, instrument)
}
