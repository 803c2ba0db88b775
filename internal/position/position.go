// Package position owns the mutable Position Store: the set of open
// positions keyed by broker ticket, trade history, and the cooldown
// anchor. It is the only long-lived mutable aggregate in the core; every
// query returns an owned snapshot taken under a single mutex.
package position

import (
	"fmt"
	"sync"
	"time"

	"goldcore/internal/tp"
)

// Position mirrors the lifecycle described in the data model: created on
// broker-confirmed entry, mutated only by the TP engine's transitions
// and by the store on broker-reported exits.
type Position struct {
	Ticket    string
	Direction  int
	EntryTime  time.Time
	EntryPrice float64
	Volume     float64

	InitialStopLoss, CurrentStopLoss, TakeProfit float64
	TP1Price, TP2Price, TP3Price                 float64
	TPState                                      tp.State
	TPStateChangedAt                             time.Time

	BarsHeldAfterTP1, BarsHeldAfterTP2           int
	MaxExtensionAfterTP1, MaxExtensionAfterTP2   float64
	PostTP1Decision, PostTP2Decision             tp.PostDecision
	TrailingSLLevel                              float64
	TrailingSLEnabled                            bool
	ATRAtEntry                                   float64
	PatternSnapshot                              map[string]any

	PriceCurrent      float64
	UnrealizedProfit  float64
	Swap              float64
}

// TradeHistoryEntry is an immutable closed-trade record.
type TradeHistoryEntry struct {
	Ticket                      string
	EntryTime, ExitTime         time.Time
	EntryPrice, ExitPrice       float64
	InitialSL, TakeProfit       float64
	Volume                      float64
	GrossPL, Commission, Swap   float64
	NetPL                       float64
	ExitReason                  string
	IsWinner                    bool
	PatternSnapshot             map[string]any
}

// Totals tracks the running statistics the store maintains across trades.
type Totals struct {
	Trades  int
	Winners int
	Losers  int
	Profit  float64
}

// Statistics is the derived view returned by GetStatistics.
type Statistics struct {
	Totals
	WinRate      float64
	AvgWin       float64
	AvgLoss      float64
	ProfitFactor float64
}

// Persister is the narrow interface the store uses to request a durable
// snapshot after every mutation; implemented by internal/persistence.
type Persister interface {
	QueueWrite(snapshot any)
}

// Store is the mutex-guarded Position Store / State Manager.
type Store struct {
	mu sync.Mutex

	open         map[string]*Position
	history      []TradeHistoryEntry
	lastTradeTime time.Time
	lastRegime   any
	totals       Totals

	persist Persister
}

// NewStore builds an empty store. persist may be nil, in which case
// mutations are not queued for durable writes (used in tests).
func NewStore(persist Persister) *Store {
	return &Store{open: make(map[string]*Position), persist: persist}
}

func (s *Store) maybePersist() {
	if s.persist == nil {
		return
	}
	s.persist.QueueWrite(s.snapshotLocked())
}

// OpenPosition appends a new position, advances the cooldown anchor, and
// queues a persistence write.
func (s *Store) OpenPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[p.Ticket] = &p
	if p.EntryTime.After(s.lastTradeTime) {
		s.lastTradeTime = p.EntryTime
	}
	s.maybePersist()
}

// ExitReasonOutcome is passed to ClosePosition so the store can validate
// the proposed exit reason against the actual exit price before
// persisting it.
type ExitReasonOutcome struct {
	ExitPrice  float64
	ExitTime   time.Time
	RawReason  string // may be numeric-looking; normalized below
	SLHit      bool
	Commission float64
	Swap       float64
	GrossPL    float64
}

// ClosePosition removes a position from the open set, normalizes its
// exit reason, appends a trade-history record, updates totals and the
// cooldown anchor, and persists.
func (s *Store) ClosePosition(ticket string, outcome ExitReasonOutcome) (TradeHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.open[ticket]
	if !ok {
		return TradeHistoryEntry{}, fmt.Errorf("position %s not found", ticket)
	}

	reason := normalizeExitReason(outcome, *p)

	netPL := outcome.GrossPL - outcome.Commission
	entry := TradeHistoryEntry{
		Ticket:          ticket,
		EntryTime:       p.EntryTime,
		ExitTime:        outcome.ExitTime,
		EntryPrice:      p.EntryPrice,
		ExitPrice:       outcome.ExitPrice,
		InitialSL:       p.InitialStopLoss,
		TakeProfit:      p.TakeProfit,
		Volume:          p.Volume,
		GrossPL:         outcome.GrossPL,
		Commission:      outcome.Commission,
		Swap:            outcome.Swap,
		NetPL:           netPL,
		ExitReason:      reason,
		IsWinner:        netPL > 0,
		PatternSnapshot: p.PatternSnapshot,
	}

	delete(s.open, ticket)
	s.history = append(s.history, entry)

	s.totals.Trades++
	s.totals.Profit += netPL
	if entry.IsWinner {
		s.totals.Winners++
	} else {
		s.totals.Losers++
	}

	if outcome.ExitTime.After(s.lastTradeTime) {
		s.lastTradeTime = outcome.ExitTime
	}

	s.maybePersist()
	return entry, nil
}

// normalizeExitReason maps numeric or mismatched reason labels to the
// canonical strings the UI and exports depend on. A "TP3 Exit" label
// whose exit price is below the position's TP3 price becomes "Unknown
// Closure"; "TP1 Exit" and "TP2 Exit" labels are passed through without a
// price check. Logging is the caller's responsibility (this function is
// pure).
func normalizeExitReason(o ExitReasonOutcome, p Position) string {
	if o.SLHit {
		return "Stop Loss"
	}
	switch o.RawReason {
	case "Stop Loss", "TP1 Exit", "TP2 Exit", "TP3 Exit":
		if o.RawReason == "TP3 Exit" && p.TP3Price > 0 && o.ExitPrice < p.TP3Price {
			return "Unknown Closure"
		}
		return o.RawReason
	case "":
		return "Unknown Closure"
	default:
		if isNumeric(o.RawReason) {
			return "Exit price " + o.RawReason
		}
		return o.RawReason
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// UpdateTPState mutates a position's TP state in place and persists.
func (s *Store) UpdateTPState(ticket string, newState tp.State, newSL *float64, transitionTime time.Time, barsAfterTP1, barsAfterTP2 *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.open[ticket]
	if !ok {
		return fmt.Errorf("position %s not found", ticket)
	}
	p.TPState = newState
	p.TPStateChangedAt = transitionTime
	if newSL != nil {
		if *newSL > p.CurrentStopLoss {
			p.CurrentStopLoss = *newSL
		}
	}
	if barsAfterTP1 != nil {
		p.BarsHeldAfterTP1 = *barsAfterTP1
	}
	if barsAfterTP2 != nil {
		p.BarsHeldAfterTP2 = *barsAfterTP2
	}
	s.maybePersist()
	return nil
}

// UpdateTPExitMetadata applies a free-form metadata patch (post-TP
// decisions, extension watermarks) and persists.
func (s *Store) UpdateTPExitMetadata(ticket string, mutate func(*Position)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.open[ticket]
	if !ok {
		return fmt.Errorf("position %s not found", ticket)
	}
	mutate(p)
	s.maybePersist()
	return nil
}

// CanOpenNewPosition reports whether the open count is below the limit.
func (s *Store) CanOpenNewPosition(max int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open) < max
}

// IsInCooldown reports whether now is within hours of the cooldown anchor.
func (s *Store) IsInCooldown(now time.Time, hours float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastTradeTime.IsZero() {
		return false
	}
	return now.Sub(s.lastTradeTime) < time.Duration(hours*float64(time.Hour))
}

// GetStatistics returns totals plus derived performance metrics.
func (s *Store) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statisticsLocked()
}

func (s *Store) statisticsLocked() Statistics {
	stat := Statistics{Totals: s.totals}
	if s.totals.Trades > 0 {
		stat.WinRate = float64(s.totals.Winners) / float64(s.totals.Trades) * 100
	}
	var winSum, lossSum float64
	for _, h := range s.history {
		if h.IsWinner {
			winSum += h.NetPL
		} else {
			lossSum += h.NetPL
		}
	}
	if s.totals.Winners > 0 {
		stat.AvgWin = winSum / float64(s.totals.Winners)
	}
	if s.totals.Losers > 0 {
		stat.AvgLoss = lossSum / float64(s.totals.Losers)
	}
	if lossSum != 0 {
		stat.ProfitFactor = winSum / -lossSum
	}
	return stat
}

// Snapshot is the root document persisted by both storage paths.
type Snapshot struct {
	OpenPositions  []Position
	TradeHistory   []TradeHistoryEntry
	LastTradeTime  time.Time
	Totals         Totals
	LastRegime     any
	SavedAt        time.Time
}

func (s *Store) snapshotLocked() Snapshot {
	open := make([]Position, 0, len(s.open))
	for _, p := range s.open {
		open = append(open, *p)
	}
	hist := make([]TradeHistoryEntry, len(s.history))
	copy(hist, s.history)
	return Snapshot{
		OpenPositions: open,
		TradeHistory:  hist,
		LastTradeTime: s.lastTradeTime,
		Totals:        s.totals,
		LastRegime:    s.lastRegime,
		SavedAt:       time.Now(),
	}
}

// Snapshot returns a point-in-time copy of the whole store, taken under
// the mutex and released before any I/O.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// LoadFromSnapshot replaces the store's contents, used on startup. If
// LastTradeTime is zero, it is recovered as the max of all entry/exit
// times across the snapshot (the cooldown-anchor recovery rule).
func (s *Store) LoadFromSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = make(map[string]*Position, len(snap.OpenPositions))
	for i := range snap.OpenPositions {
		p := snap.OpenPositions[i]
		s.open[p.Ticket] = &p
	}
	s.history = append([]TradeHistoryEntry(nil), snap.TradeHistory...)
	s.totals = snap.Totals
	s.lastRegime = snap.LastRegime

	if !snap.LastTradeTime.IsZero() {
		s.lastTradeTime = snap.LastTradeTime
		return
	}
	s.lastTradeTime = recoverCooldownAnchor(snap)
}

func recoverCooldownAnchor(snap Snapshot) time.Time {
	var latest time.Time
	for _, p := range snap.OpenPositions {
		if p.EntryTime.After(latest) {
			latest = p.EntryTime
		}
	}
	for _, h := range snap.TradeHistory {
		if h.EntryTime.After(latest) {
			latest = h.EntryTime
		}
		if h.ExitTime.After(latest) {
			latest = h.ExitTime
		}
	}
	return latest
}
