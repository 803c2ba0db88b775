package persistence

import (
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := OpenSQLStore(":memory:")
	if err != nil {
		t.Fatalf("unexpected error opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenSQLStoreAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	has, err := s.HasStructuredData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if has {
		t.Fatal("expected no structured data in a freshly migrated store")
	}
}

func TestWriteSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	positions := []PositionRow{{
		Ticket: "T1", Direction: 1, EntryTime: now, EntryPrice: 2000, Volume: 0.1,
		InitialStopLoss: 1990, CurrentStopLoss: 1990, TakeProfit: 2020,
		TP1Price: 2014, TP2Price: 2018, TP3Price: 2020, TPState: "IN_TRADE",
		TPStateChangedAt: now,
	}}
	trades := []TradeRow{{
		Ticket: "T0", EntryTime: now.Add(-time.Hour), ExitTime: now,
		EntryPrice: 1980, ExitPrice: 1995, InitialSL: 1970, TakeProfit: 2000,
		Volume: 0.1, GrossPL: 150, Commission: 2, NetPL: 148,
		ExitReason: "TP1 Exit", IsWinner: true,
	}}
	state := TradingStateRow{LastTradeTime: now, TotalTrades: 1, WinningTrades: 1, TotalProfit: 148}

	if err := s.WriteSnapshot(positions, trades, state, []byte(`{"marker":true}`)); err != nil {
		t.Fatalf("unexpected error writing snapshot: %v", err)
	}

	has, err := s.HasStructuredData()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !has {
		t.Fatal("expected structured data after WriteSnapshot")
	}

	data, err := s.LatestSnapshotJSON()
	if err != nil {
		t.Fatalf("unexpected error reading latest snapshot: %v", err)
	}
	if string(data) != `{"marker":true}` {
		t.Fatalf("expected latest snapshot blob to round-trip, got %s", data)
	}
}

func TestWriteSnapshotLoadsBackIntoRows(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	positions := []PositionRow{{
		Ticket: "T1", Direction: 1, EntryTime: now, EntryPrice: 2000, Volume: 0.1,
		InitialStopLoss: 1990, CurrentStopLoss: 1990, TakeProfit: 2020,
		TP1Price: 2014, TP2Price: 2018, TP3Price: 2020, TPState: "TP1_REACHED",
		TPStateChangedAt: now, BarsHeldAfterTP1: 3,
		PatternSnapshot: map[string]any{"pivot_low": 1985.0},
	}}
	trades := []TradeRow{{
		Ticket: "T0", EntryTime: now.Add(-time.Hour), ExitTime: now,
		EntryPrice: 1980, ExitPrice: 1995, InitialSL: 1970, TakeProfit: 2000,
		Volume: 0.1, GrossPL: 150, Commission: 2, NetPL: 148,
		ExitReason: "TP1 Exit", IsWinner: true,
	}}
	state := TradingStateRow{
		LastTradeTime: now, TotalTrades: 1, WinningTrades: 1, TotalProfit: 148,
		LastRegimeState: map[string]any{"regime": "BULL"},
	}

	if err := s.WriteSnapshot(positions, trades, state, []byte(`{"marker":true}`)); err != nil {
		t.Fatalf("unexpected error writing snapshot: %v", err)
	}

	loadedPositions, err := s.LoadPositions()
	if err != nil {
		t.Fatalf("unexpected error loading positions: %v", err)
	}
	if len(loadedPositions) != 1 || loadedPositions[0].Ticket != "T1" {
		t.Fatalf("expected one position T1 back, got %+v", loadedPositions)
	}
	if !loadedPositions[0].EntryTime.Equal(now) {
		t.Fatalf("expected entry_time to round-trip, got %v", loadedPositions[0].EntryTime)
	}
	if loadedPositions[0].PatternSnapshot["pivot_low"] != 1985.0 {
		t.Fatalf("expected pattern_snapshot to round-trip, got %+v", loadedPositions[0].PatternSnapshot)
	}

	loadedTrades, err := s.LoadTrades()
	if err != nil {
		t.Fatalf("unexpected error loading trades: %v", err)
	}
	if len(loadedTrades) != 1 || loadedTrades[0].Ticket != "T0" {
		t.Fatalf("expected one trade T0 back, got %+v", loadedTrades)
	}
	if !loadedTrades[0].IsWinner {
		t.Fatal("expected is_winner to round-trip as true")
	}

	loadedState, err := s.LoadTradingState()
	if err != nil {
		t.Fatalf("unexpected error loading trading state: %v", err)
	}
	if loadedState.TotalTrades != 1 || loadedState.TotalProfit != 148 {
		t.Fatalf("expected trading_state totals to round-trip, got %+v", loadedState)
	}
	if loadedState.LastRegimeState["regime"] != "BULL" {
		t.Fatalf("expected last_regime_state to round-trip, got %+v", loadedState.LastRegimeState)
	}
}

func TestLoadTradingStateOnEmptyStoreReturnsZeroValue(t *testing.T) {
	s := openTestStore(t)
	state, err := s.LoadTradingState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.TotalTrades != 0 || !state.LastTradeTime.IsZero() {
		t.Fatalf("expected zero-value trading state on empty store, got %+v", state)
	}
}

func TestWriteSnapshotReplacesPriorRows(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	first := []PositionRow{{Ticket: "A", EntryTime: now, TPStateChangedAt: now, TPState: "IN_TRADE"}}
	if err := s.WriteSnapshot(first, nil, TradingStateRow{}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second := []PositionRow{{Ticket: "B", EntryTime: now, TPStateChangedAt: now, TPState: "IN_TRADE"}}
	if err := s.WriteSnapshot(second, nil, TradingStateRow{}, []byte(`{}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM positions WHERE ticket = 'A'`).Scan(&count); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatal("expected prior position rows to be replaced, not accumulated")
	}
}
