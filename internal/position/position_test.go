package position

import (
	"testing"
	"time"

	"goldcore/internal/tp"
)

type fakePersister struct {
	calls int
	last  any
}

func (f *fakePersister) QueueWrite(snapshot any) {
	f.calls++
	f.last = snapshot
}

func TestOpenPositionAdvancesCooldownAnchor(t *testing.T) {
	s := NewStore(nil)
	entry := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	if s.IsInCooldown(entry.Add(time.Minute), 1) != true {
		t.Fatal("expected to be in cooldown right after opening")
	}
}

func TestOpenPositionPersists(t *testing.T) {
	p := &fakePersister{}
	s := NewStore(p)
	s.OpenPosition(Position{Ticket: "T1", EntryTime: time.Now(), EntryPrice: 2000, Volume: 0.1})
	if p.calls != 1 {
		t.Fatalf("expected exactly one persist call, got %d", p.calls)
	}
}

func TestClosePositionNormalizesNumericReason(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	out, err := s.ClosePosition("T1", ExitReasonOutcome{
		ExitPrice: 2005, ExitTime: entry.Add(time.Hour), RawReason: "2005.00", GrossPL: 50,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitReason != "Exit price 2005.00" {
		t.Fatalf("expected normalized numeric reason, got %q", out.ExitReason)
	}
}

func TestClosePositionSLHitOverridesLabel(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1, TP3Price: 2020})
	out, err := s.ClosePosition("T1", ExitReasonOutcome{
		ExitPrice: 1990, ExitTime: entry.Add(time.Hour), RawReason: "TP3 Exit", SLHit: true, GrossPL: -100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitReason != "Stop Loss" {
		t.Fatalf("expected Stop Loss to win over mismatched TP label, got %q", out.ExitReason)
	}
}

func TestClosePositionRejectsMismatchedTP3Label(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1, TP3Price: 2020})
	out, err := s.ClosePosition("T1", ExitReasonOutcome{
		ExitPrice: 2010, ExitTime: entry.Add(time.Hour), RawReason: "TP3 Exit", GrossPL: 100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.ExitReason != "Unknown Closure" {
		t.Fatalf("expected mismatched TP3 label to be corrected, got %q", out.ExitReason)
	}
}

func TestClosePositionUpdatesTotalsAndRemovesFromOpenSet(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	_, err := s.ClosePosition("T1", ExitReasonOutcome{
		ExitPrice: 2010, ExitTime: entry.Add(time.Hour), RawReason: "TP1 Exit", GrossPL: 100, Commission: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := s.GetStatistics()
	if stats.Trades != 1 || stats.Winners != 1 {
		t.Fatalf("expected one winning trade recorded, got %+v", stats)
	}
	if s.CanOpenNewPosition(1) != true {
		t.Fatal("expected position to be removed from open set after close")
	}
}

func TestClosePositionUnknownTicketErrors(t *testing.T) {
	s := NewStore(nil)
	_, err := s.ClosePosition("nope", ExitReasonOutcome{})
	if err == nil {
		t.Fatal("expected error for unknown ticket")
	}
}

func TestUpdateTPStateNeverLowersStopLoss(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1, CurrentStopLoss: 2000})
	lower := 1995.0
	if err := s.UpdateTPState("T1", tp.TP2Reached, &lower, entry, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.OpenPositions) != 1 || snap.OpenPositions[0].CurrentStopLoss != 2000 {
		t.Fatalf("expected stop loss to remain monotone non-decreasing, got %+v", snap.OpenPositions)
	}
}

func TestSnapshotAndLoadRoundTrip(t *testing.T) {
	s := NewStore(nil)
	entry := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	s.OpenPosition(Position{Ticket: "T1", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	snap := s.Snapshot()

	s2 := NewStore(nil)
	s2.LoadFromSnapshot(snap)
	snap2 := s2.Snapshot()
	if len(snap2.OpenPositions) != 1 || snap2.OpenPositions[0].Ticket != "T1" {
		t.Fatalf("expected round-tripped open position, got %+v", snap2.OpenPositions)
	}
}

func TestLoadFromSnapshotRecoversCooldownAnchor(t *testing.T) {
	entry := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	exit := time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC)
	snap := Snapshot{
		TradeHistory: []TradeHistoryEntry{
			{Ticket: "T1", EntryTime: entry, ExitTime: exit},
		},
	}
	s := NewStore(nil)
	s.LoadFromSnapshot(snap)
	if !s.IsInCooldown(exit.Add(time.Minute), 1) {
		t.Fatal("expected cooldown anchor recovered as max(entry,exit) times")
	}
}

func TestGetStatisticsComputesProfitFactor(t *testing.T) {
	s := NewStore(nil)
	entry := time.Now()
	s.OpenPosition(Position{Ticket: "W", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	s.ClosePosition("W", ExitReasonOutcome{ExitPrice: 2010, ExitTime: entry, RawReason: "TP1 Exit", GrossPL: 100})
	s.OpenPosition(Position{Ticket: "L", EntryTime: entry, EntryPrice: 2000, Volume: 0.1})
	s.ClosePosition("L", ExitReasonOutcome{ExitPrice: 1990, ExitTime: entry, RawReason: "Stop Loss", GrossPL: -50})

	stats := s.GetStatistics()
	if stats.Trades != 2 || stats.Winners != 1 || stats.Losers != 1 {
		t.Fatalf("unexpected totals: %+v", stats)
	}
	if stats.ProfitFactor != 2.0 {
		t.Fatalf("expected profit factor 2.0 (100/50), got %v", stats.ProfitFactor)
	}
}
