package bar

import (
	"math"
	"testing"
	"time"
)

func mkBar(t time.Time, o, h, l, c float64) Bar {
	return Bar{Time: t, Open: o, High: h, Low: l, Close: c, TickVolume: 100, EMA50: o, EMA200: o, ATR14: 1.0}
}

func TestValidateRejectsShortSeries(t *testing.T) {
	s := Series{Bars: []Bar{mkBar(time.Now(), 1, 2, 0.5, 1.5)}}
	if err := Validate(s, -1); err == nil {
		t.Fatal("expected error for series shorter than 2 bars")
	}
}

func TestValidateRejectsOutOfRangeIndex(t *testing.T) {
	now := time.Now()
	s := Series{Bars: []Bar{
		mkBar(now, 1, 2, 0.5, 1.5),
		mkBar(now.Add(time.Hour), 1.5, 2.5, 1, 2),
	}}
	if err := Validate(s, 5); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
}

func TestValidateRejectsNonFiniteField(t *testing.T) {
	now := time.Now()
	bad := mkBar(now.Add(time.Hour), 1.5, 2.5, 1, 2)
	bad.ATR14 = math.NaN()
	s := Series{Bars: []Bar{mkBar(now, 1, 2, 0.5, 1.5), bad}}
	if err := Validate(s, -1); err == nil {
		t.Fatal("expected error for non-finite field")
	}
}

func TestValidateRejectsLowAboveOpen(t *testing.T) {
	now := time.Now()
	bad := mkBar(now.Add(time.Hour), 1.5, 2.5, 2.0, 2.0)
	s := Series{Bars: []Bar{mkBar(now, 1, 2, 0.5, 1.5), bad}}
	if err := Validate(s, -1); err == nil {
		t.Fatal("expected error for low > open")
	}
}

func TestValidateRejectsHighBelowClose(t *testing.T) {
	now := time.Now()
	bad := mkBar(now.Add(time.Hour), 1.5, 1.6, 1.0, 2.0)
	s := Series{Bars: []Bar{mkBar(now, 1, 2, 0.5, 1.5), bad}}
	if err := Validate(s, -1); err == nil {
		t.Fatal("expected error for high < close")
	}
}

func TestValidateAcceptsWellFormedSeries(t *testing.T) {
	now := time.Now()
	s := Series{Bars: []Bar{
		mkBar(now, 1, 2, 0.5, 1.5),
		mkBar(now.Add(time.Hour), 1.5, 2.5, 1, 2),
	}}
	if err := Validate(s, -1); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestClosedIndexAndAt(t *testing.T) {
	now := time.Now()
	s := Series{Bars: []Bar{
		mkBar(now, 1, 2, 0.5, 1.5),
		mkBar(now.Add(time.Hour), 1.5, 2.5, 1, 2),
		mkBar(now.Add(2*time.Hour), 2, 3, 1.5, 2.5),
	}}
	if got := s.ClosedIndex(); got != 1 {
		t.Fatalf("ClosedIndex() = %d, want 1", got)
	}
	last, ok := s.At(-1)
	if !ok || last.Close != 2.5 {
		t.Fatalf("At(-1) = %+v, ok=%v", last, ok)
	}
	_, ok = s.At(99)
	if ok {
		t.Fatal("expected At(99) to report not found")
	}
}

func TestIsClosed(t *testing.T) {
	opened := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	tf := time.Hour
	if IsClosed(Bar{Time: opened}, opened.Add(59*time.Minute), tf) {
		t.Fatal("bar should not be closed before timeframe elapses")
	}
	if !IsClosed(Bar{Time: opened}, opened.Add(time.Hour), tf) {
		t.Fatal("bar should be closed exactly at the boundary")
	}
	if !IsClosed(Bar{Time: opened}, opened.Add(2*time.Hour), tf) {
		t.Fatal("bar should be closed well after the boundary")
	}
}

func TestGuardTickNoiseDisabledByDefault(t *testing.T) {
	g := &Guard{}
	res := g.EvaluateTickNoise(0.01)
	if !res.Passed {
		t.Fatal("tick noise filter should pass everything when disabled")
	}
}

func TestGuardTickNoiseRejectsSmallMove(t *testing.T) {
	g := &Guard{MinPipsMovement: 1.0}
	res := g.EvaluateTickNoise(0.2)
	if res.Passed {
		t.Fatal("expected rejection for move below threshold")
	}
	log := g.AuditLog()
	if len(log) != 1 || log[0].Category != CategoryTickNoise {
		t.Fatalf("expected one tick-noise audit entry, got %+v", log)
	}
}

func TestGuardTickNoiseAcceptsLargeMove(t *testing.T) {
	g := &Guard{MinPipsMovement: 1.0}
	res := g.EvaluateTickNoise(-2.5)
	if !res.Passed {
		t.Fatal("expected pass for move above threshold, sign should not matter")
	}
}

func TestGuardAntiFOMODisabledByDefault(t *testing.T) {
	g := &Guard{}
	res := g.EvaluateAntiFOMO(0)
	if !res.Passed {
		t.Fatal("anti-FOMO filter should pass everything when disabled")
	}
}

func TestGuardAntiFOMOWarnOnlyStillPasses(t *testing.T) {
	g := &Guard{AntiFOMOBars: 5, AntiFOMOBlocks: false}
	res := g.EvaluateAntiFOMO(1)
	if !res.Passed {
		t.Fatal("warn-only anti-FOMO must not block")
	}
	if len(g.AuditLog()) != 1 {
		t.Fatal("warn-only anti-FOMO should still record an audit entry")
	}
}

func TestGuardAntiFOMOBlocksWhenConfigured(t *testing.T) {
	g := &Guard{AntiFOMOBars: 5, AntiFOMOBlocks: true}
	res := g.EvaluateAntiFOMO(1)
	if res.Passed {
		t.Fatal("expected anti-FOMO to block when explicitly configured to")
	}
}

func TestGuardCounters(t *testing.T) {
	g := &Guard{MinPipsMovement: 1.0, AntiFOMOBars: 3, AntiFOMOBlocks: true}
	g.EvaluateTickNoise(5.0)
	g.EvaluateTickNoise(0.1)
	g.EvaluateAntiFOMO(10)
	g.EvaluateAntiFOMO(1)
	tnPass, tnFail, afPass, afFail := g.Counters()
	if tnPass != 1 || tnFail != 1 || afPass != 1 || afFail != 1 {
		t.Fatalf("unexpected counters: tnPass=%d tnFail=%d afPass=%d afFail=%d", tnPass, tnFail, afPass, afFail)
	}
}

func TestAuditLogCapped(t *testing.T) {
	g := &Guard{MinPipsMovement: 1.0}
	for i := 0; i < maxAuditEntries+10; i++ {
		g.EvaluateTickNoise(0.01)
	}
	if len(g.AuditLog()) != maxAuditEntries {
		t.Fatalf("audit log should cap at %d entries, got %d", maxAuditEntries, len(g.AuditLog()))
	}
}
