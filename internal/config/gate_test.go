package config

import "testing"

func TestLiveGateAllowsCorrectPassphrase(t *testing.T) {
	g, err := NewLiveGate("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Allow("correct-horse-battery-staple") {
		t.Fatal("expected correct passphrase to be allowed")
	}
}

func TestLiveGateRejectsWrongPassphrase(t *testing.T) {
	g, err := NewLiveGate("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Allow("wrong") {
		t.Fatal("expected wrong passphrase to be rejected")
	}
}
