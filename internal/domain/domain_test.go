package domain

import (
	"testing"
	"time"
)

func TestDescriptorWeight(t *testing.T) {
	d := LayerDescriptor{BaseWeight: 1.2, Multiplier: 0.75}
	if got := d.Weight(); got != 0.9 {
		t.Fatalf("expected 0.9, got %f", got)
	}
}

func TestExitReasonValidity(t *testing.T) {
	for _, r := range []ExitReason{ExitTarget, ExitStop, ExitManual, ExitTimeout} {
		if !r.IsValid() {
			t.Fatalf("expected %s to be valid", r)
		}
	}
	if ExitReason("liquidation").IsValid() {
		t.Fatal("unknown exit reason should be invalid")
	}
}

func TestSupportedLookups(t *testing.T) {
	if !IsSupportedSymbol("BTC") {
		t.Fatal("BTC should be supported")
	}
	if IsSupportedSymbol("FAKE") {
		t.Fatal("FAKE should not be supported")
	}
	if !IsSupportedTimeframe("4h") {
		t.Fatal("4h should be supported")
	}
	if IsSupportedTimeframe("7m") {
		t.Fatal("7m should not be supported")
	}
}

func TestSignalHorizon(t *testing.T) {
	if got := SignalHorizon("1h"); got != 4*time.Hour {
		t.Fatalf("expected 4h horizon for 1h timeframe, got %s", got)
	}
	if got := SignalHorizon("unknown"); got != 4*time.Hour {
		t.Fatalf("expected fallback horizon, got %s", got)
	}
}
