package core

import (
	"errors"
	"testing"
	"time"
)

func TestSafetyMonitorAccountsEnergy(t *testing.T) {
	mon := NewSafetyMonitor(1.0, LaserGreen, nil)

	// 100 mW for 5 s is half a joule.
	if err := mon.RecordEmission(100, 5*time.Second); err != nil {
		t.Fatalf("within budget, got %v", err)
	}
	emitted, violations, stopped := mon.Snapshot()
	if emitted < 0.499 || emitted > 0.501 {
		t.Fatalf("emitted = %.4f J, want 0.5", emitted)
	}
	if violations != 0 || stopped {
		t.Fatalf("no violation expected yet")
	}
	if !mon.Allowed() {
		t.Fatalf("emission should still be allowed")
	}
}

func TestSafetyMonitorLatchesEmergencyStop(t *testing.T) {
	sink := &recordingSink{}
	mon := NewSafetyMonitor(1.0, LaserGreen, sink)

	if err := mon.RecordEmission(100, 5*time.Second); err != nil {
		t.Fatalf("first emission: %v", err)
	}
	if err := mon.RecordEmission(200, 5*time.Second); err == nil {
		t.Fatalf("crossing the budget should error")
	}
	if mon.Allowed() {
		t.Fatalf("emission should be stopped after the budget is exceeded")
	}
	_, violations, stopped := mon.Snapshot()
	if violations != 1 || !stopped {
		t.Fatalf("violations=%d stopped=%t, want 1/true", violations, stopped)
	}
	if sink.countByType(EventSafety) != 1 {
		t.Fatalf("expected one safety event")
	}

	// Still accounted and still refused while latched.
	if err := mon.RecordEmission(1, time.Second); err == nil {
		t.Fatalf("latched monitor should keep refusing")
	}
}

func TestSafetyMonitorReset(t *testing.T) {
	sink := &recordingSink{}
	mon := NewSafetyMonitor(0.1, LaserGreen, sink)
	_ = mon.RecordEmission(1000, time.Second) // 1 J, over budget

	mon.Reset()
	if !mon.Allowed() {
		t.Fatalf("reset should release the emergency stop")
	}
	emitted, _, _ := mon.Snapshot()
	if emitted != 0 {
		t.Fatalf("reset should clear accumulated energy, got %.4f", emitted)
	}
	if sink.countByType(EventSafety) != 2 {
		t.Fatalf("expected violation plus reset events, got %d", sink.countByType(EventSafety))
	}
}

func TestCheckPowerEnforcesEyeSafeCeiling(t *testing.T) {
	sink := &recordingSink{}
	mon := NewSafetyMonitor(1000, LaserGreen, sink)

	// Visible light: 1 mW Class-2 limit times the margin factor.
	if got := mon.PowerCeilingMW(); got != 10 {
		t.Fatalf("green ceiling = %.2f mW, want 10", got)
	}
	if err := mon.CheckPower(5); err != nil {
		t.Fatalf("5 mW should pass, got %v", err)
	}
	err := mon.CheckPower(15)
	if !errors.Is(err, ErrHardwarePowerExceeded) {
		t.Fatalf("15 mW should exceed the ceiling, got %v", err)
	}
	_, violations, stopped := mon.Snapshot()
	if violations != 1 || stopped {
		t.Fatalf("violations=%d stopped=%t, want 1/false", violations, stopped)
	}
	if sink.countByType(EventSafety) != 1 {
		t.Fatalf("expected one safety event for the ceiling violation")
	}
}

func TestEyeSafeCeilingVariesByLaserType(t *testing.T) {
	if ir := NewSafetyMonitor(0, LaserInfrared, nil).PowerCeilingMW(); ir != 100 {
		t.Fatalf("infrared ceiling = %.2f mW, want 100", ir)
	}
	if uv := NewSafetyMonitor(0, LaserUltraviolet, nil).PowerCeilingMW(); uv != 5 {
		t.Fatalf("ultraviolet ceiling = %.2f mW, want 5", uv)
	}
}

func TestCheckPowerRefusedWhileLatched(t *testing.T) {
	mon := NewSafetyMonitor(0.1, LaserInfrared, nil)
	_ = mon.RecordEmission(1000, time.Second)
	if err := mon.CheckPower(1); err == nil {
		t.Fatalf("latched monitor should refuse any commanded power")
	}
}

func TestSafetyMonitorRejectsNegativeInput(t *testing.T) {
	mon := NewSafetyMonitor(1.0, LaserGreen, nil)
	if err := mon.RecordEmission(-1, time.Second); err == nil {
		t.Fatalf("negative power should be rejected")
	}
	if err := mon.RecordEmission(1, -time.Second); err == nil {
		t.Fatalf("negative duration should be rejected")
	}
}

func TestSafetyMonitorDefaultBudget(t *testing.T) {
	mon := NewSafetyMonitor(0, LaserGreen, nil)
	// 1 W for 999 s stays inside the 1000 J default.
	if err := mon.RecordEmission(1000, 999*time.Second); err != nil {
		t.Fatalf("default budget should absorb 999 J, got %v", err)
	}
	if err := mon.RecordEmission(1000, 2*time.Second); err == nil {
		t.Fatalf("default budget should trip past 1000 J")
	}
}
