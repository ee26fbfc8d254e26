package gree

import (
	"testing"
	"time"
)

// testSchedule uses round intervals for readable arithmetic.
func testSchedule() PollingSchedule {
	return PollingSchedule{
		Normal:    TierSettings{Interval: 4 * time.Second},
		Fast:      TierSettings{Interval: 2 * time.Second, Hold: 30 * time.Second},
		UltraFast: TierSettings{Interval: 500 * time.Millisecond, Hold: 10 * time.Second},
		Immediate: TierSettings{Interval: 100 * time.Millisecond, Hold: 2 * time.Second},
	}
}

func TestPollingManager_TrackStartsNormal(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	if got := m.Tier("dev1"); got != TierNormal {
		t.Errorf("Tier() = %v, want TierNormal", got)
	}
	if m.TrackedCount() != 1 {
		t.Errorf("TrackedCount() = %d, want 1", m.TrackedCount())
	}
}

func TestPollingManager_ActivityEscalates(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	now := time.Now()
	m.RecordActivity("dev1", now)

	if got := m.Tier("dev1"); got != TierImmediate {
		t.Errorf("Tier() after activity = %v, want TierImmediate", got)
	}
}

func TestPollingManager_DecaysOneStepPerHold(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	now := time.Now()
	m.RecordActivity("dev1", now)

	// Before the immediate hold expires, nothing changes.
	m.Tick(now.Add(1 * time.Second))
	if got := m.Tier("dev1"); got != TierImmediate {
		t.Fatalf("Tier() before hold expiry = %v, want TierImmediate", got)
	}

	// Immediate hold (2s) expires: decay to ultra fast.
	now = now.Add(3 * time.Second)
	m.Tick(now)
	if got := m.Tier("dev1"); got != TierUltraFast {
		t.Fatalf("Tier() after first decay = %v, want TierUltraFast", got)
	}

	// Ultra fast hold (10s) expires: decay to fast.
	now = now.Add(11 * time.Second)
	m.Tick(now)
	if got := m.Tier("dev1"); got != TierFast {
		t.Fatalf("Tier() after second decay = %v, want TierFast", got)
	}

	// Fast hold (30s) expires: back to normal, where it stays.
	now = now.Add(31 * time.Second)
	m.Tick(now)
	if got := m.Tier("dev1"); got != TierNormal {
		t.Fatalf("Tier() after third decay = %v, want TierNormal", got)
	}
	m.Tick(now.Add(time.Hour))
	if got := m.Tier("dev1"); got != TierNormal {
		t.Errorf("Tier() stayed = %v, want TierNormal", got)
	}
}

func TestPollingManager_ActivityResetsDecay(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	now := time.Now()
	m.RecordActivity("dev1", now)

	// Decay once, then fresh activity snaps back to immediate.
	now = now.Add(3 * time.Second)
	m.Tick(now)
	m.RecordActivity("dev1", now)

	if got := m.Tier("dev1"); got != TierImmediate {
		t.Errorf("Tier() after renewed activity = %v, want TierImmediate", got)
	}

	// The new hold runs from the new activity.
	m.Tick(now.Add(1 * time.Second))
	if got := m.Tier("dev1"); got != TierImmediate {
		t.Errorf("Tier() within renewed hold = %v, want TierImmediate", got)
	}
}

func TestPollingManager_Due(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	now := time.Now()

	// Never polled: due immediately.
	if !m.Due("dev1", now) {
		t.Fatal("Due() = false for never-polled device")
	}

	m.MarkPolled("dev1", now)
	if m.Due("dev1", now.Add(1*time.Second)) {
		t.Error("Due() = true inside normal interval")
	}
	if !m.Due("dev1", now.Add(4*time.Second)) {
		t.Error("Due() = false after normal interval elapsed")
	}
}

func TestPollingManager_DueFollowsTier(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")

	now := time.Now()
	m.RecordActivity("dev1", now)
	m.MarkPolled("dev1", now)

	// At the immediate tier the 100ms interval applies.
	if m.Due("dev1", now.Add(50*time.Millisecond)) {
		t.Error("Due() = true inside immediate interval")
	}
	if !m.Due("dev1", now.Add(150*time.Millisecond)) {
		t.Error("Due() = false after immediate interval elapsed")
	}
}

func TestPollingManager_UntrackedNeverDue(t *testing.T) {
	m := NewPollingManager(testSchedule())
	if m.Due("ghost", time.Now()) {
		t.Error("Due() = true for untracked device")
	}
	if got := m.Tier("ghost"); got != TierNormal {
		t.Errorf("Tier() for untracked = %v, want TierNormal", got)
	}
}

func TestPollingManager_Untrack(t *testing.T) {
	m := NewPollingManager(testSchedule())
	m.Track("dev1")
	m.Untrack("dev1")

	if m.TrackedCount() != 0 {
		t.Errorf("TrackedCount() = %d, want 0", m.TrackedCount())
	}
	if m.Due("dev1", time.Now()) {
		t.Error("Due() = true after Untrack")
	}
}

func TestTier_String(t *testing.T) {
	tests := []struct {
		tier Tier
		want string
	}{
		{TierNormal, "normal"},
		{TierFast, "fast"},
		{TierUltraFast, "ultra_fast"},
		{TierImmediate, "immediate"},
	}
	for _, tt := range tests {
		if got := tt.tier.String(); got != tt.want {
			t.Errorf("Tier(%d).String() = %s, want %s", tt.tier, got, tt.want)
		}
	}
}
