package gree

import (
	"sync"
	"time"
)

// Tier is a polling rate level. Higher tiers poll faster and decay one
// step at a time back towards TierNormal once their hold expires.
type Tier int

const (
	// TierNormal is the steady-state rate. It has no hold.
	TierNormal Tier = iota

	// TierFast is the last decay step before returning to normal.
	TierFast

	// TierUltraFast follows a burst of activity.
	TierUltraFast

	// TierImmediate is entered on command activity for near-instant
	// feedback on state changes.
	TierImmediate
)

// String returns the tier name used in logs and metrics tags.
func (t Tier) String() string {
	switch t {
	case TierImmediate:
		return "immediate"
	case TierUltraFast:
		return "ultra_fast"
	case TierFast:
		return "fast"
	default:
		return "normal"
	}
}

// TierSettings is the interval and hold for one tier.
type TierSettings struct {
	// Interval is how often a device at this tier is polled.
	Interval time.Duration

	// Hold is how long the tier persists before decaying one step.
	// Zero for the terminal tier.
	Hold time.Duration
}

// PollingSchedule maps each tier to its settings.
type PollingSchedule struct {
	Normal    TierSettings
	Fast      TierSettings
	UltraFast TierSettings
	Immediate TierSettings
}

// DefaultPollingSchedule mirrors the config defaults.
func DefaultPollingSchedule() PollingSchedule {
	return PollingSchedule{
		Normal:    TierSettings{Interval: 4 * time.Second},
		Fast:      TierSettings{Interval: 2 * time.Second, Hold: 30 * time.Second},
		UltraFast: TierSettings{Interval: 500 * time.Millisecond, Hold: 10 * time.Second},
		Immediate: TierSettings{Interval: 100 * time.Millisecond, Hold: 2 * time.Second},
	}
}

// deviceSchedule is the per-device polling state.
type deviceSchedule struct {
	tier      Tier
	holdUntil time.Time
	lastPoll  time.Time
}

// PollingManager decides when each device is due for a status poll.
//
// Command activity escalates a device to TierImmediate. When a tier's
// hold expires the device decays exactly one step, so a burst of
// commands ramps down gradually instead of snapping back to the slow
// rate. All time flows in through explicit now parameters, which keeps
// the scheduling logic deterministic under test.
type PollingManager struct {
	mu       sync.Mutex
	schedule PollingSchedule
	devices  map[string]*deviceSchedule
}

// NewPollingManager creates a manager with the given schedule.
func NewPollingManager(schedule PollingSchedule) *PollingManager {
	return &PollingManager{
		schedule: schedule,
		devices:  make(map[string]*deviceSchedule),
	}
}

// Track registers a device at TierNormal. Already-tracked devices keep
// their current tier.
func (m *PollingManager) Track(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[deviceID]; !ok {
		m.devices[deviceID] = &deviceSchedule{tier: TierNormal}
	}
}

// Untrack removes a device from the schedule.
func (m *PollingManager) Untrack(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, deviceID)
}

// RecordActivity escalates a device to TierImmediate and starts its
// hold. Called when a command is dispatched to the device.
func (m *PollingManager) RecordActivity(deviceID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.devices[deviceID]
	if !ok {
		ds = &deviceSchedule{}
		m.devices[deviceID] = ds
	}
	ds.tier = TierImmediate
	ds.holdUntil = now.Add(m.schedule.Immediate.Hold)
}

// Tick decays any device whose hold has expired by one step and starts
// the next tier's hold. Call it from the poll scheduler loop.
func (m *PollingManager) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ds := range m.devices {
		if ds.tier == TierNormal || now.Before(ds.holdUntil) {
			continue
		}
		ds.tier--
		ds.holdUntil = now.Add(m.settings(ds.tier).Hold)
	}
}

// Due reports whether a device's poll interval has elapsed.
func (m *PollingManager) Due(deviceID string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ds, ok := m.devices[deviceID]
	if !ok {
		return false
	}
	return !now.Before(ds.lastPoll.Add(m.settings(ds.tier).Interval))
}

// MarkPolled records a completed poll so the next one waits a full
// interval.
func (m *PollingManager) MarkPolled(deviceID string, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ds, ok := m.devices[deviceID]; ok {
		ds.lastPoll = now
	}
}

// Tier returns a device's current tier. Untracked devices report
// TierNormal.
func (m *PollingManager) Tier(deviceID string) Tier {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ds, ok := m.devices[deviceID]; ok {
		return ds.tier
	}
	return TierNormal
}

// TrackedCount returns the number of scheduled devices.
func (m *PollingManager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// settings returns the settings for a tier.
func (m *PollingManager) settings(t Tier) TierSettings {
	switch t {
	case TierImmediate:
		return m.schedule.Immediate
	case TierUltraFast:
		return m.schedule.UltraFast
	case TierFast:
		return m.schedule.Fast
	default:
		return m.schedule.Normal
	}
}
