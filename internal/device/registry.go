package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups.
//
// The cache is populated on startup via RefreshCache() and kept in sync
// by cache-invalidating mutations. The runtime parameter snapshot lives
// only in the cache; UpdateParams never touches the repository.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	cache   map[string]*Device // Cached devices by ID
	cacheMu sync.RWMutex       // Protects cache
	logger  Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	// Clear and rebuild cache with deep copies
	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get retrieves a device by ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) Get(ctx context.Context, id string) (*Device, error) {
	// Try cache first
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		// Return a deep copy to prevent external mutation of cache
		return cached.DeepCopy(), nil
	}

	// Fall back to repository (might be a new device not yet cached)
	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	// Cache for future lookups (store a deep copy)
	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// List retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	// Return from cache if populated
	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			// Deep copy to prevent external mutation of cache
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	// Fall back to repository
	return r.repo.List(ctx)
}

// Upsert creates the device if it is new or updates identity fields
// (name, IP, port) if it already exists. Bind material on an existing
// row is preserved; discovery finding a device again must not wipe its
// session key.
func (r *Registry) Upsert(ctx context.Context, device *Device) error {
	existing, err := r.repo.GetByID(ctx, device.ID)
	switch {
	case err == nil:
		updated := existing.DeepCopy()
		updated.IP = device.IP
		updated.Port = device.Port
		if device.Name != "" {
			updated.Name = device.Name
		}
		if err := r.repo.Update(ctx, updated); err != nil {
			return err
		}
		r.storeInCache(updated)
		r.logger.Debug("device updated", "id", updated.ID, "ip", updated.IP)
		return nil

	case errors.Is(err, ErrDeviceNotFound):
		if err := r.repo.Create(ctx, device); err != nil {
			return err
		}
		r.storeInCache(device)
		r.logger.Info("device registered", "id", device.ID, "ip", device.IP)
		return nil

	default:
		return err
	}
}

// Delete removes a device.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	// Update cache
	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	return nil
}

// SetBinding records a bind state transition with its session material.
// Passing BindStateBound with an empty key is rejected.
func (r *Registry) SetBinding(ctx context.Context, id string, state BindState, sessionKey string, useGCM bool) error {
	if state == BindStateBound && sessionKey == "" {
		return fmt.Errorf("%w: bound without session key", ErrInvalidDevice)
	}

	if err := r.repo.UpdateBinding(ctx, id, state, sessionKey, useGCM); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.BindState = state
		updated.SessionKey = sessionKey
		updated.UseGCM = useGCM
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	r.logger.Debug("device bind state changed", "id", id, "state", state)
	return nil
}

// MarkSeen records a successful exchange with the device.
func (r *Registry) MarkSeen(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := r.repo.UpdateLastSeen(ctx, id, now); err != nil {
		return err
	}

	// Update cache using deep copy to prevent race conditions
	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		updated := cached.DeepCopy()
		updated.LastSeen = &now
		r.cache[id] = updated
	}
	r.cacheMu.Unlock()

	return nil
}

// UpdateParams merges acknowledged parameter values into the cached
// snapshot. Params are runtime state and are never persisted; a device
// missing from the cache is reported as not found.
func (r *Registry) UpdateParams(id string, params Params) error {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	cached, ok := r.cache[id]
	if !ok {
		return ErrDeviceNotFound
	}

	updated := cached.DeepCopy()
	if updated.Params == nil {
		updated.Params = make(Params, len(params))
	}
	for k, v := range params {
		updated.Params[k] = deepCopyValue(v)
	}
	r.cache[id] = updated

	return nil
}

// Count returns the number of cached devices.
func (r *Registry) Count() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}

// Stats holds registry statistics for monitoring.
type Stats struct {
	TotalDevices int
	ByBindState  map[BindState]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalDevices: len(r.cache),
		ByBindState:  make(map[BindState]int),
	}

	for _, d := range r.cache {
		stats.ByBindState[d.BindState]++
	}

	return stats
}

// storeInCache replaces the cached entry with a deep copy.
func (r *Registry) storeInCache(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
}
