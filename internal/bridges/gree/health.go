package gree

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus is the bridge's overall condition.
type HealthStatus string

const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is the JSON document published to the health topic.
type HealthMessage struct {
	BridgeID      string            `json:"bridge_id"`
	Version       string            `json:"version"`
	Status        HealthStatus      `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     time.Time         `json:"timestamp"`
	Devices       HealthDevices     `json:"devices"`
	Transport     TransportMetrics  `json:"transport"`
	Dispatcher    DispatcherMetrics `json:"dispatcher"`
}

// HealthDevices summarises the device fleet.
type HealthDevices struct {
	Total int `json:"total"`
	Bound int `json:"bound"`
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	bridgeID   string
	version    string
	topic      string
	startTime  time.Time
	interval   time.Duration
	publisher  HealthPublisher
	transport  Transport
	dispatcher *Dispatcher

	// Device counts (updated externally)
	devices   HealthDevices
	devicesMu sync.RWMutex

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// BridgeID is the bridge identifier for health messages.
	BridgeID string

	// Version is the bridge software version.
	Version string

	// Topic is the MQTT topic health messages are published to.
	Topic string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Transport provides datagram traffic counters. Optional.
	Transport Transport

	// Dispatcher provides command execution counters. Optional.
	Dispatcher *Dispatcher
}

// NewHealthReporter creates a new health reporter.
// Ready to start; call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}

	return &HealthReporter{
		bridgeID:   cfg.BridgeID,
		version:    cfg.Version,
		topic:      cfg.Topic,
		startTime:  time.Now(),
		interval:   interval,
		publisher:  cfg.Publisher,
		transport:  cfg.Transport,
		dispatcher: cfg.Dispatcher,
		done:       make(chan struct{}),
	}
}

// Start begins periodic health reporting.
// Must be called after creation. Call Stop to shut down.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times (uses sync.Once).
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		// Best-effort during shutdown, nothing we can do if it fails
		//nolint:errcheck
		h.publishStatus(HealthStopping, "")
	})
}

// SetDeviceCounts updates the fleet summary.
// Called when discovery or binding changes the device population.
func (h *HealthReporter) SetDeviceCounts(total, bound int) {
	h.devicesMu.Lock()
	h.devices = HealthDevices{Total: total, Bound: bound}
	h.devicesMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
// Called during bridge initialization.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
// Useful for forcing an update after a significant event.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// reportLoop runs the periodic health reporting.
func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Publish initial status
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}

	// No bound devices means nothing can be controlled.
	h.devicesMu.RLock()
	devices := h.devices
	h.devicesMu.RUnlock()
	if devices.Total > 0 && devices.Bound == 0 {
		return HealthDegraded, "no devices bound"
	}

	return HealthHealthy, ""
}

// publishStatus publishes a health status message.
func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil // No publisher configured
	}

	h.devicesMu.RLock()
	devices := h.devices
	h.devicesMu.RUnlock()

	msg := HealthMessage{
		BridgeID:      h.bridgeID,
		Version:       h.version,
		Status:        status,
		Reason:        reason,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Timestamp:     time.Now().UTC(),
		Devices:       devices,
	}
	if h.transport != nil {
		msg.Transport = h.transport.Metrics()
	}
	if h.dispatcher != nil {
		msg.Dispatcher = h.dispatcher.Metrics()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained so late subscribers see the last known state
	return h.publisher.Publish(h.topic, payload, 1, true)
}

// logError logs an error if logger is set.
func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
