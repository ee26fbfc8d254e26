package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gree-bridge/internal/device"
	"github.com/nerrad567/gree-bridge/internal/infrastructure/mqtt"
)

// MQTTClient is the broker surface the bridge needs.
// Implemented by mqtt.Client and mocked in tests.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

var _ MQTTClient = (*mqtt.Client)(nil)

// MetricsRecorder receives latency samples. Implemented by the InfluxDB
// client; nil disables metrics.
type MetricsRecorder interface {
	WriteCommandMetric(deviceID string, latency time.Duration, success bool)
	WritePollMetric(deviceID, tier string, duration time.Duration, success bool)
}

// Bridge connects Gree devices to MQTT.
//
// Inbound: JSON commands on {prefix}/{id}/set are queued on the
// dispatcher and answered with an acknowledgement on {prefix}/{id}/ack.
// Outbound: every status poll and command acknowledgement publishes the
// device's state to {prefix}/{id} (retained). A discovery loop finds
// and binds devices; an adaptive poll loop keeps state fresh, polling
// faster for a short window after each command.
type Bridge struct {
	topics mqtt.Topics
	qos    byte
	retain bool

	mqtt       MQTTClient
	comm       *Communicator
	dispatcher *Dispatcher
	polling    *PollingManager
	store      DeviceStore
	health     *HealthReporter
	metrics    MetricsRecorder

	discoveryInterval time.Duration
	scanTimeout       time.Duration

	// Last published state per device, to skip no-op publishes.
	stateMu   sync.Mutex
	lastState map[string]string

	// Devices with a poll currently running. A device is never polled
	// again while its previous poll is still in flight, so a slow or
	// unreachable unit cannot stack up blocked poll goroutines.
	pollMu     sync.Mutex
	pollActive map[string]bool

	// Shutdown coordination
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	// Logger
	logger   Logger
	loggerMu sync.RWMutex
}

// Options configures a Bridge.
type Options struct {
	// BridgeID identifies this instance in health messages. Required.
	BridgeID string

	// Version is the software version reported in health messages.
	Version string

	// Topics builds the MQTT topic tree.
	Topics mqtt.Topics

	// QoS and Retain apply to state publishes.
	QoS    byte
	Retain bool

	// MQTT is the broker client. Required.
	MQTT MQTTClient

	// Communicator runs the device protocol. Required.
	Communicator *Communicator

	// Store is the device registry. Required.
	Store DeviceStore

	// PollingSchedule sets the adaptive poll tiers. Zero value gets
	// defaults.
	PollingSchedule PollingSchedule

	// Workers, QueueSize and CommandTimeout configure the dispatcher.
	Workers        int
	QueueSize      int
	CommandTimeout time.Duration

	// DiscoveryInterval is how often unbound devices are re-scanned.
	// Default 5 minutes.
	DiscoveryInterval time.Duration

	// ScanTimeout bounds one broadcast scan. Default 5 seconds.
	ScanTimeout time.Duration

	// HealthInterval is the health report period. Default 30 seconds.
	HealthInterval time.Duration

	// Metrics is optional latency recording.
	Metrics MetricsRecorder

	// Logger is optional structured logging.
	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.BridgeID == "" {
		return nil, errors.New("gree: bridge id is required")
	}
	if opts.MQTT == nil {
		return nil, errors.New("gree: mqtt client is required")
	}
	if opts.Communicator == nil {
		return nil, errors.New("gree: communicator is required")
	}
	if opts.Store == nil {
		return nil, errors.New("gree: device store is required")
	}
	if opts.DiscoveryInterval <= 0 {
		opts.DiscoveryInterval = 5 * time.Minute
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	schedule := opts.PollingSchedule
	if schedule == (PollingSchedule{}) {
		schedule = DefaultPollingSchedule()
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		topics:            opts.Topics,
		qos:               opts.QoS,
		retain:            opts.Retain,
		mqtt:              opts.MQTT,
		comm:              opts.Communicator,
		polling:           NewPollingManager(schedule),
		store:             opts.Store,
		metrics:           opts.Metrics,
		discoveryInterval: opts.DiscoveryInterval,
		scanTimeout:       opts.ScanTimeout,
		lastState:         make(map[string]string),
		pollActive:        make(map[string]bool),
		done:              make(chan struct{}),
		ctx:               ctx,
		ctxCancel:         cancel,
		logger:            opts.Logger,
	}

	dispatcher, err := NewDispatcher(DispatcherOptions{
		Executor:       opts.Communicator,
		KnownDevice:    b.checkKnownDevice,
		OnResult:       b.handleCommandResult,
		Workers:        opts.Workers,
		QueueSize:      opts.QueueSize,
		CommandTimeout: opts.CommandTimeout,
		Logger:         opts.Logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	b.dispatcher = dispatcher

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:   opts.BridgeID,
		Version:    opts.Version,
		Topic:      opts.Topics.Health(),
		Interval:   opts.HealthInterval,
		Publisher:  opts.MQTT,
		Transport:  opts.Communicator.transport,
		Dispatcher: dispatcher,
	})
	b.health.SetLogger(opts.Logger)

	return b, nil
}

// Start begins bridge operation: subscribes to command topics, starts
// the dispatcher and the background loops. Blocks only for the initial
// subscription.
func (b *Bridge) Start() error {
	if err := b.health.PublishStarting(); err != nil {
		b.logDebug("starting health publish failed", "error", err)
	}

	commandTopic := b.topics.AllDeviceSets()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleSetMessage); err != nil {
		return fmt.Errorf("subscribing to %s: %w", commandTopic, err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	// Track already-known devices so polling resumes after restart.
	if devices, err := b.store.List(b.ctx); err == nil {
		for _, d := range devices {
			if d.IsBound() {
				b.polling.Track(d.ID)
			}
		}
		b.logInfo("loaded devices from registry", "count", len(devices))
	}
	b.refreshHealthCounts()

	b.dispatcher.Start()
	b.health.Start(b.ctx)

	b.wg.Add(2)
	go b.discoveryLoop()
	go b.pollLoop()

	b.logInfo("bridge started",
		"discovery_interval", b.discoveryInterval,
		"command_topic", commandTopic)
	return nil
}

// Stop shuts the bridge down gracefully. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.dispatcher.Stop()
		b.health.Stop()
		b.logInfo("bridge stopped")
	})
}

// handleSetMessage routes an MQTT command to the dispatcher.
//
// The payload is a JSON object of parameter changes, for example
// {"Pow":"on","SetTem":22}. Acceptance and failure are both answered
// on the ack topic so publishers get immediate feedback.
func (b *Bridge) handleSetMessage(topic string, payload []byte) error {
	deviceID, ok := b.topics.ParseDeviceSet(topic)
	if !ok {
		b.logDebug("ignoring message on unexpected topic", "topic", topic)
		return nil
	}

	var params map[string]any
	if err := json.Unmarshal(payload, &params); err != nil {
		b.publishAckError(deviceID, "", fmt.Sprintf("invalid JSON: %v", err))
		return nil
	}
	if len(params) == 0 {
		b.publishAckError(deviceID, "", "empty command")
		return nil
	}

	commandID, err := b.dispatcher.Submit(b.ctx, deviceID, params)
	if err != nil {
		b.publishAckError(deviceID, "", err.Error())
		b.logDebug("command rejected", "device", deviceID, "error", err)
		return nil
	}

	b.publishAck(deviceID, ack{
		CommandID: commandID,
		Status:    "queued",
		Timestamp: time.Now().UTC(),
	})
	b.logDebug("command queued", "device", deviceID, "command_id", commandID)
	return nil
}

// checkKnownDevice is the dispatcher's pre-queue validation.
func (b *Bridge) checkKnownDevice(ctx context.Context, deviceID string) error {
	_, err := b.store.Get(ctx, deviceID)
	return err
}

// handleCommandResult publishes the outcome of a dispatched command and
// escalates polling for the device.
func (b *Bridge) handleCommandResult(result CommandResult) {
	deviceID := result.Command.DeviceID

	if b.metrics != nil {
		b.metrics.WriteCommandMetric(deviceID, result.Latency, result.Err == nil)
	}

	// Any command is recent activity, failed ones included: a partially
	// applied command still needs fast polls for published state to
	// converge on the device's truth.
	b.polling.RecordActivity(deviceID, time.Now())

	if result.Err != nil {
		b.publishAckError(deviceID, result.Command.ID, result.Err.Error())
		return
	}

	b.publishAck(deviceID, ack{
		CommandID: result.Command.ID,
		Status:    "completed",
		Params:    result.Acked,
		Timestamp: time.Now().UTC(),
	})

	// The acknowledged values are the device's truth; publish them as
	// state right away rather than waiting for the next poll.
	if d, err := b.store.Get(b.ctx, deviceID); err == nil {
		b.publishState(d)
	}
}

// ack is the JSON document published on the ack topic.
type ack struct {
	CommandID string         `json:"command_id,omitempty"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// publishAck publishes a command acknowledgement.
func (b *Bridge) publishAck(deviceID string, a ack) {
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := b.mqtt.Publish(b.topics.DeviceAck(deviceID), payload, b.qos, false); err != nil {
		b.logDebug("ack publish failed", "device", deviceID, "error", err)
	}
}

// publishAckError publishes a failed acknowledgement.
func (b *Bridge) publishAckError(deviceID, commandID, reason string) {
	b.publishAck(deviceID, ack{
		CommandID: commandID,
		Status:    "error",
		Error:     reason,
		Timestamp: time.Now().UTC(),
	})
}

// publishState publishes a device's parameter snapshot to its state
// topic. Identical consecutive snapshots are skipped.
func (b *Bridge) publishState(d *device.Device) {
	if len(d.Params) == 0 {
		return
	}

	payload, err := json.Marshal(d.Params)
	if err != nil {
		b.logError("state marshal failed", "device", d.ID, "error", err)
		return
	}

	b.stateMu.Lock()
	if b.lastState[d.ID] == string(payload) {
		b.stateMu.Unlock()
		return
	}
	b.lastState[d.ID] = string(payload)
	b.stateMu.Unlock()

	if err := b.mqtt.Publish(b.topics.DeviceState(d.ID), payload, b.qos, b.retain); err != nil {
		b.logDebug("state publish failed", "device", d.ID, "error", err)
	}
}

// discoveryLoop scans for devices at startup and re-scans periodically
// so units that were offline or unbound are picked up without a restart.
func (b *Bridge) discoveryLoop() {
	defer b.wg.Done()

	b.discoverAndBind()

	ticker := time.NewTicker(b.discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			b.discoverAndBind()
		}
	}
}

// discoverAndBind runs one discovery pass and binds every unbound
// responder.
func (b *Bridge) discoverAndBind() {
	found, err := b.comm.Discover(b.ctx, b.scanTimeout)
	if err != nil {
		b.logError("discovery failed", "error", err)
	}
	if len(found) > 0 {
		b.logInfo("discovery pass complete", "found", len(found))
	}

	devices, err := b.store.List(b.ctx)
	if err != nil {
		b.logError("listing devices failed", "error", err)
		return
	}

	for _, d := range devices {
		if d.IsBound() {
			b.polling.Track(d.ID)
			continue
		}
		if err := b.comm.Bind(b.ctx, d.ID); err != nil {
			b.logError("bind failed", "device", d.ID, "error", err)
			continue
		}
		b.polling.Track(d.ID)
		b.logInfo("device ready", "device", d.ID)
	}

	b.refreshHealthCounts()
}

// pollLoop drives the adaptive status polling. It ticks at the fastest
// tier's interval; each tick decays expired tiers and polls every
// device whose interval has elapsed.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()

	interval := b.polling.settings(TierImmediate).Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := time.Now()
			b.polling.Tick(now)
			b.pollDue(now)
		}
	}
}

// pollDue polls every device whose interval has elapsed. Devices whose
// previous poll has not returned yet are skipped.
func (b *Bridge) pollDue(now time.Time) {
	devices, err := b.store.List(b.ctx)
	if err != nil {
		return
	}

	for _, d := range devices {
		if !d.IsBound() || !b.polling.Due(d.ID, now) {
			continue
		}

		b.pollMu.Lock()
		if b.pollActive[d.ID] {
			b.pollMu.Unlock()
			continue
		}
		b.pollActive[d.ID] = true
		b.pollMu.Unlock()

		b.polling.MarkPolled(d.ID, now)

		b.wg.Add(1)
		go func(id string) {
			defer b.wg.Done()
			defer func() {
				b.pollMu.Lock()
				delete(b.pollActive, id)
				b.pollMu.Unlock()
			}()
			b.pollDevice(id)
		}(d.ID)
	}
}

// pollDevice fetches one device's status and publishes it.
func (b *Bridge) pollDevice(deviceID string) {
	start := time.Now()
	_, err := b.comm.FetchStatus(b.ctx, deviceID)
	duration := time.Since(start)

	if b.metrics != nil {
		b.metrics.WritePollMetric(deviceID, b.polling.Tier(deviceID).String(), duration, err == nil)
	}

	if err != nil {
		if b.ctx.Err() == nil {
			b.logDebug("poll failed", "device", deviceID, "error", err)
		}
		return
	}

	if d, err := b.store.Get(b.ctx, deviceID); err == nil {
		b.publishState(d)
	}
}

// refreshHealthCounts updates the health reporter's fleet summary.
func (b *Bridge) refreshHealthCounts() {
	devices, err := b.store.List(b.ctx)
	if err != nil {
		return
	}
	bound := 0
	for _, d := range devices {
		if d.IsBound() {
			bound++
		}
	}
	b.health.SetDeviceCounts(len(devices), bound)
}

// GetMetrics returns the bridge's operational counters.
func (b *Bridge) GetMetrics() map[string]any {
	return map[string]any{
		"transport":  b.comm.transport.Metrics(),
		"dispatcher": b.dispatcher.Metrics(),
		"polled":     b.polling.TrackedCount(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
	b.health.SetLogger(logger)
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Info(msg, keysAndValues...)
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Error(msg, keysAndValues...)
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()
	logger.Debug(msg, keysAndValues...)
}
