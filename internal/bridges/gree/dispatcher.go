package gree

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Command is one unit of dispatcher work: a set of parameter changes
// for a single device.
type Command struct {
	// ID correlates the command with its MQTT acknowledgement.
	ID string

	// DeviceID targets the device.
	DeviceID string

	// Params are the requested changes, symbolic values included.
	Params map[string]any

	// EnqueuedAt is when the command entered the queue.
	EnqueuedAt time.Time
}

// CommandResult reports the outcome of a dispatched command.
type CommandResult struct {
	Command Command

	// Acked holds the device-acknowledged values on success.
	Acked map[string]any

	// Err is set when the command failed.
	Err error

	// Latency is queue-to-completion time.
	Latency time.Duration
}

// CommandExecutor runs a single command against a device. Implemented
// by Communicator.SendCommand and mocked in tests.
type CommandExecutor interface {
	SendCommand(ctx context.Context, deviceID string, params map[string]any) (map[string]any, error)
}

// DispatcherMetrics is a snapshot of dispatcher counters.
type DispatcherMetrics struct {
	Submitted     uint64  `json:"submitted"`
	Completed     uint64  `json:"completed"`
	Failed        uint64  `json:"failed"`
	Rejected      uint64  `json:"rejected"`
	QueueDepth    int     `json:"queue_depth"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	LastLatencyMS float64 `json:"last_latency_ms"`
}

// Dispatcher executes device commands through a bounded worker pool.
//
// Commands for different devices run concurrently up to the worker
// count; the communicator's per-device lock keeps commands for the
// same device strictly ordered against each other and against polls.
// A full queue rejects immediately with ErrQueueFull rather than
// blocking the MQTT receive path.
type Dispatcher struct {
	executor CommandExecutor
	known    func(ctx context.Context, deviceID string) error
	onResult func(CommandResult)
	logger   Logger

	// queueMu guards Submit sends against the queue close in Stop.
	queueMu sync.RWMutex
	queue   chan Command
	timeout time.Duration
	workers int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64

	latencyMu    sync.Mutex
	latencySum   time.Duration
	latencyCount uint64
	lastLatency  time.Duration
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	// Executor runs commands. Required.
	Executor CommandExecutor

	// KnownDevice validates a device ID before queueing. Unknown devices
	// are rejected synchronously so callers can answer the MQTT publisher
	// immediately. Optional.
	KnownDevice func(ctx context.Context, deviceID string) error

	// OnResult receives every command outcome. Optional.
	OnResult func(CommandResult)

	// Workers is the pool size. Default 4.
	Workers int

	// QueueSize is the inbound queue capacity. Default 64.
	QueueSize int

	// CommandTimeout bounds one command end to end. Default 15s.
	CommandTimeout time.Duration

	// Logger is optional.
	Logger Logger
}

// NewDispatcher creates a dispatcher. Call Start before Submit.
func NewDispatcher(opts DispatcherOptions) (*Dispatcher, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("gree: executor is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		executor: opts.Executor,
		known:    opts.KnownDevice,
		onResult: opts.OnResult,
		logger:   opts.Logger,
		queue:    make(chan Command, opts.QueueSize),
		timeout:  opts.CommandTimeout,
		workers:  opts.Workers,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the worker pool. Safe to call once.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		d.logger.Info("dispatcher started", "workers", d.workers, "queue_size", cap(d.queue))
	})
}

// Stop shuts the pool down after draining the queue. New submissions
// are rejected immediately; commands already accepted run to completion
// under their normal timeout, so every queued command still reaches the
// result callback instead of vanishing.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.queueMu.Lock()
		d.stopped.Store(true)
		close(d.queue)
		d.queueMu.Unlock()

		d.wg.Wait()
		d.cancel()
		d.logger.Info("dispatcher stopped")
	})
}

// Submit queues a command and returns its correlation ID.
//
// Rejections are synchronous: ErrDispatcherStopped after Stop,
// ErrUnknownDevice when the device check fails, ErrQueueFull when the
// queue cannot accept more work.
func (d *Dispatcher) Submit(ctx context.Context, deviceID string, params map[string]any) (string, error) {
	if d.stopped.Load() {
		return "", ErrDispatcherStopped
	}
	if d.known != nil {
		if err := d.known(ctx, deviceID); err != nil {
			d.rejected.Add(1)
			return "", fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
		}
	}

	cmd := Command{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Params:     params,
		EnqueuedAt: time.Now(),
	}

	d.queueMu.RLock()
	defer d.queueMu.RUnlock()
	if d.stopped.Load() {
		return "", ErrDispatcherStopped
	}

	select {
	case d.queue <- cmd:
		d.submitted.Add(1)
		return cmd.ID, nil
	default:
		d.rejected.Add(1)
		return "", fmt.Errorf("%w: %d commands queued", ErrQueueFull, cap(d.queue))
	}
}

// worker executes commands until the queue is closed and drained.
func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for cmd := range d.queue {
		d.execute(cmd)
	}
}

// execute runs one command with the configured timeout and reports the
// outcome.
func (d *Dispatcher) execute(cmd Command) {
	ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
	defer cancel()

	acked, err := d.executor.SendCommand(ctx, cmd.DeviceID, cmd.Params)
	latency := time.Since(cmd.EnqueuedAt)
	d.recordLatency(latency)

	if err != nil {
		d.failed.Add(1)
		d.logger.Warn("command failed",
			"command_id", cmd.ID,
			"device", cmd.DeviceID,
			"latency_ms", latency.Milliseconds(),
			"error", err)
	} else {
		d.completed.Add(1)
		d.logger.Debug("command completed",
			"command_id", cmd.ID,
			"device", cmd.DeviceID,
			"latency_ms", latency.Milliseconds())
	}

	if d.onResult != nil {
		d.onResult(CommandResult{
			Command: cmd,
			Acked:   acked,
			Err:     err,
			Latency: latency,
		})
	}
}

// recordLatency folds a sample into the rolling latency figures.
func (d *Dispatcher) recordLatency(latency time.Duration) {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()
	d.latencySum += latency
	d.latencyCount++
	d.lastLatency = latency
}

// Metrics returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	d.latencyMu.Lock()
	var avg float64
	if d.latencyCount > 0 {
		avg = float64(d.latencySum.Milliseconds()) / float64(d.latencyCount)
	}
	last := float64(d.lastLatency.Milliseconds())
	d.latencyMu.Unlock()

	return DispatcherMetrics{
		Submitted:     d.submitted.Load(),
		Completed:     d.completed.Load(),
		Failed:        d.failed.Load(),
		Rejected:      d.rejected.Load(),
		QueueDepth:    len(d.queue),
		AvgLatencyMS:  avg,
		LastLatencyMS: last,
	}
}
