package gree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

// maxDatagramSize bounds a single read. Device responses are well under
// 1 KiB but status responses with long cols lists can approach it.
const maxDatagramSize = 65507

// ScanResult is one device answer to a broadcast scan.
type ScanResult struct {
	// Addr is the device's source address.
	Addr *net.UDPAddr

	// Data is the raw datagram, an encrypted scan response envelope.
	Data []byte
}

// TransportStats tracks datagram traffic counters. All fields are
// updated atomically and safe to read concurrently.
type TransportStats struct {
	PacketsSent     atomic.Uint64
	PacketsReceived atomic.Uint64
	Retries         atomic.Uint64
	Timeouts        atomic.Uint64
	DroppedReplies  atomic.Uint64
}

// TransportMetrics is a point-in-time copy of the transport counters.
type TransportMetrics struct {
	PacketsSent     uint64 `json:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received"`
	Retries         uint64 `json:"retries"`
	Timeouts        uint64 `json:"timeouts"`
	DroppedReplies  uint64 `json:"dropped_replies"`
}

// Transport exchanges datagrams with devices. It is implemented by
// UDPTransport and mocked in tests.
type Transport interface {
	// Exchange sends request to addr and waits for a reply, retrying on
	// timeout. Returns ErrDeviceUnreachable when every attempt times out.
	Exchange(ctx context.Context, addr string, request []byte) ([]byte, error)

	// BroadcastScan sends the discovery probe to a broadcast address and
	// streams back every response received before the timeout expires.
	// The returned channel is closed when collection finishes.
	BroadcastScan(ctx context.Context, broadcastAddr string, timeout time.Duration) (<-chan ScanResult, error)

	// Metrics returns a snapshot of the traffic counters.
	Metrics() TransportMetrics
}

// UDPTransport implements Transport over UDP port 7000 (or as configured).
type UDPTransport struct {
	port       int
	timeout    time.Duration
	maxRetries int
	stats      TransportStats
	logger     Logger
}

// UDPTransportOptions configures a UDPTransport.
type UDPTransportOptions struct {
	// Port is the device control port.
	Port int

	// ExchangeTimeout is the per-attempt reply deadline.
	ExchangeTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// Logger receives dropped-datagram and retry diagnostics. Optional.
	Logger Logger
}

// NewUDPTransport creates a transport. Zero options get vendor defaults.
func NewUDPTransport(opts UDPTransportOptions) *UDPTransport {
	if opts.Port == 0 {
		opts.Port = 7000
	}
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &UDPTransport{
		port:       opts.Port,
		timeout:    opts.ExchangeTimeout,
		maxRetries: opts.MaxRetries,
		logger:     opts.Logger,
	}
}

// Exchange sends request to a device and waits for its reply.
//
// Each attempt opens a fresh connected socket so late replies from a
// previous attempt cannot be mistaken for the current one. Within an
// attempt, datagrams that are not valid JSON are dropped and the read
// continues until the deadline. Attempts back off by doubling a short
// initial delay, capped at the exchange timeout.
func (t *UDPTransport) Exchange(ctx context.Context, addr string, request []byte) ([]byte, error) {
	target := t.withPort(addr)
	attempts := 1 + t.maxRetries
	backoff := 250 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			t.stats.Retries.Add(1)
			t.logger.Debug("retrying exchange", "addr", target, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > t.timeout {
				backoff = t.timeout
			}
		}

		reply, err := t.exchangeOnce(ctx, target, request)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	t.stats.Timeouts.Add(1)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDeviceUnreachable, target, attempts, lastErr)
}

// exchangeOnce performs a single send and read with one deadline.
func (t *UDPTransport) exchangeOnce(ctx context.Context, target string, request []byte) ([]byte, error) {
	conn, err := net.Dial("udp", target)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", target, err)
	}
	defer conn.Close()

	// Unblock the read if the caller gives up first.
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(0, 0)) })
	defer stop()

	deadline := time.Now().Add(t.timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("setting deadline: %w", err)
	}

	if _, err := conn.Write(request); err != nil {
		return nil, fmt.Errorf("sending to %s: %w", target, err)
	}
	t.stats.PacketsSent.Add(1)

	buf := make([]byte, maxDatagramSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading from %s: %w", target, err)
		}
		t.stats.PacketsReceived.Add(1)

		data := make([]byte, n)
		copy(data, buf[:n])

		// Devices occasionally emit stray non-JSON datagrams. Drop and
		// keep reading until the deadline.
		if !json.Valid(data) {
			t.stats.DroppedReplies.Add(1)
			t.logger.Debug("dropping malformed datagram", "addr", target, "bytes", n)
			continue
		}
		return data, nil
	}
}

// BroadcastScan probes a subnet for devices.
//
// The socket is bound to an ephemeral port with SO_BROADCAST set, the
// plaintext scan request is sent to broadcastAddr, and every response
// arriving before the timeout is streamed over the returned channel.
func (t *UDPTransport) BroadcastScan(ctx context.Context, broadcastAddr string, timeout time.Duration) (<-chan ScanResult, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var soErr error
			if err := c.Control(func(fd uintptr) {
				soErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			}); err != nil {
				return err
			}
			return soErr
		},
	}

	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("opening broadcast socket: %w", err)
	}
	conn := pc.(*net.UDPConn)

	target, err := net.ResolveUDPAddr("udp4", t.withPort(broadcastAddr))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolving broadcast address: %w", err)
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting scan deadline: %w", err)
	}

	if _, err := conn.WriteToUDP(ScanRequest(), target); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending scan to %s: %w", target, err)
	}
	t.stats.PacketsSent.Add(1)

	results := make(chan ScanResult)
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Unix(0, 0)) })

	go func() {
		defer close(results)
		defer stop()
		defer conn.Close()

		buf := make([]byte, maxDatagramSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				if !isTimeout(err) && ctx.Err() == nil {
					t.logger.Debug("scan read ended", "error", err)
				}
				return
			}
			t.stats.PacketsReceived.Add(1)

			data := make([]byte, n)
			copy(data, buf[:n])
			if !json.Valid(data) {
				t.stats.DroppedReplies.Add(1)
				continue
			}

			select {
			case results <- ScanResult{Addr: addr, Data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return results, nil
}

// Metrics returns a snapshot of the traffic counters.
func (t *UDPTransport) Metrics() TransportMetrics {
	return TransportMetrics{
		PacketsSent:     t.stats.PacketsSent.Load(),
		PacketsReceived: t.stats.PacketsReceived.Load(),
		Retries:         t.stats.Retries.Load(),
		Timeouts:        t.stats.Timeouts.Load(),
		DroppedReplies:  t.stats.DroppedReplies.Load(),
	}
}

// withPort appends the control port if addr has none.
func (t *UDPTransport) withPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, fmt.Sprintf("%d", t.port))
}

// isTimeout reports whether err is a read deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
