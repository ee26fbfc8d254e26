package gree

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// startResponder runs a loopback UDP server that answers each datagram
// through reply. A nil reply result stays silent.
func startResponder(t *testing.T, reply func(request []byte) []byte) string {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("starting responder: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if out := reply(buf[:n]); out != nil {
				conn.WriteToUDP(out, addr)
			}
		}
	}()

	return conn.LocalAddr().String()
}

func TestUDPTransport_Exchange(t *testing.T) {
	addr := startResponder(t, func(request []byte) []byte {
		if string(request) != `{"t":"scan"}` {
			return nil
		}
		return []byte(`{"t":"pack","i":1,"pack":"abc"}`)
	})

	tr := NewUDPTransport(UDPTransportOptions{ExchangeTimeout: time.Second})
	reply, err := tr.Exchange(context.Background(), addr, ScanRequest())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(reply) != `{"t":"pack","i":1,"pack":"abc"}` {
		t.Errorf("Exchange() = %s", reply)
	}

	m := tr.Metrics()
	if m.PacketsSent != 1 || m.PacketsReceived != 1 {
		t.Errorf("Metrics() = %+v, want one sent and one received", m)
	}
}

func TestUDPTransport_DropsMalformedDatagrams(t *testing.T) {
	// Responder sends a garbage datagram first, then the valid reply.
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("starting responder: %v", err)
	}
	defer conn.Close()
	addr := conn.LocalAddr().String()

	go func() {
		buf := make([]byte, maxDatagramSize)
		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil || n == 0 {
			return
		}
		conn.WriteToUDP([]byte("###garbage###"), remote)
		conn.WriteToUDP([]byte(`{"t":"pack","pack":"abc"}`), remote)
	}()

	tr := NewUDPTransport(UDPTransportOptions{ExchangeTimeout: 2 * time.Second})
	reply, err := tr.Exchange(context.Background(), addr, ScanRequest())
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if string(reply) != `{"t":"pack","pack":"abc"}` {
		t.Errorf("Exchange() = %s, want the JSON datagram", reply)
	}
	if tr.Metrics().DroppedReplies != 1 {
		t.Errorf("DroppedReplies = %d, want 1", tr.Metrics().DroppedReplies)
	}
}

func TestUDPTransport_RetriesThenUnreachable(t *testing.T) {
	var received atomic.Int32
	addr := startResponder(t, func(request []byte) []byte {
		received.Add(1)
		return nil // stay silent, forcing timeouts
	})

	tr := NewUDPTransport(UDPTransportOptions{
		ExchangeTimeout: 200 * time.Millisecond,
		MaxRetries:      2,
	})

	_, err := tr.Exchange(context.Background(), addr, ScanRequest())
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("Exchange() error = %v, want ErrDeviceUnreachable", err)
	}

	// Initial attempt plus two retries.
	if got := received.Load(); got != 3 {
		t.Errorf("responder received %d datagrams, want 3", got)
	}
	m := tr.Metrics()
	if m.Retries != 2 {
		t.Errorf("Retries = %d, want 2", m.Retries)
	}
	if m.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", m.Timeouts)
	}
}

func TestUDPTransport_ExchangeCancelled(t *testing.T) {
	addr := startResponder(t, func(request []byte) []byte {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tr := NewUDPTransport(UDPTransportOptions{ExchangeTimeout: 10 * time.Second})
	start := time.Now()
	_, err := tr.Exchange(ctx, addr, ScanRequest())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Exchange() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Exchange() did not return promptly on cancellation")
	}
}

func TestUDPTransport_WithPort(t *testing.T) {
	tr := NewUDPTransport(UDPTransportOptions{Port: 7000})

	tests := []struct {
		in   string
		want string
	}{
		{"192.168.1.50", "192.168.1.50:7000"},
		{"192.168.1.50:9000", "192.168.1.50:9000"},
	}
	for _, tt := range tests {
		if got := tr.withPort(tt.in); got != tt.want {
			t.Errorf("withPort(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestUDPTransport_BroadcastScan_Loopback(t *testing.T) {
	// Exercise the scan socket against a loopback responder. The scan
	// is addressed directly rather than to a broadcast address so the
	// test does not depend on the host's network configuration.
	addr := startResponder(t, func(request []byte) []byte {
		if string(request) != `{"t":"scan"}` {
			return nil
		}
		return []byte(`{"t":"pack","pack":"devpack"}`)
	})

	tr := NewUDPTransport(UDPTransportOptions{})
	results, err := tr.BroadcastScan(context.Background(), addr, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("BroadcastScan() error = %v", err)
	}

	var got []ScanResult
	for r := range results {
		got = append(got, r)
	}
	if len(got) != 1 {
		t.Fatalf("BroadcastScan() yielded %d results, want 1", len(got))
	}
	if string(got[0].Data) != `{"t":"pack","pack":"devpack"}` {
		t.Errorf("scan result = %s", got[0].Data)
	}
	if got[0].Addr == nil {
		t.Error("scan result has no source address")
	}
}
