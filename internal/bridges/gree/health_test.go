package gree

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// mockPublisher implements HealthPublisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	connected bool
	messages  []publishedMessage
}

type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

func newMockPublisher(connected bool) *mockPublisher {
	return &mockPublisher{connected: connected}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, publishedMessage{
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) getMessages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publishedMessage, len(m.messages))
	copy(result, m.messages)
	return result
}

func newTestReporter(pub *mockPublisher) *HealthReporter {
	return NewHealthReporter(HealthReporterConfig{
		BridgeID:  "gree-bridge-test",
		Version:   "1.0.0-test",
		Topic:     "gree/health",
		Interval:  time.Hour, // periodic path not under test
		Publisher: pub,
	})
}

func TestHealthReporter_PublishNow(t *testing.T) {
	pub := newMockPublisher(true)
	h := newTestReporter(pub)
	h.SetDeviceCounts(3, 2)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	msgs := pub.getMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "gree/health" {
		t.Errorf("topic = %s, want gree/health", msgs[0].topic)
	}
	if msgs[0].qos != 1 || !msgs[0].retained {
		t.Errorf("qos=%d retained=%v, want qos 1 retained", msgs[0].qos, msgs[0].retained)
	}

	var msg HealthMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != HealthHealthy {
		t.Errorf("status = %s, want healthy", msg.Status)
	}
	if msg.BridgeID != "gree-bridge-test" {
		t.Errorf("bridge_id = %s", msg.BridgeID)
	}
	if msg.Devices.Total != 3 || msg.Devices.Bound != 2 {
		t.Errorf("devices = %+v, want 3/2", msg.Devices)
	}
}

func TestHealthReporter_DegradedWhenDisconnected(t *testing.T) {
	pub := newMockPublisher(false)
	h := newTestReporter(pub)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg HealthMessage
	if err := json.Unmarshal(pub.getMessages()[0].payload, &msg); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if msg.Status != HealthDegraded {
		t.Errorf("status = %s, want degraded", msg.Status)
	}
	if msg.Reason == "" {
		t.Error("degraded status carries no reason")
	}
}

func TestHealthReporter_DegradedWhenNothingBound(t *testing.T) {
	pub := newMockPublisher(true)
	h := newTestReporter(pub)
	h.SetDeviceCounts(2, 0)

	if err := h.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg HealthMessage
	json.Unmarshal(pub.getMessages()[0].payload, &msg)
	if msg.Status != HealthDegraded {
		t.Errorf("status = %s, want degraded with unbound fleet", msg.Status)
	}
}

func TestHealthReporter_StopPublishesStopping(t *testing.T) {
	pub := newMockPublisher(true)
	h := newTestReporter(pub)

	ctx := context.Background()
	h.Start(ctx)
	time.Sleep(50 * time.Millisecond) // let the initial publish land
	h.Stop()
	h.Stop() // idempotent

	msgs := pub.getMessages()
	if len(msgs) < 2 {
		t.Fatalf("published %d messages, want at least initial + stopping", len(msgs))
	}

	var last HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].payload, &last); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if last.Status != HealthStopping {
		t.Errorf("final status = %s, want stopping", last.Status)
	}
}

func TestHealthReporter_PublishStarting(t *testing.T) {
	pub := newMockPublisher(true)
	h := newTestReporter(pub)

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}

	var msg HealthMessage
	json.Unmarshal(pub.getMessages()[0].payload, &msg)
	if msg.Status != HealthStarting {
		t.Errorf("status = %s, want starting", msg.Status)
	}
}
