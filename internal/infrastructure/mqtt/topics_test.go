package mqtt

import "testing"

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "gree"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"device state", topics.DeviceState("f4911e123456"), "gree/f4911e123456"},
		{"device set", topics.DeviceSet("f4911e123456"), "gree/f4911e123456/set"},
		{"device ack", topics.DeviceAck("f4911e123456"), "gree/f4911e123456/ack"},
		{"system status", topics.SystemStatus(), "gree/status"},
		{"health", topics.Health(), "gree/health"},
		{"all device sets", topics.AllDeviceSets(), "gree/+/set"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestTopics_DefaultPrefix(t *testing.T) {
	topics := Topics{}

	if got := topics.SystemStatus(); got != "gree/status" {
		t.Errorf("SystemStatus() = %q, want default prefix", got)
	}
}

func TestTopics_CustomPrefix(t *testing.T) {
	topics := Topics{Prefix: "home/ac"}

	if got := topics.DeviceSet("abc"); got != "home/ac/abc/set" {
		t.Errorf("DeviceSet() = %q, want home/ac/abc/set", got)
	}
	if id, ok := topics.ParseDeviceSet("home/ac/abc/set"); !ok || id != "abc" {
		t.Errorf("ParseDeviceSet() = %q, %v, want abc, true", id, ok)
	}
}

func TestParseDeviceSet(t *testing.T) {
	topics := Topics{Prefix: "gree"}

	tests := []struct {
		name   string
		topic  string
		wantID string
		wantOK bool
	}{
		{
			name:   "valid set topic",
			topic:  "gree/f4911e123456/set",
			wantID: "f4911e123456",
			wantOK: true,
		},
		{
			name:   "state topic is not a command",
			topic:  "gree/f4911e123456",
			wantOK: false,
		},
		{
			name:   "wrong prefix",
			topic:  "other/f4911e123456/set",
			wantOK: false,
		},
		{
			name:   "missing device id",
			topic:  "gree//set",
			wantOK: false,
		},
		{
			name:   "extra levels",
			topic:  "gree/a/b/set",
			wantOK: false,
		},
		{
			name:   "status topic",
			topic:  "gree/status",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := topics.ParseDeviceSet(tt.topic)
			if ok != tt.wantOK {
				t.Fatalf("ParseDeviceSet(%q) ok = %v, want %v", tt.topic, ok, tt.wantOK)
			}
			if ok && id != tt.wantID {
				t.Errorf("ParseDeviceSet(%q) = %q, want %q", tt.topic, id, tt.wantID)
			}
		})
	}
}
