package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "gree"

// Topics provides builders for the bridge's MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// The topic scheme is flat under a configurable prefix:
//
//	{prefix}/{deviceID}          device state (retained)
//	{prefix}/{deviceID}/set      commands to a device
//	{prefix}/{deviceID}/ack      command acknowledgements
//	{prefix}/status              bridge online/offline (retained, LWT)
//	{prefix}/health              periodic health report
//
// Example:
//
//	topics := mqtt.Topics{Prefix: "gree"}
//	stateTopic := topics.DeviceState("f4911e123456")
//	// Returns: "gree/f4911e123456"
type Topics struct {
	// Prefix is the root of the topic tree. Empty means DefaultPrefix.
	Prefix string
}

// prefix returns the configured prefix or the default.
func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultPrefix
	}
	return t.Prefix
}

// DeviceState returns the retained state topic for a device.
//
// Example: gree/f4911e123456
func (t Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s", t.prefix(), deviceID)
}

// DeviceSet returns the command topic for a device.
//
// Example: gree/f4911e123456/set
func (t Topics) DeviceSet(deviceID string) string {
	return fmt.Sprintf("%s/%s/set", t.prefix(), deviceID)
}

// DeviceAck returns the command acknowledgement topic for a device.
//
// Example: gree/f4911e123456/ack
func (t Topics) DeviceAck(deviceID string) string {
	return fmt.Sprintf("%s/%s/ack", t.prefix(), deviceID)
}

// SystemStatus returns the bridge online/offline status topic.
// This is also the LWT topic, so subscribers can detect a crashed bridge.
//
// Example: gree/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", t.prefix())
}

// Health returns the periodic health report topic.
//
// Example: gree/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health", t.prefix())
}

// AllDeviceSets returns a pattern matching command topics for all devices.
//
// Pattern: gree/+/set
func (t Topics) AllDeviceSets() string {
	return fmt.Sprintf("%s/+/set", t.prefix())
}

// ParseDeviceSet extracts the device ID from a command topic.
// Returns false for topics that are not {prefix}/{deviceID}/set.
func (t Topics) ParseDeviceSet(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/")
	if !ok {
		return "", false
	}
	deviceID, ok := strings.CutSuffix(rest, "/set")
	if !ok || deviceID == "" || strings.Contains(deviceID, "/") {
		return "", false
	}
	return deviceID, true
}
