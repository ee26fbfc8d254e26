package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteCommandMetric records the outcome of one device command.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Device identifier (MAC)
//   - latency: Time from dequeue to device acknowledgement
//   - success: Whether the device acknowledged the command
//
// Example:
//
//	client.WriteCommandMetric("f4911e123456", 42*time.Millisecond, true)
func (c *Client) WriteCommandMetric(deviceID string, latency time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"latency_ms": float64(latency.Milliseconds()),
			"success":    success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePollMetric records the outcome of one status poll.
//
// Parameters:
//   - deviceID: Device identifier
//   - tier: Polling tier the device was in ("normal", "fast", ...)
//   - duration: Round-trip time of the status exchange
//   - success: Whether the device responded
func (c *Client) WritePollMetric(deviceID string, tier string, duration time.Duration, success bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"poll",
		map[string]string{
			"device_id": deviceID,
			"tier":      tier,
		},
		map[string]interface{}{
			"duration_ms": float64(duration.Milliseconds()),
			"success":     success,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceMetric writes a single numeric device reading.
//
// Used for readings extracted from status responses, such as the
// ambient temperature sensor.
//
// Parameters:
//   - deviceID: Device identifier
//   - measurement: The metric name (e.g., "temperature_c", "set_temp_c")
//   - value: The numeric value to record
//
// Example:
//
//	client.WriteDeviceMetric("f4911e123456", "temperature_c", 23.0)
func (c *Client) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"device_metrics",
		map[string]string{
			"device_id":   deviceID,
			"measurement": measurement,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("bridge_stats",
//	    map[string]string{"bridge_id": "gree-main"},
//	    map[string]interface{}{"devices_bound": 3, "queue_depth": 0})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
