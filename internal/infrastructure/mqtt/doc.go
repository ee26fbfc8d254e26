// Package mqtt provides the bridge's connection to the MQTT broker.
//
// This package wraps paho.mqtt.golang with:
//   - Connection management with automatic reconnection
//   - Subscription tracking and restoration after reconnect
//   - Last Will and Testament on {prefix}/status for offline detection
//   - Panic recovery around message handlers
//   - Topic builders for the bridge's topic scheme
//
// Topic scheme (prefix configurable, default "gree"):
//
//	gree/{deviceID}          retained device state
//	gree/{deviceID}/set      commands to a device
//	gree/{deviceID}/ack      command acknowledgements
//	gree/status              bridge online/offline (retained, LWT)
//	gree/health              periodic health report
//
// Usage:
//
//	topics := mqtt.Topics{Prefix: cfg.Bridge.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllDeviceSets(), 1, handleCommand)
//
// Thread Safety:
//   - All client methods are safe for concurrent use.
//   - Message handlers run in separate goroutines; they should not block.
package mqtt
