// Package gree bridges Gree air conditioners to MQTT.
//
// Gree units expose a proprietary UDP protocol on port 7000: JSON
// envelopes carrying an AES-encrypted "pack" payload. Original firmware
// uses AES-128-ECB with a well-known handshake key; V2+ firmware uses
// AES-128-GCM with a fixed nonce and a separate tag field. A bind
// handshake negotiates a per-device session key used for everything
// after.
//
// The package is layered bottom-up:
//
//   - Codec (crypto.go) seals and opens pack payloads for one cipher
//     variant.
//   - Envelope and the typed payloads (packet.go) describe the wire
//     format.
//   - Transport (transport.go) moves datagrams: broadcast discovery
//     scans and retried unicast exchanges.
//   - Communicator (communicator.go) composes the above into protocol
//     operations: Discover, Bind, FetchStatus, SendCommand, SyncTime.
//   - Dispatcher (dispatcher.go) runs commands through a bounded worker
//     pool with per-device ordering.
//   - PollingManager (polling.go) schedules status polls across four
//     adaptive rate tiers, escalating after command activity.
//   - Bridge (bridge.go) wires everything to MQTT topics and runs the
//     discovery and poll loops.
//
// Session keys live in the device registry (SQLite) and must never be
// logged.
package gree
