package device

import (
	"net"
	"strconv"
	"time"
)

// Device represents one Gree air conditioner on the local network.
// Identity and bind material match the schema in
// migrations/20260815_120000_devices.up.sql; Params is runtime-only
// and never persisted.
type Device struct {
	// Identity. ID is the device MAC address as reported in the scan
	// response, lowercase hex without separators.
	ID   string `json:"id"`
	Name string `json:"name"`

	// Network location, refreshed on every successful scan.
	IP   string `json:"ip"`
	Port int    `json:"port"`

	// Bind material. SessionKey is the per-device AES key negotiated
	// during bind; UseGCM records which cipher variant the firmware
	// speaks so rebinding after restart uses the right one.
	SessionKey string    `json:"-"`
	UseGCM     bool      `json:"use_gcm"`
	BindState  BindState `json:"bind_state"`

	// LastSeen is the time of the last successful exchange.
	LastSeen *time.Time `json:"last_seen,omitempty"`

	// Params is the last acknowledged parameter snapshot
	// (e.g. {"Pow": 1, "SetTem": 22}). In-memory only.
	Params Params `json:"params,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Params holds device parameters keyed by protocol name.
//
// Examples:
//   - {"Pow": 1, "Mod": 4, "SetTem": 22}
//   - {"TemSen": 67, "WdSpd": 0}
type Params map[string]any

// DeepCopy creates a complete independent copy of the Device.
// The Params map is cloned so modifications to the copy do not
// affect the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d // Shallow copy of value fields

	cpy.Params = deepCopyParams(d.Params)

	if d.LastSeen != nil {
		ls := *d.LastSeen
		cpy.LastSeen = &ls
	}

	return &cpy
}

// IsBound reports whether the device has completed the bind handshake
// and holds a usable session key.
func (d *Device) IsBound() bool {
	return d.BindState == BindStateBound && d.SessionKey != ""
}

// Addr returns the device's network address as host:port. A zero Port
// falls back to the vendor default control port.
func (d *Device) Addr() string {
	port := d.Port
	if port == 0 {
		port = 7000
	}
	return net.JoinHostPort(d.IP, strconv.Itoa(port))
}

// deepCopyParams creates a deep copy of a Params map.
// Nested maps and slices are recursively copied.
func deepCopyParams(p Params) Params {
	if p == nil {
		return nil
	}
	cpy := make(Params, len(p))
	for k, v := range p {
		cpy[k] = deepCopyValue(v)
	}
	return cpy
}

// deepCopyValue recursively copies a value, handling nested maps and slices.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		cpy := make(map[string]any, len(val))
		for k, elem := range val {
			cpy[k] = deepCopyValue(elem)
		}
		return cpy
	case []any:
		cpy := make([]any, len(val))
		for i, elem := range val {
			cpy[i] = deepCopyValue(elem)
		}
		return cpy
	default:
		// Primitives (string, bool, int, float64, etc.) are safe to copy by value
		return v
	}
}

// BindState represents where a device is in the bind handshake.
type BindState string

// BindState constants.
const (
	BindStateUnbound BindState = "unbound"
	BindStateBinding BindState = "binding"
	BindStateBound   BindState = "bound"
)

// AllBindStates returns all valid bind state values.
func AllBindStates() []BindState {
	return []BindState{BindStateUnbound, BindStateBinding, BindStateBound}
}

// Valid reports whether s is a recognised bind state.
func (s BindState) Valid() bool {
	switch s {
	case BindStateUnbound, BindStateBinding, BindStateBound:
		return true
	default:
		return false
	}
}
