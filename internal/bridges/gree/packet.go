package gree

import (
	"encoding/json"
	"fmt"
)

// Payload type discriminators carried in the "t" field.
const (
	// TypePack marks an envelope carrying an encrypted pack.
	TypePack = "pack"

	// TypeScan is the plaintext discovery probe.
	TypeScan = "scan"

	// TypeDev is a device's scan response (inside the pack).
	TypeDev = "dev"

	// TypeBind requests a session key from a device.
	TypeBind = "bind"

	// TypeBindOK carries the negotiated session key.
	TypeBindOK = "bindok"

	// TypeStatus requests current parameter values.
	TypeStatus = "status"

	// TypeData is the device's answer to a status request.
	TypeData = "dat"

	// TypeCommand sets parameter values on a device.
	TypeCommand = "cmd"

	// TypeResult is the device's acknowledgement of a command.
	TypeResult = "res"
)

// envelopeSenderID identifies the bridge in outgoing envelopes. The
// firmware only checks that it is non-empty and not a device MAC.
const envelopeSenderID = "app"

// Envelope is the outer plaintext frame of every datagram except the
// scan probe. The actual payload travels encrypted in Pack, with Tag
// set only by GCM firmware.
type Envelope struct {
	Type     string `json:"t"`
	Seq      int    `json:"i"`
	UID      int    `json:"uid"`
	DeviceID string `json:"cid,omitempty"`
	TargetID string `json:"tcid,omitempty"`
	Pack     string `json:"pack,omitempty"`
	Tag      string `json:"tag,omitempty"`
}

// Sequence values for the "i" field. Handshake exchanges (scan, bind)
// use 1 to tell the device to decrypt with the generic key; everything
// after bind uses 0 for the session key.
const (
	SeqHandshake = 1
	SeqSession   = 0
)

// ScanRequest returns the plaintext discovery probe. It is the only
// datagram that travels unencrypted.
func ScanRequest() []byte {
	return []byte(`{"t":"scan"}`)
}

// EncodeEnvelope serialises an envelope for the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding envelope: %w", ErrProtocol, err)
	}
	return data, nil
}

// DecodeEnvelope parses a received datagram into an envelope.
// Malformed JSON or a missing type discriminator is ErrProtocol.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed envelope: %w", ErrProtocol, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: envelope missing type", ErrProtocol)
	}
	return env, nil
}

// NewPackEnvelope builds an outgoing envelope around an encrypted pack.
func NewPackEnvelope(targetID string, seq int, pack, tag string) Envelope {
	return Envelope{
		Type:     TypePack,
		Seq:      seq,
		UID:      0,
		DeviceID: envelopeSenderID,
		TargetID: targetID,
		Pack:     pack,
		Tag:      tag,
	}
}

// DevPayload is a device's scan response.
type DevPayload struct {
	Type     string `json:"t"`
	MAC      string `json:"mac"`
	Name     string `json:"name,omitempty"`
	Brand    string `json:"brand,omitempty"`
	Model    string `json:"model,omitempty"`
	Version  string `json:"ver,omitempty"`
	Firmware string `json:"hid,omitempty"`
}

// BindPayload requests a session key.
type BindPayload struct {
	MAC  string `json:"mac"`
	Type string `json:"t"`
	UID  int    `json:"uid"`
}

// NewBindPayload builds the bind request for a device.
func NewBindPayload(deviceID string) BindPayload {
	return BindPayload{MAC: deviceID, Type: TypeBind, UID: 0}
}

// BindOKPayload carries the negotiated session key.
type BindOKPayload struct {
	Type string `json:"t"`
	MAC  string `json:"mac"`
	Key  string `json:"key"`
	R    int    `json:"r,omitempty"`
}

// StatusPayload requests the current values of the named parameters.
type StatusPayload struct {
	Cols []string `json:"cols"`
	MAC  string   `json:"mac"`
	Type string   `json:"t"`
}

// NewStatusPayload builds a status request for a device.
func NewStatusPayload(deviceID string, cols []string) StatusPayload {
	return StatusPayload{Cols: cols, MAC: deviceID, Type: TypeStatus}
}

// DataPayload is the device's answer to a status request. Cols and Dat
// are parallel arrays.
type DataPayload struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac,omitempty"`
	Cols []string `json:"cols"`
	Dat  []any    `json:"dat"`
}

// ParamMap zips the parallel cols/dat arrays into a parameter map.
// A length mismatch is a protocol violation.
func (p DataPayload) ParamMap() (map[string]any, error) {
	if len(p.Cols) != len(p.Dat) {
		return nil, fmt.Errorf("%w: cols/dat length mismatch (%d vs %d)", ErrProtocol, len(p.Cols), len(p.Dat))
	}
	params := make(map[string]any, len(p.Cols))
	for i, col := range p.Cols {
		params[col] = p.Dat[i]
	}
	return params, nil
}

// CommandPayload sets parameter values. Opt and P are parallel arrays.
type CommandPayload struct {
	Opt  []string `json:"opt"`
	P    []any    `json:"p"`
	Type string   `json:"t"`
}

// NewCommandPayload builds a command for a device.
func NewCommandPayload(opt []string, p []any) CommandPayload {
	return CommandPayload{Opt: opt, P: p, Type: TypeCommand}
}

// ResultPayload is the device's acknowledgement of a command. Depending
// on firmware the acknowledged values arrive in P or Val.
type ResultPayload struct {
	Type string   `json:"t"`
	MAC  string   `json:"mac,omitempty"`
	Opt  []string `json:"opt"`
	P    []any    `json:"p,omitempty"`
	Val  []any    `json:"val,omitempty"`
	R    int      `json:"r,omitempty"`
}

// AckMap zips the acknowledged parameter names and values. The device's
// echoed values are authoritative over what was requested.
func (p ResultPayload) AckMap() (map[string]any, error) {
	values := p.P
	if len(values) == 0 {
		values = p.Val
	}
	if len(p.Opt) != len(values) {
		return nil, fmt.Errorf("%w: opt/value length mismatch (%d vs %d)", ErrProtocol, len(p.Opt), len(values))
	}
	params := make(map[string]any, len(p.Opt))
	for i, name := range p.Opt {
		params[name] = values[i]
	}
	return params, nil
}

// typeProbe extracts only the type discriminator from a payload.
type typeProbe struct {
	Type string `json:"t"`
}

// DecodePayload parses a decrypted pack into its typed payload struct.
// The concrete type is selected by the "t" discriminator; an unknown
// type is ErrProtocol so callers never silently drop data.
func DecodePayload(data []byte) (any, error) {
	var probe typeProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %w", ErrProtocol, err)
	}

	switch probe.Type {
	case TypeDev:
		return decodeAs[DevPayload](data)
	case TypeBindOK:
		return decodeAs[BindOKPayload](data)
	case TypeData:
		return decodeAs[DataPayload](data)
	case TypeResult:
		return decodeAs[ResultPayload](data)
	case "":
		return nil, fmt.Errorf("%w: payload missing type", ErrProtocol)
	default:
		return nil, fmt.Errorf("%w: unknown payload type %q", ErrProtocol, probe.Type)
	}
}

// encodePayload serialises a payload struct for encryption.
func encodePayload(payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding payload: %w", ErrProtocol, err)
	}
	return data, nil
}

// decodeAs unmarshals data into T, wrapping failures as ErrProtocol.
func decodeAs[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: malformed payload: %w", ErrProtocol, err)
	}
	return v, nil
}
