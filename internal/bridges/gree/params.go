package gree

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Converter translates between the device's numeric parameter encoding
// and the symbolic values exposed over MQTT. Parameters without a
// registered vocabulary pass through untouched, so new firmware fields
// surface immediately instead of being dropped.
//
// The zero value is not usable; construct with NewConverter.
type Converter struct {
	// enums maps parameter name to its index-ordered symbolic values.
	enums map[string][]string

	// onOff parameters map 0/1 to "off"/"on".
	onOff map[string]bool
}

// Vendor vocabularies for enumerated parameters. Index position is the
// wire value.
var (
	modeValues = []string{"auto", "cool", "dry", "fan_only", "heat"}

	temperatureUnits = []string{"celsius", "fahrenheit"}

	fanSpeeds = []string{"auto", "low", "medium_low", "medium", "medium_high", "high"}

	verticalSwingModes = []string{
		"default", "full_swing", "fixed_upmost", "fixed_middle_up",
		"fixed_middle", "fixed_middle_low", "fixed_lowest", "swing_downmost",
		"swing_middle_low", "swing_middle", "swing_middle_up", "swing_upmost",
	}

	horizontalSwingModes = []string{
		"default", "full_swing", "fixed_leftmost", "fixed_middle_left",
		"fixed_middle", "fixed_middle_right", "fixed_rightmost",
	}

	onOffParams = []string{
		"Pow", "Air", "Blo", "Health", "SwhSlp", "Lig", "Quiet", "Tur", "StHt",
	}
)

// temSenOffset is subtracted from the raw TemSen reading to get degrees
// Celsius. Firmware reports the sensor with a fixed +40 bias.
const temSenOffset = 40

// NewConverter returns a converter loaded with the vendor vocabularies.
func NewConverter() *Converter {
	c := &Converter{
		enums: map[string][]string{
			"Mod":        modeValues,
			"TemUn":      temperatureUnits,
			"WdSpd":      fanSpeeds,
			"SwUpDn":     verticalSwingModes,
			"SwingLfRig": horizontalSwingModes,
		},
		onOff: make(map[string]bool, len(onOffParams)),
	}
	for _, name := range onOffParams {
		c.onOff[name] = true
	}
	return c
}

// ToSymbolic converts a raw device value to its symbolic form. Numeric
// values outside the known vocabulary, and parameters without one, pass
// through as plain ints; non-numeric values are returned unchanged.
func (c *Converter) ToSymbolic(name string, value any) any {
	n, ok := asInt(value)
	if !ok {
		return value
	}

	if name == "TemSen" {
		// Raw zero means the sensor is absent on some units.
		if n == 0 {
			return 0
		}
		return n - temSenOffset
	}

	if c.onOff[name] {
		switch n {
		case 0:
			return "off"
		case 1:
			return "on"
		}
		return n
	}

	if vocab, ok := c.enums[name]; ok {
		if n >= 0 && n < len(vocab) {
			return vocab[n]
		}
		return n
	}

	return n
}

// ToDevice converts a symbolic value back to the device's numeric form.
// Unknown parameters pass through; a symbolic value outside the known
// vocabulary is an error so bad MQTT input never reaches the device.
func (c *Converter) ToDevice(name string, value any) (any, error) {
	s, isString := value.(string)

	if c.onOff[name] {
		if !isString {
			if n, ok := asInt(value); ok && (n == 0 || n == 1) {
				return n, nil
			}
			return nil, fmt.Errorf("parameter %s: value %v is not on/off", name, value)
		}
		switch s {
		case "on", "1", "true":
			return 1, nil
		case "off", "0", "false":
			return 0, nil
		}
		return nil, fmt.Errorf("parameter %s: value %q is not on/off", name, s)
	}

	if vocab, ok := c.enums[name]; ok {
		if !isString {
			if n, ok := asInt(value); ok && n >= 0 && n < len(vocab) {
				return n, nil
			}
			return nil, fmt.Errorf("parameter %s: value %v outside vocabulary", name, value)
		}
		for i, candidate := range vocab {
			if candidate == s {
				return i, nil
			}
		}
		return nil, fmt.Errorf("parameter %s: unknown value %q", name, s)
	}

	// Pass-through parameters still need numeric coercion, as MQTT
	// payloads arrive with JSON number types.
	if n, ok := asInt(value); ok {
		return n, nil
	}
	return value, nil
}

// ConvertParams applies ToSymbolic to every entry of a device parameter map.
func (c *Converter) ConvertParams(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for name, value := range raw {
		out[name] = c.ToSymbolic(name, value)
	}
	return out
}

// asInt coerces the numeric types that arrive from JSON decoding and
// device payloads into an int.
func asInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == float64(int(v)) {
			return int(v), true
		}
		return 0, false
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n), true
		}
		return 0, false
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
		return 0, false
	default:
		return 0, false
	}
}
