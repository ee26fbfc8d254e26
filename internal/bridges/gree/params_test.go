package gree

import "testing"

func TestConverter_ToSymbolic(t *testing.T) {
	c := NewConverter()

	tests := []struct {
		name  string
		param string
		value any
		want  any
	}{
		{"power on", "Pow", 1, "on"},
		{"power off", "Pow", 0, "off"},
		{"power from json float", "Pow", float64(1), "on"},
		{"mode heat", "Mod", 4, "heat"},
		{"mode auto", "Mod", 0, "auto"},
		{"fan speed high", "WdSpd", 5, "high"},
		{"celsius", "TemUn", 0, "celsius"},
		{"vertical swing full", "SwUpDn", 1, "full_swing"},
		{"horizontal swing rightmost", "SwingLfRig", 6, "fixed_rightmost"},
		{"quiet on", "Quiet", 1, "on"},
		{"sensor temp offset", "TemSen", 67, 27},
		{"sensor absent", "TemSen", 0, 0},
		{"unknown param passes through", "SetTem", 22, 22},
		{"out of vocabulary passes through", "Mod", 99, 99},
		{"non numeric passes through", "Mod", "weird", "weird"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.ToSymbolic(tt.param, tt.value); got != tt.want {
				t.Errorf("ToSymbolic(%s, %v) = %v, want %v", tt.param, tt.value, got, tt.want)
			}
		})
	}
}

func TestConverter_ToDevice(t *testing.T) {
	c := NewConverter()

	tests := []struct {
		name  string
		param string
		value any
		want  any
	}{
		{"power on", "Pow", "on", 1},
		{"power off", "Pow", "off", 0},
		{"power numeric", "Pow", float64(1), 1},
		{"mode cool", "Mod", "cool", 1},
		{"mode numeric", "Mod", 3, 3},
		{"fan auto", "WdSpd", "auto", 0},
		{"swing upmost", "SwUpDn", "swing_upmost", 11},
		{"set temperature passes through", "SetTem", float64(22), 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ToDevice(tt.param, tt.value)
			if err != nil {
				t.Fatalf("ToDevice(%s, %v) error = %v", tt.param, tt.value, err)
			}
			if got != tt.want {
				t.Errorf("ToDevice(%s, %v) = %v, want %v", tt.param, tt.value, got, tt.want)
			}
		})
	}
}

func TestConverter_ToDevice_Invalid(t *testing.T) {
	c := NewConverter()

	tests := []struct {
		name  string
		param string
		value any
	}{
		{"bad on/off string", "Pow", "maybe"},
		{"bad on/off number", "Pow", 3},
		{"unknown mode", "Mod", "turbo"},
		{"mode out of range", "Mod", 99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := c.ToDevice(tt.param, tt.value); err == nil {
				t.Errorf("ToDevice(%s, %v) expected error", tt.param, tt.value)
			}
		})
	}
}

func TestConverter_RoundTrip(t *testing.T) {
	c := NewConverter()

	// Symbolic to wire and back must be lossless for the full vocabularies.
	for param, vocab := range c.enums {
		for i, symbolic := range vocab {
			wire, err := c.ToDevice(param, symbolic)
			if err != nil {
				t.Fatalf("ToDevice(%s, %s) error = %v", param, symbolic, err)
			}
			if wire != i {
				t.Errorf("ToDevice(%s, %s) = %v, want %d", param, symbolic, wire, i)
			}
			if got := c.ToSymbolic(param, wire); got != symbolic {
				t.Errorf("ToSymbolic(%s, %v) = %v, want %s", param, wire, got, symbolic)
			}
		}
	}
}

func TestConverter_ConvertParams(t *testing.T) {
	c := NewConverter()

	raw := map[string]any{
		"Pow":    float64(1),
		"Mod":    float64(1),
		"SetTem": float64(22),
		"TemSen": float64(63),
	}
	got := c.ConvertParams(raw)

	if got["Pow"] != "on" {
		t.Errorf("Pow = %v, want on", got["Pow"])
	}
	if got["Mod"] != "cool" {
		t.Errorf("Mod = %v, want cool", got["Mod"])
	}
	if got["SetTem"] != 22 {
		t.Errorf("SetTem = %v, want 22", got["SetTem"])
	}
	if got["TemSen"] != 23 {
		t.Errorf("TemSen = %v, want 23", got["TemSen"])
	}
}
