package govee

import (
	"math"
	"strings"
)

// ColorMode selects which color field of the desired state is authoritative.
type ColorMode int

const (
	// ColorModeRGB uses the RGB triple; the Kelvin field is sent as 0.
	ColorModeRGB ColorMode = iota

	// ColorModeTemperature uses the Kelvin value; RGB is sent as full white.
	ColorModeTemperature
)

// String returns the mode name used in status documents and the database.
func (m ColorMode) String() string {
	if m == ColorModeTemperature {
		return "color_temp"
	}
	return "rgb"
}

// ParseColorMode is the inverse of ColorMode.String. Unknown values map to RGB.
func ParseColorMode(s string) ColorMode {
	if s == "color_temp" {
		return ColorModeTemperature
	}
	return ColorModeRGB
}

// Color is the color portion of a light's desired state.
type Color struct {
	Mode    ColorMode
	R, G, B uint8
	Kelvin  int

	// Segment selects a strip segment on segment-capable lights.
	// Values <= 0 address all segments.
	Segment int
}

// Profile encodes brightness and color payloads for one family of models.
// It is selected once when a session is created.
type Profile interface {
	// Name identifies the profile in logs and the API.
	Name() string

	// EncodeBrightness returns the SetBrightness payload for b in [0,1].
	EncodeBrightness(b float64) []byte

	// EncodeColor returns the SetColor payload.
	EncodeColor(c Color) []byte
}

// Profile names, also accepted as model strings in configuration.
const (
	ProfileBasic    = "basic"
	ProfileExtended = "extended"
	ProfileSegment  = "segment"
)

// brightnessScale maps [0,1] onto the device range: 255 steps or 100 (percent).
type brightnessScale bool

const (
	scale255     brightnessScale = false
	scalePercent brightnessScale = true
)

func (s brightnessScale) encode(b float64) []byte {
	steps := 255.0
	if s == scalePercent {
		steps = 100
	}
	return []byte{byte(math.Round(b * steps))}
}

// basicProfile sends plain RGB with ModeManual.
type basicProfile struct {
	scale brightnessScale
}

func (p basicProfile) Name() string { return ProfileBasic }

func (p basicProfile) EncodeBrightness(b float64) []byte { return p.scale.encode(b) }

func (p basicProfile) EncodeColor(c Color) []byte {
	r, g, b, _ := colorFields(c)
	return []byte{ModeManual, r, g, b}
}

// extendedProfile sends RGB plus Kelvin with ModeManualExtended.
type extendedProfile struct {
	scale brightnessScale
}

func (p extendedProfile) Name() string { return ProfileExtended }

func (p extendedProfile) EncodeBrightness(b float64) []byte { return p.scale.encode(b) }

func (p extendedProfile) EncodeColor(c Color) []byte {
	r, g, b, k := colorFields(c)
	// White channel bytes are always zero; no white-balance algorithm exists for them.
	return []byte{ModeManualExtended, r, g, b, byte(k >> 8), byte(k), 0, 0, 0}
}

// segmentProfile addresses individual strip segments with ModeSegment.
type segmentProfile struct {
	scale brightnessScale
}

func (p segmentProfile) Name() string { return ProfileSegment }

func (p segmentProfile) EncodeBrightness(b float64) []byte { return p.scale.encode(b) }

func (p segmentProfile) EncodeColor(c Color) []byte {
	r, g, b, k := colorFields(c)
	seg := 0
	if c.Segment > 0 {
		seg = c.Segment
	}
	return []byte{
		ModeSegment, 0x01,
		r, g, b,
		byte(k >> 8), byte(k),
		0, 0, 0,
		byte(seg >> 8), byte(seg),
	}
}

// colorFields resolves the wire RGB and Kelvin for the active mode.
func colorFields(c Color) (r, g, b uint8, kelvin uint16) {
	if c.Mode == ColorModeTemperature {
		return 0xFF, 0xFF, 0xFF, uint16(ClampKelvin(c.Kelvin))
	}
	return c.R, c.G, c.B, 0
}

// modelProfiles maps known model numbers to their payload profile.
var modelProfiles = map[string]Profile{
	"H6008": extendedProfile{scale: scale255},
	"H6006": extendedProfile{scale: scale255},
	"H6159": extendedProfile{scale: scale255},
	"H6163": extendedProfile{scale: scale255},
	"H613A": extendedProfile{scale: scale255},
	"H613B": extendedProfile{scale: scale255},
	"H613C": extendedProfile{scale: scale255},
	"H613D": extendedProfile{scale: scale255},

	"H6172": segmentProfile{scale: scalePercent},
	"H6199": segmentProfile{scale: scalePercent},
	"H619A": segmentProfile{scale: scalePercent},
	"H619B": segmentProfile{scale: scalePercent},
	"H619C": segmentProfile{scale: scalePercent},
	"H619D": segmentProfile{scale: scalePercent},
	"H619E": segmentProfile{scale: scalePercent},
	"H619Z": segmentProfile{scale: scalePercent},
	"H61A0": segmentProfile{scale: scalePercent},
	"H61A1": segmentProfile{scale: scalePercent},
	"H61A2": segmentProfile{scale: scalePercent},
	"H61A3": segmentProfile{scale: scalePercent},

	ProfileBasic:    basicProfile{scale: scale255},
	ProfileExtended: extendedProfile{scale: scale255},
	ProfileSegment:  segmentProfile{scale: scalePercent},
}

// ProfileForModel returns the profile for a model number or profile name.
// Unknown and empty models get the basic profile.
func ProfileForModel(model string) Profile {
	key := strings.TrimSpace(model)
	if p, ok := modelProfiles[strings.ToUpper(key)]; ok {
		return p
	}
	if p, ok := modelProfiles[strings.ToLower(key)]; ok {
		return p
	}
	return basicProfile{scale: scale255}
}
