package govee

import "math"

// Color temperature limits in Kelvin.
const (
	MinKelvin = 1000
	MaxKelvin = 40000
)

// KelvinToRGB approximates the display color of a black-body radiator at
// temperature k. It is used for status reporting only; the device receives
// the Kelvin value itself.
//
// k is clamped to [MinKelvin, MaxKelvin] and each channel is truncated.
func KelvinToRGB(k int) (r, g, b uint8) {
	t := float64(ClampKelvin(k)) / 100

	red := 255.0
	if t > 66 {
		red = clampChannel(329.698727446 * math.Pow(t-60, -0.1332047592))
	}

	var green float64
	if t <= 66 {
		green = clampChannel(99.4708025861*math.Log(t) - 161.1195681661)
	} else {
		green = clampChannel(288.1221695283 * math.Pow(t-60, -0.0755148492))
	}

	var blue float64
	switch {
	case t >= 66:
		blue = 255
	case t <= 19:
		blue = 0
	default:
		blue = clampChannel(138.5177312231*math.Log(t-10) - 305.0447927307)
	}

	return uint8(red), uint8(green), uint8(blue)
}

// ClampKelvin limits k to the supported temperature range.
func ClampKelvin(k int) int {
	switch {
	case k < MinKelvin:
		return MinKelvin
	case k > MaxKelvin:
		return MaxKelvin
	default:
		return k
	}
}

// MiredToKelvin converts a reciprocal color temperature into Kelvin,
// clamped to the supported range. mired must be positive.
func MiredToKelvin(mired int) int {
	return ClampKelvin(1_000_000 / mired)
}

// KelvinToMired converts Kelvin to mired, rounded to the nearest integer.
func KelvinToMired(k int) int {
	return int(math.Round(1_000_000 / float64(ClampKelvin(k))))
}

func clampChannel(v float64) float64 {
	return math.Max(0, math.Min(255, v))
}
