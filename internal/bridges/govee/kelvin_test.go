package govee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKelvinToRGB(t *testing.T) {
	tests := []struct {
		kelvin  int
		r, g, b uint8
	}{
		{1000, 255, 67, 0},
		{2700, 255, 166, 87},
		{4000, 255, 205, 166},
		{6600, 255, 255, 255},
		{10000, 201, 218, 255},
		{40000, 151, 185, 255},
	}

	for _, tt := range tests {
		r, g, b := KelvinToRGB(tt.kelvin)
		assert.Equal(t, [3]uint8{tt.r, tt.g, tt.b}, [3]uint8{r, g, b}, "KelvinToRGB(%d)", tt.kelvin)
	}
}

func TestKelvinToRGB_Clamps(t *testing.T) {
	lr, lg, lb := KelvinToRGB(500)
	r, g, b := KelvinToRGB(1000)
	assert.Equal(t, [3]uint8{r, g, b}, [3]uint8{lr, lg, lb})

	hr, hg, hb := KelvinToRGB(99999)
	r, g, b = KelvinToRGB(40000)
	assert.Equal(t, [3]uint8{r, g, b}, [3]uint8{hr, hg, hb})
}

func TestKelvinToRGB_Deterministic(t *testing.T) {
	for k := 0; k <= 45000; k += 250 {
		r1, g1, b1 := KelvinToRGB(k)
		r2, g2, b2 := KelvinToRGB(k)
		assert.Equal(t, [3]uint8{r1, g1, b1}, [3]uint8{r2, g2, b2})
	}
}

func TestMiredConversions(t *testing.T) {
	assert.Equal(t, 4000, MiredToKelvin(250))
	assert.Equal(t, 2702, MiredToKelvin(370))
	assert.Equal(t, MinKelvin, MiredToKelvin(5000), "clamped low")
	assert.Equal(t, MaxKelvin, MiredToKelvin(1), "clamped high")

	assert.Equal(t, 250, KelvinToMired(4000))
	assert.Equal(t, 370, KelvinToMired(2702))
	assert.Equal(t, 1000, KelvinToMired(0), "clamped before conversion")
}

func TestClampKelvin(t *testing.T) {
	assert.Equal(t, MinKelvin, ClampKelvin(-5))
	assert.Equal(t, 3000, ClampKelvin(3000))
	assert.Equal(t, MaxKelvin, ClampKelvin(1_000_000))
}
