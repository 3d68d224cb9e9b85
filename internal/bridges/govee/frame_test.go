package govee

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_Layout(t *testing.T) {
	for n := 0; n <= MaxPayloadSize; n++ {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i*37 + n)
		}

		f, err := EncodeFrame(CmdSetColor, payload)
		require.NoError(t, err, "payload length %d", n)

		assert.Len(t, f.Bytes(), FrameSize)
		assert.Equal(t, byte(0x33), f[0])
		assert.Equal(t, CmdSetColor, f.Command())
		assert.Equal(t, payload, f.Payload()[:n])
		assert.Equal(t, make([]byte, MaxPayloadSize-n), f.Payload()[n:], "padding must be zero")

		var sum byte
		for _, b := range f {
			sum ^= b
		}
		assert.Zero(t, sum, "xor of all bytes, payload length %d", n)
	}
}

func TestEncodeFrame_PowerOn(t *testing.T) {
	f, err := EncodeFrame(CmdSetPower, []byte{0x01})
	require.NoError(t, err)

	want := []byte{0x33, 0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x33}
	assert.Equal(t, want, f.Bytes())
	assert.Equal(t, "3301010000000000000000000000000000000033", f.String())
}

func TestEncodeFrame_PayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(CmdSetColor, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestParseFrame(t *testing.T) {
	good, err := EncodeFrame(CmdSetBrightness, []byte{0x80})
	require.NoError(t, err)

	parsed, err := ParseFrame(good.Bytes())
	require.NoError(t, err)
	assert.Equal(t, good, parsed)

	tests := []struct {
		name string
		data []byte
	}{
		{"short", good.Bytes()[:19]},
		{"long", append(good.Bytes(), 0)},
		{"bad preamble", func() []byte { b := good.Bytes(); b[0] = 0xAA; return b }()},
		{"bad checksum", func() []byte { b := good.Bytes(); b[19] ^= 0xFF; return b }()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame(tt.data)
			assert.ErrorIs(t, err, ErrInvalidFrame)
		})
	}
}

func TestFrame_BytesIsCopy(t *testing.T) {
	f, err := EncodeFrame(CmdSetPower, []byte{0})
	require.NoError(t, err)

	b := f.Bytes()
	b[1] = 0xFF
	assert.False(t, bytes.Equal(b, f.Bytes()))
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "power", commandName(CmdSetPower))
	assert.Equal(t, "brightness", commandName(CmdSetBrightness))
	assert.Equal(t, "color", commandName(CmdSetColor))
	assert.Equal(t, "0xAA", commandName(0xAA))
}
