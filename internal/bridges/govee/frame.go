package govee

import (
	"encoding/hex"
	"fmt"
)

// Wire frame layout.
const (
	// FrameSize is the fixed length of every frame written to the control
	// characteristic.
	FrameSize = 20

	// MaxPayloadSize is the number of payload bytes between the command id
	// and the checksum.
	MaxPayloadSize = 17

	// framePreamble is the first byte of every command frame.
	framePreamble byte = 0x33
)

// Command identifiers (byte 1 of a frame).
const (
	CmdSetPower      byte = 0x01
	CmdSetBrightness byte = 0x04
	CmdSetColor      byte = 0x05
)

// Color sub-modes (first payload byte of a CmdSetColor frame).
const (
	// ModeManual carries plain RGB.
	ModeManual byte = 0x02

	// ModeScenes and ModeMicrophone are recognised but never produced.
	ModeScenes     byte = 0x05
	ModeMicrophone byte = 0x06

	// ModeManualExtended carries RGB, a 2-byte Kelvin value and 3 white bytes.
	ModeManualExtended byte = 0x0D

	// ModeSegment adds a segment selector and a 2-byte segment index.
	ModeSegment byte = 0x15
)

// Frame is one 20-byte command unit:
//
//	Byte 0:     0x33 preamble
//	Byte 1:     command id
//	Byte 2-18:  payload, left-aligned and zero padded
//	Byte 19:    XOR of bytes 0-18
type Frame [FrameSize]byte

// EncodeFrame builds a frame for the command and payload.
//
// Returns ErrPayloadTooLarge if the payload is longer than MaxPayloadSize.
func EncodeFrame(cmd byte, payload []byte) (Frame, error) {
	var f Frame
	if len(payload) > MaxPayloadSize {
		return f, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	f[0] = framePreamble
	f[1] = cmd
	copy(f[2:FrameSize-1], payload)
	f[FrameSize-1] = checksum(f[:FrameSize-1])

	return f, nil
}

// ParseFrame validates raw bytes read back from a link or a capture.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if len(data) != FrameSize {
		return f, fmt.Errorf("%w: length %d, want %d", ErrInvalidFrame, len(data), FrameSize)
	}
	if data[0] != framePreamble {
		return f, fmt.Errorf("%w: preamble 0x%02X", ErrInvalidFrame, data[0])
	}
	if sum := checksum(data[:FrameSize-1]); sum != data[FrameSize-1] {
		return f, fmt.Errorf("%w: checksum 0x%02X, want 0x%02X", ErrInvalidFrame, data[FrameSize-1], sum)
	}

	copy(f[:], data)
	return f, nil
}

// checksum is a straight XOR fold, not a CRC.
func checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum ^= v
	}
	return sum
}

// Command returns the command id.
func (f Frame) Command() byte {
	return f[1]
}

// Payload returns a copy of the 17 payload bytes, padding included.
func (f Frame) Payload() []byte {
	p := make([]byte, MaxPayloadSize)
	copy(p, f[2:FrameSize-1])
	return p
}

// Bytes returns the frame as a slice for transport writes.
func (f Frame) Bytes() []byte {
	b := make([]byte, FrameSize)
	copy(b, f[:])
	return b
}

// String renders the frame as lowercase hex.
func (f Frame) String() string {
	return hex.EncodeToString(f[:])
}

// commandName is used in log records.
func commandName(cmd byte) string {
	switch cmd {
	case CmdSetPower:
		return "power"
	case CmdSetBrightness:
		return "brightness"
	case CmdSetColor:
		return "color"
	default:
		return fmt.Sprintf("0x%02X", cmd)
	}
}
