// Package protocol decodes the GATT Weight Measurement characteristic (0x2A9D).
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Flag bits in byte 0 of a Weight Measurement value.
const (
	FlagImperial     byte = 1 << 0 // weight in 0.01 lb instead of 0.005 kg
	FlagTimestamp    byte = 1 << 1 // 7-byte date time follows the weight
	FlagUserID       byte = 1 << 2 // 1-byte user index
	FlagBMIAndHeight byte = 1 << 3 // 2-byte BMI + 2-byte height
)

const (
	// MinPayloadBytes is flags + uint16 weight.
	MinPayloadBytes = 3

	kgResolution    = 0.005
	lbScale         = 100.0
	lbToKg          = 0.45359237

	timestampBytes    = 7
	userIDBytes       = 1
	bmiAndHeightBytes = 4
)

var (
	// ErrShortPayload is returned for values shorter than MinPayloadBytes.
	ErrShortPayload = errors.New("protocol: weight payload too short")
	// ErrMalformedPayload is returned when the flags announce optional
	// fields the value is too short to carry.
	ErrMalformedPayload = errors.New("protocol: weight payload malformed")
)

// Reading is a decoded weight value.
type Reading struct {
	Kilograms float64
	Imperial  bool   // the scale reported pounds
	Raw       uint16 // magnitude as sent, in the scale's resolution
}

// DecodeWeight parses a Weight Measurement value into kilograms.
//
//	byte 0:    flags
//	bytes 1-2: little-endian uint16 weight
//	bytes 3-:  optional fields per flags, ignored
func DecodeWeight(data []byte) (Reading, error) {
	if len(data) < MinPayloadBytes {
		return Reading{}, fmt.Errorf("%w: got %d bytes, want at least %d", ErrShortPayload, len(data), MinPayloadBytes)
	}

	flags := data[0]
	if want := expectedLength(flags); len(data) < want {
		return Reading{}, fmt.Errorf("%w: flags 0x%02x need %d bytes, got %d", ErrMalformedPayload, flags, want, len(data))
	}

	raw := binary.LittleEndian.Uint16(data[1:3])
	r := Reading{Raw: raw, Imperial: flags&FlagImperial != 0}
	if r.Imperial {
		pounds := float64(raw) / lbScale
		r.Kilograms = pounds * lbToKg
	} else {
		r.Kilograms = float64(raw) * kgResolution
	}
	return r, nil
}

// expectedLength returns the minimum value length implied by flags.
func expectedLength(flags byte) int {
	n := MinPayloadBytes
	if flags&FlagTimestamp != 0 {
		n += timestampBytes
	}
	if flags&FlagUserID != 0 {
		n += userIDBytes
	}
	if flags&FlagBMIAndHeight != 0 {
		n += bmiAndHeightBytes
	}
	return n
}
