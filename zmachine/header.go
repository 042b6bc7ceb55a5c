// Package zmachine holds the interpreter-side surface the autofrotz bridge
// drives: story header and memory, the call stack in the layout the Quetzal
// codec serialises, the random number generator, the Engine/Host contract, and
// Monitor, a line-driven reference engine.
package zmachine

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrBadStory       = errors.New("bad story file")
	ErrBadAddress     = errors.New("address out of range")
	ErrBadRoutine     = errors.New("bad routine")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrHalted         = errors.New("halted")
)

// HeaderSize is the size of the story header at the start of memory.
const HeaderSize = 64

// Header field offsets.
const (
	hVersion     = 0x00
	hRelease     = 0x02
	hHighBase    = 0x04
	hInitialPC   = 0x06
	hGlobals     = 0x0C
	hDynamicSize = 0x0E
	hSerial      = 0x12
	hChecksum    = 0x1C
)

// V6 is the only version without an evaluation stack outside routines.
const V6 = 6

// Header is the decoded story header.
type Header struct {
	Version     uint8
	Release     uint16
	HighBase    uint16
	InitialPC   uint16
	Globals     uint16
	DynamicSize uint16
	Serial      [6]byte
	Checksum    uint16
}

// ParseHeader decodes and validates the header of a story image.
func ParseHeader(image []byte) (Header, error) {
	var h Header
	if len(image) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadStory, len(image))
	}
	h.Version = image[hVersion]
	h.Release = binary.BigEndian.Uint16(image[hRelease:])
	h.HighBase = binary.BigEndian.Uint16(image[hHighBase:])
	h.InitialPC = binary.BigEndian.Uint16(image[hInitialPC:])
	h.Globals = binary.BigEndian.Uint16(image[hGlobals:])
	h.DynamicSize = binary.BigEndian.Uint16(image[hDynamicSize:])
	copy(h.Serial[:], image[hSerial:hSerial+6])
	h.Checksum = binary.BigEndian.Uint16(image[hChecksum:])

	if h.Version < 1 || h.Version > 8 {
		return h, fmt.Errorf("%w: unsupported version %d", ErrBadStory, h.Version)
	}
	if int(h.DynamicSize) < HeaderSize || int(h.DynamicSize) > len(image) {
		return h, fmt.Errorf("%w: dynamic memory size %d outside [%d, %d]",
			ErrBadStory, h.DynamicSize, HeaderSize, len(image))
	}
	return h, nil
}

// SerialString returns the serial as printable text.
func (h Header) SerialString() string {
	return string(h.Serial[:])
}
