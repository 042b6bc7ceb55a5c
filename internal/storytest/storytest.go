// Package storytest builds small story images for tests.
//
// The default image is a version 3 story of 1024 bytes with 256 bytes of
// dynamic memory. It holds two routines and a block of zero bytes at the
// initial PC, so a function called from there returns onto the stack:
//
//	$0040  globals table
//	$0200  routine with two locals, defaults $1111 and $2222
//	$0210  routine with no locals
//	$0300  initial PC
package storytest

import (
	"encoding/binary"
)

const (
	Globals       = 0x40
	Routine2      = 0x200
	Routine0      = 0x210
	InitialPC     = 0x300
	DefaultSerial = "240101"
)

// Options adjusts the generated image. Zero fields take the defaults.
type Options struct {
	Version     uint8
	Release     uint16
	Serial      string
	Checksum    uint16
	DynamicSize uint16
	Size        int
}

// Image returns a story image built from opts.
func Image(opts Options) []byte {
	if opts.Version == 0 {
		opts.Version = 3
	}
	if opts.Release == 0 {
		opts.Release = 88
	}
	if opts.Serial == "" {
		opts.Serial = DefaultSerial
	}
	if opts.DynamicSize == 0 {
		opts.DynamicSize = 256
	}
	if opts.Size == 0 {
		opts.Size = 1024
	}

	b := make([]byte, opts.Size)
	b[0x00] = opts.Version
	binary.BigEndian.PutUint16(b[0x02:], opts.Release)
	binary.BigEndian.PutUint16(b[0x04:], opts.DynamicSize)
	binary.BigEndian.PutUint16(b[0x06:], InitialPC)
	binary.BigEndian.PutUint16(b[0x0C:], Globals)
	binary.BigEndian.PutUint16(b[0x0E:], opts.DynamicSize)
	copy(b[0x12:0x18], opts.Serial)
	binary.BigEndian.PutUint16(b[0x1C:], opts.Checksum)

	if Routine0 < opts.Size {
		b[Routine2] = 2
		binary.BigEndian.PutUint16(b[Routine2+1:], 0x1111)
		binary.BigEndian.PutUint16(b[Routine2+3:], 0x2222)
		b[Routine0] = 0
	}
	return b
}

// Default returns the default image.
func Default() []byte {
	return Image(Options{})
}
