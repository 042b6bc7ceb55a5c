// Package wordset tracks which dynamic-memory addresses an interpreter has
// read as the first byte of a 16-bit word. It is an analysis output only.
package wordset

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// Set is a growable bit vector keyed by address. Bits default to clear.
type Set struct {
	bits  *bitset.BitSet
	width uint
}

// New returns an empty set of width zero.
func New() *Set {
	return &Set{bits: bitset.New(0)}
}

// EnsureWidth grows the set so that addresses below n can be marked. It never
// shrinks the set and never clears bits.
func (s *Set) EnsureWidth(n uint) {
	if n <= s.width {
		return
	}
	if n > s.bits.Len() {
		s.bits.Set(n - 1).Clear(n - 1)
	}
	s.width = n
}

// Width returns the number of addressable bits.
func (s *Set) Width() uint {
	return s.width
}

// Mark records a word read at addr. addr must be below Width(); the width is
// fixed once at VM start, so anything else is a caller bug.
func (s *Set) Mark(addr uint) {
	if addr >= s.width {
		panic(fmt.Sprintf("wordset: mark of address %d outside width %d", addr, s.width))
	}
	s.bits.Set(addr)
}

// Test reports whether addr has been marked.
func (s *Set) Test(addr uint) bool {
	if addr >= s.width {
		return false
	}
	return s.bits.Test(addr)
}

// Count returns the number of marked addresses.
func (s *Set) Count() uint {
	return s.bits.Count()
}

// Addresses returns the marked addresses in ascending order.
func (s *Set) Addresses() []uint {
	addrs := make([]uint, 0, s.bits.Count())
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		addrs = append(addrs, i)
	}
	return addrs
}

// Bytes returns the set packed eight addresses per byte: address a is bit
// a&7 of byte a>>3.
func (s *Set) Bytes() []byte {
	out := make([]byte, (s.width+7)>>3)
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		out[i>>3] |= 1 << (i & 7)
	}
	return out
}
