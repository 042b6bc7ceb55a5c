package vm

import (
	"bytes"
	"io"
)

// State holds one saved machine state as a Quetzal image. The zero value is
// an empty State.
//
// A State registered with SetSaveState or SetRestoreState belongs to the VM
// for the duration of each DoAction; callers may read or replace it between
// actions.
type State struct {
	data []byte
}

// Clear empties the state.
func (s *State) Clear() {
	s.data = s.data[:0]
}

// Compact releases unused capacity.
func (s *State) Compact() {
	if cap(s.data) == len(s.data) {
		return
	}
	if len(s.data) == 0 {
		s.data = nil
		return
	}
	s.data = append([]byte(nil), s.data...)
}

// Len returns the size of the saved image in bytes.
func (s *State) Len() int {
	return len(s.data)
}

// IsEmpty reports whether nothing has been saved.
func (s *State) IsEmpty() bool {
	return len(s.data) == 0
}

// Bytes returns a copy of the saved image.
func (s *State) Bytes() []byte {
	return bytes.Clone(s.data)
}

// SetBytes replaces the saved image with a copy of b.
func (s *State) SetBytes(b []byte) {
	s.data = append(s.data[:0], b...)
}

// WriteTo implements io.WriterTo.
func (s *State) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(s.data)
	return int64(n), err
}

// ReadFrom implements io.ReaderFrom. It replaces the saved image with
// everything read from r.
func (s *State) ReadFrom(r io.Reader) (int64, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(r)
	if err != nil {
		return n, err
	}
	s.data = buf.Bytes()
	return n, nil
}
