// Package zbyte provides the minimal random-access byte streams the Quetzal
// codec reads and writes through: a bounded Reader over an immutable buffer
// and a Writer that appends to, or overwrites, a caller-owned buffer.
package zbyte

import "io"

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader is a bounds-checked cursor over buf. It never modifies buf.
type Reader struct {
	buf []byte
	i   int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Tell returns the cursor offset.
func (r *Reader) Tell() int64 {
	return int64(r.i)
}

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int {
	return len(r.buf)
}

// SeekTo moves the cursor to offset. Offsets outside [0, Len()] are refused
// and leave the cursor where it was.
func (r *Reader) SeekTo(offset int64) bool {
	if offset < 0 || offset > int64(len(r.buf)) {
		return false
	}
	r.i = int(offset)
	return true
}

// SeekBy moves the cursor relative to its current position.
func (r *Reader) SeekBy(offset int64) bool {
	return r.SeekTo(int64(r.i) + offset)
}

// ReadByte returns the byte at the cursor and advances it, or io.EOF when the
// cursor is at the end.
func (r *Reader) ReadByte() (byte, error) {
	if r.i >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.i]
	r.i++
	return b, nil
}

// ReadWord returns the big-endian word at the cursor and advances past it.
// A word that would straddle the end is not consumed.
func (r *Reader) ReadWord() (uint16, error) {
	if r.i+1 >= len(r.buf) {
		return 0, io.EOF
	}
	w := uint16(r.buf[r.i])<<8 | uint16(r.buf[r.i+1])
	r.i += 2
	return w, nil
}

// ---------------------------------------------------------------------------
// Writer
// ---------------------------------------------------------------------------

// Writer writes into a buffer owned by the caller. With the cursor at the
// logical end it appends; after a seek to an interior offset it overwrites
// until the cursor reaches the end again.
type Writer struct {
	buf   *[]byte
	i     int
	atEnd bool
}

// NewWriter truncates *b and returns a Writer appending to it.
func NewWriter(b *[]byte) *Writer {
	*b = (*b)[:0]
	return &Writer{buf: b, atEnd: true}
}

// Tell returns the cursor offset.
func (w *Writer) Tell() int64 {
	return int64(w.i)
}

// SeekTo moves the cursor to offset, which must lie within what has been
// written so far.
func (w *Writer) SeekTo(offset int64) bool {
	size := int64(len(*w.buf))
	if offset < 0 || offset > size {
		return false
	}
	w.i = int(offset)
	w.atEnd = offset == size
	return true
}

// SeekBy moves the cursor relative to its current position.
func (w *Writer) SeekBy(offset int64) bool {
	return w.SeekTo(int64(w.i) + offset)
}

// WriteByte appends or overwrites one byte. It never fails; the error return
// satisfies io.ByteWriter.
func (w *Writer) WriteByte(b byte) error {
	if w.atEnd {
		*w.buf = append(*w.buf, b)
		w.i++
		return nil
	}
	(*w.buf)[w.i] = b
	w.i++
	w.atEnd = w.i == len(*w.buf)
	return nil
}

// WriteWord writes w big-endian as two consecutive bytes.
func (w *Writer) WriteWord(v uint16) error {
	if err := w.WriteByte(byte(v >> 8)); err != nil {
		return err
	}
	return w.WriteByte(byte(v))
}

var (
	_ io.ByteReader = (*Reader)(nil)
	_ io.ByteWriter = (*Writer)(nil)
)
