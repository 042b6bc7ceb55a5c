// Package quetzal saves and restores machine state in the Quetzal format: an
// IFF FORM of type IFZS holding the header (IFhd), dynamic memory compressed
// against the story image (CMem), the call stack (Stks), and the random
// number generator state (FRng).
package quetzal

import (
	"errors"
	"fmt"
	"io"
	"math/bits"

	"github.com/chazu/autofrotz/zbyte"
	"github.com/chazu/autofrotz/zmachine"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("autofrotz.quetzal")

// ---------------------------------------------------------------------------
// Format constants
// ---------------------------------------------------------------------------

func makeID(s string) uint32 {
	return uint32(s[0])<<24 | uint32(s[1])<<16 | uint32(s[2])<<8 | uint32(s[3])
}

var (
	idFORM = makeID("FORM")
	idIFZS = makeID("IFZS")
	idIFhd = makeID("IFhd")
	idCMem = makeID("CMem")
	idUMem = makeID("UMem")
	idStks = makeID("Stks")
	idFRng = makeID("FRng")
)

// IFhdSize is the payload size of the header chunk.
const IFhdSize = 13

// Chunks required for a restore to succeed.
const (
	gotHeader = 1 << iota
	gotStack
	gotMemory

	gotAll = gotHeader | gotStack | gotMemory
)

var (
	ErrNotSaveFile     = errors.New("not a saved game file")
	ErrWrongStory      = errors.New("file was not saved from this story")
	ErrCorrupt         = errors.New("corrupt save file")
	ErrTooMuchStack    = errors.New("save file has too much stack")
	ErrWrongVariable   = errors.New("save file has wrong variable number on stack")
	ErrIncompleteArgs  = errors.New("save file uses incomplete argument lists")
	ErrRandomSize      = errors.New("FRng chunk size does not match the random state size")
	ErrMissingChunk    = errors.New("missing chunk")
	ErrDuplicateChunk  = errors.New("duplicate chunk")
	ErrSaveInInterrupt = errors.New("cannot save while in an interrupt")
	ErrSeek            = errors.New("seek failed")
)

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// restorer holds the progress of one Restore. fatal becomes RestoreFatal as
// soon as any machine state has been overwritten.
type restorer struct {
	svf      *zbyte.Reader
	stf      *zbyte.Reader
	m        *zmachine.Machine
	fatal    zmachine.RestoreStatus
	progress int
}

// Restore reads a save file from svf into m. stf reads the story's original
// dynamic memory, which CMem is compressed against.
//
// RestoreFailed means m was not touched. RestoreFatal means m was partially
// overwritten and must not be run. Both come with an error describing the
// problem.
func Restore(svf, stf *zbyte.Reader, m *zmachine.Machine) (zmachine.RestoreStatus, error) {
	r := &restorer{svf: svf, stf: stf, m: m, fatal: zmachine.RestoreFailed}
	return r.restore()
}

func (r *restorer) fail(err error) (zmachine.RestoreStatus, error) {
	return r.fatal, err
}

func readLong(rd *zbyte.Reader) (uint32, error) {
	h, err := rd.ReadWord()
	if err != nil {
		return 0, err
	}
	l, err := rd.ReadWord()
	if err != nil {
		return 0, err
	}
	return uint32(h)<<16 | uint32(l), nil
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %s truncated", ErrCorrupt, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrCorrupt, what, err)
}

func (r *restorer) restore() (zmachine.RestoreStatus, error) {
	form, err := readLong(r.svf)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrNotSaveFile, err))
	}
	formLen, err := readLong(r.svf)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrNotSaveFile, err))
	}
	formType, err := readLong(r.svf)
	if err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrNotSaveFile, err))
	}
	if form != idFORM || formType != idIFZS {
		return r.fail(ErrNotSaveFile)
	}
	if formLen&1 != 0 || formLen < 4 {
		return r.fail(fmt.Errorf("%w: FORM length %d", ErrCorrupt, formLen))
	}

	remaining := int64(formLen) - 4
	for remaining > 0 {
		if remaining < 8 {
			return r.fail(fmt.Errorf("%w: %d trailing bytes cannot hold a chunk", ErrCorrupt, remaining))
		}
		tag, err := readLong(r.svf)
		if err != nil {
			return r.fail(truncated("chunk header", err))
		}
		size, err := readLong(r.svf)
		if err != nil {
			return r.fail(truncated("chunk header", err))
		}
		remaining -= 8

		length := int64(size)
		if remaining < length {
			return r.fail(fmt.Errorf("%w: chunk %s runs past the end of the FORM", ErrCorrupt, tagString(tag)))
		}
		pad := length & 1
		remaining -= length + pad

		var status zmachine.RestoreStatus
		switch tag {
		case idIFhd:
			status, err = r.header(length)
		case idStks:
			status, err = r.stacks(length)
		case idFRng:
			status, err = r.random(length)
		case idCMem:
			if r.progress&gotMemory == 0 {
				status, err = r.compressedMemory(length)
				break
			}
			log.Warningf("ignoring second memory chunk")
			status, err = r.skip(tag, length)
		case idUMem:
			if r.progress&gotMemory == 0 && length == int64(r.m.Header.DynamicSize) {
				status, err = r.uncompressedMemory(length)
				break
			}
			if r.progress&gotMemory == 0 {
				log.Warningf("UMem chunk is %d bytes, want %d", length, r.m.Header.DynamicSize)
			} else {
				log.Warningf("ignoring second memory chunk")
			}
			status, err = r.skip(tag, length)
		default:
			status, err = r.skip(tag, length)
		}
		if err != nil {
			return status, err
		}
		if pad != 0 {
			_, _ = r.svf.ReadByte()
		}
	}

	if r.progress == gotAll {
		return zmachine.RestoreOK, nil
	}
	var missing []error
	if r.progress&gotHeader == 0 {
		missing = append(missing, fmt.Errorf("%w: no valid header (IFhd) chunk", ErrMissingChunk))
	}
	if r.progress&gotStack == 0 {
		missing = append(missing, fmt.Errorf("%w: no valid stack (Stks) chunk", ErrMissingChunk))
	}
	if r.progress&gotMemory == 0 {
		missing = append(missing, fmt.Errorf("%w: no valid memory (CMem or UMem) chunk", ErrMissingChunk))
	}
	return r.fail(errors.Join(missing...))
}

func (r *restorer) skip(tag uint32, length int64) (zmachine.RestoreStatus, error) {
	log.Debugf("skipping %s chunk of %d bytes", tagString(tag), length)
	if !r.svf.SeekBy(length) {
		return r.fail(fmt.Errorf("%w: chunk %s runs past the end of the file", ErrCorrupt, tagString(tag)))
	}
	return r.fatal, nil
}

func (r *restorer) header(length int64) (zmachine.RestoreStatus, error) {
	if r.progress&gotHeader != 0 {
		return r.fail(fmt.Errorf("%w: IFhd", ErrDuplicateChunk))
	}
	r.progress |= gotHeader
	if length < IFhdSize {
		return r.fail(fmt.Errorf("%w: IFhd is %d bytes", ErrCorrupt, length))
	}

	h := r.m.Header
	match := true
	release, err := r.svf.ReadWord()
	if err != nil {
		return r.fail(truncated("IFhd", err))
	}
	if release != h.Release {
		match = false
	}
	for i := 0; i < 6; i++ {
		c, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("IFhd", err))
		}
		if c != h.Serial[i] {
			match = false
		}
	}
	checksum, err := r.svf.ReadWord()
	if err != nil {
		return r.fail(truncated("IFhd", err))
	}
	if checksum != h.Checksum {
		match = false
	}
	if !match {
		return r.fail(ErrWrongStory)
	}

	var pc uint32
	for i := 0; i < 3; i++ {
		c, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("IFhd", err))
		}
		pc = pc<<8 | uint32(c)
	}
	r.fatal = zmachine.RestoreFatal
	r.m.PC = pc

	for i := int64(IFhdSize); i < length; i++ {
		_, _ = r.svf.ReadByte()
	}
	return r.fatal, nil
}

func (r *restorer) stacks(length int64) (zmachine.RestoreStatus, error) {
	if r.progress&gotStack != 0 {
		return r.fail(fmt.Errorf("%w: Stks", ErrDuplicateChunk))
	}
	r.progress |= gotStack

	r.fatal = zmachine.RestoreFatal
	s := &r.m.Stack
	s.SP = zmachine.StackSize

	if r.m.Header.Version != zmachine.V6 {
		if length < 8 {
			return r.fail(fmt.Errorf("%w: Stks too short for the dummy frame", ErrCorrupt))
		}
		for i := 0; i < 6; i++ {
			c, err := r.svf.ReadByte()
			if err != nil {
				return r.fail(truncated("Stks", err))
			}
			if c != 0 {
				return r.fail(fmt.Errorf("%w: dummy frame is not zero", ErrCorrupt))
			}
		}
		n, err := r.svf.ReadWord()
		if err != nil {
			return r.fail(truncated("Stks", err))
		}
		if int(n) > zmachine.StackSize {
			return r.fail(ErrTooMuchStack)
		}
		length -= 8
		if length < 2*int64(n) {
			return r.fail(fmt.Errorf("%w: dummy frame overruns Stks", ErrCorrupt))
		}
		for i := 0; i < int(n); i++ {
			w, err := r.svf.ReadWord()
			if err != nil {
				return r.fail(truncated("Stks", err))
			}
			s.SP--
			s.Words[s.SP] = w
		}
		length -= 2 * int64(n)
	}

	s.FP = zmachine.StackSize
	s.FrameCount = 0
	for ; length > 0; s.FrameCount++ {
		if length < 8 {
			return r.fail(fmt.Errorf("%w: partial frame in Stks", ErrCorrupt))
		}
		if s.SP < 4 {
			return r.fail(ErrTooMuchStack)
		}

		packed, err := readLong(r.svf)
		if err != nil {
			return r.fail(truncated("Stks", err))
		}
		nlocals := int(packed & 0x0F)
		typeWord := uint16(nlocals) << 8

		resultVar, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("Stks", err))
		}

		pc := int64(packed >> 8)
		if packed&0x10 != 0 {
			typeWord |= 0x1000
		} else {
			pc--
			if pc < 0 || pc >= int64(len(r.m.Memory)) {
				return r.fail(fmt.Errorf("%w: frame PC $%05x outside memory", ErrCorrupt, pc))
			}
			if r.m.Memory[pc] != resultVar {
				return r.fail(ErrWrongVariable)
			}
		}
		s.SP--
		s.Words[s.SP] = uint16(pc >> 9)
		s.SP--
		s.Words[s.SP] = uint16(pc & 0x1FF)
		s.SP--
		s.Words[s.SP] = uint16(s.FP - 1)

		mask, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("Stks", err))
		}
		x := uint(mask) + 1
		nargs := bits.TrailingZeros(x)
		if x != 1<<nargs {
			return r.fail(fmt.Errorf("%w: argument mask %#02x", ErrIncompleteArgs, mask))
		}
		s.SP--
		s.Words[s.SP] = typeWord | uint16(nargs)
		s.FP = s.SP

		nstk, err := r.svf.ReadWord()
		if err != nil {
			return r.fail(truncated("Stks", err))
		}
		words := int(nstk) + nlocals
		if s.SP <= words {
			return r.fail(ErrTooMuchStack)
		}
		if length < 8+2*int64(words) {
			return r.fail(fmt.Errorf("%w: frame overruns Stks", ErrCorrupt))
		}
		for i := 0; i < words; i++ {
			w, err := r.svf.ReadWord()
			if err != nil {
				return r.fail(truncated("Stks", err))
			}
			s.SP--
			s.Words[s.SP] = w
		}
		length -= 8 + 2*int64(words)
	}
	return r.fatal, nil
}

func (r *restorer) random(length int64) (zmachine.RestoreStatus, error) {
	if length != int64(r.m.Random.StateSize()) {
		return r.fail(fmt.Errorf("%w: %d bytes", ErrRandomSize, length))
	}
	state := make([]byte, length)
	for i := range state {
		c, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("FRng", err))
		}
		state[i] = c
	}
	if err := r.m.Random.SetState(state); err != nil {
		return r.fail(fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	return r.fatal, nil
}

func (r *restorer) compressedMemory(length int64) (zmachine.RestoreStatus, error) {
	if !r.stf.SeekTo(0) {
		return r.fail(ErrSeek)
	}
	r.fatal = zmachine.RestoreFatal
	mem := r.m.Memory
	dynamic := int(r.m.Header.DynamicSize)

	i := 0
	for ; length > 0; length-- {
		x, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("CMem", err))
		}
		if x == 0 {
			if length < 2 {
				// A run marker with no length byte. Leave memory unmarked
				// so that a later UMem can still supply it.
				log.Warningf("file contains bogus CMem chunk")
				return r.fatal, nil
			}
			length--
			n, err := r.svf.ReadByte()
			if err != nil {
				return r.fail(truncated("CMem", err))
			}
			for run := int(n) + 1; run > 0 && i < dynamic; run-- {
				y, err := r.stf.ReadByte()
				if err != nil {
					return r.fail(truncated("story memory", err))
				}
				mem[i] = y
				i++
			}
			continue
		}
		if i >= dynamic {
			// Leave memory unmarked so that a later UMem can still supply it.
			log.Warning("CMem chunk too long")
			if !r.svf.SeekBy(length - 1) {
				return r.fail(fmt.Errorf("%w: chunk CMem runs past the end of the file", ErrCorrupt))
			}
			return r.fatal, nil
		}
		y, err := r.stf.ReadByte()
		if err != nil {
			return r.fail(truncated("story memory", err))
		}
		mem[i] = x ^ y
		i++
	}

	for ; i < dynamic; i++ {
		y, err := r.stf.ReadByte()
		if err != nil {
			return r.fail(truncated("story memory", err))
		}
		mem[i] = y
	}
	r.progress |= gotMemory
	return r.fatal, nil
}

func (r *restorer) uncompressedMemory(length int64) (zmachine.RestoreStatus, error) {
	r.fatal = zmachine.RestoreFatal
	mem := r.m.Memory
	for i := int64(0); i < length; i++ {
		c, err := r.svf.ReadByte()
		if err != nil {
			return r.fail(truncated("UMem", err))
		}
		mem[i] = c
	}
	r.progress |= gotMemory
	return r.fatal, nil
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

// encoder writes big-endian values and remembers the first failure.
type encoder struct {
	w   *zbyte.Writer
	err error
}

func (e *encoder) putByte(b byte) {
	if e.err == nil {
		e.err = e.w.WriteByte(b)
	}
}

func (e *encoder) putWord(v uint16) {
	if e.err == nil {
		e.err = e.w.WriteWord(v)
	}
}

func (e *encoder) putLong(v uint32) {
	e.putWord(uint16(v >> 16))
	e.putWord(uint16(v))
}

func (e *encoder) chunk(id, length uint32) {
	e.putLong(id)
	e.putLong(length)
}

func (e *encoder) seekTo(offset int64) {
	if e.err == nil && !e.w.SeekTo(offset) {
		e.err = fmt.Errorf("%w: offset %d", ErrSeek, offset)
	}
}

// frameIndices lists, most recent first, the stack index just above each
// frame's header; entry 0 is the current SP, the frame a call would open.
func frameIndices(s *zmachine.Stack) ([]int, error) {
	frames := []int{s.SP}
	for i := s.FP + 4; i < zmachine.StackSize+4; {
		if i > zmachine.StackSize {
			return nil, fmt.Errorf("%w: frame pointer %d", ErrCorrupt, i-4)
		}
		frames = append(frames, i)
		next := int(s.Words[i-3]) + 5
		if next <= i {
			return nil, fmt.Errorf("%w: frame chain loops at %d", ErrCorrupt, i)
		}
		i = next
	}
	return frames, nil
}

// Save writes m to svf. stf reads the story's original dynamic memory, which
// CMem is compressed against. Only svf's buffer is modified.
func Save(svf *zbyte.Writer, stf *zbyte.Reader, m *zmachine.Machine) error {
	s := &m.Stack
	frames, err := frameIndices(s)
	if err != nil {
		return err
	}
	n := len(frames) - 1

	e := &encoder{w: svf}
	e.chunk(idFORM, 0)
	e.putLong(idIFZS)

	e.chunk(idIFhd, IFhdSize)
	e.putWord(m.Header.Release)
	for _, c := range m.Header.Serial {
		e.putByte(c)
	}
	e.putWord(m.Header.Checksum)
	e.putLong(m.PC << 8) // PC plus one pad byte

	cmemPos := svf.Tell()
	e.chunk(idCMem, 0)
	if !stf.SeekTo(0) {
		return fmt.Errorf("%w: story memory", ErrSeek)
	}
	var cmemLen uint32
	run := 0
	for i := 0; i < int(m.Header.DynamicSize); i++ {
		c, err := stf.ReadByte()
		if err != nil {
			return fmt.Errorf("reading story memory: %w", err)
		}
		c ^= m.Memory[i]
		if c == 0 {
			run++
			continue
		}
		if run > 0 {
			for ; run > 0x100; run -= 0x100 {
				e.putByte(0)
				e.putByte(0xFF)
				cmemLen += 2
			}
			e.putByte(0)
			e.putByte(byte(run - 1))
			cmemLen += 2
			run = 0
		}
		e.putByte(c)
		cmemLen++
	}
	// A trailing run is implied by the end of the chunk.
	if cmemLen&1 != 0 {
		e.putByte(0)
	}

	stksPos := svf.Tell()
	e.chunk(idStks, 0)
	var stksLen uint32

	if m.Header.Version != zmachine.V6 {
		for i := 0; i < 6; i++ {
			e.putByte(0)
		}
		nstk := zmachine.StackSize - frames[n]
		e.putWord(uint16(nstk))
		for j := zmachine.StackSize - 1; j >= frames[n]; j-- {
			e.putWord(s.Words[j])
		}
		stksLen = 8 + 2*uint32(nstk)
	}

	for i := n; i > 0; i-- {
		p := frames[i] - 4
		typeWord := s.Words[p]
		nvars := int(typeWord>>8) & 0x0F
		nargs := int(typeWord) & 0xFF
		nstk := frames[i] - frames[i-1] - nvars - 4
		if nstk < 0 {
			return fmt.Errorf("%w: frame at %d overlaps its callee", ErrCorrupt, p)
		}
		pc := uint32(s.Words[p+3])<<9 | uint32(s.Words[p+2])

		var resultVar byte
		switch typeWord & 0xF000 {
		case 0x0000:
			if pc >= uint32(len(m.Memory)) {
				return fmt.Errorf("%w: return PC $%05x outside memory", ErrCorrupt, pc)
			}
			resultVar = m.Memory[pc]
			pc = (pc+1)<<8 | uint32(nvars)
		case 0x1000:
			pc = pc<<8 | 0x10 | uint32(nvars)
		default:
			return ErrSaveInInterrupt
		}
		if nargs != 0 {
			nargs = 1<<nargs - 1
		}

		e.putLong(pc)
		e.putByte(resultVar)
		e.putByte(byte(nargs))
		e.putWord(uint16(nstk))
		for j, q := 0, p-1; j < nvars+nstk; j, q = j+1, q-1 {
			e.putWord(s.Words[q])
		}
		stksLen += 8 + 2*uint32(nvars+nstk)
	}

	state := m.Random.State()
	frngLen := uint32(len(state))
	e.chunk(idFRng, frngLen)
	for _, c := range state {
		e.putByte(c)
	}
	if frngLen&1 != 0 {
		e.putByte(0)
	}

	formLen := 4*8 + 4 + 14 + cmemLen + stksLen + frngLen
	if cmemLen&1 != 0 {
		formLen++
	}
	if frngLen&1 != 0 {
		formLen++
	}
	e.seekTo(4)
	e.putLong(formLen)
	e.seekTo(cmemPos + 4)
	e.putLong(cmemLen)
	e.seekTo(stksPos + 4)
	e.putLong(stksLen)
	return e.err
}

func tagString(tag uint32) string {
	return string([]byte{byte(tag >> 24), byte(tag >> 16), byte(tag >> 8), byte(tag)})
}
