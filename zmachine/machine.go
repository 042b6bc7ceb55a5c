package zmachine

import (
	"fmt"
)

// StackSize is the capacity of the call stack in words.
const StackSize = 1024

// CallType is the kind of routine call a frame records. Functions store their
// result into the variable named by the byte at the return PC.
type CallType uint16

const (
	CallFunction  CallType = 0
	CallProcedure CallType = 1
	CallInterrupt CallType = 2
)

func (c CallType) String() string {
	switch c {
	case CallFunction:
		return "function"
	case CallProcedure:
		return "procedure"
	case CallInterrupt:
		return "interrupt"
	}
	return fmt.Sprintf("calltype(%d)", uint16(c))
}

// ---------------------------------------------------------------------------
// Stack
// ---------------------------------------------------------------------------

// Stack grows downward from Words[StackSize-1]. A call pushes four words: the
// return PC high part (pc>>9), its low part (pc&0x1FF), the caller's FP minus
// one, and a type word (calltype<<12 | nlocals<<8 | nargs). FP then indexes
// the type word; locals sit directly below it, followed by the frame's
// evaluation stack.
type Stack struct {
	Words      [StackSize]uint16
	SP         int
	FP         int
	FrameCount int
}

// Reset empties the stack.
func (s *Stack) Reset() {
	s.SP = StackSize
	s.FP = StackSize
	s.FrameCount = 0
}

// Depth returns the number of words in use.
func (s *Stack) Depth() int {
	return StackSize - s.SP
}

// floor is the highest SP the current frame may pop to.
func (s *Stack) floor() int {
	if s.FP >= StackSize {
		return StackSize
	}
	return s.FP - int(s.Words[s.FP]>>8&0x0F)
}

// Frame describes one call frame, for display.
type Frame struct {
	Type     CallType
	ReturnPC uint32
	Locals   int
	Args     int
}

// ---------------------------------------------------------------------------
// Machine
// ---------------------------------------------------------------------------

// Machine is the mutable state of a loaded story.
type Machine struct {
	Header Header
	Memory []byte
	PC     uint32
	Stack  Stack
	Random Random

	// WordRead, if set, is told about every word read from dynamic memory.
	WordRead func(addr uint16)
}

// NewMachine loads a copy of image and positions the PC at the story's
// initial PC.
func NewMachine(image []byte) (*Machine, error) {
	h, err := ParseHeader(image)
	if err != nil {
		return nil, err
	}
	m := &Machine{
		Header: h,
		Memory: append([]byte(nil), image...),
		PC:     uint32(h.InitialPC),
		Random: NewRandom(),
	}
	m.Stack.Reset()
	return m, nil
}

// DynamicMemory returns the live, mutable prefix of memory.
func (m *Machine) DynamicMemory() []byte {
	return m.Memory[:m.Header.DynamicSize]
}

// ReadByte returns the byte at addr.
func (m *Machine) ReadByte(addr uint32) (byte, error) {
	if addr >= uint32(len(m.Memory)) {
		return 0, fmt.Errorf("%w: $%05x", ErrBadAddress, addr)
	}
	return m.Memory[addr], nil
}

// ReadWord returns the big-endian word at addr.
func (m *Machine) ReadWord(addr uint32) (uint16, error) {
	if uint64(addr)+1 >= uint64(len(m.Memory)) {
		return 0, fmt.Errorf("%w: $%05x", ErrBadAddress, addr)
	}
	if addr < uint32(m.Header.DynamicSize) && m.WordRead != nil {
		m.WordRead(uint16(addr))
	}
	return uint16(m.Memory[addr])<<8 | uint16(m.Memory[addr+1]), nil
}

// WriteByte stores v at addr, which must be in dynamic memory.
func (m *Machine) WriteByte(addr uint32, v byte) error {
	if addr >= uint32(m.Header.DynamicSize) {
		return fmt.Errorf("%w: store to $%05x outside dynamic memory", ErrBadAddress, addr)
	}
	m.Memory[addr] = v
	return nil
}

// WriteWord stores v big-endian at addr.
func (m *Machine) WriteWord(addr uint32, v uint16) error {
	if uint64(addr)+1 >= uint64(m.Header.DynamicSize) {
		return fmt.Errorf("%w: store to $%05x outside dynamic memory", ErrBadAddress, addr)
	}
	m.Memory[addr] = byte(v >> 8)
	m.Memory[addr+1] = byte(v)
	return nil
}

// Push pushes v onto the evaluation stack.
func (m *Machine) Push(v uint16) error {
	if m.Stack.SP == 0 {
		return ErrStackOverflow
	}
	m.Stack.SP--
	m.Stack.Words[m.Stack.SP] = v
	return nil
}

// Pop pops the top of the current frame's evaluation stack.
func (m *Machine) Pop() (uint16, error) {
	if m.Stack.SP >= m.Stack.floor() {
		return 0, ErrStackUnderflow
	}
	v := m.Stack.Words[m.Stack.SP]
	m.Stack.SP++
	return v, nil
}

// Call enters the routine at byte address routine with the given arguments.
// The current PC becomes the return address; for CallFunction the byte there
// names the result variable.
func (m *Machine) Call(routine uint32, args []uint16, ct CallType) error {
	if len(args) > 7 {
		return fmt.Errorf("%w: %d arguments", ErrBadRoutine, len(args))
	}
	count, err := m.ReadByte(routine)
	if err != nil {
		return err
	}
	if count > 15 {
		return fmt.Errorf("%w: $%05x declares %d locals", ErrBadRoutine, routine, count)
	}
	if m.Header.Version <= 4 && uint64(routine)+1+2*uint64(count) > uint64(len(m.Memory)) {
		return fmt.Errorf("%w: locals of $%05x run past the end of memory", ErrBadAddress, routine)
	}
	s := &m.Stack
	if s.SP < 4+int(count) {
		return ErrStackOverflow
	}

	pc := m.PC
	s.SP--
	s.Words[s.SP] = uint16(pc >> 9)
	s.SP--
	s.Words[s.SP] = uint16(pc & 0x1FF)
	s.SP--
	s.Words[s.SP] = uint16(s.FP - 1)
	s.SP--
	s.Words[s.SP] = uint16(len(args)) | uint16(ct)<<12 | uint16(count)<<8
	s.FP = s.SP
	s.FrameCount++

	pc = routine + 1
	for i := 0; i < int(count); i++ {
		var value uint16
		if m.Header.Version <= 4 {
			if value, err = m.readCodeWord(pc); err != nil {
				return err
			}
			pc += 2
		}
		if i < len(args) {
			value = args[i]
		}
		s.SP--
		s.Words[s.SP] = value
	}
	m.PC = pc
	return nil
}

func (m *Machine) readCodeWord(addr uint32) (uint16, error) {
	if uint64(addr)+1 >= uint64(len(m.Memory)) {
		return 0, fmt.Errorf("%w: $%05x", ErrBadAddress, addr)
	}
	return uint16(m.Memory[addr])<<8 | uint16(m.Memory[addr+1]), nil
}

// Return leaves the current routine with value and resumes the caller. A
// function's value is stored in its result variable.
func (m *Machine) Return(value uint16) (CallType, error) {
	s := &m.Stack
	if s.FrameCount == 0 || s.FP >= StackSize {
		return 0, fmt.Errorf("%w: return from main routine", ErrStackUnderflow)
	}
	s.SP = s.FP
	ct := CallType(s.Words[s.SP] >> 12)
	s.FrameCount--
	s.FP = int(s.Words[s.SP+1]) + 1
	m.PC = uint32(s.Words[s.SP+3])<<9 | uint32(s.Words[s.SP+2])
	s.SP += 4

	if ct == CallFunction {
		v, err := m.ReadByte(m.PC)
		if err != nil {
			return ct, err
		}
		m.PC++
		if err := m.Store(v, value); err != nil {
			return ct, err
		}
	}
	return ct, nil
}

// Store writes value into variable v: 0 is the stack, 1-15 the current
// routine's locals, 16 and above the globals table.
func (m *Machine) Store(v byte, value uint16) error {
	switch {
	case v == 0:
		return m.Push(value)
	case v < 16:
		s := &m.Stack
		if s.FP >= StackSize || int(v) > int(s.Words[s.FP]>>8&0x0F) {
			return fmt.Errorf("%w: no local %d", ErrBadAddress, v)
		}
		s.Words[s.FP-int(v)] = value
		return nil
	default:
		return m.WriteWord(uint32(m.Header.Globals)+2*uint32(v-16), value)
	}
}

// Frames lists the call frames, most recent first.
func (m *Machine) Frames() []Frame {
	var frames []Frame
	s := &m.Stack
	for fp := s.FP; fp+3 < StackSize && len(frames) < s.FrameCount; {
		tw := s.Words[fp]
		frames = append(frames, Frame{
			Type:     CallType(tw >> 12),
			ReturnPC: uint32(s.Words[fp+3])<<9 | uint32(s.Words[fp+2]),
			Locals:   int(tw >> 8 & 0x0F),
			Args:     int(tw & 0xFF),
		})
		next := int(s.Words[fp+1]) + 1
		if next <= fp {
			break
		}
		fp = next
	}
	return frames
}
