package zmachine

import (
	"errors"
	"testing"

	"github.com/chazu/autofrotz/internal/storytest"
)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewMachine(storytest.Default())
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

// ---------------------------------------------------------------------------
// Header tests
// ---------------------------------------------------------------------------

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader(storytest.Image(storytest.Options{Release: 7, Checksum: 0xBEEF}))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Version != 3 || h.Release != 7 || h.Checksum != 0xBEEF {
		t.Errorf("got version %d release %d checksum %#x", h.Version, h.Release, h.Checksum)
	}
	if h.DynamicSize != 256 || h.Globals != storytest.Globals || h.InitialPC != storytest.InitialPC {
		t.Errorf("got dynamic %d globals %#x pc %#x", h.DynamicSize, h.Globals, h.InitialPC)
	}
	if h.SerialString() != storytest.DefaultSerial {
		t.Errorf("serial = %q, want %q", h.SerialString(), storytest.DefaultSerial)
	}
}

func TestParseHeaderRejects(t *testing.T) {
	cases := map[string][]byte{
		"short":       make([]byte, 10),
		"version 255": storytest.Image(storytest.Options{Version: 0xFF}),
		"tiny memory": storytest.Image(storytest.Options{DynamicSize: 32}),
		"huge memory": storytest.Image(storytest.Options{DynamicSize: 2048}),
	}
	for name, image := range cases {
		if _, err := ParseHeader(image); !errors.Is(err, ErrBadStory) {
			t.Errorf("%s: err = %v, want ErrBadStory", name, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Memory tests
// ---------------------------------------------------------------------------

func TestMachineCopiesImage(t *testing.T) {
	image := storytest.Default()
	m, err := NewMachine(image)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteByte(0x80, 9); err != nil {
		t.Fatal(err)
	}
	if image[0x80] != 0 {
		t.Error("writing machine memory modified the source image")
	}
	if m.PC != storytest.InitialPC {
		t.Errorf("PC = %#x, want %#x", m.PC, storytest.InitialPC)
	}
}

func TestWriteOutsideDynamicMemory(t *testing.T) {
	m := newTestMachine(t)
	if err := m.WriteByte(256, 1); !errors.Is(err, ErrBadAddress) {
		t.Errorf("WriteByte(256): err = %v, want ErrBadAddress", err)
	}
	if err := m.WriteWord(255, 1); !errors.Is(err, ErrBadAddress) {
		t.Errorf("WriteWord(255): err = %v, want ErrBadAddress", err)
	}
}

func TestWordAccessAtTopOfAddressSpace(t *testing.T) {
	m := newTestMachine(t)
	if _, err := m.ReadWord(0xFFFFFFFF); !errors.Is(err, ErrBadAddress) {
		t.Errorf("ReadWord($ffffffff): err = %v, want ErrBadAddress", err)
	}
	if _, err := m.ReadWord(1023); !errors.Is(err, ErrBadAddress) {
		t.Errorf("ReadWord(1023): err = %v, want ErrBadAddress", err)
	}
	if err := m.WriteWord(0xFFFFFFFF, 1); !errors.Is(err, ErrBadAddress) {
		t.Errorf("WriteWord($ffffffff): err = %v, want ErrBadAddress", err)
	}
	if err := m.Call(0xFFFFFFFF, nil, CallFunction); !errors.Is(err, ErrBadAddress) {
		t.Errorf("Call($ffffffff): err = %v, want ErrBadAddress", err)
	}
}

func TestReadWordReportsDynamicReads(t *testing.T) {
	m := newTestMachine(t)
	var seen []uint16
	m.WordRead = func(a uint16) { seen = append(seen, a) }

	m.Memory[0x40] = 0x12
	m.Memory[0x41] = 0x34
	v, err := m.ReadWord(0x40)
	if err != nil || v != 0x1234 {
		t.Fatalf("ReadWord = %#x, %v; want 0x1234", v, err)
	}
	if _, err := m.ReadWord(0x300); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != 0x40 {
		t.Errorf("reported %v, want [64]", seen)
	}
}

// ---------------------------------------------------------------------------
// Stack tests
// ---------------------------------------------------------------------------

func TestCallLayout(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Call(storytest.Routine2, []uint16{7}, CallFunction); err != nil {
		t.Fatalf("Call: %v", err)
	}
	s := &m.Stack
	want := map[int]uint16{
		1023: 0x300 >> 9,
		1022: 0x300 & 0x1FF,
		1021: 1023,
		1020: 0x0201,
		1019: 7,
		1018: 0x2222,
	}
	for i, w := range want {
		if s.Words[i] != w {
			t.Errorf("Words[%d] = %#x, want %#x", i, s.Words[i], w)
		}
	}
	if s.FP != 1020 || s.SP != 1018 || s.FrameCount != 1 {
		t.Errorf("FP %d SP %d frames %d, want 1020 1018 1", s.FP, s.SP, s.FrameCount)
	}
	if m.PC != storytest.Routine2+5 {
		t.Errorf("PC = %#x, want %#x", m.PC, storytest.Routine2+5)
	}
}

func TestReturnStoresResult(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Call(storytest.Routine2, nil, CallFunction); err != nil {
		t.Fatal(err)
	}
	ct, err := m.Return(42)
	if err != nil {
		t.Fatalf("Return: %v", err)
	}
	if ct != CallFunction {
		t.Errorf("call type = %v, want function", ct)
	}
	if m.PC != storytest.InitialPC+1 {
		t.Errorf("PC = %#x, want %#x", m.PC, storytest.InitialPC+1)
	}
	v, err := m.Pop()
	if err != nil || v != 42 {
		t.Errorf("Pop = %d, %v; want 42", v, err)
	}
	if m.Stack.Depth() != 0 || m.Stack.FrameCount != 0 {
		t.Errorf("depth %d frames %d after return, want 0 0", m.Stack.Depth(), m.Stack.FrameCount)
	}
}

func TestProcedureDiscardsResult(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Call(storytest.Routine0, nil, CallProcedure); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Return(5); err != nil {
		t.Fatal(err)
	}
	if m.PC != storytest.InitialPC || m.Stack.Depth() != 0 {
		t.Errorf("PC %#x depth %d, want %#x 0", m.PC, m.Stack.Depth(), storytest.InitialPC)
	}
}

func TestStoreVariables(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Call(storytest.Routine2, nil, CallProcedure); err != nil {
		t.Fatal(err)
	}
	if err := m.Store(2, 99); err != nil {
		t.Fatal(err)
	}
	if got := m.Stack.Words[m.Stack.FP-2]; got != 99 {
		t.Errorf("local 2 = %d, want 99", got)
	}
	if err := m.Store(3, 1); !errors.Is(err, ErrBadAddress) {
		t.Errorf("Store(3) with two locals: err = %v, want ErrBadAddress", err)
	}
	if err := m.Store(17, 0xABCD); err != nil {
		t.Fatal(err)
	}
	if m.Memory[storytest.Globals+2] != 0xAB || m.Memory[storytest.Globals+3] != 0xCD {
		t.Errorf("global 1 not written: % x", m.Memory[storytest.Globals+2:storytest.Globals+4])
	}
}

func TestPopStopsAtFrame(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Push(1); err != nil {
		t.Fatal(err)
	}
	if err := m.Call(storytest.Routine2, nil, CallProcedure); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Pop(); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Pop into caller's frame: err = %v, want ErrStackUnderflow", err)
	}
	if _, err := m.Return(0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Return(0); !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("Return from main: err = %v, want ErrStackUnderflow", err)
	}
}

func TestFrames(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Call(storytest.Routine2, []uint16{1, 2}, CallFunction); err != nil {
		t.Fatal(err)
	}
	if err := m.Call(storytest.Routine0, nil, CallProcedure); err != nil {
		t.Fatal(err)
	}
	frames := m.Frames()
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != CallProcedure || frames[0].ReturnPC != storytest.Routine2+5 {
		t.Errorf("frame 0 = %+v", frames[0])
	}
	if frames[1].Type != CallFunction || frames[1].ReturnPC != storytest.InitialPC ||
		frames[1].Locals != 2 || frames[1].Args != 2 {
		t.Errorf("frame 1 = %+v", frames[1])
	}
}

func TestCallRejectsLocalsPastEndOfMemory(t *testing.T) {
	m := newTestMachine(t)
	m.Memory[0x3FE] = 2
	if err := m.Call(0x3FE, nil, CallFunction); !errors.Is(err, ErrBadAddress) {
		t.Errorf("err = %v, want ErrBadAddress", err)
	}
	if m.Stack.Depth() != 0 || m.Stack.FrameCount != 0 {
		t.Error("rejected call touched the stack")
	}
}

func TestCallRejectsBadRoutine(t *testing.T) {
	m := newTestMachine(t)
	m.Memory[0x100] = 16
	if err := m.Call(0x100, nil, CallFunction); !errors.Is(err, ErrBadRoutine) {
		t.Errorf("err = %v, want ErrBadRoutine", err)
	}
	if m.Stack.Depth() != 0 {
		t.Error("rejected call touched the stack")
	}
}
