package zmachine

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/chazu/autofrotz/internal/storytest"
)

// scriptHost feeds a fixed script and reports ErrKilled once it runs out.
type scriptHost struct {
	input   []byte
	out     bytes.Buffer
	marked  []uint16
	initial []byte

	saveErr       error
	restoreStatus RestoreStatus
	restoreErr    error
	saves         int
}

func (h *scriptHost) StoryFile() string      { return "test.z3" }
func (h *scriptHost) Story() ([]byte, error) { return storytest.Default(), nil }
func (h *scriptHost) ScreenWidth() int       { return 70 }
func (h *scriptHost) ScreenHeight() int      { return 128 }
func (h *scriptHost) UndoDepth() int         { return 2 }

func (h *scriptHost) Init(_ uint32, dynamic []byte) {
	h.initial = append([]byte(nil), dynamic...)
}

func (h *scriptHost) MarkWord(a uint16) { h.marked = append(h.marked, a) }

func (h *scriptHost) ReadInput() (byte, error) {
	if len(h.input) == 0 {
		return 0, ErrKilled
	}
	c := h.input[0]
	h.input = h.input[1:]
	return c, nil
}

func (h *scriptHost) WriteOutput(c byte) { h.out.WriteByte(c) }

func (h *scriptHost) AutoSave(*Machine) error {
	if h.saveErr == nil {
		h.saves++
	}
	return h.saveErr
}

func (h *scriptHost) AutoRestore(*Machine) (RestoreStatus, error) {
	return h.restoreStatus, h.restoreErr
}

func runScript(t *testing.T, h *scriptHost, script string) error {
	t.Helper()
	h.input = []byte(script)
	return NewMonitor().Run(h)
}

func TestMonitorBannerAndKill(t *testing.T) {
	h := &scriptHost{}
	err := runScript(t, h, "")
	if !errors.Is(err, ErrKilled) {
		t.Fatalf("err = %v, want ErrKilled", err)
	}
	out := h.out.String()
	if !strings.Contains(out, "serial 240101") || !strings.HasSuffix(out, Prompt) {
		t.Errorf("unexpected banner %q", out)
	}
	if len(h.initial) != 256 {
		t.Errorf("Init got %d bytes of dynamic memory, want 256", len(h.initial))
	}
}

func TestMonitorCallAndReturn(t *testing.T) {
	h := &scriptHost{}
	err := runScript(t, h, "call $200 5\nret 9\npop\nlook\nquit\n")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := h.out.String()
	for _, want := range []string{
		"Entered $00200, PC $00205.",
		"Returned 9 from function, PC $00301.",
		">9\n",
		"frames 0",
		"Goodbye.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMonitorPeekwMarksWord(t *testing.T) {
	h := &scriptHost{}
	if err := runScript(t, h, "peekw $40\npeekw $300\nquit\n"); err != nil {
		t.Fatal(err)
	}
	if len(h.marked) != 1 || h.marked[0] != 0x40 {
		t.Errorf("marked %v, want [64]", h.marked)
	}
}

func TestMonitorUndo(t *testing.T) {
	h := &scriptHost{}
	if err := runScript(t, h, "poke $80 7\npoke $80 8\nundo\npeek $80\nundo\nundo\npeek $80\nquit\n"); err != nil {
		t.Fatal(err)
	}
	out := h.out.String()
	if !strings.Contains(out, "$00080 = $07 (7)") {
		t.Errorf("first undo did not restore 7:\n%s", out)
	}
	if !strings.Contains(out, "Can't undo.") {
		t.Errorf("undo past depth should fail:\n%s", out)
	}
	if !strings.Contains(out, "$00080 = $00 (0)") {
		t.Errorf("second undo did not restore 0:\n%s", out)
	}
}

func TestMonitorSaveMessages(t *testing.T) {
	h := &scriptHost{saveErr: ErrNoSaveState}
	if err := runScript(t, h, "save\nquit\n"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "There is no State to save to.") {
		t.Errorf("output = %q", h.out.String())
	}

	h = &scriptHost{}
	if err := runScript(t, h, "save\nquit\n"); err != nil {
		t.Fatal(err)
	}
	if h.saves != 1 || !strings.Contains(h.out.String(), "Ok.") {
		t.Errorf("saves %d, output %q", h.saves, h.out.String())
	}
}

func TestMonitorRestoreOutcomes(t *testing.T) {
	h := &scriptHost{restoreStatus: RestoreFailed, restoreErr: ErrNoRestoreState}
	if err := runScript(t, h, "restore\nquit\n"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), "There is no State to restore from.") {
		t.Errorf("output = %q", h.out.String())
	}

	corrupt := errors.New("corrupt stack")
	h = &scriptHost{restoreStatus: RestoreFatal, restoreErr: corrupt}
	err := runScript(t, h, "restore\nquit\n")
	if !errors.Is(err, corrupt) {
		t.Errorf("fatal restore: err = %v, want wrapped %v", err, corrupt)
	}
}

func TestMonitorHalt(t *testing.T) {
	h := &scriptHost{}
	if err := runScript(t, h, "halt\n"); !errors.Is(err, ErrHalted) {
		t.Errorf("err = %v, want ErrHalted", err)
	}
}

func TestMonitorReportsBadInput(t *testing.T) {
	h := &scriptHost{}
	if err := runScript(t, h, "frob\npeek\npeek zz\npop\npeekw $ffffffff\npoke $ffffffff 1\nquit\n"); err != nil {
		t.Fatal(err)
	}
	out := h.out.String()
	for _, want := range []string{
		`I don't know the command "frob".`,
		"Usage: peek ADDR",
		`Error: bad number "zz"`,
		"Error: stack underflow",
		"Error: address out of range: $ffffffff",
		"Error: address out of range: store to $ffffffff outside dynamic memory",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "Goodbye.\n") {
		t.Errorf("monitor stopped early:\n%s", out)
	}
}

func TestMonitorRandom(t *testing.T) {
	h := &scriptHost{}
	if err := runScript(t, h, "seed 2\nrandom 10\nrandom 10\nrandom 10\nquit\n"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(h.out.String(), ">1\n\n>2\n\n>1\n") {
		t.Errorf("counting sequence missing:\n%q", h.out.String())
	}
}
