package zmachine

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("autofrotz.zmachine")

// Prompt is written whenever the monitor waits for a command.
const Prompt = "\n>"

// Monitor is a line-driven reference engine. It loads a story and executes
// machine-monitor commands against it, one per input line, so that every
// Host callback (input, output, word tracking, save and restore) is
// exercised without a full opcode interpreter.
type Monitor struct {
	m    *Machine
	h    Host
	undo []snapshot
}

type snapshot struct {
	dynamic []byte
	pc      uint32
	stack   Stack
	random  Random
}

// NewMonitor returns a Monitor ready to Run.
func NewMonitor() *Monitor {
	return &Monitor{}
}

type command struct {
	args     string
	mutates  bool
	minArgs  int
	run      func(mon *Monitor, args []uint32) error
	describe string
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"look":    {"", false, 0, (*Monitor).look, "show registers"},
		"peek":    {"ADDR", false, 1, (*Monitor).peek, "read a byte"},
		"peekw":   {"ADDR", false, 1, (*Monitor).peekw, "read a word"},
		"poke":    {"ADDR VALUE", true, 2, (*Monitor).poke, "write a byte to dynamic memory"},
		"push":    {"VALUE", true, 1, (*Monitor).push, "push onto the stack"},
		"pop":     {"", true, 0, (*Monitor).pop, "pop the stack"},
		"call":    {"ROUTINE [ARG...]", true, 1, (*Monitor).callFunction, "call a function"},
		"proc":    {"ROUTINE [ARG...]", true, 1, (*Monitor).callProcedure, "call a procedure"},
		"ret":     {"[VALUE]", true, 0, (*Monitor).ret, "return from the current routine"},
		"frames":  {"", false, 0, (*Monitor).frames, "list call frames"},
		"random":  {"RANGE", true, 1, (*Monitor).random, "draw a random number"},
		"seed":    {"VALUE", true, 1, (*Monitor).seed, "seed the generator"},
		"save":    {"", false, 0, (*Monitor).save, "save to the registered State"},
		"restore": {"", true, 0, (*Monitor).restore, "restore from the registered State"},
		"undo":    {"", false, 0, (*Monitor).undoLast, "undo the last change"},
		"help":    {"", false, 0, (*Monitor).help, "list commands"},
	}
}

// Run implements Engine.
func (mon *Monitor) Run(h Host) error {
	image, err := h.Story()
	if err != nil {
		return err
	}
	m, err := NewMachine(image)
	if err != nil {
		return err
	}
	m.WordRead = h.MarkWord
	h.Init(uint32(len(m.Memory)), m.DynamicMemory())
	mon.m = m
	mon.h = h
	mon.undo = nil

	mon.printf("Monitor ready: %s release %d serial %s, version %d.\n",
		h.StoryFile(), m.Header.Release, m.Header.SerialString(), m.Header.Version)
	mon.printf("Screen %dx%d, %d undo slot(s).\n", h.ScreenWidth(), h.ScreenHeight(), h.UndoDepth())

	for {
		WriteString(h, Prompt)
		line, err := ReadLine(h)
		if err != nil {
			return err
		}
		quit, err := mon.execute(line)
		if err != nil {
			return err
		}
		if quit {
			return nil
		}
	}
}

func (mon *Monitor) execute(line string) (bool, error) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false, nil
	}
	name := fields[0]
	log.Debugf("command %q", line)

	switch name {
	case "quit":
		mon.printf("Goodbye.\n")
		return true, nil
	case "halt":
		return false, fmt.Errorf("%w at $%05x", ErrHalted, mon.m.PC)
	}

	cmd, ok := commands[name]
	if !ok {
		mon.printf("I don't know the command \"%s\".\n", name)
		return false, nil
	}
	args, err := parseArgs(fields[1:])
	if err != nil {
		mon.printf("Error: %v\n", err)
		return false, nil
	}
	if len(args) < cmd.minArgs {
		mon.printf("Usage: %s %s\n", name, cmd.args)
		return false, nil
	}

	if cmd.mutates {
		mon.snapshot()
	}
	if err := cmd.run(mon, args); err != nil {
		if errors.Is(err, errFatal) {
			return false, err
		}
		if cmd.mutates {
			mon.dropSnapshot()
		}
		mon.printf("Error: %v\n", err)
	}
	return false, nil
}

// errFatal marks errors the monitor cannot continue after.
var errFatal = errors.New("fatal")

func parseArgs(fields []string) ([]uint32, error) {
	args := make([]uint32, 0, len(fields))
	for _, f := range fields {
		base := 0
		if strings.HasPrefix(f, "$") {
			f = f[1:]
			base = 16
		}
		neg := strings.HasPrefix(f, "-")
		if neg {
			f = f[1:]
		}
		v, err := strconv.ParseUint(f, base, 32)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", f)
		}
		if neg {
			v = uint64(uint32(-int32(v)))
		}
		args = append(args, uint32(v))
	}
	return args, nil
}

func (mon *Monitor) printf(format string, args ...any) {
	WriteString(mon.h, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Undo
// ---------------------------------------------------------------------------

func (mon *Monitor) snapshot() {
	depth := mon.h.UndoDepth()
	if depth <= 0 {
		return
	}
	s := snapshot{
		dynamic: append([]byte(nil), mon.m.DynamicMemory()...),
		pc:      mon.m.PC,
		stack:   mon.m.Stack,
		random:  mon.m.Random,
	}
	mon.undo = append(mon.undo, s)
	if len(mon.undo) > depth {
		mon.undo = mon.undo[len(mon.undo)-depth:]
	}
}

func (mon *Monitor) dropSnapshot() {
	if len(mon.undo) > 0 {
		mon.undo = mon.undo[:len(mon.undo)-1]
	}
}

func (mon *Monitor) undoLast(_ []uint32) error {
	if len(mon.undo) == 0 {
		mon.printf("Can't undo.\n")
		return nil
	}
	s := mon.undo[len(mon.undo)-1]
	mon.undo = mon.undo[:len(mon.undo)-1]
	copy(mon.m.DynamicMemory(), s.dynamic)
	mon.m.PC = s.pc
	mon.m.Stack = s.stack
	mon.m.Random = s.random
	mon.printf("Undone.\n")
	return nil
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func (mon *Monitor) look(_ []uint32) error {
	m := mon.m
	mon.printf("PC $%05x  SP %d  FP %d  frames %d  stack depth %d\n",
		m.PC, m.Stack.SP, m.Stack.FP, m.Stack.FrameCount, m.Stack.Depth())
	return nil
}

func (mon *Monitor) peek(args []uint32) error {
	v, err := mon.m.ReadByte(args[0])
	if err != nil {
		return err
	}
	mon.printf("$%05x = $%02x (%d)\n", args[0], v, v)
	return nil
}

func (mon *Monitor) peekw(args []uint32) error {
	v, err := mon.m.ReadWord(args[0])
	if err != nil {
		return err
	}
	mon.printf("$%05x = $%04x (%d)\n", args[0], v, v)
	return nil
}

func (mon *Monitor) poke(args []uint32) error {
	if err := mon.m.WriteByte(args[0], byte(args[1])); err != nil {
		return err
	}
	mon.printf("Ok.\n")
	return nil
}

func (mon *Monitor) push(args []uint32) error {
	if err := mon.m.Push(uint16(args[0])); err != nil {
		return err
	}
	mon.printf("Ok.\n")
	return nil
}

func (mon *Monitor) pop(_ []uint32) error {
	v, err := mon.m.Pop()
	if err != nil {
		return err
	}
	mon.printf("%d\n", v)
	return nil
}

func (mon *Monitor) call(args []uint32, ct CallType) error {
	params := make([]uint16, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, uint16(a))
	}
	if err := mon.m.Call(args[0], params, ct); err != nil {
		return err
	}
	mon.printf("Entered $%05x, PC $%05x.\n", args[0], mon.m.PC)
	return nil
}

func (mon *Monitor) callFunction(args []uint32) error {
	return mon.call(args, CallFunction)
}

func (mon *Monitor) callProcedure(args []uint32) error {
	return mon.call(args, CallProcedure)
}

func (mon *Monitor) ret(args []uint32) error {
	var v uint16
	if len(args) > 0 {
		v = uint16(args[0])
	}
	ct, err := mon.m.Return(v)
	if err != nil {
		return err
	}
	mon.printf("Returned %d from %s, PC $%05x.\n", v, ct, mon.m.PC)
	return nil
}

func (mon *Monitor) frames(_ []uint32) error {
	frames := mon.m.Frames()
	if len(frames) == 0 {
		mon.printf("No frames.\n")
		return nil
	}
	for i, f := range frames {
		mon.printf("#%d %s return $%05x locals %d args %d\n", i, f.Type, f.ReturnPC, f.Locals, f.Args)
	}
	return nil
}

func (mon *Monitor) random(args []uint32) error {
	n := uint16(args[0])
	if n == 0 || int16(n) < 0 {
		mon.m.Random.Seed(-int(int16(n)))
		mon.printf("Reseeded.\n")
		return nil
	}
	mon.printf("%d\n", mon.m.Random.Next(n))
	return nil
}

func (mon *Monitor) seed(args []uint32) error {
	mon.m.Random.Seed(int(int32(args[0])))
	mon.printf("Ok.\n")
	return nil
}

func (mon *Monitor) save(_ []uint32) error {
	err := mon.h.AutoSave(mon.m)
	switch {
	case err == nil:
		mon.printf("Ok.\n")
	case errors.Is(err, ErrNoSaveState):
		mon.printf("There is no State to save to.\n")
	default:
		mon.printf("Failed.\n")
		log.Warningf("save: %s", err.Error())
	}
	return nil
}

func (mon *Monitor) restore(_ []uint32) error {
	status, err := mon.h.AutoRestore(mon.m)
	switch status {
	case RestoreOK:
		mon.undo = nil
		mon.printf("Ok.\n")
		return nil
	case RestoreFatal:
		return fmt.Errorf("%w: restore left the machine inconsistent: %w", errFatal, err)
	}
	mon.dropSnapshot()
	if errors.Is(err, ErrNoRestoreState) {
		mon.printf("There is no State to restore from.\n")
	} else {
		mon.printf("Failed.\n")
		if err != nil {
			log.Warningf("restore: %s", err.Error())
		}
	}
	return nil
}

func (mon *Monitor) help(_ []uint32) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := commands[name]
		mon.printf("%-8s %-18s %s\n", name, c.args, c.describe)
	}
	mon.printf("%-8s %-18s %s\n", "halt", "", "stop with an error")
	mon.printf("%-8s %-18s %s\n", "quit", "", "stop")
	return nil
}
