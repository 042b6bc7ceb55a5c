package zmachine

import (
	"errors"
	"strings"
)

var (
	// ErrKilled is returned by Host.ReadInput when the driver kills the VM
	// while the interpreter waits for input. Engines must return it from Run
	// unchanged.
	ErrKilled = errors.New("interpreter killed")

	ErrNoSaveState    = errors.New("there is no State to save to")
	ErrNoRestoreState = errors.New("there is no State to restore from")
)

// RestoreStatus is the outcome of a restore.
type RestoreStatus int

const (
	// RestoreFatal means machine state was partially overwritten and the
	// interpreter cannot continue.
	RestoreFatal RestoreStatus = -1
	// RestoreFailed means nothing was touched.
	RestoreFailed RestoreStatus = 0
	// RestoreOK means the machine now holds the saved state.
	RestoreOK RestoreStatus = 2
)

func (s RestoreStatus) String() string {
	switch s {
	case RestoreOK:
		return "ok"
	case RestoreFailed:
		return "failed"
	case RestoreFatal:
		return "fatal"
	}
	return "unknown"
}

// Engine is an interpreter. Run executes the story until it quits, fails, or
// Host.ReadInput returns ErrKilled.
type Engine interface {
	Run(h Host) error
}

// Host is everything an engine needs from the process that embeds it.
type Host interface {
	StoryFile() string
	// Story returns the story image.
	Story() ([]byte, error)
	ScreenWidth() int
	ScreenHeight() int
	UndoDepth() int

	// Init is called once the story is loaded. dynamic is the live dynamic
	// memory; the host keeps a copy of its current contents as the initial
	// image.
	Init(memorySize uint32, dynamic []byte)
	// MarkWord records a word read from dynamic memory.
	MarkWord(addr uint16)

	// ReadInput blocks until a byte of input is available.
	ReadInput() (byte, error)
	WriteOutput(c byte)

	// AutoSave writes m to the registered save state.
	AutoSave(m *Machine) error
	// AutoRestore replaces m with the registered restore state.
	AutoRestore(m *Machine) (RestoreStatus, error)
}

// ReadLine reads input up to and excluding a newline.
func ReadLine(h Host) (string, error) {
	var sb strings.Builder
	for {
		c, err := h.ReadInput()
		if err != nil {
			return sb.String(), err
		}
		if c == '\n' {
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}

// WriteString sends s to the host's output one byte at a time.
func WriteString(h Host, s string) {
	for i := 0; i < len(s); i++ {
		h.WriteOutput(s[i])
	}
}
