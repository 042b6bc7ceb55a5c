// Package vm runs an interpreter on its own goroutine and exposes it as a
// synchronous request/response API: each DoAction hands the interpreter a
// batch of input and returns once it has consumed the batch and is waiting
// for more.
//
// Saves and restores performed by the running story go through States the
// driver registers with SetSaveState and SetRestoreState, encoded in the
// Quetzal format.
package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/chazu/autofrotz/wordset"
	"github.com/chazu/autofrotz/zmachine"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("autofrotz.vm")

var (
	// ErrStartup wraps failures before the interpreter first asked for input.
	ErrStartup = errors.New("interpreter failed to start")
	// ErrInterpreterFailed wraps failures during an action.
	ErrInterpreterFailed = errors.New("interpreter failed")
	// ErrNotAlive is returned by DoAction once the interpreter has exited.
	ErrNotAlive = errors.New("interpreter is not alive")
)

// Config describes the VM to start.
type Config struct {
	// StoryFile names the story. It is read unless Story is set.
	StoryFile string
	Story     []byte

	ScreenWidth  int
	ScreenHeight int
	UndoDepth    int

	// WordSet enables tracking of words read from dynamic memory.
	WordSet bool

	// Engine runs the story. Nil selects zmachine.NewMonitor().
	Engine zmachine.Engine

	Metrics *Metrics
}

// VM is a running interpreter. Its methods must be called from a single
// goroutine.
type VM struct {
	l *link
}

// New starts the interpreter and waits until it first blocks for input.
// The interpreter's startup output is available from Output.
func New(cfg Config) (*VM, error) {
	engine := cfg.Engine
	if engine == nil {
		engine = zmachine.NewMonitor()
	}
	l := newLink(cfg)
	log.Debugf("starting interpreter for %q", cfg.StoryFile)
	go l.run(engine)

	if err := l.await(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStartup, err)
	}
	return &VM{l: l}, nil
}

// DoAction gives input to the interpreter and returns the output it
// produced before blocking for more. Save and restore counts restart at
// zero for each action.
//
// If the interpreter fails while processing input, DoAction returns the
// failure wrapped in ErrInterpreterFailed together with the output written
// before the failure, and the VM is dead.
func (v *VM) DoAction(input []byte) ([]byte, error) {
	l := v.l
	if !v.IsAlive() {
		return nil, ErrNotAlive
	}
	l.output = nil
	l.saveCount = 0
	l.restoreCount = 0

	start := time.Now()
	err := l.hand(append([]byte(nil), input...))
	l.cfg.Metrics.action(time.Since(start).Seconds())
	if err != nil {
		return l.output, fmt.Errorf("%w: %w", ErrInterpreterFailed, err)
	}
	return l.output, nil
}

// Output returns the output of the last action, or the startup output if
// no action has run.
func (v *VM) Output() []byte {
	return v.l.output
}

// IsAlive reports whether the interpreter is still running.
func (v *VM) IsAlive() bool {
	return !v.l.dead.Load()
}

// IsRunning reports whether the interpreter currently owns execution. It is
// false whenever New or DoAction has returned.
func (v *VM) IsRunning() bool {
	return v.l.running.Load()
}

// Kill stops the interpreter and waits for its goroutine to exit. It is safe
// to call more than once.
func (v *VM) Kill() {
	v.l.terminate()
}

// Close kills the interpreter. It always returns nil.
func (v *VM) Close() error {
	v.Kill()
	return nil
}

// SetSaveState registers the State the next in-story save writes to. Nil
// clears the registration.
func (v *VM) SetSaveState(s *State) {
	v.l.saveState = s
}

// SetRestoreState registers the State the next in-story restore reads from.
// Nil clears the registration.
func (v *VM) SetRestoreState(s *State) {
	v.l.restoreState = s
}

// SaveCount returns the number of successful saves during the last action.
func (v *VM) SaveCount() int {
	return v.l.saveCount
}

// RestoreCount returns the number of successful restores during the last
// action.
func (v *VM) RestoreCount() int {
	return v.l.restoreCount
}

// ---------------------------------------------------------------------------
// Memory introspection
// ---------------------------------------------------------------------------

// MemorySize returns the size of the story's address space.
func (v *VM) MemorySize() uint32 {
	return v.l.memorySize
}

// DynamicMemorySize returns the size of dynamic memory.
func (v *VM) DynamicMemorySize() int {
	return len(v.l.initial)
}

// DynamicMemory returns the interpreter's live dynamic memory, or nil once
// the interpreter has exited. The slice must not be modified and is only
// valid between actions.
func (v *VM) DynamicMemory() []byte {
	if !v.IsAlive() {
		return nil
	}
	return v.l.dynamic
}

// InitialDynamicMemory returns dynamic memory as it was when the story was
// loaded.
func (v *VM) InitialDynamicMemory() []byte {
	return v.l.initial
}

// WordSet returns the addresses read as words, or nil if tracking is off.
func (v *VM) WordSet() *wordset.Set {
	return v.l.words
}
