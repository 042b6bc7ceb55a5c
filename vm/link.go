package vm

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/chazu/autofrotz/quetzal"
	"github.com/chazu/autofrotz/wordset"
	"github.com/chazu/autofrotz/zbyte"
	"github.com/chazu/autofrotz/zmachine"
)

// link is the meeting point of the driver goroutine and the interpreter
// goroutine. Exactly one side runs at a time: the driver hands an input
// batch over resume and waits; the interpreter consumes it, and when it
// needs more input it signals yield and waits on resume again.
//
// Fields below the channels are touched by whichever side currently runs.
// The channel operations order those accesses.
type link struct {
	cfg Config

	resume   chan []byte
	yield    chan struct{}
	kill     chan struct{}
	killOnce sync.Once
	done     chan struct{}

	running atomic.Bool
	dead    atomic.Bool
	failure error // set before done is closed

	input  []byte
	output []byte

	saveState    *State
	restoreState *State
	saveCount    int
	restoreCount int

	memorySize uint32
	dynamic    []byte
	initial    []byte
	words      *wordset.Set
}

func newLink(cfg Config) *link {
	l := &link{
		cfg:    cfg,
		resume: make(chan []byte),
		yield:  make(chan struct{}),
		kill:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if cfg.WordSet {
		l.words = wordset.New()
	}
	l.running.Store(true)
	return l
}

// ---------------------------------------------------------------------------
// Interpreter side
// ---------------------------------------------------------------------------

// run executes the engine on the calling goroutine until it returns.
func (l *link) run(engine zmachine.Engine) {
	defer close(l.done)

	err := l.execute(engine)
	l.running.Store(false)
	l.dead.Store(true)

	switch {
	case err == nil:
		log.Debug("interpreter finished")
	case errors.Is(err, zmachine.ErrKilled):
		log.Debug("interpreter killed")
	default:
		log.Errorf("interpreter failed: %s", err.Error())
		l.cfg.Metrics.failed()
		l.failure = err
	}
}

// execute runs the engine, recovering from panics.
func (l *link) execute(engine zmachine.Engine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Debugf("panic on interpreter goroutine:\n%s", debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return engine.Run(l)
}

func (l *link) StoryFile() string {
	return l.cfg.StoryFile
}

func (l *link) Story() ([]byte, error) {
	if l.cfg.Story != nil {
		return append([]byte(nil), l.cfg.Story...), nil
	}
	data, err := os.ReadFile(l.cfg.StoryFile)
	if err != nil {
		return nil, fmt.Errorf("loading story: %w", err)
	}
	return data, nil
}

func (l *link) ScreenWidth() int  { return l.cfg.ScreenWidth }
func (l *link) ScreenHeight() int { return l.cfg.ScreenHeight }
func (l *link) UndoDepth() int    { return l.cfg.UndoDepth }

func (l *link) Init(memorySize uint32, dynamic []byte) {
	log.Debugf("memory size %d, dynamic memory size %d", memorySize, len(dynamic))
	l.memorySize = memorySize
	l.dynamic = dynamic
	l.initial = append([]byte(nil), dynamic...)
	if l.words != nil {
		l.words.EnsureWidth(uint(len(dynamic)))
	}
}

func (l *link) MarkWord(addr uint16) {
	if l.words != nil {
		l.words.Mark(uint(addr))
	}
}

// ReadInput returns the next input byte, yielding to the driver whenever
// the current batch is used up.
func (l *link) ReadInput() (byte, error) {
	for len(l.input) == 0 {
		log.Debug("blocking for input")
		l.running.Store(false)
		select {
		case l.yield <- struct{}{}:
		case <-l.kill:
			return 0, zmachine.ErrKilled
		}
		select {
		case in := <-l.resume:
			l.input = in
			log.Debugf("received %d bytes of input", len(in))
		case <-l.kill:
			return 0, zmachine.ErrKilled
		}
	}
	c := l.input[0]
	l.input = l.input[1:]
	return c, nil
}

func (l *link) WriteOutput(c byte) {
	l.output = append(l.output, c)
}

func (l *link) AutoSave(m *zmachine.Machine) error {
	if l.saveState == nil {
		return zmachine.ErrNoSaveState
	}
	stf := zbyte.NewReader(l.initial)
	svf := zbyte.NewWriter(&l.saveState.data)
	if err := quetzal.Save(svf, stf, m); err != nil {
		return err
	}
	l.saveCount++
	l.cfg.Metrics.saved()
	log.Infof("saved %d bytes", len(l.saveState.data))
	return nil
}

func (l *link) AutoRestore(m *zmachine.Machine) (zmachine.RestoreStatus, error) {
	if l.restoreState == nil {
		return zmachine.RestoreFailed, zmachine.ErrNoRestoreState
	}
	svf := zbyte.NewReader(l.restoreState.data)
	stf := zbyte.NewReader(l.initial)
	status, err := quetzal.Restore(svf, stf, m)
	if status == zmachine.RestoreOK {
		l.restoreCount++
		l.cfg.Metrics.restored()
		log.Infof("restored %d bytes", len(l.restoreState.data))
	} else {
		log.Warningf("restore %s: %v", status, err)
	}
	return status, err
}

// ---------------------------------------------------------------------------
// Driver side
// ---------------------------------------------------------------------------

// await blocks until the interpreter yields or exits. It returns the
// interpreter's failure, once.
func (l *link) await() error {
	select {
	case <-l.yield:
		return nil
	case <-l.done:
		err := l.failure
		l.failure = nil
		return err
	}
}

// hand gives input to the blocked interpreter and waits for it to block
// again.
func (l *link) hand(input []byte) error {
	l.running.Store(true)
	select {
	case l.resume <- input:
	case <-l.done:
	}
	return l.await()
}

func (l *link) terminate() {
	l.killOnce.Do(func() {
		log.Debug("killing interpreter")
		close(l.kill)
	})
	<-l.done
}
