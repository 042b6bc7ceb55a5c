package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chazu/autofrotz/slots"
	"github.com/chazu/autofrotz/vm"
	"github.com/chazu/autofrotz/zmachine"
	"github.com/spf13/cobra"
)

func newPlayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play [story]",
		Short: "Play a story interactively",
		Long: `Play a story one line at a time. Besides story input the harness
understands:

  setsave [N]      save to slot N (-1 for none)
  setrestore [N]   restore from slot N (-1 for none)
  export N FILE    write slot N to a Quetzal file
  import N FILE    read slot N from a Quetzal file
  slots            list the slots in use
  benchmark        time repeated actions

A line holding a single "." sends the byte $01.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := newLineReader()
			defer in.Close()
			story := ""
			if len(args) > 0 {
				story = args[0]
			}
			return play(a, story, in, cmd.OutOrStdout())
		},
	}
}

// session is one interactive run of the harness.
type session struct {
	v     *vm.VM
	slots *slots.Set
	in    lineReader
	out   io.Writer
	width int

	saveSlot    int
	restoreSlot int
}

func play(a *app, story string, in lineReader, out io.Writer) error {
	m := a.m
	fmt.Fprintln(out, titleStyle.Render("autofrotz"))
	fmt.Fprintln(out, dimStyle.Render("Story input goes to the interpreter; setsave, setrestore, export, import, slots and benchmark are handled here."))
	fmt.Fprintln(out)

	if story == "" {
		story = m.StoryPath()
	}
	if story == "" {
		note(out, "Enter story file name:")
		line, err := in.readLine("story> ")
		if err != nil {
			return fmt.Errorf("no story file: %w", err)
		}
		story = strings.TrimSpace(line)
	}

	data, err := os.ReadFile(story)
	if err != nil {
		return err
	}
	header, err := zmachine.ParseHeader(data)
	if err != nil {
		return fmt.Errorf("%s: %w", story, err)
	}

	note(out, "Creating %d state slot%s", m.Slots.Count, plural(m.Slots.Count, "", "s"))
	set := slots.New(m.Slots.Count)
	set.Story = &header
	bundle := m.BundlePath()
	if bundle != "" {
		if err := set.Load(bundle); err != nil {
			return err
		}
		if used := set.Used(); len(used) > 0 {
			note(out, "Loaded slot%s %v from %s", plural(len(used), "", "s"), used, bundle)
		}
	}

	note(out, "Initialising Z-machine")
	v, err := vm.New(vm.Config{
		StoryFile:    story,
		Story:        data,
		ScreenWidth:  m.Screen.Width,
		ScreenHeight: m.Screen.Height,
		UndoDepth:    m.VM.UndoDepth,
		WordSet:      m.WordSetEnabled(),
	})
	if err != nil {
		failure(out, "Z-machine terminated: %v", err)
		return err
	}
	defer v.Close()

	s := &session{
		v:           v,
		slots:       set,
		in:          in,
		out:         out,
		width:       m.Screen.Width,
		saveSlot:    -1,
		restoreSlot: -1,
	}
	frame(out, v.Output(), s.width)

	start := time.Now()
	err = s.loop()
	note(out, "Session took %s", time.Since(start).Round(time.Millisecond))

	if bundle != "" {
		if serr := set.Save(bundle); serr != nil {
			return errors.Join(err, serr)
		}
	}
	return err
}

func (s *session) loop() error {
	for s.v.IsAlive() {
		line, err := s.in.readLine("")
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		cmd := ""
		if len(fields) > 0 {
			cmd = fields[0]
		}
		switch cmd {
		case "setsave":
			s.chooseSlot(fields[1:], "save", &s.saveSlot, s.v.SetSaveState)
		case "setrestore":
			s.chooseSlot(fields[1:], "restore", &s.restoreSlot, s.v.SetRestoreState)
		case "export":
			s.transfer(fields[1:], "export", s.slots.Export)
		case "import":
			s.transfer(fields[1:], "import", s.slots.Import)
		case "slots":
			s.listSlots()
		case "benchmark":
			if err := benchmark(s.v, s.out, defaultScript, benchmarkTable); err != nil {
				failure(s.out, "Benchmark failed: %v", err)
			}
		default:
			s.action(line)
		}
	}
	return nil
}

func (s *session) action(line string) {
	input := line + "\n"
	if line == "." {
		input = "\x01\n"
	}
	output, err := s.v.DoAction([]byte(input))
	frame(s.out, output, s.width)
	if err != nil {
		failure(s.out, "Action failed (%v)", err)
	}
	if !s.v.IsAlive() {
		failure(s.out, "Z-machine terminated")
	}
	if n := s.v.SaveCount(); n > 0 {
		note(s.out, "made %d successful save%s to current save slot", n, plural(n, "", "s"))
	}
	if n := s.v.RestoreCount(); n > 0 {
		note(s.out, "made %d successful restoration%s from current restore slot", n, plural(n, "", "s"))
	}
}

// chooseSlot changes the save or restore slot. Without an argument it
// reports the current slot and asks for the new one.
func (s *session) chooseSlot(args []string, what string, current *int, set func(*vm.State)) {
	var arg string
	if len(args) > 0 {
		arg = args[0]
	} else {
		if *current == -1 {
			note(s.out, "No current %s slot", what)
		} else {
			note(s.out, "Current %s slot is %d", what, *current)
		}
		note(s.out, "Enter new %s slot number:", what)
		line, err := s.in.readLine("slot> ")
		if err != nil {
			return
		}
		arg = strings.TrimSpace(line)
	}

	index, err := strconv.Atoi(arg)
	if err != nil {
		failure(s.out, "Error: %q is not a slot number", arg)
		return
	}
	if index == -1 {
		*current = -1
		set(nil)
		note(s.out, "No new %s slot", what)
		return
	}
	st, err := s.slots.Get(index)
	if err != nil {
		failure(s.out, "Error: invalid state index")
		return
	}
	*current = index
	set(st)
	note(s.out, "New %s slot is %d", what, index)
}

func (s *session) transfer(args []string, what string, do func(int, string) error) {
	if len(args) != 2 {
		failure(s.out, "Usage: %s SLOT FILE", what)
		return
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		failure(s.out, "Error: %q is not a slot number", args[0])
		return
	}
	if err := do(index, args[1]); err != nil {
		failure(s.out, "Error: %v", err)
		return
	}
	note(s.out, "Slot %d %sed", index, what)
}

func (s *session) listSlots() {
	used := s.slots.Used()
	if len(used) == 0 {
		note(s.out, "All %d slots are empty", s.slots.Len())
		return
	}
	for _, i := range used {
		st, _ := s.slots.Get(i)
		marks := ""
		if i == s.saveSlot {
			marks += " save"
		}
		if i == s.restoreSlot {
			marks += " restore"
		}
		note(s.out, "Slot %d: %d bytes%s", i, st.Len(), marks)
	}
}
