package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/autofrotz/manifest"
	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("autofrotz.cmd")

// app carries the resolved configuration to the subcommands.
type app struct {
	configDir string
	verbosity int
	logFile   string
	width     int
	height    int
	undo      int
	slotCount int
	bundle    string
	noWordSet bool

	m *manifest.Manifest
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "autofrotz",
		Short: "Drive a Z-machine interpreter one action at a time",
		Long: `autofrotz runs a story on an interpreter goroutine and exchanges
input and output with it one action at a time. Saves and restores made by the
story land in numbered slots that can be exported as Quetzal files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.configure(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configDir, "config", "", "directory holding "+manifest.FileName+" (default: search upward from the working directory)")
	f.CountVarP(&a.verbosity, "verbose", "v", "increase log verbosity")
	f.StringVar(&a.logFile, "log", "", "log to this file instead of stderr")
	f.IntVar(&a.width, "width", 0, "screen width")
	f.IntVar(&a.height, "height", 0, "screen height")
	f.IntVar(&a.undo, "undo", 0, "undo depth")
	f.IntVar(&a.slotCount, "slots", 0, "number of state slots")
	f.StringVar(&a.bundle, "bundle", "", "persist slots in this file")
	f.BoolVar(&a.noWordSet, "no-wordset", false, "do not track word reads")

	root.AddCommand(newPlayCommand(a), newBenchCommand(a), newInspectCommand(a))
	return root
}

// configure loads the manifest, applies flag overrides and sets up logging.
func (a *app) configure(cmd *cobra.Command) error {
	var m *manifest.Manifest
	var err error
	if a.configDir != "" {
		m, err = manifest.Load(a.configDir)
	} else {
		var wd string
		if wd, err = os.Getwd(); err == nil {
			m, err = manifest.FindAndLoad(wd)
		}
	}
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.Default()
	}

	f := cmd.Flags()
	if f.Changed("width") {
		m.Screen.Width = a.width
	}
	if f.Changed("height") {
		m.Screen.Height = a.height
	}
	if f.Changed("undo") {
		if a.undo < 0 {
			return fmt.Errorf("undo depth %d is negative", a.undo)
		}
		m.VM.UndoDepth = a.undo
	}
	if f.Changed("slots") {
		if a.slotCount <= 0 {
			return fmt.Errorf("need at least one slot, got %d", a.slotCount)
		}
		m.Slots.Count = a.slotCount
	}
	if f.Changed("bundle") {
		if m.Slots.Bundle, err = filepath.Abs(a.bundle); err != nil {
			return err
		}
	}
	if a.noWordSet {
		off := false
		m.VM.WordSet = &off
	}
	if f.Changed("verbose") {
		m.Log.Verbosity = a.verbosity
	}
	if f.Changed("log") {
		if m.Log.File, err = filepath.Abs(a.logFile); err != nil {
			return err
		}
	}
	a.m = m

	commonlog.Configure(m.Log.Verbosity, m.LogPath())
	if m.Dir != "" {
		log.Debugf("configuration from %s", m.Dir)
	}
	return nil
}
