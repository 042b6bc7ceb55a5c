// Package manifest handles autofrotz.toml harness configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name Load and FindAndLoad look for.
const FileName = "autofrotz.toml"

// Manifest represents an autofrotz.toml configuration.
type Manifest struct {
	Story  Story  `toml:"story"`
	Screen Screen `toml:"screen"`
	VM     VM     `toml:"vm"`
	Slots  Slots  `toml:"slots"`
	Log    Log    `toml:"log"`

	// Dir is the directory containing the autofrotz.toml file (set at load time).
	Dir string `toml:"-"`
}

// Story names the story file to run.
type Story struct {
	File string `toml:"file"`
}

// Screen is the size reported to the interpreter.
type Screen struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

// VM configures each interpreter.
type VM struct {
	UndoDepth int   `toml:"undo-depth"`
	WordSet   *bool `toml:"word-set"`
}

// Slots configures the harness's numbered save states.
type Slots struct {
	Count  int    `toml:"count"`
	Bundle string `toml:"bundle"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no file is found.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Screen.Width <= 0 {
		m.Screen.Width = 70
	}
	if m.Screen.Height <= 0 {
		m.Screen.Height = 128
	}
	if m.VM.UndoDepth == 0 {
		m.VM.UndoDepth = 1
	}
	if m.VM.WordSet == nil {
		on := true
		m.VM.WordSet = &on
	}
	if m.Slots.Count <= 0 {
		m.Slots.Count = 32
	}
}

// Load parses an autofrotz.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if m.VM.UndoDepth < 0 {
		return nil, fmt.Errorf("%s: undo-depth %d is negative", path, m.VM.UndoDepth)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find an autofrotz.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// WordSetEnabled reports whether word tracking is on.
func (m *Manifest) WordSetEnabled() bool {
	return m.VM.WordSet == nil || *m.VM.WordSet
}

// StoryPath returns the story file, resolved against Dir when relative.
func (m *Manifest) StoryPath() string {
	return m.resolve(m.Story.File)
}

// BundlePath returns the slot bundle file, resolved against Dir when
// relative, or "" if slots are not persisted.
func (m *Manifest) BundlePath() string {
	return m.resolve(m.Slots.Bundle)
}

// LogPath returns the log file, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
