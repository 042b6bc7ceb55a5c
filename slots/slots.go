// Package slots keeps the harness's numbered save states and persists them.
//
// A bundle file holds every non-empty slot together with the identity of the
// story that produced them, encoded as canonical CBOR. Exported slots are
// plain Quetzal files. Both are written atomically.
package slots

import (
	"errors"
	"fmt"
	"os"

	"github.com/chazu/autofrotz/quetzal"
	"github.com/chazu/autofrotz/vm"
	"github.com/chazu/autofrotz/zmachine"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/renameio/v2"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("autofrotz.slots")

var (
	ErrBadSlot    = errors.New("no such slot")
	ErrEmptySlot  = errors.New("slot is empty")
	ErrWrongStory = errors.New("saved by a different story")
	ErrBadBundle  = errors.New("bad slot bundle")
)

const bundleVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("slots: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Set is a fixed number of States, indexed from zero.
type Set struct {
	states []*vm.State

	// Story identifies the story the slots belong to. When set, imported
	// files and loaded bundles must have been saved by it.
	Story *zmachine.Header
}

// New returns a Set of n empty slots.
func New(n int) *Set {
	s := &Set{states: make([]*vm.State, n)}
	for i := range s.states {
		s.states[i] = &vm.State{}
	}
	return s
}

// Len returns the number of slots.
func (s *Set) Len() int {
	return len(s.states)
}

// Get returns slot i.
func (s *Set) Get(i int) (*vm.State, error) {
	if i < 0 || i >= len(s.states) {
		return nil, fmt.Errorf("%w: %d (have %d)", ErrBadSlot, i, len(s.states))
	}
	return s.states[i], nil
}

// Used returns the indices of the non-empty slots.
func (s *Set) Used() []int {
	var used []int
	for i, st := range s.states {
		if !st.IsEmpty() {
			used = append(used, i)
		}
	}
	return used
}

func (s *Set) check(data []byte) error {
	h, err := quetzal.ReadHeader(data)
	if err != nil {
		return err
	}
	if s.Story != nil && !h.Matches(*s.Story) {
		return fmt.Errorf("%w: release %d serial %s", ErrWrongStory, h.Release, h.Serial[:])
	}
	return nil
}

// ---------------------------------------------------------------------------
// Single slot files
// ---------------------------------------------------------------------------

// Export writes slot i to path as a Quetzal file.
func (s *Set) Export(i int, path string) error {
	st, err := s.Get(i)
	if err != nil {
		return err
	}
	if st.IsEmpty() {
		return fmt.Errorf("%w: %d", ErrEmptySlot, i)
	}
	if err := renameio.WriteFile(path, st.Bytes(), 0o644); err != nil {
		return fmt.Errorf("exporting slot %d: %w", i, err)
	}
	log.Infof("exported slot %d to %s", i, path)
	return nil
}

// Import replaces slot i with the Quetzal file at path. The slot is left
// alone if the file is not a save file of the current story.
func (s *Set) Import(i int, path string) error {
	st, err := s.Get(i)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("importing slot %d: %w", i, err)
	}
	if err := s.check(data); err != nil {
		return fmt.Errorf("importing %s: %w", path, err)
	}
	st.SetBytes(data)
	log.Infof("imported %s into slot %d", path, i)
	return nil
}

// ---------------------------------------------------------------------------
// Bundles
// ---------------------------------------------------------------------------

// bundle is the on-disk form of a Set.
type bundle struct {
	Version  int            `cbor:"1,keyasint"`
	Release  uint16         `cbor:"2,keyasint"`
	Serial   []byte         `cbor:"3,keyasint"`
	Checksum uint16         `cbor:"4,keyasint"`
	Slots    map[int][]byte `cbor:"5,keyasint"`
}

// MarshalBundle encodes the non-empty slots.
func (s *Set) MarshalBundle() ([]byte, error) {
	b := bundle{Version: bundleVersion, Slots: map[int][]byte{}}
	if s.Story != nil {
		b.Release = s.Story.Release
		b.Serial = s.Story.Serial[:]
		b.Checksum = s.Story.Checksum
	}
	for _, i := range s.Used() {
		b.Slots[i] = s.states[i].Bytes()
	}
	return cborEncMode.Marshal(&b)
}

// UnmarshalBundle replaces the slots with those in data. Slots the bundle
// does not mention are cleared. Nothing changes if data is rejected.
func (s *Set) UnmarshalBundle(data []byte) error {
	var b bundle
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%w: %w", ErrBadBundle, err)
	}
	if b.Version != bundleVersion {
		return fmt.Errorf("%w: version %d", ErrBadBundle, b.Version)
	}
	if s.Story != nil && len(b.Serial) > 0 {
		h := quetzal.Header{Release: b.Release, Checksum: b.Checksum}
		copy(h.Serial[:], b.Serial)
		if !h.Matches(*s.Story) {
			return fmt.Errorf("%w: bundle is for release %d serial %s", ErrWrongStory, b.Release, b.Serial)
		}
	}
	for i, img := range b.Slots {
		if i < 0 || i >= len(s.states) {
			return fmt.Errorf("%w: slot %d out of range", ErrBadBundle, i)
		}
		if err := s.check(img); err != nil {
			return fmt.Errorf("%w: slot %d: %w", ErrBadBundle, i, err)
		}
	}

	for i, st := range s.states {
		if img, ok := b.Slots[i]; ok {
			st.SetBytes(img)
		} else {
			st.Clear()
			st.Compact()
		}
	}
	return nil
}

// Save writes the bundle to path atomically.
func (s *Set) Save(path string) error {
	data, err := s.MarshalBundle()
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("saving slots: %w", err)
	}
	log.Debugf("saved %d slot(s) to %s", len(s.Used()), path)
	return nil
}

// Load reads the bundle at path. A missing file leaves the slots empty.
func (s *Set) Load(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading slots: %w", err)
	}
	if err := s.UnmarshalBundle(data); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	log.Debugf("loaded %d slot(s) from %s", len(s.Used()), path)
	return nil
}
