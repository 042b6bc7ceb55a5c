package zmachine

import (
	"bytes"
	"testing"
)

func TestRandomCountingMode(t *testing.T) {
	r := NewRandom()
	r.Seed(3)
	var got []uint16
	for i := 0; i < 7; i++ {
		got = append(got, r.Next(100))
	}
	want := []uint16{1, 2, 3, 1, 2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRandomStandardMode(t *testing.T) {
	r := NewRandom()
	// A = 0x015a4e35*1 + 1, result = (A>>16)&0x7fff = 0x15a.
	if got := r.Next(1000); got != 0x15a%1000+1 {
		t.Errorf("Next(1000) = %d, want %d", got, 0x15a%1000+1)
	}
	r.Seed(5000)
	if r.A != 5000 || r.Interval != 0 {
		t.Errorf("Seed(5000) left A %d interval %d", r.A, r.Interval)
	}
}

func TestRandomStateRoundTrip(t *testing.T) {
	r := NewRandom()
	r.Seed(12345)
	r.Next(10)

	state := r.State()
	if len(state) != r.StateSize() {
		t.Fatalf("len(State) = %d, want %d", len(state), r.StateSize())
	}
	want := r.Next(30000)

	var s Random
	if err := s.SetState(state); err != nil {
		t.Fatal(err)
	}
	if got := s.Next(30000); got != want {
		t.Errorf("restored generator gave %d, want %d", got, want)
	}
	if !bytes.Equal(s.State(), r.State()) {
		t.Error("states diverged")
	}
	if err := s.SetState(state[:5]); err == nil {
		t.Error("SetState accepted a short state")
	}
}
