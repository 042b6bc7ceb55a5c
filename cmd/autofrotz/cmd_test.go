package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/autofrotz/internal/storytest"
	"github.com/chazu/autofrotz/manifest"
	"github.com/chazu/autofrotz/quetzal"
	"github.com/chazu/autofrotz/zbyte"
	"github.com/chazu/autofrotz/zmachine"
)

func writeStory(t *testing.T, dir string, opts storytest.Options) string {
	t.Helper()
	path := filepath.Join(dir, "test.z3")
	if err := os.WriteFile(path, storytest.Image(opts), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeSave(t *testing.T, dir string) string {
	t.Helper()
	story := storytest.Default()
	m, err := zmachine.NewMachine(story)
	if err != nil {
		t.Fatal(err)
	}
	var data []byte
	if err := quetzal.Save(zbyte.NewWriter(&data), zbyte.NewReader(story[:m.Header.DynamicSize]), m); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "test.qzl")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testApp() *app {
	return &app{m: manifest.Default()}
}

// ---------------------------------------------------------------------------
// Framing
// ---------------------------------------------------------------------------

func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	frame(&buf, []byte("ab\nlonger line\n>"), 6)
	want := "=* ab     <=\n=> longer line <=\n=> >\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFrameEmpty(t *testing.T) {
	var buf bytes.Buffer
	frame(&buf, nil, 4)
	if got := buf.String(); got != "=* \n" {
		t.Errorf("got %q", got)
	}
}

func TestSanitize(t *testing.T) {
	if got := sanitize("caf\xc3\xa9"); got != "caf??" {
		t.Errorf("got %q, want caf??", got)
	}
}

func TestBufferedLines(t *testing.T) {
	r := newBufferedLines(strings.NewReader("one\r\ntwo"))
	for _, want := range []string{"one", "two"} {
		got, err := r.readLine("")
		if err != nil || got != want {
			t.Fatalf("readLine = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := r.readLine(""); err == nil {
		t.Error("expected EOF")
	}
}

// ---------------------------------------------------------------------------
// Play
// ---------------------------------------------------------------------------

func runPlay(t *testing.T, a *app, story, script string) string {
	t.Helper()
	var out bytes.Buffer
	if err := play(a, story, newBufferedLines(strings.NewReader(script)), &out); err != nil {
		t.Fatalf("play: %v\n%s", err, out.String())
	}
	return out.String()
}

func TestPlaySaveAndRestore(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})
	export := filepath.Join(dir, "slot0.qzl")

	out := runPlay(t, testApp(), story, strings.Join([]string{
		"poke $80 5",
		"setsave 0",
		"save",
		"poke $80 3",
		"setrestore",
		"0",
		"restore",
		"peek $80",
		"export 0 " + export,
		"slots",
		"quit",
	}, "\n")+"\n")

	for _, want := range []string{
		"Monitor ready: " + story,
		"[New save slot is 0]",
		"[made 1 successful save to current save slot]",
		"[No current restore slot]",
		"[New restore slot is 0]",
		"[made 1 successful restoration from current restore slot]",
		"$00080 = $05 (5)",
		"[Slot 0 exported]",
		"Slot 0: ",
		"Goodbye.",
		"[Z-machine terminated]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(export); err != nil {
		t.Errorf("export: %v", err)
	}
}

func TestPlayBadSlots(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})

	out := runPlay(t, testApp(), story, "setsave 99\nsetrestore x\nexport 1\nsetsave -1\n")
	for _, want := range []string{
		"[Error: invalid state index]",
		`[Error: "x" is not a slot number]`,
		"[Usage: export SLOT FILE]",
		"[No new save slot]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestPlayFailure(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})

	out := runPlay(t, testApp(), story, "halt\nlook\n")
	if !strings.Contains(out, "[Action failed (") || !strings.Contains(out, "[Z-machine terminated]") {
		t.Errorf("failure not reported:\n%s", out)
	}
	if strings.Contains(out, "PC $") {
		t.Error("input after the interpreter died was acted on")
	}
}

func TestPlayPromptsForStory(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})

	out := runPlay(t, testApp(), "", story+"\nquit\n")
	if !strings.Contains(out, "[Enter story file name:]") || !strings.Contains(out, "Goodbye.") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestPlayPersistsBundle(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})
	a := testApp()
	a.m.Slots.Bundle = filepath.Join(dir, "slots.cbor")

	runPlay(t, a, story, "setsave 3\nsave\n")
	if _, err := os.Stat(a.m.Slots.Bundle); err != nil {
		t.Fatalf("bundle not written: %v", err)
	}

	out := runPlay(t, a, story, "slots\n")
	if !strings.Contains(out, "Loaded slot [3]") || !strings.Contains(out, "Slot 3: ") {
		t.Errorf("bundle not reloaded:\n%s", out)
	}
}

// ---------------------------------------------------------------------------
// Bench and inspect
// ---------------------------------------------------------------------------

func TestBench(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})

	var out bytes.Buffer
	err := runBench(testApp(), story, defaultScript, []benchmarkRun{{2, 3}, {1, 1}}, &out)
	if err != nil {
		t.Fatalf("runBench: %v", err)
	}
	for _, want := range []string{
		"[Doing 2 benchmarking runs for each of 3 actions]",
		"autofrotz_actions_total",
		"autofrotz_action_duration_seconds",
		"count 4",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	story := writeStory(t, dir, storytest.Options{})
	save := writeSave(t, dir)

	var out bytes.Buffer
	if err := inspect(save, story, &out); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{"IFhd", "CMem", "Stks", "release 88, serial 240101", "saved by " + story} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output lacks %q:\n%s", want, out.String())
		}
	}
}

func TestInspectOtherStory(t *testing.T) {
	dir := t.TempDir()
	save := writeSave(t, dir)
	other := filepath.Join(t.TempDir(), "other.z3")
	if err := os.WriteFile(other, storytest.Image(storytest.Options{Release: 3}), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := inspect(save, other, &out); err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.Contains(out.String(), "not saved by") {
		t.Errorf("mismatch not reported:\n%s", out.String())
	}
}

func TestRootCommandInspect(t *testing.T) {
	dir := t.TempDir()
	save := writeSave(t, dir)
	if err := os.WriteFile(filepath.Join(dir, manifest.FileName), []byte("[screen]\nwidth = 40\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", dir, "inspect", save})
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "IFhd") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
