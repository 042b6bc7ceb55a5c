package main

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

// lineReader supplies the harness's input lines. It returns io.EOF when
// input ends.
type lineReader interface {
	readLine(prompt string) (string, error)
	Close() error
}

// newLineReader reads stdin with line editing when it is a terminal.
func newLineReader() lineReader {
	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		st := liner.NewLiner()
		st.SetCtrlCAborts(true)
		return &terminalLines{st: st}
	}
	return newBufferedLines(os.Stdin)
}

type terminalLines struct {
	st *liner.State
}

func (t *terminalLines) readLine(prompt string) (string, error) {
	line, err := t.st.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if line != "" {
		t.st.AppendHistory(line)
	}
	return sanitize(line), nil
}

func (t *terminalLines) Close() error {
	return t.st.Close()
}

type bufferedLines struct {
	sc *bufio.Scanner
}

func newBufferedLines(r io.Reader) *bufferedLines {
	return &bufferedLines{sc: bufio.NewScanner(r)}
}

func (b *bufferedLines) readLine(string) (string, error) {
	if !b.sc.Scan() {
		if err := b.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	line := b.sc.Text()
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return sanitize(line), nil
}

func (b *bufferedLines) Close() error { return nil }

// sanitize replaces bytes outside 7-bit ASCII, which stories cannot take
// as input, with '?'.
func sanitize(line string) string {
	b := []byte(line)
	for i, c := range b {
		if c >= 0x80 {
			b[i] = '?'
		}
	}
	return string(b)
}
