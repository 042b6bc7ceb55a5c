package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	// noteStyle for harness messages
	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81"))

	// errorStyle for failures
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// titleStyle for headings
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))
)

// note writes a bracketed harness message on its own line.
func note(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, noteStyle.Render("["+fmt.Sprintf(format, args...)+"]"))
}

func failure(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, errorStyle.Render("["+fmt.Sprintf(format, args...)+"]"))
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// frame writes interpreter output with each line marked and padded to
// width, so trailing spaces stay visible:
//
//	=* first line          <=
//	=> second line         <=
//	=> >
func frame(w io.Writer, output []byte, width int) {
	var sb strings.Builder
	sb.WriteString("=* ")
	n := 0
	for _, c := range output {
		if c != '\n' {
			sb.WriteByte(c)
			n++
			continue
		}
		if n < width {
			sb.WriteString(strings.Repeat(" ", width-n))
		}
		sb.WriteString(" <=\n=> ")
		n = 0
	}
	sb.WriteByte('\n')
	io.WriteString(w, sb.String())
}
