// Command autofrotz drives an interpreter through the autofrotz VM bridge:
// an interactive harness with numbered save slots, a benchmark, and a Quetzal
// file inspector.
package main

import (
	"fmt"
	"os"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
