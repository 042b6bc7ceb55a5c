package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/chazu/autofrotz/vm"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
)

// defaultScript exercises the monitor without growing its stack.
const defaultScript = "look\npush 7\npop\nrandom 6\npeekw $40\nproc $200 1\nret 0\n"

// benchmarkRun is one row of the benchmark: each action repeats the script
// runs times, and the row performs actions actions.
type benchmarkRun struct {
	runs    int
	actions int
}

var benchmarkTable = []benchmarkRun{{2, 2}, {1, 4096}, {16, 256}, {256, 16}, {4096, 1}}

func newBenchCommand(a *app) *cobra.Command {
	var scriptFile string
	var scale int
	cmd := &cobra.Command{
		Use:   "bench [story]",
		Short: "Time batches of actions and report VM metrics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			story := a.m.StoryPath()
			if len(args) > 0 {
				story = args[0]
			}
			if story == "" {
				return fmt.Errorf("no story file given")
			}
			script := defaultScript
			if scriptFile != "" {
				b, err := os.ReadFile(scriptFile)
				if err != nil {
					return err
				}
				script = string(b)
			}
			if scale < 1 {
				return fmt.Errorf("scale must be at least 1, got %d", scale)
			}
			table := make([]benchmarkRun, len(benchmarkTable))
			for i, r := range benchmarkTable {
				table[i] = benchmarkRun{runs: max(1, r.runs/scale), actions: max(1, r.actions/scale)}
			}
			return runBench(a, story, script, table, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&scriptFile, "script", "", "file holding the input for one run")
	cmd.Flags().IntVar(&scale, "scale", 1, "divide runs and actions by this")
	return cmd
}

func runBench(a *app, story, script string, table []benchmarkRun, out io.Writer) error {
	registry := prometheus.NewRegistry()
	metrics, err := vm.NewMetrics(registry)
	if err != nil {
		return err
	}

	v, err := vm.New(vm.Config{
		StoryFile:    story,
		ScreenWidth:  a.m.Screen.Width,
		ScreenHeight: a.m.Screen.Height,
		UndoDepth:    a.m.VM.UndoDepth,
		WordSet:      a.m.WordSetEnabled(),
		Metrics:      metrics,
	})
	if err != nil {
		return err
	}
	defer v.Close()

	if err := benchmark(v, out, script, table); err != nil {
		return err
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, titleStyle.Render("Metrics"))
	report(out, families)
	return nil
}

// benchmark runs every row of table against v.
func benchmark(v *vm.VM, out io.Writer, script string, table []benchmarkRun) error {
	for _, r := range table {
		note(out, "Doing %d benchmarking runs for each of %d actions", r.runs, r.actions)
		input := []byte(strings.Repeat(script, r.runs))
		start := time.Now()
		for i := 0; i < r.actions; i++ {
			if _, err := v.DoAction(input); err != nil {
				return err
			}
		}
		note(out, "Run took %.6f secs", time.Since(start).Seconds())
	}
	return nil
}

func report(out io.Writer, families []*dto.MetricFamily) {
	for _, f := range families {
		for _, m := range f.GetMetric() {
			switch f.GetType() {
			case dto.MetricType_COUNTER:
				fmt.Fprintf(out, "%-40s %g\n", f.GetName(), m.GetCounter().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				mean := 0.0
				if h.GetSampleCount() > 0 {
					mean = h.GetSampleSum() / float64(h.GetSampleCount())
				}
				fmt.Fprintf(out, "%-40s count %d, sum %.6fs, mean %.9fs\n",
					f.GetName(), h.GetSampleCount(), h.GetSampleSum(), mean)
			}
		}
	}
}
