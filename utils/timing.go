package utils

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Verbose controls whether timing statistics are printed.
// Set to false to suppress output.
var Verbose = true

// Output is the writer where timing statistics are printed.
// Defaults to os.Stdout.
var Output io.Writer = os.Stdout

// TimingStats holds timing information for one run
type TimingStats struct {
	TotalTime     time.Duration
	HEInitTime    time.Duration
	ModelInitTime time.Duration
	ForwardTime   time.Duration
	Batches       int
}

// Time adds the duration of f to *d.
func Time(d *time.Duration, f func() error) error {
	start := time.Now()
	err := f()
	*d += time.Since(start)
	return err
}

func percent(part, total time.Duration) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

// PrintTimingStats prints detailed timing statistics.
// Respects the Verbose flag - does nothing if Verbose is false.
func PrintTimingStats(stats *TimingStats) {
	if !Verbose {
		return
	}
	fmt.Fprintln(Output, "\n=== TIMING STATISTICS ===")
	fmt.Fprintf(Output, "Total time: %v\n", stats.TotalTime)
	fmt.Fprintf(Output, "Batches completed: %d\n", stats.Batches)
	if stats.Batches > 0 {
		fmt.Fprintf(Output, "Average forward pass time: %v\n", stats.ForwardTime/time.Duration(stats.Batches))
	}
	fmt.Fprintln(Output, "\nBreakdown by operation:")
	rows := []struct {
		name string
		d    time.Duration
	}{
		{"HE initialization", stats.HEInitTime},
		{"Model initialization", stats.ModelInitTime},
		{"Forward pass", stats.ForwardTime},
	}
	for _, r := range rows {
		if r.d == 0 {
			continue
		}
		fmt.Fprintf(Output, "  %s: %v (%.1f%%)\n", r.name, r.d, percent(r.d, stats.TotalTime))
	}
}

// DurationUS converts any time.Duration to micro-seconds as float64
func DurationUS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1_000.0
}
