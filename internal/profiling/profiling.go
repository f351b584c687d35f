// Package profiling starts the profilers of the process subcommand.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/felixge/fgprof"
	"go.uber.org/multierr"
)

// Options holds the output paths of the profilers. An empty path disables that profiler.
type Options struct {
	CPU    string
	Memory string
	Trace  string
	Fgprof string
}

// Start starts the profilers in opts. The returned function stops them and
// writes the memory profile. If Start fails, the profilers it started are stopped.
func Start(opts Options) (stop func() error, err error) {
	var stops []func() error
	stopAll := func() (err error) {
		for i := len(stops) - 1; i >= 0; i-- {
			err = multierr.Append(err, stops[i]())
		}
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, stopAll())
		}
	}()

	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to start cpu profile: %w", err), f.Close())
		}
		stops = append(stops, func() error {
			pprof.StopCPUProfile()
			return f.Close()
		})
	}

	if opts.Fgprof != "" {
		f, err := os.Create(opts.Fgprof)
		if err != nil {
			return nil, err
		}
		stopFgprof := fgprof.Start(f, fgprof.FormatPprof)
		stops = append(stops, func() error {
			return multierr.Append(stopFgprof(), f.Close())
		})
	}

	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err != nil {
			return nil, err
		}
		if err := trace.Start(f); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed to start trace: %w", err), f.Close())
		}
		stops = append(stops, func() error {
			trace.Stop()
			return f.Close()
		})
	}

	if opts.Memory != "" {
		stops = append(stops, func() error {
			return writeHeapProfile(opts.Memory)
		})
	}

	return stopAll, nil
}

func writeHeapProfile(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	runtime.GC() // get up-to-date statistics
	return pprof.WriteHeapProfile(f)
}
