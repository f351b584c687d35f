package profiling_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/relab/safetyrules/internal/profiling"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart(t *testing.T) {
	dir := t.TempDir()
	opts := profiling.Options{
		CPU:    filepath.Join(dir, "cpu.pprof"),
		Memory: filepath.Join(dir, "mem.pprof"),
		Trace:  filepath.Join(dir, "trace.out"),
		Fgprof: filepath.Join(dir, "fgprof.pprof"),
	}
	stop, err := profiling.Start(opts)
	require.NoError(t, err)
	require.NoError(t, stop())

	for _, path := range []string{opts.CPU, opts.Memory, opts.Trace, opts.Fgprof} {
		info, err := os.Stat(path)
		if assert.NoError(t, err) {
			assert.NotZero(t, info.Size(), path)
		}
	}
}

func TestStartFailure(t *testing.T) {
	dir := t.TempDir()
	_, err := profiling.Start(profiling.Options{
		CPU:   filepath.Join(dir, "cpu.pprof"),
		Trace: filepath.Join(dir, "missing", "trace.out"),
	})
	require.Error(t, err)

	// the cpu profile was stopped, so it can be started again
	stop, err := profiling.Start(profiling.Options{CPU: filepath.Join(dir, "cpu2.pprof")})
	require.NoError(t, err)
	assert.NoError(t, stop())
}
