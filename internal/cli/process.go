package cli

import (
	"os"

	"github.com/relab/safetyrules/internal/profiling"
	"github.com/relab/safetyrules/manager"
	"github.com/spf13/cobra"
)

var (
	cpuProfile    string
	memProfile    string
	trace         string
	fgprofProfile string
	metricsListen string
)

// processCmd represents the process command
var processCmd = &cobra.Command{
	Hidden: true,
	Use:    "process",
	Short:  "Run the safety rules engine of a spawned process.",
	Long: `Starts a safety rules engine that reads requests from stdin and writes responses to stdout.
This is only intended to be used by the spawned-process service.`,
	Run: func(cmd *cobra.Command, args []string) {
		runProcess()
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVar(&cpuProfile, "cpu-profile", "", "Path to store a CPU profile")
	processCmd.Flags().StringVar(&memProfile, "mem-profile", "", "Path to store a memory profile")
	processCmd.Flags().StringVar(&trace, "trace", "", "Path to store a trace")
	processCmd.Flags().StringVar(&fgprofProfile, "fgprof-profile", "", "Path to store a fgprof profile")
	processCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "Address to serve metrics on, overriding the config file")
}

func runProcess() {
	cfg, err := loadConfig()
	checkf("failed to load config: %v", err)
	if metricsListen != "" {
		cfg.SafetyRules.MetricsListen = metricsListen
	}

	stopProfilers, err := profiling.Start(profiling.Options{
		CPU:    cpuProfile,
		Memory: memProfile,
		Trace:  trace,
		Fgprof: fgprofProfile,
	})
	checkf("failed to start profilers: %v", err)
	defer func() {
		err = stopProfilers()
		checkf("failed to stop profilers: %v", err)
	}()

	err = manager.RunProcess(cfg, os.Stdin, os.Stdout)
	checkf("safety rules process failed: %v", err)
}
