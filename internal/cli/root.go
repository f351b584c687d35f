// Package cli implements the safetyrules command.
package cli

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/relab/safetyrules/internal/config"
	"github.com/relab/safetyrules/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "safetyrules",
		Short: "Manage the safety rules of a validator.",
		Long: `safetyrules manages the consensus key and safety data of a validator.

The configuration file describes the storage backend and the service topology.
Use 'safetyrules keygen --import' to put a consensus key into a durable backend,
and 'safetyrules status' to inspect the stored safety data.`,
		SilenceUsage: true,
	}
)

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// stdout belongs to the protocol in the process command
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogging)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.safetyrules.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "sets the log level (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level")))
	rootCmd.PersistentFlags().StringSlice("log-pkgs", []string{}, "set the log level on a per-package basis.")
	cobra.CheckErr(viper.BindPFlag("log-pkgs", rootCmd.PersistentFlags().Lookup("log-pkgs")))

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// initLogging applies the log levels given by flags or environment variables.
func initLogging() {
	level := viper.GetString("log-level")
	_, err := logging.ParseLevel(level)
	checkf("%v", err)
	logging.SetLogLevel(level)

	for _, packageLevel := range viper.GetStringSlice("log-pkgs") {
		parts := strings.Split(packageLevel, ":")
		if len(parts) != 2 {
			log.Fatalln("log-pkgs flag must be a comma-separated list of package:level strings")
		}
		_, err := logging.ParseLevel(parts[1])
		checkf("%v", err)
		logging.SetPackageLogLevel(parts[0], parts[1])
	}
}

// configPath returns the configuration file given by the --config flag, or the one in the home directory.
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".safetyrules.yaml"), nil
}

func loadConfig() (*config.NodeConfig, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	return config.Load(path)
}

// checkf exits the program with the formatted message if any of args is a non-nil error.
func checkf(format string, args ...any) {
	for _, arg := range args {
		if err, _ := arg.(error); err != nil {
			log.Fatalf(format, args...)
		}
	}
}
