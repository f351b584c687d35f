package cli

import (
	"errors"
	"fmt"

	"github.com/relab/safetyrules/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the stored safety data.",
	Long: `Prints the safety data, author and key status held by the configured backend.
The backend is locked while it is read, so this fails if a validator is using it.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.StorageOptions())
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, store.Close()) }()
		ps := storage.New(store)

		out := cmd.OutOrStdout()
		has, err := ps.HasKey()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "backend: %s\n", cfg.SafetyRules.Backend.Type)
		fmt.Fprintf(out, "consensus key: %t\n", has)

		author, ok, err := ps.Author()
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "author: %v\n", author)
		} else {
			fmt.Fprintln(out, "author: not set")
		}

		sd, err := ps.SafetyData()
		if errors.Is(err, storage.ErrKeyNotSet) {
			fmt.Fprintln(out, "safety data: not set")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "safety data: %v\n", sd)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
