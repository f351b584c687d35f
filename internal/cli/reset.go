package cli

import (
	"fmt"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	resetEpoch uint64
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the stored safety data to the start of an epoch.",
	Long: `Sets the last voted round and preferred round back to zero and forgets the last vote.
The consensus key and author are kept.

Resetting the safety data allows the validator to vote twice in the same round.
Only do this when the validator has not voted in the epoch, and pass --yes to confirm.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if !resetYes {
			return fmt.Errorf("refusing to reset the safety data without --yes")
		}
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
		if err := ps.Reset(safetyrules.Epoch(resetEpoch)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "safety data reset to epoch %d\n", resetEpoch)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resetCmd)

	resetCmd.Flags().Uint64Var(&resetEpoch, "epoch", 0, "the epoch to reset to")
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm the reset")
}
