package cli

import (
	"fmt"
	"strings"

	"github.com/relab/safetyrules"
	"github.com/relab/safetyrules/crypto"
	"github.com/relab/safetyrules/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	keyScheme   string
	keyOut      string
	keyImport   bool
	keyFromFile string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a consensus key.",
	Long: `Generates a consensus key and prints its public key.

The private key is written to the --out file, with the public key next to it in a .pub file.
With --import, the key is stored in the backend of the configuration file instead.
Importing fails if the backend already holds a key.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyOut == "" && !keyImport {
			return fmt.Errorf("nothing to do: use --out or --import")
		}

		var (
			key crypto.PrivateKey
			err error
		)
		if keyFromFile != "" {
			key, err = crypto.ReadPrivateKeyFile(keyFromFile)
		} else {
			key, err = crypto.GenerateKey(strings.ToLower(keyScheme))
		}
		if err != nil {
			return err
		}

		if keyOut != "" {
			if err := crypto.WritePrivateKeyFile(key, keyOut); err != nil {
				return err
			}
			if err := crypto.WritePublicKeyFile(key.Public(), keyOut+".pub"); err != nil {
				return err
			}
		}
		if keyImport {
			if err := importKey(key); err != nil {
				return err
			}
		}

		pub, err := crypto.MarshalPublicKey(key.Public())
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(pub)
		return err
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().StringVar(&keyScheme, "scheme", crypto.NameEDDSA, "the signature scheme (ecdsa, eddsa, bls12)")
	keygenCmd.Flags().StringVar(&keyOut, "out", "", "the file to write the private key to")
	keygenCmd.Flags().BoolVar(&keyImport, "import", false, "store the key in the configured backend")
	keygenCmd.Flags().StringVar(&keyFromFile, "from-file", "", "use the key in this file instead of generating one")
}

func importKey(key crypto.PrivateKey) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := storage.Open(cfg.StorageOptions())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	has, err := storage.New(store).HasKey()
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: the %s backend already holds a consensus key", safetyrules.ErrConfiguration, cfg.SafetyRules.Backend.Type)
	}
	_, err = storage.Initialize(store, key)
	return err
}
