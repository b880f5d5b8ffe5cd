package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/rhuss/chronicle/pkg/keys"
)

func newKeygenCommand(opts *options) *cobra.Command {
	var (
		out    string
		force  bool
		client bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the server signing key, or a client keypair with --client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			if client {
				pub, priv, err := ed25519.GenerateKey(rand.Reader)
				if err != nil {
					return fmt.Errorf("generating client keypair: %w", err)
				}
				fmt.Fprintf(w, "public_key: %s\n", base64.RawURLEncoding.EncodeToString(pub))
				fmt.Fprintf(w, "secret_key: %s\n", base64.RawURLEncoding.EncodeToString(priv.Seed()))
				return nil
			}

			if out == "" {
				cfg, err := loadConfig(opts)
				if err != nil {
					return err
				}
				out = cfg.Keys.SigningKeyFile
			}

			kr, err := generateServerKey(out, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %s\n", out)
			fmt.Fprintf(w, "public_key: %s\n", kr.ServerPublicKey())
			fmt.Fprintf(w, "fingerprint: %s\n", kr.ServerPublicKey().Fingerprint())
			return nil
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "Key file to write (default keys.signing_key_file)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing key file")
	cmd.Flags().BoolVar(&client, "client", false, "Print a client keypair instead of writing the server key")

	return cmd
}

// generateServerKey writes a fresh signing key to path. An existing file is
// only replaced when force is set.
func generateServerKey(path string, force bool) (*keys.Keyring, error) {
	if _, err := os.Stat(path); err == nil && !force {
		return nil, fmt.Errorf("%s already exists, use --force to replace it", path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	kr, err := keys.GenerateKeyring()
	if err != nil {
		return nil, err
	}
	if err := kr.Save(path); err != nil {
		return nil, err
	}
	return kr, nil
}
