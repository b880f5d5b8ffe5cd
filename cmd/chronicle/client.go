package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/chronicle/pkg/auth"
	"github.com/rhuss/chronicle/pkg/config"
	"github.com/rhuss/chronicle/pkg/directory"
	"github.com/rhuss/chronicle/pkg/keys"
	"github.com/rhuss/chronicle/pkg/storage"
)

func newClientCommand(opts *options) *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage registered clients",
	}
	cmd.PersistentFlags().StringVar(&instance, "instance", "", "Configured instance name (default tables if empty)")

	var (
		publicKey string
		admin     bool
		comment   string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a client public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return withDirectory(cmd.Context(), cfg, instance, func(ctx context.Context, dir *directory.Directory) error {
				return addClient(ctx, cmd.OutOrStdout(), dir, cfg, publicKey, admin, comment)
			})
		},
	}
	add.Flags().StringVar(&publicKey, "public-key", "", "Client Ed25519 public key, base64url")
	add.Flags().BoolVar(&admin, "admin", false, "Allow the client on admin endpoints")
	add.Flags().StringVar(&comment, "comment", "", "Free-form note stored with the client")
	_ = add.MarkFlagRequired("public-key")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered clients",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return withDirectory(cmd.Context(), cfg, instance, func(ctx context.Context, dir *directory.Directory) error {
				return listClients(ctx, cmd.OutOrStdout(), dir)
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

// withDirectory opens the configured directory, selects instance and runs fn.
func withDirectory(ctx context.Context, cfg *config.Config, instance string, fn func(context.Context, *directory.Directory) error) error {
	if instance != "" {
		prefix, ok := cfg.Directory.Instances[instance]
		if !ok {
			return fmt.Errorf("unknown instance %q", instance)
		}
		ctx = storage.SetInstance(ctx, prefix)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	dir := directory.New(store, directory.WithLogger(slog.Default()))
	defer dir.Close()

	return fn(ctx, dir)
}

// addClient registers a client and prints its new identifier. The server's
// own key is refused, and so is any key that does not parse.
func addClient(ctx context.Context, w io.Writer, dir *directory.Directory, cfg *config.Config, publicKey string, admin bool, comment string) error {
	key, err := keys.ParsePublicKey(publicKey)
	if err != nil {
		return err
	}

	if kr, err := keys.LoadKeyring(cfg.Keys.SigningKeyFile); err == nil && key.Equal(kr.ServerPublicKey()) {
		return fmt.Errorf("refusing to register: %s", auth.MsgServerKeyMisuse)
	}

	c, err := dir.Register(ctx, key, admin, comment)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "client_id: %s\n", c.ID)
	fmt.Fprintf(w, "fingerprint: %s\n", c.PublicKey.Fingerprint())
	fmt.Fprintf(w, "admin: %t\n", c.Admin)
	return nil
}

func listClients(ctx context.Context, w io.Writer, dir *directory.Directory) error {
	clients, err := dir.List(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tADMIN\tFINGERPRINT\tCREATED\tCOMMENT")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", c.ID, c.Admin, c.PublicKey.Fingerprint(), c.Created.UTC().Format(time.RFC3339), c.Comment)
	}
	return tw.Flush()
}
