// Command chronicle runs the chronicle request-signature gate and manages
// its client directory.
//
// Configuration is read from a YAML file (--config, CHRONICLE_CONFIG,
// ./config.yaml or /etc/chronicle/config.yaml) and CHRONICLE_* environment
// variables. An optional .env file is loaded first.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rhuss/chronicle/pkg/config"
	"github.com/rhuss/chronicle/pkg/debug"
)

// options are the persistent flags shared by all subcommands.
type options struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chronicle",
		Short:         "Signature gate for the chronicle record store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to the YAML config file (env CHRONICLE_CONFIG)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")

	root.AddCommand(newServeCommand(opts))
	root.AddCommand(newKeygenCommand(opts))
	root.AddCommand(newClientCommand(opts))

	return root
}

// loadEnvFile loads a dotenv file without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// loadConfig loads the configuration and installs the default logger.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Logging, os.Stderr))
	debug.Init(cfg.Logging.Debug)
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: debug.ParseLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
