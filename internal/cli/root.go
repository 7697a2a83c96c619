// Package cli implements ozonctl, the maintenance command line of the
// runtime.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/atinyakov/ozon/internal/app"
	"github.com/atinyakov/ozon/internal/config"
	"github.com/atinyakov/ozon/internal/logger"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config   string
	Store    string
	MongoURI string
	Database string
	LogLevel string
	Format   string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of ozonctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ozonctl",
		Short: "ozonctl - runtime maintenance",
		Long:  "Maintenance commands for the low-code runtime: sweeps, indexes, model definitions and users.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "config.json", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "document store backend (mongo, memory)")
	cmd.PersistentFlags().StringVar(&opts.MongoURI, "mongo", "", "mongodb connection uri")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "mongodb database name")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewCleanSessionsCommand(opts))
	cmd.AddCommand(NewEnsureIndexesCommand(opts))
	cmd.AddCommand(NewLoadModelsCommand(opts))
	cmd.AddCommand(NewModelsCommand(opts))
	cmd.AddCommand(NewCreateUserCommand(opts))
	cmd.AddCommand(NewHashPasswordCommand(opts))

	return cmd
}

// options loads the runtime configuration and applies the global flags.
func (o *RootOptions) options() (*config.Options, error) {
	opts, err := config.Load([]string{"-config", o.Config})
	if err != nil {
		return nil, err
	}
	if o.Store != "" {
		opts.StoreBackend = o.Store
	}
	if o.MongoURI != "" {
		opts.MongoURI = o.MongoURI
	}
	if o.Database != "" {
		opts.Database = o.Database
	}
	opts.LogLevel = o.LogLevel
	return opts, opts.Validate()
}

// withApp runs fn against a freshly wired App and closes it afterwards.
func (o *RootOptions) withApp(ctx context.Context, fn func(*app.App) error) error {
	opts, err := o.options()
	if err != nil {
		return err
	}
	log := logger.New()
	if err := log.Init(opts.LogLevel); err != nil {
		return err
	}
	defer func() { _ = log.Log.Sync() }()

	a, err := app.New(ctx, opts, log.Log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()
	return fn(a)
}

// print writes v as indented JSON or through text.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
