package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	DB       string
	RemoteDB string
	User     string

	// Config is loaded from GROVE_* variables; flags above override it.
	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the grove CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "grove",
		Short: "grove - a local-first garden of intentions",
		Long: `Plant sprouts in your soil, water them daily, and harvest or uproot them.

Every change is an immutable event in a local log. State is derived by
replaying that log, so the CLI works offline; sync reconciles the log with
a remote store shared by all of your devices.

Settings are read from GROVE_* environment variables and overridden by flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			cfg, err := config.Load()
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			opts.applyConfig(cmd, cfg)
			opts.Logger = newLogger(cmd.ErrOrStderr(), opts.Verbose)
			slog.SetDefault(opts.Logger)
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVar(&opts.DB, "db", "", "path to the local database (default $GROVE_DB or grove.db)")
	flags.StringVar(&opts.RemoteDB, "remote-db", "", "path to the shared remote database (default $GROVE_REMOTE_DB)")
	flags.StringVar(&opts.User, "user", "", "user id for sync (default $GROVE_USER_ID)")

	cmd.AddCommand(NewPlantCommand(opts))
	cmd.AddCommand(NewWaterCommand(opts))
	cmd.AddCommand(NewHarvestCommand(opts))
	cmd.AddCommand(NewUprootCommand(opts))
	cmd.AddCommand(NewReflectCommand(opts))
	cmd.AddCommand(NewLeafCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewPendingCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewEraseCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))

	return cmd
}

// applyConfig fills every flag the user did not set from cfg.
func (o *RootOptions) applyConfig(cmd *cobra.Command, cfg config.Config) {
	o.Config = cfg
	if !cmd.Flags().Changed("db") {
		o.DB = cfg.DB
	}
	if !cmd.Flags().Changed("remote-db") {
		o.RemoteDB = cfg.RemoteDB
	}
	if !cmd.Flags().Changed("user") {
		o.User = cfg.UserID
	} else {
		o.Config.UserID = o.User
	}
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
