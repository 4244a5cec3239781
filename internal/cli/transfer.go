package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/importer"
)

// NewExportCommand creates the export command.
func NewExportCommand(opts *RootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the local log as a JSON array of events",
		Long: `Write every event in the local log, in replay order, as a JSON array.
The file can be restored with "grove import".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				events := event.Sorted(a.log.All())

				if outPath == "" || outPath == "-" {
					return importer.Export(cmd.OutOrStdout(), events)
				}
				f, err := os.Create(outPath)
				if err != nil {
					return report(opts.formatter(cmd), ExitFailure, ErrCodeGeneric, fmt.Sprintf("failed to create %s", outPath), err)
				}
				if err := importer.Export(f, events); err != nil {
					_ = f.Close()
					return report(opts.formatter(cmd), ExitFailure, ErrCodeGeneric, "export failed", err)
				}
				if err := f.Close(); err != nil {
					return report(opts.formatter(cmd), ExitFailure, ErrCodeGeneric, "export failed", err)
				}
				opts.formatter(cmd).VerboseLog("exported %d events to %s", len(events), outPath)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write to a file instead of stdout")
	return cmd
}

// ImportOutput summarizes an import.
type ImportOutput struct {
	importer.Result
	DryRun   bool `json:"dry_run,omitempty"`
	Replaced int  `json:"replaced"`
	Pending  int  `json:"pending"`
}

func (o ImportOutput) RenderText(w io.Writer) {
	fmt.Fprintf(w, "%d of %d events accepted\n", o.Accepted, o.Total)
	for _, d := range o.Diagnostics {
		fmt.Fprintf(w, "  rejected %s\n", d)
	}
	if o.DryRun {
		fmt.Fprintln(w, "dry run, local log unchanged")
		return
	}
	fmt.Fprintf(w, "local log replaced with %d events, %d waiting for upload\n", o.Replaced, o.Pending)
}

// NewImportCommand creates the import command.
func NewImportCommand(opts *RootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the local log with events from a JSON file",
		Long: `Read a JSON array of events (as written by "grove export"), validate
every element, and replace the local log with the accepted ones. Imported
events are queued for upload; events the remote already holds are
confirmed without being duplicated.

Use "-" to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)

			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return report(out, ExitCommandError, ErrCodeImport, fmt.Sprintf("failed to open %s", args[0]), err)
				}
				defer f.Close()
				r = f
			}

			res, err := importer.Import(r)
			if err != nil {
				return report(out, ExitFailure, ErrCodeImport, "import failed", err)
			}
			if dryRun {
				return out.Success(ImportOutput{Result: res, DryRun: true})
			}
			if res.Accepted == 0 && res.Total > 0 {
				return report(out, ExitFailure, ErrCodeImport, "no valid events in file", fmt.Errorf("%d rejected", len(res.Diagnostics)))
			}

			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				n, err := a.engine.Import(ctx, res.Events)
				if err != nil {
					return report(out, ExitFailure, ErrCodeImport, "failed to store imported events", err)
				}
				return out.Success(ImportOutput{Result: res, Replaced: n, Pending: a.engine.Pending().Len()})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate only")
	return cmd
}

// EraseOutput reports an erase.
type EraseOutput struct {
	Erased      bool `json:"erased"`
	LostPending int  `json:"lost_pending"`
}

func (e EraseOutput) RenderText(w io.Writer) {
	fmt.Fprintln(w, "local data erased")
}

// NewEraseCommand creates the erase command.
func NewEraseCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "erase",
		Short: "Delete the local log, pending uploads, and sync history",
		Long: `Delete every locally stored event and all sync bookkeeping. The remote is
not touched; the next sync fetches everything again. Events still waiting
for upload are lost.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if !yes {
				return report(out, ExitCommandError, ErrCodeRefused, "erase needs --yes", nil)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				lost := a.engine.Pending().Len()
				if err := a.engine.Erase(ctx); err != nil {
					return report(out, ExitFailure, ErrCodeGeneric, "erase failed", err)
				}
				if lost > 0 {
					out.Warn("%d event(s) were never uploaded", lost)
				}
				return out.Success(EraseOutput{Erased: true, LostPending: lost})
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm erasing local data")
	return cmd
}
