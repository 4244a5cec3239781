package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/actions"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/syncer"
)

// ActionResult is the outcome of one recorded action.
type ActionResult struct {
	Event    event.Event `json:"event"`
	Uploaded bool        `json:"uploaded"`
	Pending  int         `json:"pending"`
	// Warning explains why the event is still waiting for upload.
	Warning string `json:"warning,omitempty"`
}

func (r ActionResult) RenderText(w io.Writer) {
	ev := r.Event
	switch ev.Type {
	case event.TypeEntityCreated:
		fmt.Fprintf(w, "planted %q (%s) for %.2f soil\n", ev.Title, ev.EntityID, ev.Cost)
	case event.TypeEntityProgressed:
		fmt.Fprintf(w, "watered %s\n", ev.EntityID)
	case event.TypeEntityCompleted:
		fmt.Fprintf(w, "harvested %s with result %d, capacity +%.2f\n", ev.EntityID, ev.Result, ev.CapacityDelta)
	case event.TypeEntityAbandoned:
		fmt.Fprintf(w, "uprooted %s, refunded %.2f soil\n", ev.EntityID, ev.Refund)
	case event.TypeReflectionLogged:
		fmt.Fprintln(w, "reflection logged")
	case event.TypeChildEntityCreated:
		fmt.Fprintf(w, "leaf %q (%s) added under %s\n", ev.Name, ev.ChildID, ev.ParentID)
	}
	if !r.Uploaded {
		fmt.Fprintf(w, "saved locally, %d event(s) waiting for upload\n", r.Pending)
	}
}

// record builds an event from the current state and pushes it. Push
// failures other than validation leave the event saved locally; they are
// reported as a warning, not an error.
func record(cmd *cobra.Command, opts *RootOptions, build func(*actions.Builder) (event.Event, error)) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app) error {
		out := opts.formatter(cmd)

		ev, err := build(a.builder)
		if err != nil {
			return report(out, ExitFailure, ErrCodeRefused, err.Error(), nil)
		}

		stored, err := a.engine.Push(ctx, ev)
		if syncer.IsCode(err, syncer.CodeValidation) {
			return report(out, ExitFailure, ErrCodeRefused, "event rejected", err)
		}

		res := ActionResult{
			Event:    stored,
			Uploaded: !a.engine.Pending().Has(stored.ClientID),
			Pending:  a.engine.Pending().Len(),
		}
		if err != nil {
			res.Warning = err.Error()
			out.VerboseLog("upload deferred: %v", err)
		}
		return out.Success(res)
	})
}

// NewPlantCommand creates the plant command.
func NewPlantCommand(opts *RootOptions) *cobra.Command {
	var (
		cost float64
		leaf string
	)
	cmd := &cobra.Command{
		Use:   "plant <title>",
		Short: "Plant a sprout, spending soil",
		Long: `Plant a new sprout. Its cost is debited from the available soil and
returned when it is harvested.

Examples:
  grove plant "write the report" --cost 3
  grove plant "basil" --cost 1 --leaf <leaf-id>`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.Plant(title, cost, leaf)
			})
		},
	}
	cmd.Flags().Float64Var(&cost, "cost", 1, "soil the sprout costs")
	cmd.Flags().StringVar(&leaf, "leaf", "", "leaf to file the sprout under")
	return cmd
}

// NewWaterCommand creates the water command.
func NewWaterCommand(opts *RootOptions) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "water <entity-id>",
		Short: "Record progress on an active sprout",
		Long: `Water an active sprout. Each watering uses one unit of the daily water,
which refills at the configured reset hour.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.Water(args[0], note)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}

// NewHarvestCommand creates the harvest command.
func NewHarvestCommand(opts *RootOptions) *cobra.Command {
	var (
		result int
		note   string
	)
	cmd := &cobra.Command{
		Use:   "harvest <entity-id>",
		Short: "Complete a sprout and grow the soil",
		Long: `Harvest an active sprout with a result from 1 to 5. Its cost returns to
the soil and the soil capacity grows by a reward that shrinks as capacity
approaches its maximum.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.Harvest(args[0], result, note)
			})
		},
	}
	cmd.Flags().IntVar(&result, "result", 3, "outcome from 1 (poor) to 5 (great)")
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}

// NewUprootCommand creates the uproot command.
func NewUprootCommand(opts *RootOptions) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "uproot <entity-id>",
		Short: "Abandon a sprout for a partial refund",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.Uproot(args[0], note)
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "optional note")
	return cmd
}

// NewReflectCommand creates the reflect command.
func NewReflectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reflect <text>",
		Short: "Log a reflection",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.Reflect(text)
			})
		},
	}
}

// NewLeafCommand creates the leaf command.
func NewLeafCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaf <parent-id> <name>",
		Short: "Add a leaf that groups sprouts under a parent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.Join(args[1:], " ")
			return record(cmd, opts, func(b *actions.Builder) (event.Event, error) {
				return b.AddLeaf(args[0], name)
			})
		},
	}
}
