package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/state"
)

// Overview is the default state view.
type Overview struct {
	Soil      state.Soil     `json:"soil"`
	Water     cache.Water    `json:"water"`
	Active    []state.Entity `json:"active"`
	Completed int            `json:"completed"`
	Abandoned int            `json:"abandoned"`
	Events    int            `json:"events"`
	Skipped   int            `json:"skipped"`
}

func (o Overview) RenderText(w io.Writer) {
	fmt.Fprintf(w, "soil   %.2f / %.2f\n", o.Soil.Available, o.Soil.Capacity)
	fmt.Fprintf(w, "water  %d / %d (resets %s)\n", o.Water.Available, o.Water.Capacity, o.Water.ResetsAt.Format(time.Kitchen))
	fmt.Fprintf(w, "events %d applied, %d skipped\n", o.Events, o.Skipped)
	fmt.Fprintf(w, "done   %d harvested, %d uprooted\n", o.Completed, o.Abandoned)
	if len(o.Active) == 0 {
		fmt.Fprintln(w, "\nnothing growing")
		return
	}
	fmt.Fprintln(w)
	renderEntities(w, o.Active)
}

// EntityList is a filtered list of entities.
type EntityList struct {
	Entities []state.Entity `json:"entities"`
}

func (l EntityList) RenderText(w io.Writer) {
	if len(l.Entities) == 0 {
		fmt.Fprintln(w, "no entities")
		return
	}
	renderEntities(w, l.Entities)
}

func renderEntities(w io.Writer, entities []state.Entity) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tCOST\tWATERED\tTITLE")
	for _, e := range entities {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\n", e.ID, e.State, e.Cost, len(e.Progress), e.Title)
	}
	_ = tw.Flush()
}

// ChildList lists leaves.
type ChildList struct {
	Children []state.Child `json:"children"`
}

func (l ChildList) RenderText(w io.Writer) {
	if len(l.Children) == 0 {
		fmt.Fprintln(w, "no leaves")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPARENT\tNAME")
	for _, c := range l.Children {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.ParentID, c.Name)
	}
	_ = tw.Flush()
}

// ReflectionList lists reflections oldest first.
type ReflectionList struct {
	Reflections []state.Reflection `json:"reflections"`
}

func (l ReflectionList) RenderText(w io.Writer) {
	if len(l.Reflections) == 0 {
		fmt.Fprintln(w, "no reflections")
		return
	}
	for _, r := range l.Reflections {
		fmt.Fprintf(w, "%s  %s\n", r.Timestamp, r.Text)
	}
}

// SkippedEvent is an event whose effect replay did not apply.
type SkippedEvent struct {
	Event  event.Event `json:"event"`
	Reason string      `json:"reason"`
}

// SkippedList lists skipped events in replay order.
type SkippedList struct {
	Skipped []SkippedEvent `json:"skipped"`
}

func (l SkippedList) RenderText(w io.Writer) {
	if len(l.Skipped) == 0 {
		fmt.Fprintln(w, "no skipped events")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tTYPE\tENTITY\tREASON")
	for _, s := range l.Skipped {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Event.Timestamp, s.Event.Type, s.Event.EntityID, s.Reason)
	}
	_ = tw.Flush()
}

// NewStateCommand creates the state command and its views.
func NewStateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the state derived from the local log",
		Long: `Show soil, today's water, and what is growing.

State is replayed from the local event log; nothing here contacts the
remote. Run "grove sync" first to include other devices' events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				st := a.cache.State()
				return opts.formatter(cmd).Success(Overview{
					Soil:      st.Soil(),
					Water:     a.cache.Water(time.Now()),
					Active:    st.Active(),
					Completed: len(st.Completed()),
					Abandoned: len(st.Abandoned()),
					Events:    st.Applied(),
					Skipped:   st.Skipped(),
				})
			})
		},
	}
	cmd.AddCommand(newEntitiesCommand(opts))
	cmd.AddCommand(newStateView(opts, "children", "List leaves", func(st *state.State) any {
		return ChildList{Children: st.Children()}
	}))
	cmd.AddCommand(newStateView(opts, "reflections", "List reflections", func(st *state.State) any {
		return ReflectionList{Reflections: st.Reflections()}
	}))
	cmd.AddCommand(newStateView(opts, "skipped", "List events replay could not apply", func(st *state.State) any {
		skips := st.Skips()
		out := SkippedList{Skipped: make([]SkippedEvent, 0, len(skips))}
		for _, s := range skips {
			out.Skipped = append(out.Skipped, SkippedEvent{Event: s.Event, Reason: s.Reason})
		}
		return out
	}))
	return cmd
}

func newStateView(opts *RootOptions, use, short string, view func(*state.State) any) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return opts.formatter(cmd).Success(view(a.cache.State()))
			})
		},
	}
}

func newEntitiesCommand(opts *RootOptions) *cobra.Command {
	var lifecycle string
	cmd := &cobra.Command{
		Use:   "entities",
		Short: "List entities by lifecycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				st := a.cache.State()
				var list []state.Entity
				switch lifecycle {
				case "active":
					list = st.Active()
				case "completed":
					list = st.Completed()
				case "abandoned":
					list = st.Abandoned()
				case "all":
					list = append(st.Entities(), st.Abandoned()...)
				default:
					return report(opts.formatter(cmd), ExitCommandError, ErrCodeGeneric,
						fmt.Sprintf("invalid lifecycle %q: must be active, completed, abandoned or all", lifecycle), nil)
				}
				if list == nil {
					list = []state.Entity{}
				}
				return opts.formatter(cmd).Success(EntityList{Entities: list})
			})
		},
	}
	cmd.Flags().StringVar(&lifecycle, "lifecycle", "active", "active, completed, abandoned or all")
	return cmd
}
