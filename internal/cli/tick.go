package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/actionflow/internal/dispatcher"
	"github.com/shaiso/actionflow/internal/reaper"
	"github.com/shaiso/actionflow/internal/scheduler"
)

// newTickCmd — однократный прогон компонента, как если бы сработал trigger.
func newTickCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick of a component",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "scheduler",
			Short: "Create tasks for due workflows",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withStores(cmd.Context(), func(st *Stores) error {
					s := scheduler.New(scheduler.Config{
						Workflows:   st.Workflows,
						Tasks:       st.Tasks,
						Logger:      a.logger,
						BatchSize:   a.cfg.Scheduler.BatchSize,
						Parallelism: a.cfg.Scheduler.Parallelism,
					})
					return runTick(cmd, a, "scheduler", s.Tick)
				})
			},
		},
		&cobra.Command{
			Use:   "dispatcher",
			Short: "Dispatch the next step of waiting tasks",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withStores(cmd.Context(), func(st *Stores) error {
					queue, closeQueue, err := st.Queue(cmd.Context())
					if err != nil {
						return err
					}
					defer closeQueue()

					d := dispatcher.New(dispatcher.Config{
						Tasks:       st.Tasks,
						Actions:     st.Actions,
						Queue:       queue,
						Logger:      a.logger,
						BatchSize:   a.cfg.Dispatcher.BatchSize,
						Parallelism: a.cfg.Dispatcher.Parallelism,
						TokenTTL:    a.cfg.Dispatcher.TokenTTL,
					})
					return runTick(cmd, a, "dispatcher", d.Tick)
				})
			},
		},
		&cobra.Command{
			Use:   "reaper",
			Short: "Fail tasks stuck in running",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.withStores(cmd.Context(), func(st *Stores) error {
					r := reaper.New(reaper.Config{
						Tasks:       st.Tasks,
						Actions:     st.Actions,
						Logger:      a.logger,
						StaleAfter:  a.cfg.Reaper.StaleAfter,
						BatchSize:   a.cfg.Reaper.BatchSize,
						Parallelism: a.cfg.Reaper.Parallelism,
					})
					return runTick(cmd, a, "reaper", r.Tick)
				})
			},
		},
	)
	return cmd
}

func runTick(cmd *cobra.Command, a *app, name string, tick func(ctx context.Context, now time.Time) error) error {
	if err := tick(cmd.Context(), a.now()); err != nil {
		return fmt.Errorf("%s tick: %w", name, err)
	}
	a.output(cmd).Success(name + " tick done")
	return nil
}
