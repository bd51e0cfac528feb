package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/actionflow/internal/config"
	"github.com/shaiso/actionflow/internal/telemetry"
)

// app — состояние, общее для всех команд одного запуска.
type app struct {
	open       Opener
	cfgPath    string
	jsonOutput bool

	cfg    *config.Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRootCmd собирает дерево команд actionflow.
func NewRootCmd(version string, open Opener) *cobra.Command {
	a := &app{open: open, now: time.Now}

	root := &cobra.Command{
		Use:           "actionflow",
		Short:         "actionflow operator tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.cfgPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = telemetry.NewLogger(cmd.ErrOrStderr(), cfg.Log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to config file (default: ./config.yaml if present)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Output in JSON format")

	root.AddCommand(
		newMigrateCmd(a),
		newTickCmd(a),
		newWorkflowCmd(a),
		newTaskCmd(a),
		newUsageCmd(a),
	)
	return root
}

func (a *app) output(cmd *cobra.Command) *Output {
	return NewOutput(cmd.OutOrStdout(), cmd.ErrOrStderr(), a.jsonOutput)
}

// withStores открывает хранилище на время fn.
func (a *app) withStores(ctx context.Context, fn func(st *Stores) error) error {
	st, err := a.open(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func parseID(kind, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, s, err)
	}
	return id, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
