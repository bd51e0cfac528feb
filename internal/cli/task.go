package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
)

// cancelAttempts — сколько раз перечитываем task при гонке с executor.
const cancelAttempts = 3

func newTaskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and cancel tasks",
	}
	cmd.AddCommand(newTaskShowCmd(a), newTaskCancelCmd(a))
	return cmd
}

// taskView — task вместе с его actions для --json.
type taskView struct {
	*domain.Task
	ActionList []domain.Action `json:"action_list"`
}

func newTaskShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show task details and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			return a.withStores(cmd.Context(), func(st *Stores) error {
				task, err := st.Tasks.GetByID(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get task: %w", err)
				}
				actions, err := st.Actions.ListByTask(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("list actions: %w", err)
				}

				out := a.output(cmd)
				if out.IsJSON() {
					return out.JSON(taskView{Task: task, ActionList: actions})
				}

				next := "-"
				if task.NextAction != nil {
					next = fmt.Sprintf("%d (%s)", task.NextAction.Index, task.NextAction.Command)
				}
				current := "-"
				if task.CurrentActionID != nil {
					current = task.CurrentActionID.String()
				}
				errText := "-"
				if task.Error != nil {
					errText = task.Error.Error()
				}
				if err := out.Fields([][2]string{
					{"ID", task.ID.String()},
					{"Workflow", task.WorkflowID.String()},
					{"Status", string(task.Status)},
					{"Steps", strconv.Itoa(len(task.Actions))},
					{"Current action", current},
					{"Next action", next},
					{"Usage", strconv.FormatFloat(task.Usage, 'f', -1, 64)},
					{"Error", errText},
					{"Started", formatTime(task.StartedAt)},
					{"Finished", formatTime(task.FinishedAt)},
				}); err != nil {
					return err
				}

				rows := make([][]string, len(actions))
				for i, act := range actions {
					rows[i] = []string{
						act.ID.String(),
						strconv.Itoa(act.Command.Index),
						act.Command.Command,
						string(act.Status),
						strconv.FormatFloat(act.Usage, 'f', -1, 64),
						formatTime(act.FinishedAt),
					}
				}
				return out.Table([]string{"ACTION", "INDEX", "COMMAND", "STATUS", "USAGE", "FINISHED"}, rows)
			})
		},
	}
}

func newTaskCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task",
		Long: `Cancel a task.

A waiting task is not dispatched any more. A running task finishes its
current action; the result is recorded and the task stays canceled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("task", args[0])
			if err != nil {
				return err
			}
			return a.withStores(cmd.Context(), func(st *Stores) error {
				for attempt := 1; ; attempt++ {
					task, err := st.Tasks.GetByID(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("get task: %w", err)
					}
					prev := task.Status
					if err := task.Cancel(a.now()); err != nil {
						return err
					}

					err = st.Tasks.Update(cmd.Context(), task, prev)
					if errors.Is(err, repo.ErrConflict) && attempt < cancelAttempts {
						continue
					}
					if err != nil {
						return fmt.Errorf("cancel task: %w", err)
					}

					a.logger.Info("task canceled", "task_id", id, "previous_status", prev)
					a.output(cmd).Success("task " + id.String() + " canceled")
					return nil
				}
			})
		},
	}
}
