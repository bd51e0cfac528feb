package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/actionflow/internal/domain"
)

func newWorkflowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Manage workflows",
	}
	cmd.AddCommand(newWorkflowCreateCmd(a), newWorkflowShowCmd(a))
	return cmd
}

func newWorkflowCreateCmd(a *app) *cobra.Command {
	var file string
	var startNow bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workflow from a JSON file",
		Long: `Create a workflow from a JSON file.

Example file:
  {
    "organization_id": "...",
    "project_id": "...",
    "repeat": "daily",
    "prompt": "summarize",
    "actions": [
      {"command": "http", "url": "https://example.com", "result_key": "page"},
      {"command": "transform", "summary": "{{ .Prompt }}"}
    ]
  }`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}

			var wf domain.Workflow
			if err := json.Unmarshal(data, &wf); err != nil {
				return fmt.Errorf("parse workflow: %w", err)
			}
			if wf.OrganizationID == uuid.Nil {
				return fmt.Errorf("organization_id is required")
			}
			for i := range wf.Actions {
				wf.Actions[i].Index = i
				if err := wf.Actions[i].Validate(); err != nil {
					return fmt.Errorf("action %d: %w", i, err)
				}
			}

			now := a.now().UTC()
			if wf.ID == uuid.Nil {
				wf.ID = uuid.New()
			}
			wf.Repeat = domain.ParseRepeat(string(wf.Repeat))
			if startNow {
				wf.NextRunAt = &now
			}
			wf.CreatedAt = now
			wf.UpdatedAt = now

			return a.withStores(cmd.Context(), func(st *Stores) error {
				if err := st.Workflows.Create(cmd.Context(), &wf); err != nil {
					return fmt.Errorf("create workflow: %w", err)
				}
				out := a.output(cmd)
				if out.IsJSON() {
					return out.JSON(wf)
				}
				out.Success("workflow " + wf.ID.String() + " created")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to workflow JSON (required)")
	cmd.Flags().BoolVar(&startNow, "start", false, "Schedule the first run immediately")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newWorkflowShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show workflow details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("workflow", args[0])
			if err != nil {
				return err
			}
			return a.withStores(cmd.Context(), func(st *Stores) error {
				wf, err := st.Workflows.GetByID(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("get workflow: %w", err)
				}

				out := a.output(cmd)
				if out.IsJSON() {
					return out.JSON(wf)
				}
				if err := out.Fields([][2]string{
					{"ID", wf.ID.String()},
					{"Organization", wf.OrganizationID.String()},
					{"Repeat", string(wf.Repeat)},
					{"Next run", formatTime(wf.NextRunAt)},
					{"Created", wf.CreatedAt.UTC().Format(time.RFC3339)},
				}); err != nil {
					return err
				}
				return printCommands(out, wf.Actions)
			})
		},
	}
}

func printCommands(out *Output, cmds []domain.ActionCommand) error {
	rows := make([][]string, len(cmds))
	for i, c := range cmds {
		payload, _ := json.Marshal(c.Payload)
		rows[i] = []string{strconv.Itoa(c.Index), c.Command, string(payload)}
	}
	return out.Table([]string{"INDEX", "COMMAND", "PAYLOAD"}, rows)
}
