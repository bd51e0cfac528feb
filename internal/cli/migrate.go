package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStores(cmd.Context(), func(st *Stores) error {
				if st.Migrate == nil {
					return errors.New("storage backend has no schema to migrate")
				}
				version, err := st.Migrate(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				a.output(cmd).Success(fmt.Sprintf("schema at version %d", version))
				return nil
			})
		},
	}
}
