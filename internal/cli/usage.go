package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/actionflow/internal/domain"
	"github.com/shaiso/actionflow/internal/repo"
	"github.com/shaiso/actionflow/internal/usage"
)

func newUsageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect organization usage",
	}
	cmd.AddCommand(newUsageShowCmd(a))
	return cmd
}

// usageView — месячная запись и эффективные лимиты.
type usageView struct {
	OrganizationID string  `json:"organization_id"`
	Month          string  `json:"month"`
	PlanID         string  `json:"plan_id,omitempty"`
	Usage          float64 `json:"usage"`
	Limit          float64 `json:"limit"`
	BucketBalance  float64 `json:"bucket_balance"`
	BucketCapacity float64 `json:"bucket_capacity"`
	Unmetered      bool    `json:"unmetered"`
}

func newUsageShowCmd(a *app) *cobra.Command {
	var month string

	cmd := &cobra.Command{
		Use:   "show <organization-id>",
		Short: "Show monthly usage and limits of an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := parseID("organization", args[0])
			if err != nil {
				return err
			}
			now := a.now()
			if month == "" {
				month = domain.MonthKey(now)
			}

			return a.withStores(cmd.Context(), func(st *Stores) error {
				ledger := usage.NewLedger(usage.Config{
					Store:    st.Usage,
					Billing:  st.Billing,
					Defaults: a.cfg.Usage,
					Logger:   a.logger,
				})

				limits, err := ledger.Limits(cmd.Context(), orgID, now)
				if err != nil {
					return fmt.Errorf("resolve limits: %w", err)
				}
				rec, err := ledger.Usage(cmd.Context(), orgID, month)
				switch {
				case errors.Is(err, repo.ErrNotFound):
					rec = &domain.UsageRecord{OrganizationID: orgID, Month: month}
				case err != nil:
					return fmt.Errorf("get usage: %w", err)
				}

				view := usageView{
					OrganizationID: orgID.String(),
					Month:          month,
					PlanID:         limits.PlanID,
					Usage:          rec.Usage,
					Limit:          limits.Limit,
					BucketBalance:  rec.BucketBalance,
					BucketCapacity: limits.Capacity(),
					Unmetered:      limits.Unmetered,
				}

				out := a.output(cmd)
				if out.IsJSON() {
					return out.JSON(view)
				}
				f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
				return out.Fields([][2]string{
					{"Organization", view.OrganizationID},
					{"Month", view.Month},
					{"Plan", view.PlanID},
					{"Usage", f(view.Usage)},
					{"Limit", f(view.Limit)},
					{"Bucket", f(view.BucketBalance) + " / " + f(view.BucketCapacity)},
					{"Unmetered", strconv.FormatBool(view.Unmetered)},
				})
			})
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "Month as YYYYMM (default: current UTC month)")
	return cmd
}
