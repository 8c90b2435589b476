package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brewtune/brewtune/internal/history"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently completed uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.load()
			if err != nil {
				return err
			}

			repo, err := history.Open(cmd.Context(), cfg.HistoryDBPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			items, err := repo.List(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No uploads recorded.")
				return nil
			}
			for _, item := range items {
				fmt.Fprintf(out, "%s  %s %s (%s)  required=%d available=%d\n",
					item.FinishedAt.Format("2006-01-02 15:04"),
					item.AppName, item.AppVersion, item.BundleID,
					item.RequiredGroupsAssigned, item.AvailableGroupsAssigned)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries to show")
	return cmd
}
