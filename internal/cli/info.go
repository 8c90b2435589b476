package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brewtune/brewtune/internal/brew"
)

func newInfoCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info <cask-token>",
		Short: "Show Homebrew cask metadata for a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()

			cask, err := brew.NewClient(log).Lookup(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", cask.DisplayName(), cask.Token)
			fmt.Fprintf(out, "  version:  %s\n", cask.Version)
			fmt.Fprintf(out, "  homepage: %s\n", cask.Homepage)
			fmt.Fprintf(out, "  url:      %s\n", cask.URL)
			fmt.Fprintf(out, "  sha256:   %s\n", cask.SHA256)
			if cask.Desc != "" {
				fmt.Fprintf(out, "  %s\n", cask.Desc)
			}
			return nil
		},
	}
}
