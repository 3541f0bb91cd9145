package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mrcljx/hupper/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with reload-session manifests",
	}
	cmd.AddCommand(newConfigLintCmd())
	return cmd
}

func newConfigLintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "lint",
		Aliases: []string{"validate"},
		Short:   "Validate a reload-session manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "hupper.yaml"
			if flag := cmd.Flag("file"); flag != nil {
				if value := flag.Value.String(); value != "" {
					path = value
				}
			} else if inherited := cmd.InheritedFlags().Lookup("file"); inherited != nil {
				if value := inherited.Value.String(); value != "" {
					path = value
				}
			}

			if _, err := config.Load(path); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}
	return cmd
}
