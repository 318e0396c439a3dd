package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/foamrun/internal/caserunner"
)

func newResolveCmd() *cobra.Command {
	var flags caseFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Show which mesh file each component binds to",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd); err != nil {
				return err
			}
			runner, err := caserunner.New(cfg, logger)
			if err != nil {
				return err
			}
			mapping, err := runner.Resolve(cfg.MeshDir)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(mapping)
			}
			fmt.Fprintf(out, "%-12s  %s\n", "COMPONENT", "FILE")
			for _, name := range cfg.Components {
				fmt.Fprintf(out, "%-12s  %s\n", name, filepath.Base(mapping[name]))
			}
			return nil
		},
	}
	flags.registerResolve(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the mapping as JSON")
	return cmd
}
