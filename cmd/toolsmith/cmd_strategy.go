package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"toolsmith/internal/spec"
	"toolsmith/internal/strategy"
)

// Version is overridden at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Show which synthesis strategy a specification selects",
	Long: `Prints the strategy decision for a specification without generating
anything. Selection is deterministic and never calls the model.`,
	RunE: runStrategy,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "toolsmith %s (%s/%s, %s)\n", Version, runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	strategyCmd.Flags().StringSliceVarP(&specFiles, "file", "f", nil, "Specification file (YAML or JSON); repeatable")
	_ = strategyCmd.MarkFlagRequired("file")
}

func runStrategy(cmd *cobra.Command, args []string) error {
	selector := strategy.DefaultSelector(strategy.CatalogFromConfig(cfg.Strategy.Catalog))
	out := cmd.OutOrStdout()

	for _, path := range specFiles {
		s, err := spec.LoadFile(path)
		if err != nil {
			return err
		}
		s = spec.Normalize(s)
		if err := spec.Validate(s); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		d := selector.Select(s)
		fmt.Fprintf(out, "%s: %s\n", s.Name, d.Strategy)
		switch {
		case d.Capability != nil:
			fmt.Fprintf(out, "  capability: %s\n", d.Capability.Name)
		case d.Op != nil:
			fmt.Fprintf(out, "  operation: %s\n", d.Op.Op)
		case len(d.Endpoints) > 0:
			names := make([]string, 0, len(d.Endpoints))
			for _, ep := range d.Endpoints {
				names = append(names, ep.Name)
			}
			fmt.Fprintf(out, "  endpoints: %s\n", strings.Join(names, ", "))
		}
	}
	return nil
}
