package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolsmith/internal/config"
	"toolsmith/internal/designer"
	"toolsmith/internal/llmclient"
	"toolsmith/internal/logging"
	"toolsmith/internal/repair"
	"toolsmith/internal/sandbox"
	"toolsmith/internal/spec"
	"toolsmith/internal/strategy"
	"toolsmith/internal/synth"
	"toolsmith/internal/types"
	"toolsmith/internal/validation"
)

var (
	specFiles   []string
	outputDir   string
	jsonOutput  bool
	metricsFile string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Synthesize, validate and repair tools from specification files",
	Example: `  toolsmith generate -f add_numbers.yaml
  toolsmith generate -f a.yaml -f b.json --out ./tools --json`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().StringSliceVarP(&specFiles, "file", "f", nil, "Specification file (YAML or JSON); repeatable")
	generateCmd.Flags().StringVarP(&outputDir, "out", "o", "", "Copy each successful tool into <out>/<name>")
	generateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print outcomes as JSON")
	generateCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile (overrides config)")
	_ = generateCmd.MarkFlagRequired("file")
}

// pipeline is the fully wired designer plus the pieces the CLI reports on.
type pipeline struct {
	designer  *designer.Designer
	validator *validation.Validator
	sandbox   *sandbox.Manager
	registry  *prometheus.Registry
}

func (p *pipeline) Close() error {
	return p.sandbox.Close()
}

// newPipeline wires every stage from configuration. The model client is
// only built when the model may be called.
func newPipeline(ctx context.Context, c *config.Config) (*pipeline, error) {
	var gen synth.Generator
	if !c.Repair.TemplateOnly {
		client, err := llmclient.NewFromConfig(ctx, c.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create model client: %w", err)
		}
		logger.Debug("model client ready", zap.String("provider", c.LLM.Provider), zap.String("model", client.Model()))
		gen = client
	}

	mgr, err := sandbox.NewManagerFromConfig(c.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	mgr.SetAuditCallback(func(e sandbox.AuditEvent) {
		logger.Debug("sandbox audit",
			zap.String("event", string(e.Type)),
			zap.String("container", e.Name),
			zap.String("state", string(e.State)),
			zap.Duration("elapsed", e.Elapsed),
			zap.String("error", e.Error))
	})

	selector := strategy.DefaultSelector(strategy.CatalogFromConfig(c.Strategy.Catalog))
	validator := validation.New(mgr, validation.OptionsFromConfig(c))
	repairer := repair.New(gen, repair.Options{
		TemplateOnly: c.Repair.TemplateOnly,
		Threshold:    validator.Threshold(),
	})

	reg := prometheus.NewRegistry()
	d := designer.New(selector, synth.New(gen, selector.Catalog()), validator, repairer, designer.NewMetrics(reg), designer.Options{
		MaxRepairAttempts: c.Repair.MaxAttempts,
		TemplateOnly:      c.Repair.TemplateOnly,
		Concurrency:       c.Designer.Concurrency,
	})

	return &pipeline{designer: d, validator: validator, sandbox: mgr, registry: reg}, nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	specs := make([]types.ToolSpecification, 0, len(specFiles))
	for _, path := range specFiles {
		s, err := spec.LoadFile(path)
		if err != nil {
			return err
		}
		specs = append(specs, s)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.sandbox.Backend().Ping(ctx); err != nil {
		return fmt.Errorf("sandbox backend %s unavailable: %w", p.sandbox.Backend().Name(), err)
	}

	logger.Info("generating tools", zap.Int("specs", len(specs)), zap.Bool("template_only", cfg.Repair.TemplateOnly))
	outcomes, designErr := p.designer.DesignAll(ctx, specs)

	if path := metricsPath(); path != "" {
		if err := prometheus.WriteToTextfile(path, p.registry); err != nil {
			logging.Get(logging.CategoryDesigner).Warn("failed to write metrics to %s: %v", path, err)
		}
	}

	if outputDir != "" {
		for _, o := range outcomes {
			if !o.Succeeded() {
				continue
			}
			dir := filepath.Join(outputDir, spec.Identifier(o.Spec.Name))
			if err := writeTool(dir, o.Tool); err != nil {
				return err
			}
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, outcomes); err != nil {
			return err
		}
	} else {
		printOutcomes(out, p.validator, outcomes)
	}

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	if designErr != nil {
		return designErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tools failed validation", failed, len(outcomes))
	}
	return nil
}

func metricsPath() string {
	if metricsFile != "" {
		return metricsFile
	}
	return cfg.Designer.MetricsFile
}

func printOutcomes(w io.Writer, v *validation.Validator, outcomes []*designer.Outcome) {
	for _, o := range outcomes {
		if o == nil {
			continue
		}
		mark := "✓"
		if !o.Succeeded() {
			mark = "✗"
		}
		coverage := 0.0
		if o.Result != nil {
			coverage = o.Result.Coverage
		}
		fmt.Fprintf(w, "%s %s  strategy=%s coverage=%.1f%% attempts=%d\n",
			mark, o.Spec.Name, o.Strategy, coverage*100, len(o.Attempts))
		if n := len(o.Attempts); n > 0 {
			fmt.Fprintf(w, "  artifacts: %s\n", v.ArtifactDir(o.Attempts[n-1].ID))
		}
		if o.Result != nil && !o.Result.Success {
			for _, e := range o.Result.Errors {
				fmt.Fprintf(w, "  - %s\n", firstLine(e))
			}
		}
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeTool copies a tool's files into dir, creating it if needed.
func writeTool(dir string, tool *types.GeneratedTool) error {
	if tool == nil {
		return errors.New("no tool to write")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	files := map[string]string{
		"tool.go":      tool.Code,
		"tool_test.go": tool.Tests,
		"docs.md":      tool.Docs,
		"go.mod":       "module " + validation.GoModule + "\n\ngo 1.22\n",
	}
	for name, content := range files {
		if content == "" {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
