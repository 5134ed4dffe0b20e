package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"toolsmith/internal/sandbox"
	"toolsmith/internal/spec"
	"toolsmith/internal/types"
	"toolsmith/internal/validation"
)

var (
	toolDir      string
	toolSpecFile string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an existing tool directory in the sandbox",
	Long: `Runs the static checks, then the tool's tests with coverage inside the
sandbox. The directory must contain tool.go; tool_test.go and docs.md are
picked up when present. With --spec the exported function is also checked
against the specification's signature.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&toolDir, "dir", "d", "", "Directory containing tool.go and tool_test.go")
	validateCmd.Flags().StringVarP(&toolSpecFile, "spec", "s", "", "Optional specification file for signature checks")
	validateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	_ = validateCmd.MarkFlagRequired("dir")
}

func runValidate(cmd *cobra.Command, args []string) error {
	tool, err := readTool(toolDir)
	if err != nil {
		return err
	}

	var s *types.ToolSpecification
	if toolSpecFile != "" {
		loaded, err := spec.LoadFile(toolSpecFile)
		if err != nil {
			return err
		}
		s = &loaded
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	mgr, err := sandbox.NewManagerFromConfig(cfg.Sandbox)
	if err != nil {
		return fmt.Errorf("failed to create sandbox: %w", err)
	}
	defer mgr.Close()

	v := validation.New(mgr, validation.OptionsFromConfig(cfg))
	attemptID := "validate-" + uuid.NewString()
	logger.Info("validating tool", zap.String("dir", toolDir), zap.String("attempt", attemptID))

	result, err := v.ValidateFor(ctx, tool, s, attemptID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(out, result); err != nil {
			return err
		}
	} else {
		status := "PASS"
		if !result.Success {
			status = "FAIL"
		}
		fmt.Fprintf(out, "%s  coverage=%.1f%% (threshold %.0f%%)\n", status, result.Coverage*100, v.Threshold()*100)
		fmt.Fprintf(out, "  artifacts: %s\n", v.ArtifactDir(attemptID))
		for _, f := range result.Failures {
			fmt.Fprintf(out, "  - [%s] %s\n", f.Kind, firstLine(f.Detail))
		}
	}

	if !result.Success {
		return errors.New("validation failed")
	}
	return nil
}

// readTool loads a tool directory. tool.go is required.
func readTool(dir string) (*types.GeneratedTool, error) {
	code, err := os.ReadFile(filepath.Join(dir, "tool.go"))
	if err != nil {
		return nil, fmt.Errorf("failed to read tool: %w", err)
	}
	tool := &types.GeneratedTool{Code: string(code), Language: "go"}

	if tests, err := os.ReadFile(filepath.Join(dir, "tool_test.go")); err == nil {
		tool.Tests = string(tests)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read tests: %w", err)
	}
	if docs, err := os.ReadFile(filepath.Join(dir, "docs.md")); err == nil {
		tool.Docs = string(docs)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read docs: %w", err)
	}
	return tool, nil
}
