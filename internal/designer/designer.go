// Package designer drives one specification through strategy selection,
// synthesis, validation and the bounded repair loop.
package designer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"toolsmith/internal/logging"
	"toolsmith/internal/repair"
	"toolsmith/internal/spec"
	"toolsmith/internal/strategy"
	"toolsmith/internal/synth"
	"toolsmith/internal/types"
)

// Validator is the part of the validation pipeline the designer needs.
type Validator interface {
	ValidateFor(ctx context.Context, tool *types.GeneratedTool, spec *types.ToolSpecification, attemptID string) (*types.ValidationResult, error)
}

// Options configures a Designer.
type Options struct {
	// MaxRepairAttempts bounds repairs per design; 0 disables repair.
	MaxRepairAttempts int
	// TemplateOnly keeps the model out of synthesis and repair.
	TemplateOnly bool
	// Concurrency limits DesignAll; values below 1 mean 1.
	Concurrency int
	// Context is forwarded to every model call.
	Context map[string]interface{}
}

// Attempt records one validation attempt.
type Attempt struct {
	ID         string                  `json:"id"`
	Strategy   types.Strategy          `json:"strategy"`
	RepairKind types.FailureKind       `json:"repair_kind,omitempty"` // class repaired to produce this attempt
	Result     *types.ValidationResult `json:"result"`
}

// Outcome is the result of one design. Tool and Result are the last
// attempt's, so a failed design still carries an artifact to inspect.
type Outcome struct {
	Spec     types.ToolSpecification `json:"spec"`
	Strategy types.Strategy          `json:"strategy"`
	Tool     *types.GeneratedTool    `json:"tool"`
	Result   *types.ValidationResult `json:"result"`
	Attempts []Attempt               `json:"attempts"`
}

// Succeeded reports whether the final attempt validated.
func (o *Outcome) Succeeded() bool {
	return o != nil && o.Result != nil && o.Result.Success
}

// Designer wires the pipeline stages together. It holds no per-request
// state and is safe for concurrent use.
type Designer struct {
	selector  *strategy.Selector
	synth     *synth.Synthesizer
	validator Validator
	repairer  *repair.Manager
	metrics   *Metrics
	opts      Options
}

// New creates a Designer. metrics may be nil.
func New(selector *strategy.Selector, synthesizer *synth.Synthesizer, validator Validator, repairer *repair.Manager, metrics *Metrics, opts Options) *Designer {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.MaxRepairAttempts < 0 {
		opts.MaxRepairAttempts = 0
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Designer{
		selector:  selector,
		synth:     synthesizer,
		validator: validator,
		repairer:  repairer,
		metrics:   metrics,
		opts:      opts,
	}
}

// Design runs select, synthesize, validate and then repair plus
// re-validate until the tool passes or MaxRepairAttempts repairs were
// spent. Exhaustion is not an error: the Outcome carries the last tool
// and its failing result. Errors are reserved for invalid specifications,
// infrastructure failures and cancellation.
func (d *Designer) Design(ctx context.Context, s types.ToolSpecification) (*Outcome, error) {
	start := time.Now()
	s = spec.Normalize(s)
	if err := spec.Validate(s); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("design %s: %w", s.Name, err)
	}

	decision := d.selector.Select(s)
	out := &Outcome{Spec: s, Strategy: decision.Strategy}
	logging.Designer("Designing %s with strategy %s", s.Name, decision.Strategy)

	tool, err := d.synth.Synthesize(ctx, s, decision, synth.Options{
		AllowModel: !d.opts.TemplateOnly,
		Context:    d.opts.Context,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			d.metrics.recordDesign(decision.Strategy, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("design %s: %w", s.Name, ctxErr)
		}
		logging.DesignerDebug("synthesis of %s failed, validating the marked tool: %v", s.Name, err)
	}

	prompt := synth.BuildPrompt(s)
	var repairKind types.FailureKind
	for repairs := 0; ; repairs++ {
		attemptID := s.Name + "-" + uuid.NewString()
		result, err := d.validator.ValidateFor(ctx, tool, &s, attemptID)
		if err != nil {
			d.metrics.recordDesign(decision.Strategy, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("design %s: %w", s.Name, err)
		}
		d.metrics.recordAttempt(tool.Strategy, result)
		out.Tool, out.Result = tool, result
		out.Attempts = append(out.Attempts, Attempt{ID: attemptID, Strategy: tool.Strategy, RepairKind: repairKind, Result: result})

		if result.Success {
			logging.Designer("%s validated after %d attempt(s), coverage %.1f%%", s.Name, len(out.Attempts), result.Coverage*100)
			d.metrics.recordDesign(decision.Strategy, "success", time.Since(start).Seconds())
			return out, nil
		}
		if repairs >= d.opts.MaxRepairAttempts {
			break
		}

		repairKind = repair.Classify(result)
		d.metrics.recordRepair(repairKind)
		logging.DesignerDebug("repairing %s (%d/%d): %s", s.Name, repairs+1, d.opts.MaxRepairAttempts, repairKind)

		promptCtx := make(map[string]interface{}, len(d.opts.Context)+1)
		for k, v := range d.opts.Context {
			promptCtx[k] = v
		}
		promptCtx[repair.PreviousCodeKey] = tool.Code
		tool = d.repairer.Repair(ctx, result, s, prompt, promptCtx)

		if ctxErr := ctx.Err(); ctxErr != nil {
			d.metrics.recordDesign(decision.Strategy, "error", time.Since(start).Seconds())
			return nil, fmt.Errorf("design %s: %w", s.Name, ctxErr)
		}
	}

	logging.Designer("%s failed validation after %d attempt(s)", s.Name, len(out.Attempts))
	d.metrics.recordDesign(decision.Strategy, "failure", time.Since(start).Seconds())
	return out, nil
}

// DesignAll designs every specification with at most Concurrency running
// at once. Specifications are independent: a failure in one never cancels
// the others. outcomes[i] belongs to specs[i] and is nil when that design
// returned an error; the returned error joins all per-spec errors.
func (d *Designer) DesignAll(ctx context.Context, specs []types.ToolSpecification) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(specs))
	var (
		mu   sync.Mutex
		errs []error
	)

	var eg errgroup.Group
	eg.SetLimit(d.opts.Concurrency)
	for i, s := range specs {
		eg.Go(func() error {
			out, err := d.Design(ctx, s)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("spec %d (%s): %w", i, s.Name, err))
				mu.Unlock()
				return nil
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes, errors.Join(errs...)
}
