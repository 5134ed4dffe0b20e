// Package logging provides categorized logging for toolsmith.
// Every subsystem logs through a category logger backed by a shared zap core.
// Until Initialize is called all loggers are no-ops, so library code can log
// freely without forcing callers to configure anything.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup and configuration
	CategoryAPI        Category = "api"        // Generative model calls
	CategoryStrategy   Category = "strategy"   // Strategy selection
	CategorySynth      Category = "synth"      // Code synthesis
	CategorySandbox    Category = "sandbox"    // Container lifecycle
	CategoryValidation Category = "validation" // Static checks, test runs, coverage
	CategoryRepair     Category = "repair"     // Failure classification and repair
	CategoryDesigner   Category = "designer"   // End-to-end orchestration
)

// Config controls how Initialize builds the underlying zap logger.
type Config struct {
	Level       string          // debug, info, warn, error
	JSONFormat  bool            // json encoder instead of console
	OutputPaths []string        // defaults to stderr
	Categories  map[string]bool // nil enables everything
}

// Logger wraps a zap sugared logger with a category name.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the shared zap logger. It may be called more than once;
// later calls replace the previous configuration.
func Initialize(cfg Config) error {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(levelName(cfg.Level))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if !cfg.JSONFormat {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	z, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	Use(z, cfg.Categories)

	Get(CategoryBoot).Debug("logging initialized: level=%s json=%v", levelName(cfg.Level), cfg.JSONFormat)
	return nil
}

// Use installs an existing zap logger, e.g. one built by the CLI or a test
// observer core.
func Use(z *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = z
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// Reset restores the no-op logger.
func Reset() {
	Use(zap.NewNop(), nil)
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	z := base
	mu.RUnlock()
	_ = z.Sync()
}

func levelName(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return "debug"
	case "warn", "warning":
		return "warn"
	case "error":
		return "error"
	default:
		return "info"
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := base
	if !enabled {
		z = zap.NewNop()
	}
	l := &Logger{category: category, sugar: z.Named(string(category)).Sugar()}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// API logs to the api category
func API(format string, args ...interface{}) { Get(CategoryAPI).Info(format, args...) }

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) { Get(CategoryAPI).Debug(format, args...) }

// APIWarn logs warning to the api category
func APIWarn(format string, args ...interface{}) { Get(CategoryAPI).Warn(format, args...) }

// APIError logs error to the api category
func APIError(format string, args ...interface{}) { Get(CategoryAPI).Error(format, args...) }

// StrategyDebug logs debug to the strategy category
func StrategyDebug(format string, args ...interface{}) { Get(CategoryStrategy).Debug(format, args...) }

// Synth logs to the synth category
func Synth(format string, args ...interface{}) { Get(CategorySynth).Info(format, args...) }

// SynthDebug logs debug to the synth category
func SynthDebug(format string, args ...interface{}) { Get(CategorySynth).Debug(format, args...) }

// SynthWarn logs warning to the synth category
func SynthWarn(format string, args ...interface{}) { Get(CategorySynth).Warn(format, args...) }

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...interface{}) { Get(CategorySandbox).Info(format, args...) }

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...interface{}) { Get(CategorySandbox).Debug(format, args...) }

// SandboxWarn logs warning to the sandbox category
func SandboxWarn(format string, args ...interface{}) { Get(CategorySandbox).Warn(format, args...) }

// SandboxError logs error to the sandbox category
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

// Validation logs to the validation category
func Validation(format string, args ...interface{}) { Get(CategoryValidation).Info(format, args...) }

// ValidationDebug logs debug to the validation category
func ValidationDebug(format string, args ...interface{}) {
	Get(CategoryValidation).Debug(format, args...)
}

// ValidationWarn logs warning to the validation category
func ValidationWarn(format string, args ...interface{}) {
	Get(CategoryValidation).Warn(format, args...)
}

// Repair logs to the repair category
func Repair(format string, args ...interface{}) { Get(CategoryRepair).Info(format, args...) }

// RepairDebug logs debug to the repair category
func RepairDebug(format string, args ...interface{}) { Get(CategoryRepair).Debug(format, args...) }

// RepairWarn logs warning to the repair category
func RepairWarn(format string, args ...interface{}) { Get(CategoryRepair).Warn(format, args...) }

// Designer logs to the designer category
func Designer(format string, args ...interface{}) { Get(CategoryDesigner).Info(format, args...) }

// DesignerDebug logs debug to the designer category
func DesignerDebug(format string, args ...interface{}) { Get(CategoryDesigner).Debug(format, args...) }

// =============================================================================
// TIMING
// =============================================================================

// Timer measures an operation and logs its duration when stopped.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
