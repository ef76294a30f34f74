// Package logging provides categorized structured logging for nbscenes.
// Each subsystem logs through its own category so output can be filtered
// per concern. Until Initialize is called every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, config loading
	CategoryScenes    Category = "scenes"    // Scene lifecycle operations
	CategoryStore     Category = "store"     // SceneSet persistence in notebook metadata
	CategoryKernel    Category = "kernel"    // Kernel status transitions, init-scene auto-run
	CategoryExecution Category = "execution" // Cell execution queue
	CategoryJournal   Category = "journal"   // SQLite history
	CategoryWatch     Category = "watch"     // Notebook file watcher
	CategoryNotebook  Category = "notebook"  // ipynb load/save
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // console, json
	File       string          // empty means stderr
	Categories map[string]bool // nil enables every category
}

// Logger is a category-scoped logger.
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

// Initialize builds the process-wide zap logger from opts.
func Initialize(opts Options) error {
	level, err := zapcore.ParseLevel(strings.ToLower(opts.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	var cfg zap.Config
	if strings.EqualFold(opts.Format, "json") {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	l, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	SetBase(l, opts.Categories)

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s file=%q", level, opts.Format, opts.File)
	return nil
}

// SetBase replaces the underlying zap logger. Tests use it with zaptest/observer.
func SetBase(l *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	base = l
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// Sync flushes buffered entries.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	_ = l.Sync()
}

// IsCategoryEnabled reports whether category passes the configured filter.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if len(categories) == 0 {
		return true
	}
	enabled, ok := categories[string(category)]
	return !ok || enabled
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category, sugar: zap.NewNop().Sugar()}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Convenience helpers, one pair per hot category.

func Scenes(format string, args ...interface{})         { Get(CategoryScenes).Info(format, args...) }
func ScenesDebug(format string, args ...interface{})    { Get(CategoryScenes).Debug(format, args...) }
func Store(format string, args ...interface{})          { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})     { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})      { Get(CategoryStore).Warn(format, args...) }
func Kernel(format string, args ...interface{})         { Get(CategoryKernel).Info(format, args...) }
func KernelDebug(format string, args ...interface{})    { Get(CategoryKernel).Debug(format, args...) }
func Execution(format string, args ...interface{})      { Get(CategoryExecution).Info(format, args...) }
func ExecutionDebug(format string, args ...interface{}) { Get(CategoryExecution).Debug(format, args...) }
func ExecutionWarn(format string, args ...interface{})  { Get(CategoryExecution).Warn(format, args...) }
func Journal(format string, args ...interface{})        { Get(CategoryJournal).Info(format, args...) }
func JournalDebug(format string, args ...interface{})   { Get(CategoryJournal).Debug(format, args...) }
func Watch(format string, args ...interface{})          { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{})     { Get(CategoryWatch).Debug(format, args...) }
func Notebook(format string, args ...interface{})       { Get(CategoryNotebook).Info(format, args...) }
func NotebookDebug(format string, args ...interface{})  { Get(CategoryNotebook).Debug(format, args...) }

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
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
