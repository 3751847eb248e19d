// Package logging provides category-scoped structured logging for defectintel.
// Every category logger is a named child of one process-wide zap logger.
// Until Initialize or Use is called, every category logs to a no-op sink, so
// library code and tests stay silent unless the process opts in.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot       Category = "boot"       // Boot/initialization
	CategoryAPI        Category = "api"        // Generative model calls
	CategoryPipeline   Category = "pipeline"   // Report orchestration
	CategoryAnalysis   Category = "analysis"   // Analysis generator
	CategoryPrediction Category = "prediction" // Prediction generator
	CategoryRender     Category = "render"     // Document rendering
	CategoryStore      Category = "store"      // Record source / SQLite
	CategoryVision     Category = "vision"     // Image defect ingestion
	CategoryHTTP       Category = "http"       // HTTP surface
)

// Config mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional extra output path
	Categories map[string]bool // category -> enabled; absent means enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	root       = zap.NewNop()
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg and installs it.
func Initialize(cfg Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	Use(l, cfg.Categories)
	return l, nil
}

// Use installs an already-built zap logger as the process logger.
func Use(l *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// Reset restores the silent default.
func Reset() {
	Use(nil, nil)
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	return categoryEnabled(category)
}

func categoryEnabled(category Category) bool {
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	base := root
	if !categoryEnabled(category) {
		base = zap.NewNop()
	}
	l := &Logger{category: category, sugar: base.Named(string(category)).Sugar()}
	loggers[category] = l
	return l
}

// Sync flushes the process logger.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = root.Sync()
}

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
