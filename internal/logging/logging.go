// Package logging configures the standard logger and tags log lines with scheduler cycle IDs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileOptions configures the rotating log file. An empty Path logs to stdout only.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Setup points the standard logger at stdout and, if configured, a rotating file.
// The returned closer flushes and closes the file.
func Setup(opts FileOptions) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if opts.Path == "" {
		log.SetOutput(os.Stdout)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return file, nil
}

type ctxKey struct{}

// NewCycleID returns a short random identifier for one scheduler cycle.
func NewCycleID() string {
	return uuid.New().String()[:8]
}

// WithCycle returns a context carrying the cycle ID.
func WithCycle(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CycleID returns the cycle ID carried by ctx, or "-".
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return "-"
}

// Infof logs an [INFO] line tagged with the cycle ID from ctx.
func Infof(ctx context.Context, format string, args ...any) { output(ctx, "INFO", format, args) }

// Warnf logs a [WARN] line tagged with the cycle ID from ctx.
func Warnf(ctx context.Context, format string, args ...any) { output(ctx, "WARN", format, args) }

// Errorf logs an [ERROR] line tagged with the cycle ID from ctx.
func Errorf(ctx context.Context, format string, args ...any) { output(ctx, "ERROR", format, args) }

func output(ctx context.Context, level, format string, args []any) {
	msg := fmt.Sprintf(format, args...)
	_ = log.Output(3, fmt.Sprintf("[%s] [%s] %s", level, CycleID(ctx), msg))
}
