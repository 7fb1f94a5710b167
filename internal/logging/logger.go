// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// RunFileLayout names per-run log files.
const RunFileLayout = "20060102_150405"

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}

// RunLogger couples a logger with the file it mirrors to.
type RunLogger struct {
	*zap.Logger
	Path string
	file *lumberjack.Logger
}

// Close flushes the logger and closes the run file.
func (r *RunLogger) Close() error {
	_ = r.Sync() //nolint:errcheck // stderr sync fails on some terminals
	if r.file == nil {
		return nil
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close run log: %w", err)
	}
	return nil
}

// NewRun builds a logger that writes JSON lines to dir/<timestamp>.log and
// mirrors INFO and above to the console.
func NewRun(dir string, development bool, startedAt time.Time) (*RunLogger, error) {
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, startedAt.Format(RunFileLayout)+".log")
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50,
		MaxBackups: 3,
		Compress:   false,
	}

	fileEnc := zap.NewProductionEncoderConfig()
	fileEnc.TimeKey = "ts"
	fileEnc.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEnc := zap.NewDevelopmentEncoderConfig()
	consoleEnc.TimeKey = ""
	if development {
		consoleEnc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		consoleEnc.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	fileLevel := zapcore.InfoLevel
	if development {
		fileLevel = zapcore.DebugLevel
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(fileEnc), zapcore.AddSync(file), fileLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEnc), zapcore.Lock(os.Stderr), zapcore.InfoLevel),
	)
	logger := zap.New(core, zap.AddCaller())
	return &RunLogger{Logger: logger, Path: path, file: file}, nil
}
