// Package util provides logging and host helpers shared by the uolink
// packages.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	Console   bool   `json:"console"`
	// ConsoleOut receives the console writer output. Defaults to stdout.
	ConsoleOut io.Writer `json:"-"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:     "info",
		Directory: "logs",
		Console:   true,
	}
}

// LogFilePrefix starts every log file name.
const LogFilePrefix = "uolink_"

// InitLogger initializes the zerolog global logger with file and console
// output and returns the open log file.
func InitLogger(cfg LogConfig) (*os.File, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("%s%s.log", LogFilePrefix, time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// File output stays JSON for machine parsing.
	writers := []io.Writer{logFile}
	if cfg.Console {
		out := cfg.ConsoleOut
		if out == nil {
			out = os.Stdout
		}
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "uolink").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	return logFile, nil
}

// CleanOldLogs removes log files whose date stamp is older than
// retentionDays and returns how many were removed.
func CleanOldLogs(directory string, retentionDays int, now time.Time) int {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, LogFilePrefix) || filepath.Ext(name) != ".log" {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, LogFilePrefix), ".log")
		day, err := time.ParseInLocation("2006-01-02", stamp, now.Location())
		if err != nil || !day.Before(cutoff) {
			continue
		}

		path := filepath.Join(directory, name)
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("failed to remove old log file")
			continue
		}
		removed++
		log.Debug().Str("file", path).Msg("removed old log file")
	}
	return removed
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
