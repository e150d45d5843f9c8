// Package util provides logging, host inspection and TLS helpers shared by
// the blockgate commands.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "blockgate_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`

	// ConsoleOut overrides where console output goes. Defaults to stdout.
	ConsoleOut io.Writer `json:"-"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 5,
		Console:    true,
	}
}

// InitLogger initializes the zerolog global logger with file and console
// output. The returned file is the day's log file; callers close it on exit.
func InitLogger(cfg LogConfig) (io.Closer, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.Directory, err)
	}

	logFileName := fmt.Sprintf("%s%s.log", logFilePrefix, time.Now().Format("2006-01-02"))
	logFilePath := filepath.Join(cfg.Directory, logFileName)

	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logFilePath, err)
	}

	// JSON to the file, human-readable to the console
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
		Str("app", "blockgate").
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go CleanOldLogs(cfg.Directory, cfg.MaxBackups)

	return logFile, nil
}

// CleanOldLogs keeps the newest maxBackups log files and returns how many it
// removed. File names carry the date, so name order is age order.
func CleanOldLogs(directory string, maxBackups int) int {
	if maxBackups <= 0 {
		return 0
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		return 0
	}

	var logFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, logFilePrefix) && filepath.Ext(name) == ".log" {
			logFiles = append(logFiles, name)
		}
	}
	if len(logFiles) <= maxBackups {
		return 0
	}

	sort.Strings(logFiles)
	removed := 0
	for _, name := range logFiles[:len(logFiles)-maxBackups] {
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
