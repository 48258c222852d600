package cliutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

type LogOptions struct {
	// info|debug|warn|error
	LogLevel string

	// text|json
	LogFormat string

	// defaults to stdout
	Output io.Writer
}

func firstenv(envVarNames ...string) string {
	for _, name := range envVarNames {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}

// SetupSlog builds a logger from options, falling back to env vars, and installs it as the slog default.
//
// HIFUMI_LOG_LEVEL=info|debug|warn|error
//
// HIFUMI_LOG_FMT=text|json
//
// Passing a zero LogOptions is ok.
func SetupSlog(options LogOptions) (*slog.Logger, error) {
	var hopts slog.HandlerOptions
	if options.LogLevel == "" {
		options.LogLevel = firstenv("HIFUMI_LOG_LEVEL", "LOG_LEVEL")
	}
	switch strings.ToLower(options.LogLevel) {
	case "", "info":
		hopts.Level = slog.LevelInfo
	case "debug":
		hopts.Level = slog.LevelDebug
		hopts.AddSource = true
	case "warn":
		hopts.Level = slog.LevelWarn
	case "error":
		hopts.Level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %#v", options.LogLevel)
	}

	if options.LogFormat == "" {
		options.LogFormat = firstenv("HIFUMI_LOG_FMT", "LOG_FMT")
	}
	out := options.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	switch strings.ToLower(options.LogFormat) {
	case "", "text":
		handler = slog.NewTextHandler(out, &hopts)
	case "json":
		handler = slog.NewJSONHandler(out, &hopts)
	default:
		return nil, fmt.Errorf("invalid log format: %#v", options.LogFormat)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}
