package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

func Setup(verbosity int, dir string) (zerolog.Logger, string, error) {
	level := zerolog.WarnLevel
	switch verbosity {
	case 1:
		level = zerolog.InfoLevel
	case 2:
		level = zerolog.DebugLevel
	default:
		if verbosity > 2 {
			level = zerolog.TraceLevel
		}
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.Kitchen,
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return zerolog.Logger{}, "", fmt.Errorf("failed to create log directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("labctl-%s.log", time.Now().Format("20060102-150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Logger{}, "", fmt.Errorf("failed to create run log: %w", err)
	}

	logger := zerolog.New(io.MultiWriter(console, file)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, path, nil
}

func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}
