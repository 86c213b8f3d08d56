package logging

import (
	"fmt"

	"github.com/wb-go/wbf/logger"
)

const appName = "tutor-booking"

// New builds the application logger for the configured engine (slog, zap, zerolog, logrus) and level.
func New(engine, level, env string) (logger.Logger, error) {
	log, err := logger.InitLogger(
		logger.Engine(engine),
		appName,
		env,
		logger.WithLevel(ParseLevel(level)),
	)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

// ParseLevel converts a config string into a logger level. Unknown values fall back to info.
func ParseLevel(level string) logger.Level {
	switch level {
	case "debug":
		return logger.DebugLevel
	case "warn":
		return logger.WarnLevel
	case "error":
		return logger.ErrorLevel
	default:
		return logger.InfoLevel
	}
}

// Quiet returns an slog-backed logger that only emits errors. Used by tests and one-shot commands.
func Quiet() logger.Logger {
	log, err := logger.InitLogger("slog", appName, "test", logger.WithLevel(logger.ErrorLevel))
	if err != nil {
		panic(fmt.Sprintf("init quiet logger: %v", err))
	}
	return log
}
