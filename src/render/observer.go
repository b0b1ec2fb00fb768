package render

import (
	"context"
	"log/slog"

	"vkframe/src/render/gpu"
)

// LogObserver returns an observer writing device diagnostics to log.
func LogObserver(log *slog.Logger) gpu.Observer {
	return gpu.ObserverFunc(func(msg gpu.Message) {
		log.Log(context.Background(), severityLevel(msg.Severity), msg.Text,
			"layer", msg.Layer,
			"code", msg.Code)
	})
}

func severityLevel(s gpu.Severity) slog.Level {
	switch s {
	case gpu.SeverityDebug:
		return slog.LevelDebug
	case gpu.SeverityWarning:
		return slog.LevelWarn
	case gpu.SeverityError:
		return slog.LevelError
	}
	return slog.LevelInfo
}
