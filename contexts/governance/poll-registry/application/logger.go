package application

import "log/slog"

// ResolveLogger returns logger, or the default logger when it is nil.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
