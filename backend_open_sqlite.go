//go:build sqlite

package jobsched

import "log/slog"

func openSQLiteBackend(path string, logger *slog.Logger) (Backend, error) {
	return NewSQLiteBackend(path, logger)
}
