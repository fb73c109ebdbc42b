//go:build !sqlite

package jobsched

import (
	"fmt"
	"log/slog"
)

func openSQLiteBackend(string, *slog.Logger) (Backend, error) {
	return nil, fmt.Errorf("sqlite backend requires building with -tags sqlite")
}
