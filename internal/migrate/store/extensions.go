package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// DefaultExtensions are the capabilities required by column types the engine
// supports out of the box: vector for fixed-dimension embedding columns and
// fuzzystrmatch for fuzzy string matching.
var DefaultExtensions = []string{"vector", "fuzzystrmatch"}

// ExtensionManager idempotently ensures database extensions are available.
// Failures are logged and swallowed: restricted hosting environments often
// forbid CREATE EXTENSION, and the capabilities are assumed best-effort.
type ExtensionManager struct {
	logger *zap.Logger
}

// NewExtensionManager creates an ExtensionManager.
func NewExtensionManager(logger *zap.Logger) *ExtensionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtensionManager{logger: logger}
}

// InstallRequired attempts CREATE EXTENSION IF NOT EXISTS for each name.
// Errors never abort startup.
func (m *ExtensionManager) InstallRequired(ctx context.Context, q Querier, extensions []string) {
	for _, name := range extensions {
		stmt := fmt.Sprintf(`CREATE EXTENSION IF NOT EXISTS "%s"`, name)
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			m.logger.Warn("extension unavailable, continuing without it",
				zap.String("extension", name),
				zap.Error(err))
			continue
		}
		m.logger.Debug("extension ready", zap.String("extension", name))
	}
}
