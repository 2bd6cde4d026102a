package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ekaya-inc/ekaya-risk/pkg/config"
)

const (
	// MaxListLogLength is the maximum number of list items written to a log line
	MaxListLogLength = 10
)

// NewLogger builds the process logger. Local environments get the
// human-readable development encoder, everything else JSON.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var zcfg zap.Config
	if cfg.Env == "" || cfg.Env == "local" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// TruncateList joins at most maxItems items with ", " and reports how many
// were left out. Used when logging taxonomy or loss type lists.
func TruncateList(items []string, maxItems int) string {
	if maxItems < 0 {
		maxItems = 0
	}
	if len(items) <= maxItems {
		return strings.Join(items, ", ")
	}
	if maxItems == 0 {
		return fmt.Sprintf("... (%d more)", len(items))
	}
	return fmt.Sprintf("%s, ... (%d more)", strings.Join(items[:maxItems], ", "), len(items)-maxItems)
}
