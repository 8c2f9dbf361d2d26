package logger

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Lugzan151892/gradiorai-backend/internal/config"
)

// New builds the process-wide zap logger from config.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	var c zap.Config
	if cfg.Pretty {
		c = zap.NewDevelopmentConfig()
	} else {
		c = zap.NewProductionConfig()
		c.DisableStacktrace = true
	}

	levelName := cfg.Level
	if levelName == "" {
		levelName = "info"
	}
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return nil, fmt.Errorf("could not parse log level %s", levelName)
	}
	c.Level = level

	return c.Build()
}
