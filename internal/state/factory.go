package state

import (
	"fmt"

	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// NewFromConfig creates a State projection for one dataset directory based
// on the configured backend type.
func NewFromConfig(cfg config.StateConfig, datasetDir string, rk gonk.RecordKeeper) (gonk.State, error) {
	switch cfg.Type {
	case "sqlite", "":
		return NewSQLite(datasetDir, rk)
	case "memory":
		return NewMemory(rk), nil
	default:
		return nil, fmt.Errorf("unknown state type: %s", cfg.Type)
	}
}
