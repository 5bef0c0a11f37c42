package record

import (
	"fmt"

	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// NewFromConfig creates a RecordKeeper for one dataset directory based on
// the configured backend type.
func NewFromConfig(cfg config.RecordConfig, datasetDir string) (gonk.RecordKeeper, error) {
	switch cfg.Type {
	case "filesystem", "":
		return NewFileSystem(datasetDir)
	case "sqlite":
		return NewSQLite(datasetDir)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown record keeper type: %s", cfg.Type)
	}
}
