package depot

import (
	"context"
	"fmt"
	"path"

	"github.com/ComputeHeavy/gonk/internal/config"
	"github.com/ComputeHeavy/gonk/internal/encryption"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// NewFromConfig creates a Depot for one dataset based on the configured
// backend type. datasetDir roots filesystem storage; datasetName namespaces
// shared backends like S3.
func NewFromConfig(cfg config.DepotConfig, datasetDir, datasetName string) (gonk.Depot, error) {
	switch cfg.Type {
	case "filesystem", "":
		var enc encryption.Encryptor
		switch cfg.Encryption {
		case "", "none":
		case "age":
			if cfg.AgeIdentityPath == "" {
				return nil, fmt.Errorf("age encryption requires age_identity_path")
			}
			enc = encryption.NewAge(cfg.AgeIdentityPath)
		default:
			return nil, fmt.Errorf("unknown depot encryption: %s", cfg.Encryption)
		}
		return NewEncryptedFileSystem(datasetDir, enc)
	case "memory":
		return NewMemory(), nil
	case "s3":
		return NewS3(context.Background(), S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    path.Join(cfg.S3Prefix, datasetName),
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown depot type: %s", cfg.Type)
	}
}
