package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache is a short-lived byte store with per-key expiry. A miss is reported
// as ok=false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) map[string]any
	Close() error
}

// GenerateKey namespaces a hashed discriminator under prefix.
func GenerateKey(prefix, discriminator string) string {
	sum := sha256.Sum256([]byte(discriminator))
	return prefix + ":" + hex.EncodeToString(sum[:16])
}
