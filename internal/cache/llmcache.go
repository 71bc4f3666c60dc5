package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// LLMCache stores Triage and Case Build responses on disk keyed by
// KeyFrom(model, prompt): the same Document re-triaged on a later tick
// (e.g. after a retryable LLM failure, or a re-observation that didn't
// actually change the prompt) reuses the cached verdict instead of
// spending budget on an identical call (§4.D).
type LLMCache struct {
	Dir string
	// StrictPerms, when true, enforces 0700 on the cache directory and
	// 0600 on cache files for at-rest protection of cached LLM output,
	// which can include excerpts of a Document's text.
	StrictPerms bool
}

func (c *LLMCache) ensureDir() error {
	if c == nil || c.Dir == "" {
		return errors.New("cache dir not configured")
	}
	perm := os.FileMode(0o755)
	if c.StrictPerms {
		perm = 0o700
	}
	if err := os.MkdirAll(c.Dir, perm); err != nil {
		return err
	}
	if c.StrictPerms {
		if info, err := os.Stat(c.Dir); err == nil && info.Mode()&0o777 != 0o700 {
			_ = os.Chmod(c.Dir, 0o700)
		}
	}
	return nil
}

// KeyFrom builds a cache key from the model name and the fully assembled
// prompt (system + user message), so Triage and Case Build never collide
// on each other's entries even when a Document's metadata happens to match.
func KeyFrom(model string, prompt string) string {
	h := sha256.Sum256([]byte(model + "\n\n" + prompt))
	return hex.EncodeToString(h[:])
}

func (c *LLMCache) pathFor(key string) string {
	return filepath.Join(c.Dir, key+".json")
}

// Get returns cached bytes if present, touching the file's mtime so
// EnforceLLMCacheLimits' LRU eviction treats it as recently used.
func (c *LLMCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := c.ensureDir(); err != nil {
		return nil, false, err
	}
	p := c.pathFor(key)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, false, nil
	}
	now := time.Now()
	_ = os.Chtimes(p, now, now)
	return b, true, nil
}

// Save writes bytes to cache.
func (c *LLMCache) Save(_ context.Context, key string, data []byte) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if c.StrictPerms {
		mode = 0o600
	}
	return os.WriteFile(c.pathFor(key), data, mode)
}

// Delete removes a cached entry if present. Used when a Document is
// re-observed with changed content (spec scenario S3): the prior Triage or
// Case Build response was computed from the old prompt and must not be
// served for the new one.
func (c *LLMCache) Delete(_ context.Context, key string) error {
	err := os.Remove(c.pathFor(key))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
