// Package ristretto caches workflow context files in process, so repeated
// steps of a run do not re-read unchanged workspace files.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/agenthost/internal/runner"
)

// CachedSource decorates a ContextSource with a bounded TTL cache keyed by
// file path. Only successful loads are cached; a missing file is always
// re-checked so a newly created file becomes visible immediately.
type CachedSource struct {
	next runner.ContextSource
	c    *ristretto.Cache[string, string]
	ttl  time.Duration
}

// NewCachedSource wraps next with a cache of at most maxCostBytes of file
// content.
func NewCachedSource(next runner.ContextSource, maxCostBytes int64, ttl time.Duration) (*CachedSource, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedSource{next: next, c: c, ttl: ttl}, nil
}

// Load returns the cached content when present, loading and caching it
// otherwise.
func (s *CachedSource) Load(ctx context.Context, path string) (string, error) {
	if content, ok := s.c.Get(path); ok {
		return content, nil
	}

	content, err := s.next.Load(ctx, path)
	if err != nil {
		return "", err
	}
	s.c.SetWithTTL(path, content, int64(len(content)), s.ttl)
	return content, nil
}

// Wait blocks until buffered cache writes have been applied.
func (s *CachedSource) Wait() {
	s.c.Wait()
}

// Invalidate drops one path from the cache, for use after an approved
// write lands in the workspace.
func (s *CachedSource) Invalidate(path string) {
	s.c.Del(path)
}

// Close releases the cache resources.
func (s *CachedSource) Close() {
	s.c.Close()
}
