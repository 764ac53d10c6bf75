// Package cache provides a three-tier lookup in front of the Embedding
// Pipeline: an in-process L1, an on-disk L2 under the project's
// .codeintel/cache directory, and an optional HTTP-backed L3 team cache.
// A miss at one tier falls through to the next and promotes the result
// back up; concurrent fills for the same key are coalesced with
// singleflight so a cache stampede costs one upstream call, not N.
package cache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeintel/internal/logging"

	"golang.org/x/sync/singleflight"
)

// entry is what every tier stores: the raw value plus its expiry, so a
// stale-but-present key reads as a miss instead of a wrong hit.
type entry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (e entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Cache fronts the Embedding Pipeline's provider calls with L1/L2/L3
// tiers and single-flight fill coalescing.
type Cache struct {
	l1MaxEntries int
	l1           sync.Map // string -> entry
	l1Count      int64
	l1mu         sync.Mutex

	l2Dir string

	remote *remoteTier

	group singleflight.Group
}

// Config selects which tiers are active; zero value disables L2/L3.
type Config struct {
	L1MaxEntries    int
	L2Dir           string
	RemoteURL       string
	RemoteTimeoutMs int
}

// New builds a Cache from cfg. L1 is always enabled; L2 activates when
// L2Dir is non-empty; L3 activates when RemoteURL is non-empty.
func New(cfg Config) *Cache {
	c := &Cache{
		l1MaxEntries: cfg.L1MaxEntries,
		l2Dir:        cfg.L2Dir,
	}
	if cfg.L1MaxEntries <= 0 {
		c.l1MaxEntries = 10_000
	}
	if cfg.RemoteURL != "" {
		timeout := time.Duration(cfg.RemoteTimeoutMs) * time.Millisecond
		if timeout <= 0 {
			timeout = 500 * time.Millisecond
		}
		c.remote = &remoteTier{
			baseURL: cfg.RemoteURL,
			client:  &http.Client{Timeout: timeout},
		}
	}
	return c
}

// Get checks L1, then L2, then L3 in order, promoting a lower-tier hit
// back up to the tiers above it so the next Get is cheaper.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	now := time.Now()

	if v, ok := c.getL1(key, now); ok {
		return v, true
	}

	if c.l2Dir != "" {
		if v, ok := c.getL2(key, now); ok {
			c.setL1(key, v, 0)
			return v, true
		}
	}

	if c.remote != nil {
		if v, ok := c.remote.get(ctx, key); ok {
			c.setL1(key, v, 0)
			if c.l2Dir != "" {
				_ = c.setL2(key, v, 0)
			}
			return v, true
		}
	}

	return nil, false
}

// Set writes value to every active tier with ttl (zero means no
// expiry). L3 writes are best-effort: a remote-tier failure is logged
// and does not fail the call, since L1/L2 already hold the value.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.setL1(key, value, ttl)
	if c.l2Dir != "" {
		if err := c.setL2(key, value, ttl); err != nil {
			logging.Get(logging.CategoryCache).Warn("L2 write failed for %s: %v", key, err)
		}
	}
	if c.remote != nil {
		if err := c.remote.set(ctx, key, value, ttl); err != nil {
			logging.Get(logging.CategoryCache).Warn("L3 write failed for %s: %v", key, err)
		}
	}
}

// Fill returns the cached value for key, or calls fn to compute it on a
// miss, storing the result with ttl. Concurrent Fill calls for the same
// key share one fn invocation.
func (c *Cache) Fill(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.Get(ctx, key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(ctx, key); ok {
			return v, nil
		}
		value, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, value, ttl)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Cache) getL1(key string, now time.Time) ([]byte, bool) {
	raw, ok := c.l1.Load(key)
	if !ok {
		return nil, false
	}
	e := raw.(entry)
	if e.expired(now) {
		c.l1.Delete(key)
		return nil, false
	}
	return e.Value, true
}

func (c *Cache) setL1(key string, value []byte, ttl time.Duration) {
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	_, existed := c.l1.Load(key)
	c.l1.Store(key, entry{Value: value, ExpiresAt: expires})
	if !existed {
		c.l1mu.Lock()
		c.l1Count++
		if c.l1Count > int64(c.l1MaxEntries) {
			c.evictL1Oldest()
		}
		c.l1mu.Unlock()
	}
}

// evictL1Oldest drops an arbitrary entry when over capacity. sync.Map
// has no ordering to evict the true oldest without a second index, and
// embeddings are idempotent to recompute, so an arbitrary eviction is
// an acceptable tradeoff against the complexity of an LRU index.
func (c *Cache) evictL1Oldest() {
	c.l1.Range(func(k, _ any) bool {
		c.l1.Delete(k)
		c.l1Count--
		return false
	})
}

func (c *Cache) l2Path(key string) string {
	h := sha256.Sum256([]byte(key))
	return filepath.Join(c.l2Dir, hex.EncodeToString(h[:])+".json")
}

func (c *Cache) getL2(key string, now time.Time) ([]byte, bool) {
	data, err := os.ReadFile(c.l2Path(key))
	if err != nil {
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false
	}
	if e.expired(now) {
		_ = os.Remove(c.l2Path(key))
		return nil, false
	}
	return e.Value, true
}

func (c *Cache) setL2(key string, value []byte, ttl time.Duration) error {
	if err := os.MkdirAll(c.l2Dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	data, err := json.Marshal(entry{Value: value, ExpiresAt: expires})
	if err != nil {
		return err
	}
	return os.WriteFile(c.l2Path(key), data, 0o644)
}

// remoteTier is the optional L3 HTTP KV tier. It is reachable only over
// the network, so every call is bounded by client.Timeout and a failure
// degrades to "no L3", never to an error surfaced past Get/Set.
type remoteTier struct {
	baseURL string
	client  *http.Client
}

func (r *remoteTier) get(ctx context.Context, key string) ([]byte, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+key, nil)
	if err != nil {
		return nil, false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (r *remoteTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+"/"+key, httpReader(value))
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote cache set returned status %d", resp.StatusCode)
	}
	return nil
}

func httpReader(value []byte) io.Reader {
	return bytes.NewReader(value)
}
