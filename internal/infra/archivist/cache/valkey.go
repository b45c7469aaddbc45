package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/valkey-io/valkey-go"

	domain "github.com/orgarchivist/archivist/internal/domain/archivist"
)

// Valkey is C10's optional distributed tier: a shared cache across multiple archivist
// instances. Valkey itself doesn't track per-key hit/miss, so Stats reports this instance's own
// atomic hit/miss counters. Grounded on the teacher's faqstore.ValkeyStore (JSON-over-
// Valkey persistence, SET...EX for TTL).
type Valkey struct {
	client valkey.Client
	prefix string
	hits   int64
	misses int64
}

// NewValkey constructs the Valkey-backed distributed cache tier.
func NewValkey(client valkey.Client, prefix string) *Valkey {
	if prefix == "" {
		prefix = "archivist:retrieval"
	}
	return &Valkey{client: client, prefix: prefix}
}

// Get fetches a cached retrieval result set by its canonicalized query key.
func (v *Valkey) Get(ctx context.Context, key string) (domain.CacheEntry, bool) {
	cmd := v.client.B().Get().Key(v.entryKey(key)).Build()
	resp := v.client.Do(ctx, cmd)
	payload, err := resp.ToString()
	if err != nil {
		atomic.AddInt64(&v.misses, 1)
		return domain.CacheEntry{}, false
	}
	var entry domain.CacheEntry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		atomic.AddInt64(&v.misses, 1)
		return domain.CacheEntry{}, false
	}
	atomic.AddInt64(&v.hits, 1)
	return entry, true
}

// Put stores a retrieval result set with the given TTL.
func (v *Valkey) Put(ctx context.Context, key string, entry domain.CacheEntry, ttl time.Duration) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return
	}
	builder := v.client.B().Set().Key(v.entryKey(key)).Value(string(payload))
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	_ = v.client.Do(ctx, cmd).Error()
}

// InvalidateAll drops every cached retrieval result by scanning and deleting this tier's key
// prefix; Valkey has no namespace-wide flush that wouldn't also affect other tenants of the
// same instance.
func (v *Valkey) InvalidateAll(ctx context.Context) {
	pattern := v.prefix + ":*"
	cmd := v.client.B().Keys().Pattern(pattern).Build()
	resp := v.client.Do(ctx, cmd)
	keys, err := resp.AsStrSlice()
	if err != nil || len(keys) == 0 {
		return
	}
	del := v.client.B().Del().Key(keys...).Build()
	_ = v.client.Do(ctx, del).Error()
}

// Stats reports this process's observed hit/miss counts; eviction and size are not tracked
// since Valkey manages its own memory policy independently.
func (v *Valkey) Stats() domain.CacheStats {
	return domain.CacheStats{Hits: atomic.LoadInt64(&v.hits), Misses: atomic.LoadInt64(&v.misses)}
}

func (v *Valkey) entryKey(key string) string {
	return fmt.Sprintf("%s:%s", v.prefix, key)
}

var _ domain.Cache = (*Valkey)(nil)
