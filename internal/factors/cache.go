package factors

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/quantdesk/rotation-backend/pkg/types"
)

const numShards = 16

// ScoreCache is a sharded read/write-locked memoization table for factor
// scores, keyed by (symbol, bar index). Its lifetime is scoped to one engine
// instance, which is scoped to one backtest run, so entries never leak across
// search trials. A missing entry only costs recomputation.
type ScoreCache struct {
	shards [numShards]*scoreShard
}

type scoreShard struct {
	mu    sync.RWMutex
	items map[string]*types.FactorScore
}

// NewScoreCache creates an empty cache.
func NewScoreCache() *ScoreCache {
	c := &ScoreCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &scoreShard{items: make(map[string]*types.FactorScore)}
	}
	return c
}

func cacheKey(symbol string, end int) string {
	return fmt.Sprintf("%s@%d", symbol, end)
}

func (c *ScoreCache) getShard(key string) *scoreShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Get retrieves a memoized score.
func (c *ScoreCache) Get(symbol string, end int) (*types.FactorScore, bool) {
	key := cacheKey(symbol, end)
	shard := c.getShard(key)
	shard.mu.RLock()
	score, ok := shard.items[key]
	shard.mu.RUnlock()
	return score, ok
}

// Put stores a computed score.
func (c *ScoreCache) Put(symbol string, end int, score *types.FactorScore) {
	key := cacheKey(symbol, end)
	shard := c.getShard(key)
	shard.mu.Lock()
	shard.items[key] = score
	shard.mu.Unlock()
}

// Len returns total entries across all shards.
func (c *ScoreCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}
