package cache

import "sync"

// seqGenerator issues monotonically increasing sequence numbers per cache key.
// A fetch result is only committed while its sequence is still the latest.
type seqGenerator struct {
	mu     sync.Mutex
	perKey map[string]uint64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{perKey: make(map[string]uint64)}
}

func (g *seqGenerator) next(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perKey[key]++
	return g.perKey[key]
}

func (g *seqGenerator) current(key string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.perKey[key]
}
