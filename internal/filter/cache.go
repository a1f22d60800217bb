package filter

import "sync"

// Sinc tables run to megabytes and take visible time to build, so they are
// shared process-wide: every Get with equal parameters returns the same
// immutable *Table. The cache never evicts; the working set is bounded by
// the small number of distinct rate pairs a mixing graph uses.
type cacheEntry struct {
	once  sync.Once
	table *Table
}

var tableCache = struct {
	mu      sync.Mutex
	entries map[Key]*cacheEntry
}{entries: make(map[Key]*cacheEntry)}

// Get returns the shared coefficient table for the given parameters,
// building it on first use. Subsequent calls with equal parameters return
// the identical table.
func Get(kind Kind, sourceRate, destRate int32, fracBits int32) *Table {
	key := Key{Kind: kind, SourceRate: sourceRate, DestRate: destRate, FracBits: fracBits}

	tableCache.mu.Lock()
	entry, ok := tableCache.entries[key]
	if !ok {
		entry = &cacheEntry{}
		tableCache.entries[key] = entry
	}
	tableCache.mu.Unlock()

	// Build outside the map lock; concurrent first callers for the same key
	// share one build.
	entry.once.Do(func() {
		entry.table = newTable(key)
	})
	return entry.table
}

// commonRatePairs are the conversions worth paying for at startup rather
// than on the first mix job.
var commonRatePairs = [][2]int32{
	{48000, 48000},
	{44100, 48000},
	{48000, 44100},
	{96000, 48000},
	{48000, 96000},
}

// Precompute eagerly builds the tables for common sample-rate pairs so the
// first mix job on a hot path never stalls on table construction. Call it
// once at process start; it is safe to call concurrently with Get.
func Precompute(fracBits int32) {
	for _, pair := range commonRatePairs {
		if pair[0] == pair[1] {
			Get(KindPoint, pair[0], pair[1], fracBits)
			continue
		}
		Get(KindSinc, pair[0], pair[1], fracBits)
	}
}
