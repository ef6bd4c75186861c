package vector

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps records in memory with brute-force search.
// Suitable for tests and small corpora.
type MemoryStore struct {
	dimensions int
	// records[sourceID][generation][chunkID]
	records map[string]map[string]map[string]*Record
	active  map[string]string
	mu      sync.RWMutex
}

// NewMemoryStore creates an in-memory store for vectors of the given dimension.
func NewMemoryStore(dimensions int) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryStore{
		dimensions: dimensions,
		records:    make(map[string]map[string]map[string]*Record),
		active:     make(map[string]string),
	}, nil
}

// Upsert stores copies of records, replacing any with the same chunk ID.
func (m *MemoryStore) Upsert(ctx context.Context, records []*Record) error {
	if err := validateRecords(m.dimensions, records); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		gens, ok := m.records[r.SourceID]
		if !ok {
			gens = make(map[string]map[string]*Record)
			m.records[r.SourceID] = gens
		}
		chunks, ok := gens[r.Generation]
		if !ok {
			chunks = make(map[string]*Record)
			gens[r.Generation] = chunks
		}
		chunks[r.ChunkID] = cloneRecord(r)
	}
	return nil
}

// Query scores every record of each source's active generation.
func (m *MemoryStore) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]*Hit, error) {
	if err := checkDimensions(m.dimensions, vector); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []*Hit
	for sourceID, gen := range m.active {
		for _, r := range m.records[sourceID][gen] {
			if !matchesFilters(r, opts.Filters) {
				continue
			}
			score := CosineSimilarity(vector, r.Vector)
			if score < opts.MinScore {
				continue
			}
			hits = append(hits, &Hit{Record: cloneRecord(r), Score: score})
		}
	}
	return rankHits(hits, opts.TopK), nil
}

// Activate swaps the visible generation of sourceID.
func (m *MemoryStore) Activate(ctx context.Context, sourceID, generation string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active[sourceID]
	m.active[sourceID] = generation
	return prev, nil
}

// ActiveGeneration returns the visible generation of sourceID.
func (m *MemoryStore) ActiveGeneration(_ context.Context, sourceID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[sourceID], nil
}

// CountGeneration returns the number of records stored for the generation.
func (m *MemoryStore) CountGeneration(_ context.Context, sourceID, generation string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[sourceID][generation]), nil
}

// DeleteGeneration drops a generation's records.
func (m *MemoryStore) DeleteGeneration(ctx context.Context, sourceID, generation string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	gens := m.records[sourceID]
	n := len(gens[generation])
	delete(gens, generation)
	if len(gens) == 0 {
		delete(m.records, sourceID)
	}
	return n, nil
}

// PruneGeneration drops the generation's records not listed in keep.
func (m *MemoryStore) PruneGeneration(ctx context.Context, sourceID, generation string, keep []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	wanted := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		wanted[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	chunks := m.records[sourceID][generation]
	for id := range chunks {
		if _, ok := wanted[id]; !ok {
			delete(chunks, id)
			n++
		}
	}
	return n, nil
}

// DeleteSource drops every generation of sourceID.
func (m *MemoryStore) DeleteSource(ctx context.Context, sourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sourceID)
	delete(m.active, sourceID)
	return nil
}

// Size returns the number of stored records across all generations.
func (m *MemoryStore) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, gens := range m.records {
		for _, chunks := range gens {
			n += len(chunks)
		}
	}
	return n
}

// Dimensions returns the vector size.
func (m *MemoryStore) Dimensions() int { return m.dimensions }

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
