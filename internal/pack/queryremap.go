package pack

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
)

// queryRemapEntry records one hash -> new-query-ID resolution for the
// advisory sidecar, per spec.md §4.6 step 4.
type queryRemapEntry struct {
	NewQueryID string `json:"new_query_id"`
}

// QueryRemappingTable deduplicates modified dashboard-element queries
// within one pack session: multiple elements whose modified query hashes
// to the same value share a single new query ID, per spec.md §4.6 step 4
// and §8 "Query remap correctness".
type QueryRemappingTable struct {
	cache    *lru.Cache[string, string] // query hash -> new synthetic query ID
	nextID   int
	idPrefix string
}

// NewQueryRemappingTable returns an empty table. idPrefix namespaces
// synthetic query IDs (e.g. by session) so two pack runs never collide.
func NewQueryRemappingTable(idPrefix string) (*QueryRemappingTable, error) {
	cache, err := lru.New[string, string](4096)
	if err != nil {
		return nil, fmt.Errorf("creating query remapping cache: %w", err)
	}
	return &QueryRemappingTable{cache: cache, idPrefix: idPrefix}, nil
}

// Resolve returns the new query ID for hash, allocating one (and reporting
// created=true) on first sight, or returning the previously-allocated ID
// (created=false) on every subsequent element that hashes the same.
func (t *QueryRemappingTable) Resolve(hash string) (id string, created bool) {
	if existing, ok := t.cache.Get(hash); ok {
		return existing, false
	}
	t.nextID++
	id = fmt.Sprintf("%s-q%d", t.idPrefix, t.nextID)
	t.cache.Add(hash, id)
	return id, true
}

// Count returns the number of distinct new query IDs allocated so far.
func (t *QueryRemappingTable) Count() int {
	return t.cache.Len()
}

// WriteSidecar persists the remapping table to
// <input_dir>/.pack_state/query_remapping.json, advisory and never
// consulted on read, per spec.md §4.6 step 4.
func (t *QueryRemappingTable) WriteSidecar(inputDir string) error {
	dir := filepath.Join(inputDir, ".pack_state")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating pack state dir: %w", err)
	}
	out := make(map[string]queryRemapEntry, t.cache.Len())
	for _, hash := range t.cache.Keys() {
		id, ok := t.cache.Peek(hash)
		if !ok {
			continue
		}
		out[hash] = queryRemapEntry{NewQueryID: id}
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling query remapping sidecar: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "query_remapping.json"), b, 0o644)
}
