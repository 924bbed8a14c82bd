package looker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
)

// Mock is an in-memory Client used by the core's own tests and available to
// integration tests that don't want a real Looker instance. It is not used
// in production.
type Mock struct {
	mu      sync.Mutex
	byType  map[content.Type]map[string]map[string]any
	nextID  int64
	created map[content.Type]map[string]bool

	// RateLimitOnRequest, when non-zero, causes the Nth call (1-indexed,
	// counted across List, Get, Exists, Create and Update; Me and Versions
	// are not counted) to fail with errkind.RateLimited, then succeed on
	// all subsequent calls. Used for the "rate-limit slowdown" scenario in
	// spec.md §8.
	RateLimitOnRequest int64
	requestCount       int64
}

// NewMock returns an empty Mock; populate it with Seed.
func NewMock() *Mock {
	return &Mock{
		byType:  map[content.Type]map[string]map[string]any{},
		created: map[content.Type]map[string]bool{},
	}
}

// Seed adds count synthetic objects of type ct, with IDs (and names)
// "<TYPE>-0".."<TYPE>-<count-1>", e.g. "USER-0".
func (m *Mock) Seed(ct content.Type, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byType[ct] == nil {
		m.byType[ct] = map[string]map[string]any{}
	}
	for i := 0; i < count; i++ {
		id := fmt.Sprintf("%s-%d", ct, i)
		m.byType[ct][id] = map[string]any{"id": id, "name": id}
	}
}

func (m *Mock) maybeRateLimit(op string) error {
	if m.RateLimitOnRequest == 0 {
		return nil
	}
	n := atomic.AddInt64(&m.requestCount, 1)
	if n == m.RateLimitOnRequest {
		return errkind.New(errkind.RateLimited, op, fmt.Errorf("mock: simulated 429 on request #%d", n))
	}
	return nil
}

func (m *Mock) List(ctx context.Context, ct content.Type, filter Filter, offset, limit int64) (Page, error) {
	if err := m.maybeRateLimit("List"); err != nil {
		return Page{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := sortedKeys(m.byType[ct])
	if offset >= int64(len(ids)) {
		return Page{Items: nil, HasMore: false}, nil
	}
	end := offset + limit
	if end > int64(len(ids)) {
		end = int64(len(ids))
	}
	var items []RawObject
	for _, id := range ids[offset:end] {
		items = append(items, RawObject{ID: id, Body: m.byType[ct][id]})
	}
	return Page{Items: items, HasMore: end < int64(len(ids))}, nil
}

func sortedKeys(m map[string]map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Simple insertion sort is fine: mock data sets are small and this keeps
	// List deterministic across calls without pulling in "sort" needlessly
	// at each call site.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

func (m *Mock) Get(ctx context.Context, ct content.Type, id string) (RawObject, error) {
	if err := m.maybeRateLimit("Get"); err != nil {
		return RawObject{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.byType[ct][id]
	if !ok {
		return RawObject{}, errkind.New(errkind.NotFound, "Get", fmt.Errorf("%s %s not found", ct, id))
	}
	return RawObject{ID: id, Body: body}, nil
}

func (m *Mock) Exists(ctx context.Context, ct content.Type, id string) (bool, error) {
	if err := m.maybeRateLimit("Exists"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byType[ct][id]
	return ok, nil
}

func (m *Mock) Create(ctx context.Context, ct content.Type, writeModel map[string]any) (string, error) {
	if err := m.maybeRateLimit("Create"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("dest-%s-%d", ct, m.nextID)
	if m.byType[ct] == nil {
		m.byType[ct] = map[string]map[string]any{}
	}
	body := map[string]any{}
	for k, v := range writeModel {
		body[k] = v
	}
	body["id"] = id
	m.byType[ct][id] = body
	if m.created[ct] == nil {
		m.created[ct] = map[string]bool{}
	}
	m.created[ct][id] = true
	return id, nil
}

func (m *Mock) Update(ctx context.Context, ct content.Type, id string, writeModel map[string]any) error {
	if err := m.maybeRateLimit("Update"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byType[ct][id]; !ok {
		return errkind.New(errkind.NotFound, "Update", fmt.Errorf("%s %s not found", ct, id))
	}
	for k, v := range writeModel {
		m.byType[ct][id][k] = v
	}
	return nil
}

func (m *Mock) Me(ctx context.Context) (map[string]any, error) {
	return map[string]any{"id": "mock-user"}, nil
}

func (m *Mock) Versions(ctx context.Context) (map[string]any, error) {
	return map[string]any{"looker_release_version": "mock"}, nil
}

// CreatedCount returns the number of Create calls that succeeded for ct,
// used by tests asserting "re-creates = 0" on resume.
func (m *Mock) CreatedCount(ct content.Type) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created[ct])
}

var _ Client = (*Mock)(nil)
