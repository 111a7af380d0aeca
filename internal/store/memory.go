package store

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/seanblong/reviewrag/pkg/models"
)

// Memory is an in-process VectorStore using brute-force cosine similarity.
// It backs the stub provider and tests.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]models.VectorRecord // repo -> id -> record
}

func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]models.VectorRecord)}
}

func (m *Memory) Upsert(ctx context.Context, records []models.VectorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.Metadata.Repo == "" {
			return errors.New("record " + r.ID + " has no repo metadata")
		}
		byID, ok := m.records[r.Metadata.Repo]
		if !ok {
			byID = make(map[string]models.VectorRecord)
			m.records[r.Metadata.Repo] = byID
		}
		vals := make([]float32, len(r.Values))
		copy(vals, r.Values)
		r.Values = vals
		byID[r.ID] = r
	}
	return nil
}

func (m *Memory) Query(ctx context.Context, vector []float32, topK int, repo string) ([]models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Match, 0, len(m.records[repo]))
	for id, r := range m.records[repo] {
		out = append(out, models.Match{ID: id, Score: cosine(vector, r.Values), Metadata: r.Metadata})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if topK >= 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *Memory) IDsByRepo(ctx context.Context, repo string, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records[repo]))
	for id := range m.records[repo] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *Memory) DeleteByIDs(ctx context.Context, repo string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.records[repo]
	for _, id := range ids {
		delete(byID, id)
	}
	if len(byID) == 0 {
		delete(m.records, repo)
	}
	return nil
}

// Get returns the record stored under repo and id.
func (m *Memory) Get(repo, id string) (models.VectorRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[repo][id]
	return r, ok
}

// Len is the number of records stored for repo.
func (m *Memory) Len(repo string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[repo])
}

// GetRepositories lists repositories holding at least one vector.
func (m *Memory) GetRepositories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	repos := make([]string, 0, len(m.records))
	for repo := range m.records {
		repos = append(repos, repo)
	}
	sort.Strings(repos)
	return repos, nil
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
