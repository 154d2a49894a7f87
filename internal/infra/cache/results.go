package cache

import (
	"context"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	domain "github.com/bryanwahyu/fp16-analyzer/internal/domain/analysis"
)

// DefaultSize is the number of results kept when no size is configured.
const DefaultSize = 256

// ResultStore keeps the most recent results in memory.
type ResultStore struct {
	cache *lru.Cache[domain.AnalysisID, *domain.Result]
}

func NewResultStore(size int) (*ResultStore, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[domain.AnalysisID, *domain.Result](size)
	if err != nil {
		return nil, err
	}
	return &ResultStore{cache: c}, nil
}

func (s *ResultStore) Save(ctx context.Context, r *domain.Result) error {
	s.cache.Add(r.ID, r)
	return nil
}

func (s *ResultStore) Get(ctx context.Context, id domain.AnalysisID) (*domain.Result, error) {
	r, ok := s.cache.Get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r, nil
}

// Latest returns up to limit results, newest first.
func (s *ResultStore) Latest(ctx context.Context, limit int) ([]*domain.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	out := s.cache.Values()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
