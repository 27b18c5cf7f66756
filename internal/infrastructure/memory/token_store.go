package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

// TokenStore keeps serial numbers in process memory.
type TokenStore struct {
	mu      sync.RWMutex
	records map[string]*record
	now     func() time.Time
}

type record struct {
	id           string
	category     string
	manufacturer string
	createdBy    string
	createdAt    time.Time
	usedAt       *time.Time
}

// Verify interface compliance
var _ token.AdminStore = (*TokenStore)(nil)

// NewTokenStore creates an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		records: make(map[string]*record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Seed adds ids to category, ignoring any that already exist.
func (s *TokenStore) Seed(category string, ids ...string) *TokenStore {
	_, _ = s.BulkImport(context.Background(), token.ImportInput{Category: category, SerialNumbers: ids, CreatedBy: "seed"})
	return s
}

func (s *TokenStore) ListAvailable(ctx context.Context, category string) ([]token.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	category = token.NormalizeCategory(category)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]token.Token, 0)
	for _, r := range s.records {
		if r.category == category && r.usedAt == nil {
			out = append(out, *token.New(r.id, r.category))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *TokenStore) ConsumeIfAvailable(ctx context.Context, tokenID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[tokenID]
	if !ok || r.usedAt != nil {
		return false, nil
	}
	now := s.now()
	r.usedAt = &now
	return true, nil
}

func (s *TokenStore) BulkImport(ctx context.Context, in token.ImportInput) (*token.ImportResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	category := token.NormalizeCategory(in.Category)
	res := &token.ImportResult{Category: category, Imported: []string{}, Skipped: []string{}}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range token.CleanSerials(in.SerialNumbers) {
		if _, exists := s.records[id]; exists {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		s.records[id] = &record{
			id:           id,
			category:     category,
			manufacturer: in.Manufacturer,
			createdBy:    in.CreatedBy,
			createdAt:    now,
		}
		res.Imported = append(res.Imported, id)
	}
	return res, nil
}

func (s *TokenStore) UsageStats(ctx context.Context, category string) (*token.UsageStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	category = token.NormalizeCategory(category)
	stats := &token.UsageStats{Category: category}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.category != category {
			continue
		}
		stats.Total++
		if r.usedAt != nil {
			stats.Consumed++
		} else {
			stats.Available++
		}
	}
	return stats, nil
}

// Remove deletes a record outright, as an operator editing the table would.
func (s *TokenStore) Remove(tokenID string) {
	s.mu.Lock()
	delete(s.records, tokenID)
	s.mu.Unlock()
}
