package token

import (
	"context"
	"strings"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_store.go -package=mocks . Store,AdminStore

// Store is the durable record of serial numbers.
type Store interface {
	// ListAvailable returns every token of category not yet consumed.
	ListAvailable(ctx context.Context, category string) ([]Token, error)
	// ConsumeIfAvailable marks tokenID consumed only if it is still available.
	// It reports false when another writer got there first.
	ConsumeIfAvailable(ctx context.Context, tokenID string) (bool, error)
}

// ImportInput is a batch of serial numbers added to one category.
type ImportInput struct {
	Category      string   `json:"category"`
	SerialNumbers []string `json:"serialNumbers"`
	Manufacturer  string   `json:"manufacturer,omitempty"`
	CreatedBy     string   `json:"createdBy,omitempty"`
}

// ImportResult reports which serial numbers were added and which already existed.
type ImportResult struct {
	Category string   `json:"category"`
	Imported []string `json:"imported"`
	Skipped  []string `json:"skipped"`
}

// UsageStats counts stored tokens of one category by durable status.
type UsageStats struct {
	Category  string `json:"category"`
	Available int    `json:"available"`
	Consumed  int    `json:"consumed"`
	Total     int    `json:"total"`
}

// AdminStore adds the maintenance operations used by import and reporting.
type AdminStore interface {
	Store
	BulkImport(ctx context.Context, in ImportInput) (*ImportResult, error)
	UsageStats(ctx context.Context, category string) (*UsageStats, error)
}

// CleanSerials trims entries, drops blanks and removes duplicates while keeping order.
func CleanSerials(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
