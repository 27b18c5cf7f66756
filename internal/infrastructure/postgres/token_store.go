package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const (
	statusAvailable = "available"
	statusUsed      = "used"
)

// TokenStore implements token.AdminStore on the serial_numbers table.
type TokenStore struct {
	pool *pgxpool.Pool
}

var _ token.AdminStore = (*TokenStore)(nil)

func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

func (s *TokenStore) ListAvailable(ctx context.Context, category string) ([]token.Token, error) {
	category = token.NormalizeCategory(category)
	rows, err := s.pool.Query(ctx, `
		SELECT serial_number, category
		FROM serial_numbers
		WHERE category=$1 AND status=$2
		ORDER BY serial_number
	`, category, statusAvailable)
	if err != nil {
		return nil, fmt.Errorf("list available: %w", err)
	}
	defer rows.Close()

	out := make([]token.Token, 0)
	for rows.Next() {
		var id, cat string
		if err := rows.Scan(&id, &cat); err != nil {
			return nil, fmt.Errorf("scan serial number: %w", err)
		}
		out = append(out, *token.New(id, cat))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list available: %w", err)
	}
	return out, nil
}

// ConsumeIfAvailable flips the row to used only while it is still available.
func (s *TokenStore) ConsumeIfAvailable(ctx context.Context, tokenID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE serial_numbers SET status=$2, used_at=$3
		WHERE serial_number=$1 AND status=$4
	`, tokenID, statusUsed, time.Now().UTC(), statusAvailable)
	if err != nil {
		return false, fmt.Errorf("consume %s: %w", tokenID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// BulkImport inserts serial numbers in one transaction. Existing serial
// numbers are reported as skipped.
func (s *TokenStore) BulkImport(ctx context.Context, in token.ImportInput) (*token.ImportResult, error) {
	category := token.NormalizeCategory(in.Category)
	res := &token.ImportResult{Category: category, Imported: []string{}, Skipped: []string{}}
	serials := token.CleanSerials(in.SerialNumbers)
	if len(serials) == 0 {
		return res, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, sn := range serials {
		tag, err := tx.Exec(ctx, `
			INSERT INTO serial_numbers (serial_number, category, status, manufacturer, created_by)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
			ON CONFLICT (serial_number) DO NOTHING
		`, sn, category, statusAvailable, in.Manufacturer, in.CreatedBy)
		if err != nil {
			if isUniqueViolation(err) {
				res.Skipped = append(res.Skipped, sn)
				continue
			}
			return nil, fmt.Errorf("import %s: %w", sn, err)
		}
		if tag.RowsAffected() == 0 {
			res.Skipped = append(res.Skipped, sn)
			continue
		}
		res.Imported = append(res.Imported, sn)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	return res, nil
}

func (s *TokenStore) UsageStats(ctx context.Context, category string) (*token.UsageStats, error) {
	category = token.NormalizeCategory(category)
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*)
		FROM serial_numbers
		WHERE category=$1
		GROUP BY status
	`, category)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	defer rows.Close()

	stats := &token.UsageStats{Category: category}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan usage stats: %w", err)
		}
		switch status {
		case statusAvailable:
			stats.Available = n
		case statusUsed:
			stats.Consumed = n
		}
		stats.Total += n
	}
	return stats, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
