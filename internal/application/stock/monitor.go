package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/rs/zerolog"

	"github.com/execution-hub/serial-reservation/internal/clock"
	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const (
	DefaultRule     = "available <= 10"
	DefaultInterval = time.Minute
)

// Source exposes live pool counts.
type Source interface {
	Categories(ctx context.Context) ([]string, error)
	Stats(ctx context.Context, category string) (token.PoolStats, error)
}

// Publisher broadcasts notices to connected clients.
type Publisher interface {
	Publish(ev *reservation.Event)
}

// Report is one rule evaluation.
type Report struct {
	Category  string `json:"category"`
	Rule      string `json:"rule"`
	Low       bool   `json:"low"`
	Available int    `json:"available"`
	Reserved  int    `json:"reserved"`
	Consumed  int    `json:"consumed"`
	Total     int    `json:"total"`
}

// Monitor evaluates the low-stock rule against each loaded category.
type Monitor struct {
	source Source
	pub    Publisher
	clock  clock.Clock
	logger zerolog.Logger

	rule string
	expr *govaluate.EvaluableExpression

	mu      sync.Mutex
	alerted map[string]bool
}

// NewMonitor compiles rule. An empty rule uses DefaultRule.
func NewMonitor(source Source, pub Publisher, rule string, clk clock.Clock, logger zerolog.Logger) (*Monitor, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		rule = DefaultRule
	}
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return nil, fmt.Errorf("parse low stock rule %q: %w", rule, err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Monitor{
		source:  source,
		pub:     pub,
		clock:   clk,
		logger:  logger.With().Str("service", "stock").Logger(),
		rule:    rule,
		expr:    expr,
		alerted: map[string]bool{},
	}, nil
}

func (m *Monitor) Rule() string { return m.rule }

// Check evaluates the rule for category without publishing anything.
func (m *Monitor) Check(ctx context.Context, category string) (Report, error) {
	category = token.NormalizeCategory(category)
	stats, err := m.source.Stats(ctx, category)
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Category:  category,
		Rule:      m.rule,
		Available: stats.Available,
		Reserved:  stats.Reserved,
		Consumed:  stats.Consumed,
		Total:     stats.Available + stats.Reserved + stats.Consumed,
	}
	rep.Low, err = m.evaluate(rep)
	return rep, err
}

func (m *Monitor) evaluate(rep Report) (bool, error) {
	params := map[string]interface{}{
		"available": float64(rep.Available),
		"reserved":  float64(rep.Reserved),
		"consumed":  float64(rep.Consumed),
		"total":     float64(rep.Total),
		"category":  rep.Category,
	}
	result, err := m.expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	low, ok := result.(bool)
	if !ok {
		return false, errors.New("low stock rule did not evaluate to boolean")
	}
	return low, nil
}

// Sweep checks every loaded category and publishes LOW_STOCK once per
// category each time it crosses into the low state.
func (m *Monitor) Sweep(ctx context.Context) ([]Report, error) {
	categories, err := m.source.Categories(ctx)
	if err != nil {
		return nil, err
	}
	reports := make([]Report, 0, len(categories))
	for _, category := range categories {
		rep, err := m.Check(ctx, category)
		if err != nil {
			m.logger.Error().Err(err).Str("category", category).Msg("low stock check failed")
			continue
		}
		reports = append(reports, rep)
		if !m.transition(category, rep.Low) {
			continue
		}
		m.logger.Warn().
			Str("category", category).
			Int("available", rep.Available).
			Str("rule", m.rule).
			Msg("low stock")
		if m.pub != nil {
			m.pub.Publish(reservation.NewLowStockEvent(category, rep.Available, m.rule, m.clock.Now()))
		}
	}
	return reports, nil
}

func (m *Monitor) transition(category string, low bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	was := m.alerted[category]
	m.alerted[category] = low
	return low && !was
}

// Run sweeps on interval until ctx is done. A non-positive interval disables it.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error().Err(err).Msg("low stock sweep failed")
			}
		}
	}
}
