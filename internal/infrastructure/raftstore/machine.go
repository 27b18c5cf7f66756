package raftstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const (
	recordAvailable = "available"
	recordUsed      = "used"
)

// Record is one replicated serial number row.
type Record struct {
	Category     string     `json:"category"`
	Status       string     `json:"status"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	CreatedBy    string     `json:"createdBy,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UsedAt       *time.Time `json:"usedAt,omitempty"`
}

type snapshot struct {
	Records map[string]Record `json:"records"`
	// Applied remembers command ids so a retried command is applied once.
	Applied map[string]json.RawMessage `json:"applied"`
}

// Machine is the deterministic state behind the raft log.
type Machine struct {
	mu sync.RWMutex
	s  snapshot
}

func NewMachine() *Machine {
	return &Machine{s: emptySnapshot()}
}

func emptySnapshot() snapshot {
	return snapshot{
		Records: map[string]Record{},
		Applied: map[string]json.RawMessage{},
	}
}

// Apply executes cmd and returns its result: *token.ImportResult for
// imports and bool for consumes.
func (m *Machine) Apply(cmd Command) (any, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.s.Applied[cmd.ID]; ok {
		return decodeResult(cmd.Op, prior)
	}

	var (
		result any
		err    error
	)
	switch cmd.Op {
	case OpImport:
		result, err = m.applyImportLocked(cmd)
	case OpConsume:
		result, err = m.applyConsumeLocked(cmd)
	default:
		err = fmt.Errorf("unsupported op: %s", cmd.Op)
	}
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	m.s.Applied[cmd.ID] = raw
	return result, nil
}

func (m *Machine) applyImportLocked(cmd Command) (*token.ImportResult, error) {
	var p token.ImportInput
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return nil, err
	}
	category := token.NormalizeCategory(p.Category)
	res := &token.ImportResult{Category: category, Imported: []string{}, Skipped: []string{}}
	for _, id := range token.CleanSerials(p.SerialNumbers) {
		if _, exists := m.s.Records[id]; exists {
			res.Skipped = append(res.Skipped, id)
			continue
		}
		m.s.Records[id] = Record{
			Category:     category,
			Status:       recordAvailable,
			Manufacturer: p.Manufacturer,
			CreatedBy:    p.CreatedBy,
			CreatedAt:    cmd.Timestamp,
		}
		res.Imported = append(res.Imported, id)
	}
	return res, nil
}

func (m *Machine) applyConsumeLocked(cmd Command) (bool, error) {
	var p ConsumePayload
	if err := json.Unmarshal(cmd.Payload, &p); err != nil {
		return false, err
	}
	rec, ok := m.s.Records[p.TokenID]
	if !ok || rec.Status != recordAvailable {
		return false, nil
	}
	at := cmd.Timestamp
	rec.Status = recordUsed
	rec.UsedAt = &at
	m.s.Records[p.TokenID] = rec
	return true, nil
}

func decodeResult(op Operation, raw json.RawMessage) (any, error) {
	switch op {
	case OpImport:
		var res token.ImportResult
		if err := json.Unmarshal(raw, &res); err != nil {
			return nil, err
		}
		return &res, nil
	case OpConsume:
		var ok bool
		if err := json.Unmarshal(raw, &ok); err != nil {
			return nil, err
		}
		return ok, nil
	}
	return nil, fmt.Errorf("unsupported op: %s", op)
}

// ListAvailable returns the available tokens of category sorted by id.
func (m *Machine) ListAvailable(category string) []token.Token {
	category = token.NormalizeCategory(category)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]token.Token, 0)
	for id, rec := range m.s.Records {
		if rec.Category == category && rec.Status == recordAvailable {
			out = append(out, *token.New(id, category))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Usage counts records of category by status.
func (m *Machine) Usage(category string) *token.UsageStats {
	category = token.NormalizeCategory(category)
	stats := &token.UsageStats{Category: category}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rec := range m.s.Records {
		if rec.Category != category {
			continue
		}
		stats.Total++
		if rec.Status == recordUsed {
			stats.Consumed++
		} else {
			stats.Available++
		}
	}
	return stats
}

// Marshal serializes machine state for a raft snapshot.
func (m *Machine) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return json.Marshal(m.s)
}

// Unmarshal restores machine state from a snapshot payload.
func (m *Machine) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty snapshot")
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Records == nil {
		s.Records = map[string]Record{}
	}
	if s.Applied == nil {
		s.Applied = map[string]json.RawMessage{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	return nil
}
