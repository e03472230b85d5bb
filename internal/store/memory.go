package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ad-automation-engine/internal/models"
)

// MemoryStore is an in-memory RuleStore used by unit tests and local
// experiments. Safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	rules   map[string]models.Rule
	records []models.ExecutionRecord
	running bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]models.Rule)}
}

func (s *MemoryStore) CreateRule(_ context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Status == "" {
		rule.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if rule.NextCheck.IsZero() {
		rule.NextCheck = now
	}
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id string) (models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	return cloneRule(rule), nil
}

func (s *MemoryStore) UpdateRule(_ context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.rules[rule.ID]
	if !ok {
		return ErrNotFound
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = cloneRule(*rule)
	return nil
}

func (s *MemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return ErrNotFound
	}
	delete(s.rules, id)
	kept := s.records[:0]
	for _, r := range s.records {
		if r.RuleID != id {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *MemoryStore) ListRules(_ context.Context, ownerID string) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Rule
	for _, r := range s.rules {
		if ownerID == "" || r.OwnerID == ownerID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DueRules(_ context.Context, now time.Time) ([]models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Rule
	for _, r := range s.rules {
		if r.Status == models.StatusActive && !r.NextCheck.After(now) {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextCheck.Before(out[j].NextCheck) })
	return out, nil
}

func (s *MemoryStore) CommitEvaluation(_ context.Context, p CommitEvaluationParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[p.RuleID]
	if !ok {
		return ErrNotFound
	}
	rule.Status = p.Status
	lastCheck := p.LastCheck
	rule.LastCheck = &lastCheck
	if p.LastRun != nil {
		lastRun := *p.LastRun
		rule.LastRun = &lastRun
	}
	rule.NextCheck = p.NextCheck
	rule.ErrorCount = p.ErrorCount
	rule.Triggers = p.Triggers
	rule.SuccessRate = p.SuccessRate
	rule.UpdatedAt = time.Now().UTC()
	s.rules[p.RuleID] = rule
	if p.Record != nil {
		s.records = append(s.records, *p.Record)
	}
	return nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExecutionRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].RuleID == ruleID {
			out = append(out, s.records[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) ExecutionsBefore(_ context.Context, cutoff time.Time, limit int) ([]models.ExecutionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ExecutionRecord
	for _, r := range s.records {
		if r.At.Before(cutoff) {
			out = append(out, r)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteExecutions(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := s.records[:0]
	for _, r := range s.records {
		if _, gone := drop[r.ID]; !gone {
			kept = append(kept, r)
		}
	}
	s.records = kept
	return nil
}

func (s *MemoryStore) DesiredRunning(_ context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running, nil
}

func (s *MemoryStore) SetDesiredRunning(_ context.Context, from, to bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != from {
		return false, nil
	}
	s.running = to
	return true, nil
}

func cloneRule(r models.Rule) models.Rule {
	r.AccountIDs = append([]string(nil), r.AccountIDs...)
	r.CampaignIDs = append([]string(nil), r.CampaignIDs...)
	r.Conditions = append([]models.Condition(nil), r.Conditions...)
	r.Actions = append([]models.Action(nil), r.Actions...)
	if r.LastCheck != nil {
		v := *r.LastCheck
		r.LastCheck = &v
	}
	if r.LastRun != nil {
		v := *r.LastRun
		r.LastRun = &v
	}
	return r
}
