package store

import (
	"context"
	"errors"
	"time"

	"ad-automation-engine/internal/models"
)

// ErrNotFound is returned when a rule does not exist.
var ErrNotFound = errors.New("rule not found")

// CommitEvaluationParams carries the bookkeeping written at the end of
// one rule evaluation. The rule update and the execution record (when
// the rule fired) commit in a single transaction, or not at all.
type CommitEvaluationParams struct {
	RuleID      string
	Status      string
	LastCheck   time.Time
	LastRun     *time.Time
	NextCheck   time.Time
	ErrorCount  int
	Triggers    int64
	SuccessRate float64
	Record      *models.ExecutionRecord
}

// RuleStore is the engine's only persistence surface. Implementations
// must make CommitEvaluation atomic per rule.
type RuleStore interface {
	CreateRule(ctx context.Context, rule *models.Rule) error
	GetRule(ctx context.Context, id string) (models.Rule, error)
	UpdateRule(ctx context.Context, rule *models.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ListRules(ctx context.Context, ownerID string) ([]models.Rule, error)

	// DueRules returns active rules whose next_check is at or before now.
	DueRules(ctx context.Context, now time.Time) ([]models.Rule, error)

	CommitEvaluation(ctx context.Context, p CommitEvaluationParams) error

	ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error)
	ExecutionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExecutionRecord, error)
	DeleteExecutions(ctx context.Context, ids []string) error

	// Desired engine run state, persisted so a restarted process can
	// resume the operator's last intent. SetDesiredRunning is a
	// compare-and-set and reports whether the swap happened.
	DesiredRunning(ctx context.Context) (bool, error)
	SetDesiredRunning(ctx context.Context, from, to bool) (bool, error)
}
