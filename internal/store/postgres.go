package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"ad-automation-engine/internal/models"
)

// PostgresStore implements RuleStore on top of pgxpool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const ruleColumns = `id, owner_id, name, category, status, account_ids, campaign_ids, conditions, actions,
	last_check, last_run, next_check, error_count, triggers, success_rate, created_at, updated_at`

// CreateRule inserts a new rule. The caller is expected to have
// validated the definition; IDs are assigned here when absent.
func (s *PostgresStore) CreateRule(ctx context.Context, rule *models.Rule) error {
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

	accounts, campaigns, conditions, actions, err := marshalRuleFields(rule)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, rule.ID, rule.OwnerID, rule.Name, rule.Category, rule.Status, accounts, campaigns, conditions, actions,
		rule.LastCheck, rule.LastRun, rule.NextCheck, rule.ErrorCount, rule.Triggers, rule.SuccessRate,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// GetRule fetches a rule by id.
func (s *PostgresStore) GetRule(ctx context.Context, id string) (models.Rule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Rule{}, ErrNotFound
	}
	return rule, err
}

// UpdateRule rewrites a rule definition and its bookkeeping fields.
func (s *PostgresStore) UpdateRule(ctx context.Context, rule *models.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	accounts, campaigns, conditions, actions, err := marshalRuleFields(rule)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE rules
		SET owner_id = $2, name = $3, category = $4, status = $5, account_ids = $6, campaign_ids = $7,
		    conditions = $8, actions = $9, last_check = $10, last_run = $11, next_check = $12,
		    error_count = $13, triggers = $14, success_rate = $15, updated_at = $16
		WHERE id = $1
	`, rule.ID, rule.OwnerID, rule.Name, rule.Category, rule.Status, accounts, campaigns, conditions, actions,
		rule.LastCheck, rule.LastRun, rule.NextCheck, rule.ErrorCount, rule.Triggers, rule.SuccessRate,
		rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRule removes a rule and, via cascade, its execution records.
func (s *PostgresStore) DeleteRule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRules returns rules, optionally filtered by owner.
func (s *PostgresStore) ListRules(ctx context.Context, ownerID string) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at`
	args := []any{}
	if ownerID != "" {
		query = `SELECT ` + ruleColumns + ` FROM rules WHERE owner_id = $1 ORDER BY created_at`
		args = append(args, ownerID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// DueRules returns active rules whose next_check is at or before now.
func (s *PostgresStore) DueRules(ctx context.Context, now time.Time) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+` FROM rules
		WHERE status = $1 AND next_check <= $2
		ORDER BY next_check
	`, models.StatusActive, now)
	if err != nil {
		return nil, fmt.Errorf("query due rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// CommitEvaluation writes post-evaluation bookkeeping and, when the rule
// fired, its execution record in one transaction.
func (s *PostgresStore) CommitEvaluation(ctx context.Context, p CommitEvaluationParams) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE rules
		SET status = $2, last_check = $3, last_run = COALESCE($4, last_run), next_check = $5,
		    error_count = $6, triggers = $7, success_rate = $8, updated_at = NOW()
		WHERE id = $1
	`, p.RuleID, p.Status, p.LastCheck, p.LastRun, p.NextCheck, p.ErrorCount, p.Triggers, p.SuccessRate)
	if err != nil {
		return fmt.Errorf("update rule bookkeeping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if p.Record != nil {
		matched, err := json.Marshal(p.Record.MatchedValues)
		if err != nil {
			return fmt.Errorf("marshal matched values: %w", err)
		}
		actions, err := json.Marshal(p.Record.Actions)
		if err != nil {
			return fmt.Errorf("marshal action outcomes: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO execution_records (id, rule_id, at, matched_values, actions, outcome)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, p.Record.ID, p.Record.RuleID, p.Record.At, matched, actions, p.Record.Outcome); err != nil {
			return fmt.Errorf("insert execution record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit evaluation: %w", err)
	}
	return nil
}

// ListExecutions returns the newest execution records for a rule.
func (s *PostgresStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]models.ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, at, matched_values, actions, outcome
		FROM execution_records WHERE rule_id = $1
		ORDER BY at DESC LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ExecutionsBefore returns the oldest records before the cutoff, for archival.
func (s *PostgresStore) ExecutionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExecutionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, rule_id, at, matched_values, actions, outcome
		FROM execution_records WHERE at < $1
		ORDER BY at LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("query aged executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// DeleteExecutions removes records that have been archived elsewhere.
func (s *PostgresStore) DeleteExecutions(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM execution_records WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("delete executions: %w", err)
	}
	return nil
}

// DesiredRunning reads the persisted engine run flag.
func (s *PostgresStore) DesiredRunning(ctx context.Context) (bool, error) {
	var running bool
	if err := s.pool.QueryRow(ctx, `SELECT running FROM engine_state WHERE id = 1`).Scan(&running); err != nil {
		return false, fmt.Errorf("read engine state: %w", err)
	}
	return running, nil
}

// SetDesiredRunning swaps the persisted flag from -> to and reports
// whether this caller won the swap.
func (s *PostgresStore) SetDesiredRunning(ctx context.Context, from, to bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE engine_state SET running = $2, updated_at = NOW() WHERE id = 1 AND running = $1
	`, from, to)
	if err != nil {
		return false, fmt.Errorf("swap engine state: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func marshalRuleFields(rule *models.Rule) (accounts, campaigns, conditions, actions []byte, err error) {
	if accounts, err = json.Marshal(rule.AccountIDs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal account ids: %w", err)
	}
	campaignIDs := rule.CampaignIDs
	if campaignIDs == nil {
		campaignIDs = []string{}
	}
	if campaigns, err = json.Marshal(campaignIDs); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal campaign ids: %w", err)
	}
	if conditions, err = json.Marshal(rule.Conditions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal conditions: %w", err)
	}
	if actions, err = json.Marshal(rule.Actions); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal actions: %w", err)
	}
	return accounts, campaigns, conditions, actions, nil
}

func scanRule(row pgx.Row) (models.Rule, error) {
	var rule models.Rule
	var accounts, campaigns, conditions, actions []byte
	var lastCheck, lastRun pgtype.Timestamptz

	if err := row.Scan(&rule.ID, &rule.OwnerID, &rule.Name, &rule.Category, &rule.Status,
		&accounts, &campaigns, &conditions, &actions,
		&lastCheck, &lastRun, &rule.NextCheck, &rule.ErrorCount, &rule.Triggers, &rule.SuccessRate,
		&rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return models.Rule{}, err
	}

	if err := json.Unmarshal(accounts, &rule.AccountIDs); err != nil {
		return models.Rule{}, fmt.Errorf("unmarshal account ids: %w", err)
	}
	if err := json.Unmarshal(campaigns, &rule.CampaignIDs); err != nil {
		return models.Rule{}, fmt.Errorf("unmarshal campaign ids: %w", err)
	}
	if err := json.Unmarshal(conditions, &rule.Conditions); err != nil {
		return models.Rule{}, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &rule.Actions); err != nil {
		return models.Rule{}, fmt.Errorf("unmarshal actions: %w", err)
	}
	rule.LastCheck = timePtr(lastCheck)
	rule.LastRun = timePtr(lastRun)
	return rule, nil
}

func scanRules(rows pgx.Rows) ([]models.Rule, error) {
	var out []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func scanExecutions(rows pgx.Rows) ([]models.ExecutionRecord, error) {
	var out []models.ExecutionRecord
	for rows.Next() {
		var rec models.ExecutionRecord
		var matched, actions []byte
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.At, &matched, &actions, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		if err := json.Unmarshal(matched, &rec.MatchedValues); err != nil {
			return nil, fmt.Errorf("unmarshal matched values: %w", err)
		}
		if err := json.Unmarshal(actions, &rec.Actions); err != nil {
			return nil, fmt.Errorf("unmarshal action outcomes: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
