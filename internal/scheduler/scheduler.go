// Package scheduler drives the periodic rule check loop and owns the
// engine's run state.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"ad-automation-engine/internal/config"
	"ad-automation-engine/internal/evaluator"
	"ad-automation-engine/internal/models"
	"ad-automation-engine/internal/store"
	"ad-automation-engine/internal/telemetry"
)

// MetricsGateway is the slice of the platform adapter the scheduler
// needs for fetching a rule's scoped metrics.
type MetricsGateway interface {
	FetchSnapshot(ctx context.Context, accountIDs, campaignIDs []string) (models.ScopedSnapshot, error)
}

// Executor runs a fired rule's actions and reports the audit record.
type Executor interface {
	Execute(ctx context.Context, rule models.Rule, snap models.ScopedSnapshot, matched map[models.Metric]float64) models.ExecutionRecord
}

// State is the engine's externally visible run state.
type State struct {
	Running       bool          `json:"running"`
	CheckInterval time.Duration `json:"check_interval"`
	NextCheck     time.Time     `json:"next_check"`
}

// Scheduler owns the tick loop. One instance per process; all state is
// instance-scoped so schedulers can be unit-tested in isolation.
type Scheduler struct {
	st             store.RuleStore
	metrics        MetricsGateway
	executor       Executor
	interval       time.Duration
	concurrency    int
	errorThreshold int
	evalTimeout    time.Duration

	mu        sync.Mutex
	running   bool
	nextCheck time.Time
	cancel    context.CancelFunc

	wg    sync.WaitGroup
	locks *keyedLocks

	histMu    sync.Mutex
	histories map[string]*evaluator.History
}

// New builds a stopped scheduler from config.
func New(cfg config.Config, st store.RuleStore, metrics MetricsGateway, exec Executor) *Scheduler {
	interval := cfg.CheckInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	threshold := cfg.ErrorThreshold
	if threshold <= 0 {
		threshold = 5
	}
	evalTimeout := cfg.EvalTimeout
	if evalTimeout <= 0 {
		evalTimeout = 45 * time.Second
	}
	return &Scheduler{
		st:             st,
		metrics:        metrics,
		executor:       exec,
		interval:       interval,
		concurrency:    concurrency,
		errorThreshold: threshold,
		evalTimeout:    evalTimeout,
		locks:          newKeyedLocks(),
		histories:      make(map[string]*evaluator.History),
	}
}

// Start begins the tick loop. Idempotent: starting a running scheduler
// returns its current state unchanged. The desired run state persists
// through the store so a restarted process resumes it.
func (s *Scheduler) Start() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.stateLocked()
	}

	if _, err := s.st.SetDesiredRunning(context.Background(), false, true); err != nil {
		log.Printf("persist desired run state: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	s.nextCheck = time.Now().Add(s.interval)
	telemetry.EngineRunning.Set(1)

	s.wg.Add(1)
	go s.loop(ctx)
	return s.stateLocked()
}

// Stop signals the loop to stop scheduling new ticks. In-flight
// evaluations run to completion or to their own timeout; they are not
// cancelled. Idempotent.
func (s *Scheduler) Stop() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return s.stateLocked()
	}

	if _, err := s.st.SetDesiredRunning(context.Background(), true, false); err != nil {
		log.Printf("persist desired run state: %v", err)
	}

	s.cancel()
	s.cancel = nil
	s.running = false
	s.nextCheck = time.Time{}
	telemetry.EngineRunning.Set(0)
	return s.stateLocked()
}

// Shutdown halts the loop for process exit without touching the
// persisted desired state, so the engine resumes after a restart if the
// operator left it running.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	s.nextCheck = time.Time{}
	telemetry.EngineRunning.Set(0)
}

// Restart stops accepting new work and starts a fresh loop, picking up
// a changed check interval.
func (s *Scheduler) Restart() State {
	s.Stop()
	return s.Start()
}

// Status returns the current state without side effects.
func (s *Scheduler) Status() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// ResumeDesired starts the loop if the operator last left the engine
// running. Called once at process start.
func (s *Scheduler) ResumeDesired(ctx context.Context) error {
	running, err := s.st.DesiredRunning(ctx)
	if err != nil {
		return err
	}
	if running {
		// The flag is already true; flip it back so Start's CAS applies.
		if _, err := s.st.SetDesiredRunning(ctx, true, false); err != nil {
			return err
		}
		s.Start()
	}
	return nil
}

// Wait blocks until the loop goroutine and all in-flight evaluations
// have finished. Used for orderly process shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) stateLocked() State {
	return State{Running: s.running, CheckInterval: s.interval, NextCheck: s.nextCheck}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Worker slots bound concurrent evaluations across ticks.
	slots := make(chan struct{}, s.concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Ticks run off the loop goroutine so a slow tick can
			// overlap the next one; the per-rule locks make that safe.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.tick(ctx, slots)
			}()
		}
	}
}

// tick fans due rules out to the worker pool. The next tick time is
// now + interval regardless of how long this tick's work takes; the
// per-rule locks keep an overlapping tick from double-evaluating.
func (s *Scheduler) tick(ctx context.Context, slots chan struct{}) {
	now := time.Now()
	s.mu.Lock()
	s.nextCheck = now.Add(s.interval)
	s.mu.Unlock()

	due, err := s.st.DueRules(ctx, now)
	if err != nil {
		log.Printf("query due rules: %v", err)
		return
	}
	telemetry.DueRulesGauge.Set(float64(len(due)))

	for _, rule := range due {
		if !s.locks.TryAcquire(rule.ID) {
			continue // previous evaluation still in flight
		}
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			s.locks.Release(rule.ID)
			return
		}

		rule := rule
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-slots }()
			defer s.locks.Release(rule.ID)
			s.evaluate(rule)
		}()
	}
}

// evaluate runs one rule through fetch -> evaluate -> act -> persist.
// Failures are isolated to the rule: bookkeeping still advances
// next_check so a poison rule is never retried in a tight loop.
func (s *Scheduler) evaluate(rule models.Rule) {
	telemetry.Evaluations.Inc()
	telemetry.InFlightGauge.Inc()
	defer telemetry.InFlightGauge.Dec()

	// Evaluations outlive Stop() deliberately; they carry their own
	// deadline so a hung platform call cannot pin a worker slot.
	ctx, cancel := context.WithTimeout(context.Background(), s.evalTimeout)
	defer cancel()

	now := time.Now().UTC()
	commit := store.CommitEvaluationParams{
		RuleID:      rule.ID,
		Status:      rule.Status,
		LastCheck:   now,
		NextCheck:   now.Add(s.interval),
		Triggers:    rule.Triggers,
		SuccessRate: rule.SuccessRate,
	}

	snap, err := s.metrics.FetchSnapshot(ctx, rule.AccountIDs, rule.CampaignIDs)
	if err != nil {
		telemetry.EvaluationErrors.Inc()
		log.Printf("rule %s: fetch metrics: %v", rule.ID, err)
		s.commitFailure(ctx, rule, commit)
		return
	}

	hist := s.history(rule)
	hist.Push(snap)
	result := evaluator.Evaluate(rule.Conditions, hist.Snapshots())

	if !result.Fired {
		commit.ErrorCount = 0
		s.commit(ctx, rule.ID, commit)
		return
	}

	telemetry.Firings.Inc()
	record := s.executor.Execute(ctx, rule, snap, result.MatchedValues)

	fired := now
	commit.LastRun = &fired
	commit.Triggers = rule.Triggers + 1
	commit.SuccessRate = nextSuccessRate(rule.SuccessRate, rule.Triggers, record.Outcome == models.OutcomeSuccess)
	commit.Record = &record

	if record.Outcome == models.OutcomeFailed {
		commit.ErrorCount = rule.ErrorCount + 1
		if commit.ErrorCount >= s.errorThreshold {
			commit.Status = models.StatusError
			telemetry.AutoDisabled.Inc()
			log.Printf("rule %s: disabled after %d consecutive failures", rule.ID, commit.ErrorCount)
		}
	} else {
		commit.ErrorCount = 0
	}

	s.commit(ctx, rule.ID, commit)
}

// commitFailure books a failed evaluation: error_count grows, the rule
// auto-disables past the threshold, and next_check still advances.
func (s *Scheduler) commitFailure(ctx context.Context, rule models.Rule, commit store.CommitEvaluationParams) {
	commit.ErrorCount = rule.ErrorCount + 1
	if commit.ErrorCount >= s.errorThreshold {
		commit.Status = models.StatusError
		telemetry.AutoDisabled.Inc()
		log.Printf("rule %s: disabled after %d consecutive failures", rule.ID, commit.ErrorCount)
	}
	s.commit(ctx, rule.ID, commit)
}

// commit persists bookkeeping as the final step of an evaluation. A
// store failure abandons the evaluation; the rule is simply due again
// at the next tick.
func (s *Scheduler) commit(ctx context.Context, ruleID string, p store.CommitEvaluationParams) {
	if err := s.st.CommitEvaluation(ctx, p); err != nil {
		if err == store.ErrNotFound {
			s.dropHistory(ruleID)
			return
		}
		log.Printf("rule %s: commit evaluation: %v", ruleID, err)
	}
}

func (s *Scheduler) history(rule models.Rule) *evaluator.History {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	h, ok := s.histories[rule.ID]
	if !ok {
		h = evaluator.NewHistory(rule.MaxLookback())
		s.histories[rule.ID] = h
	} else {
		h.Resize(rule.MaxLookback())
	}
	return h
}

func (s *Scheduler) dropHistory(ruleID string) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	delete(s.histories, ruleID)
}

// nextSuccessRate folds one more fire attempt into the lifetime rate.
// Prior successes are reconstructed from the stored percentage.
func nextSuccessRate(prevRate float64, prevTriggers int64, success bool) float64 {
	successes := prevRate / 100 * float64(prevTriggers)
	if success {
		successes++
	}
	return successes / float64(prevTriggers+1) * 100
}
