package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ema-price-alerts/internal/alerting"
	"ema-price-alerts/internal/config"
	"ema-price-alerts/internal/fetcher"
	"ema-price-alerts/internal/indicator"
	"ema-price-alerts/internal/scheduler"
	"ema-price-alerts/internal/signal"
	"ema-price-alerts/internal/storage"
)

// Job is a configured alert job with its validated thresholds.
type Job struct {
	Name       string
	Instrument fetcher.Instrument
	Thresholds signal.Config
}

// Result reports what one job evaluation did.
type Result struct {
	Job      string
	Decision signal.Decision
	// Skipped is set when the lock was held elsewhere or history was too short.
	Skipped  bool
	Notified bool
	Saved    bool
}

// Service orchestrates fetching, evaluation, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	source     fetcher.HistoryFetcher
	states     storage.StateStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	jobs      []Job
	lookbacks []alerting.Lookback
	minPoints int
	channels  []string
	alertsOn  bool
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time
}

// New constructs the evaluation service. alertStore and notifier may be nil.
func New(cfg *config.Config, sched *scheduler.Scheduler, source fetcher.HistoryFetcher, states storage.StateStore, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	if source == nil || states == nil {
		return nil, fmt.Errorf("price source and state store are required")
	}

	jobs := make([]Job, 0, len(cfg.Jobs))
	for _, jc := range cfg.Jobs {
		thresholds, err := jc.Thresholds()
		if err != nil {
			return nil, fmt.Errorf("job %q: %w", jc.Name, err)
		}
		jobs = append(jobs, Job{
			Name:       jc.Name,
			Instrument: fetcher.Instrument{Product: jc.Product, FeedAddress: jc.FeedAddress},
			Thresholds: thresholds,
		})
	}

	var locker storage.AdvisoryLocker
	if l, ok := states.(storage.AdvisoryLocker); ok {
		locker = l
	}

	minPoints := 0
	if cfg.Market.Source == "coinbase" {
		minPoints = cfg.Market.Coinbase.Candles
	}

	return &Service{
		scheduler:  sched,
		source:     source,
		states:     states,
		alertStore: alertStore,
		notifier:   notifier,
		logger:     logger.With().Str("component", "service").Logger(),
		jobs:       jobs,
		lookbacks:  alerting.DefaultLookbacks,
		minPoints:  minPoints,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		now:        time.Now,
	}, nil
}

// Jobs returns the configured jobs.
func (s *Service) Jobs() []Job {
	return append([]Job(nil), s.jobs...)
}

// Run begins the aligned evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick 对所有 job 执行一次评估。
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	s.logger.Debug().Time("bucket", bucket).Int("jobs", len(s.jobs)).Msg("evaluating jobs")
	_, err := s.EvaluateAll(ctx)
	return err
}

// EvaluateAll evaluates every job once. A failing job does not stop the rest.
func (s *Service) EvaluateAll(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(s.jobs))
	var errs []error
	for _, job := range s.jobs {
		res, err := s.EvaluateJob(ctx, job)
		if err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// EvaluateJob runs one load, fetch, evaluate, notify, save cycle.
func (s *Service) EvaluateJob(ctx context.Context, job Job) (Result, error) {
	res := Result{Job: job.Name}
	logger := s.logger.With().Str("job", job.Name).Str("product", job.Instrument.Product).Logger()

	unlock, proceed, err := s.acquireLock(ctx, job.Name)
	if err != nil {
		return res, err
	}
	if !proceed {
		logger.Debug().Msg("skip job because advisory lock held elsewhere")
		res.Skipped = true
		return res, nil
	}
	if unlock != nil {
		defer unlock()
	}

	state, err := s.states.Load(ctx, job.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load alert state, starting from default")
		state = signal.DefaultState()
	}

	prices, err := s.source.FetchPrices(ctx, job.Instrument, s.historyPoints(job))
	if err != nil {
		return res, fmt.Errorf("fetch prices: %w", err)
	}

	decision, err := signal.Evaluate(job.Thresholds, prices, state)
	if err != nil {
		if errors.Is(err, indicator.ErrInsufficientData) {
			logger.Warn().Err(err).Int("points", len(prices)).Msg("not enough history to evaluate")
			res.Skipped = true
			return res, nil
		}
		return res, fmt.Errorf("evaluate: %w", err)
	}
	res.Decision = decision

	logger.Info().
		Bool("fire", decision.Fire).
		Str("reason", decision.Reason).
		Float64("price", decision.Snapshot.CurPrice).
		Float64("ema", decision.Snapshot.EMA).
		Float64("diff_pct", decision.Snapshot.DiffPct).
		Msg("evaluated")

	if decision.Fire {
		res.Notified = s.dispatch(ctx, job, prices, decision, logger)
	}

	if decision.StateChanged {
		if err := s.states.Save(ctx, job.Name, decision.UpdatedState); err != nil {
			logger.Error().Err(err).
				Bool("fired", decision.Fire).
				Msg("failed to persist alert state; the next run may repeat or miss an alert")
			return res, fmt.Errorf("save state: %w", err)
		}
		res.Saved = true
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, job Job, prices []float64, decision signal.Decision, logger zerolog.Logger) bool {
	if !s.alertsOn {
		logger.Info().Msg("alert fired but alerting is disabled")
		return false
	}

	if s.alertStore != nil {
		record := storage.AlertRecord{
			Job:          job.Name,
			Product:      job.Instrument.Product,
			Price:        decimal.NewFromFloat(decision.Snapshot.CurPrice),
			EMA:          decimal.NewFromFloat(decision.Snapshot.EMA),
			DeviationPct: decimal.NewFromFloat(decision.Snapshot.DiffPct),
			Direction:    decision.Snapshot.Direction(),
			Reason:       decision.Reason,
			Channels:     s.channels,
		}
		if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
			logger.Error().Err(err).Msg("failed to persist alert record")
		}
	}

	if s.notifier == nil {
		return false
	}
	note := alerting.Notification{
		Job:         job.Name,
		Product:     job.Instrument.Product,
		Decision:    decision,
		Comparisons: alerting.BuildComparisons(prices, job.Thresholds.EMAWindow, s.source.Interval(), s.lookbacks),
		Channels:    s.channels,
		Time:        s.now().UTC(),
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch alert")
		return false
	}
	return true
}

// historyPoints covers the EMA window plus the oldest comparison point.
func (s *Service) historyPoints(job Job) int {
	need := job.Thresholds.RequiredPoints()
	if interval := s.source.Interval(); interval > 0 {
		var longest time.Duration
		for _, lb := range s.lookbacks {
			if lb.Ago > longest {
				longest = lb.Ago
			}
		}
		need += int(longest / interval)
	}
	if s.minPoints > need {
		return s.minPoints
	}
	return need
}

func (s *Service) acquireLock(ctx context.Context, job string) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, JobLockKey(s.lockKey, job))
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

// JobLockKey derives a per-job advisory lock key from the base key.
func JobLockKey(base int64, job string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(job))
	return base<<32 | int64(h.Sum32())
}
