package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
	"ranked-queue-service/store"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
)

// ErrNotQueued is returned by QueueStatus for a player with no live entry.
var ErrNotQueued = errors.New("player is not queued")

type SubmitRequest struct {
	PlayerName string
	Password   string
	Score      int64
	Kills      int64
	BestStreak int64
}

// SubmitOutcome is one of *QueuedOutcome, *ResolvedOutcome or *CancelledOutcome.
type SubmitOutcome interface {
	Status() string
	submitOutcome()
}

// QueuedOutcome reports a pool that is still open.
type QueuedOutcome struct {
	QueueID           string
	Attempts          int
	AttemptsRemaining int
	BestScore         int64
	SubmittedScore    int64
	Improved          bool
	PlayersInQueue    int
	PlayersNeeded     int
	// DeadlineAt is when the pool cancels (below quorum) or force-resolves (at quorum).
	DeadlineAt time.Time
}

// ResolvedOutcome reports the tournament the submission completed.
type ResolvedOutcome struct {
	Tournament *TournamentOutcome
	Player     PlayerResult
}

// CancelledOutcome reports a pool that timed out below quorum.
type CancelledOutcome struct {
	QueueID       string
	PlayerCount   int
	PlayersNeeded int
	BestScore     int64
}

func (*QueuedOutcome) Status() string    { return "queued" }
func (*ResolvedOutcome) Status() string  { return "resolved" }
func (*CancelledOutcome) Status() string { return "cancelled" }

func (*QueuedOutcome) submitOutcome()    {}
func (*ResolvedOutcome) submitOutcome()  {}
func (*CancelledOutcome) submitOutcome() {}

// SweepReport summarises one SweepStaleQueues pass.
type SweepReport struct {
	Checked   int `json:"checked"`
	Cancelled int `json:"cancelled"`
	Resolved  int `json:"resolved"`
}

type serviceOptions struct {
	clock    clockwork.Clock
	rng      Rand
	logger   *slog.Logger
	metrics  *Metrics
	archiver *TournamentArchiver
}

type Option func(*serviceOptions)

func WithClock(c clockwork.Clock) Option        { return func(o *serviceOptions) { o.clock = c } }
func WithRand(r Rand) Option                    { return func(o *serviceOptions) { o.rng = r } }
func WithLogger(l *slog.Logger) Option          { return func(o *serviceOptions) { o.logger = l } }
func WithMetrics(m *Metrics) Option             { return func(o *serviceOptions) { o.metrics = m } }
func WithArchiver(a *TournamentArchiver) Option { return func(o *serviceOptions) { o.archiver = a } }

// RankedService runs the submission pipeline: authenticate, admit, evaluate, then resolve
// or cancel. Admission is serialized process-wide; evaluation and resolution per pool.
type RankedService struct {
	Store store.Store
	Rules config.RankedRules

	verifier  *CredentialVerifier
	admission *AdmissionController
	resolver  *TournamentResolver
	clock     clockwork.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics

	admitMu    sync.Mutex
	queueLocks *keyedMutex
}

func NewRankedService(st store.Store, verifier *CredentialVerifier, rules config.RankedRules, opts ...Option) *RankedService {
	o := serviceOptions{
		clock:  clockwork.NewRealClock(),
		rng:    globalRand{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	resolver := NewTournamentResolver(rules, o.rng, o.clock, o.logger)
	resolver.metrics = o.metrics
	resolver.archiver = o.archiver

	return &RankedService{
		Store:      st,
		Rules:      rules,
		verifier:   verifier,
		admission:  NewAdmissionController(rules, o.clock, o.logger),
		resolver:   resolver,
		clock:      o.clock,
		logger:     o.logger,
		tracer:     otel.Tracer("ranked-queue-service/services"),
		metrics:    o.metrics,
		queueLocks: newKeyedMutex(),
	}
}

// NormalizePlayerName trims and NFC-normalises a player name so visually equal names match.
func NormalizePlayerName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Submit handles one score submission end to end.
func (s *RankedService) Submit(ctx context.Context, req SubmitRequest) (SubmitOutcome, error) {
	name := NormalizePlayerName(req.PlayerName)
	ctx, span := s.tracer.Start(ctx, "RankedService.Submit", trace.WithAttributes(attribute.String("player", name)))
	defer span.End()

	if err := s.verifier.Authenticate(ctx, s.Store, name, req.Password); err != nil {
		s.count("unauthorized")
		if !errors.Is(err, ErrPlayerNotFound) && !errors.Is(err, ErrWrongPassword) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	plan, err := s.admit(ctx, Submission{
		PlayerName: name,
		Score:      req.Score,
		Kills:      req.Kills,
		BestStreak: req.BestStreak,
	})
	if err != nil {
		var exhausted *AttemptsExhaustedError
		if errors.As(err, &exhausted) {
			s.count("attempts_exhausted")
			s.logger.InfoContext(ctx, "[RANKED] attempts exhausted", "player", name, "queue_id", exhausted.QueueID)
			return nil, err
		}
		s.count("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("queue_id", plan.QueueID))

	outcome, err := s.settle(ctx, plan.QueueID, name, req.Score, plan.Improved)
	if err != nil {
		s.count("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.count(outcome.Status())
	return outcome, nil
}

func (s *RankedService) admit(ctx context.Context, sub Submission) (*AdmissionPlan, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	for attempt := 0; ; attempt++ {
		plan, err := s.admission.Plan(ctx, s.Store, sub)
		if err != nil {
			return nil, err
		}
		unlock := s.queueLocks.Lock(plan.QueueID)
		err = s.admission.Apply(ctx, s.Store, plan)
		unlock()

		if errors.Is(err, store.ErrNotFound) && attempt == 0 {
			// pool resolved between Plan and Apply
			continue
		}
		if err != nil {
			return nil, err
		}
		return plan, nil
	}
}

// settle evaluates the submitter's pool and resolves or cancels it when due.
func (s *RankedService) settle(ctx context.Context, queueID, player string, submitted int64, improved bool) (SubmitOutcome, error) {
	unlock := s.queueLocks.Lock(queueID)
	defer unlock()

	entries, err := s.Store.ListQueue(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %s: %w", queueID, err)
	}
	if _, ok := findEntry(entries, player); !ok {
		// settled by another request before this one got the lock
		return nil, ErrQueueAlreadyResolved
	}
	d := EvaluateQueue(entries, s.clock.Now(), s.Rules)

	switch d.Action {
	case QueueCancel:
		if _, err := s.resolver.Cancel(ctx, s.Store, queueID); err != nil {
			return nil, err
		}
		mine, _ := findEntry(entries, player)
		return &CancelledOutcome{
			QueueID:       queueID,
			PlayerCount:   d.UniquePlayers,
			PlayersNeeded: d.PlayersNeeded,
			BestScore:     mine.Score,
		}, nil

	case QueueResolve:
		t, err := s.resolver.Resolve(ctx, s.Store, queueID, d.Reason)
		if err != nil {
			return nil, err
		}
		res, _ := t.Result(player)
		return &ResolvedOutcome{Tournament: t, Player: res}, nil
	}

	q := s.queued(entries, d, player)
	q.SubmittedScore = submitted
	q.Improved = improved
	return q, nil
}

func (s *RankedService) queued(entries []models.QueueEntry, d QueueDecision, player string) *QueuedOutcome {
	mine, _ := findEntry(entries, player)
	q := &QueuedOutcome{
		QueueID:           mine.QueueID,
		Attempts:          mine.Attempts,
		AttemptsRemaining: max(s.Rules.MaxAttempts-mine.Attempts, 0),
		BestScore:         mine.Score,
		PlayersInQueue:    d.UniquePlayers,
		PlayersNeeded:     d.PlayersNeeded,
	}
	switch {
	case !d.QuorumAt.IsZero():
		q.DeadlineAt = d.QuorumAt.Add(s.Rules.QueueTimeout)
	case !d.OldestAt.IsZero():
		q.DeadlineAt = d.OldestAt.Add(s.Rules.QueueTimeout)
	}
	return q
}

// QueueStatus reports the live pool of name without submitting anything.
func (s *RankedService) QueueStatus(ctx context.Context, name string) (*QueuedOutcome, error) {
	name = NormalizePlayerName(name)
	all, err := s.Store.ListQueueEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	mine, ok := findEntry(all, name)
	if !ok {
		return nil, ErrNotQueued
	}

	entries, err := s.Store.ListQueue(ctx, mine.QueueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %s: %w", mine.QueueID, err)
	}
	d := EvaluateQueue(entries, s.clock.Now(), s.Rules)
	return s.queued(entries, d, name), nil
}

// LookupElo returns the rating record of name, creating it on first lookup.
func (s *RankedService) LookupElo(ctx context.Context, name string) (*models.PlayerElo, error) {
	return EnsureEloRecord(ctx, s.Store, NormalizePlayerName(name), s.Rules.DefaultElo)
}

// History lists name's tournaments, newest first.
func (s *RankedService) History(ctx context.Context, name string, limit int) ([]models.TournamentHistory, error) {
	rows, err := s.Store.ListHistory(ctx, NormalizePlayerName(name), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return rows, nil
}

// SweepStaleQueues evaluates every live pool and resolves or cancels the ones that are due.
// Pools that only need another submission are left alone.
func (s *RankedService) SweepStaleQueues(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	all, err := s.Store.ListQueueEntries(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list queue entries: %w", err)
	}

	var errs []error
	for _, p := range groupPools(all) {
		report.Checked++
		if err := s.sweepPool(ctx, p.id, &report); err != nil {
			s.logger.ErrorContext(ctx, "[SWEEPER] failed to settle queue", "queue_id", p.id, "error", err)
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (s *RankedService) sweepPool(ctx context.Context, queueID string, report *SweepReport) error {
	unlock := s.queueLocks.Lock(queueID)
	defer unlock()

	entries, err := s.Store.ListQueue(ctx, queueID)
	if err != nil {
		return fmt.Errorf("failed to list queue %s: %w", queueID, err)
	}
	d := EvaluateQueue(entries, s.clock.Now(), s.Rules)

	switch d.Action {
	case QueueCancel:
		_, err = s.resolver.Cancel(ctx, s.Store, queueID)
		if err == nil {
			report.Cancelled++
		}
	case QueueResolve:
		_, err = s.resolver.Resolve(ctx, s.Store, queueID, d.Reason)
		if err == nil {
			report.Resolved++
		}
	}
	if errors.Is(err, ErrQueueAlreadyResolved) {
		return nil
	}
	return err
}

func (s *RankedService) count(outcome string) {
	if s.metrics != nil {
		s.metrics.Submissions.WithLabelValues(outcome).Inc()
	}
}

func findEntry(entries []models.QueueEntry, player string) (models.QueueEntry, bool) {
	for _, e := range entries {
		if e.PlayerName == player {
			return e, true
		}
	}
	return models.QueueEntry{}, false
}
