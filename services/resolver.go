package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
	"ranked-queue-service/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrQueueAlreadyResolved is returned when another resolution or cancellation drained the pool first.
var ErrQueueAlreadyResolved = errors.New("queue already resolved")

type PlayerResult struct {
	PlayerName    string `json:"playerName"`
	Placement     int    `json:"placement"`
	Score         int64  `json:"score"`
	OriginalScore int64  `json:"originalScore"`
	Kills         int64  `json:"kills"`
	BestStreak    int64  `json:"bestStreak"`
	EloBefore     int    `json:"eloBefore"`
	EloAfter      int    `json:"eloAfter"`
	EloChange     int    `json:"eloChange"`
	Banned        bool   `json:"banned"`
}

// TournamentOutcome is everything a resolution decided.
type TournamentOutcome struct {
	TournamentID      string         `json:"tournamentId"`
	QueueID           string         `json:"queueId"`
	Reason            ResolveReason  `json:"reason"`
	Results           []PlayerResult `json:"results"`
	BanRoll           *BanRoll       `json:"banRoll,omitempty"`
	ScoresSynthesized bool           `json:"scoresSynthesized"`
	// ScoreOrderInconsistent marks a field of three or more where a demoted banned player
	// still shows a higher raw score than the new winner. Scores are only resynthesized
	// for two-player fields.
	ScoreOrderInconsistent bool      `json:"scoreOrderInconsistent"`
	ResolvedAt             time.Time `json:"resolvedAt"`
}

// Result returns name's line of the outcome.
func (t *TournamentOutcome) Result(name string) (PlayerResult, bool) {
	for _, r := range t.Results {
		if r.PlayerName == name {
			return r, true
		}
	}
	return PlayerResult{}, false
}

type TournamentResolver struct {
	rules    config.RankedRules
	rng      Rand
	clock    clockwork.Clock
	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	archiver *TournamentArchiver
}

func NewTournamentResolver(rules config.RankedRules, rng Rand, clock clockwork.Clock, logger *slog.Logger) *TournamentResolver {
	return &TournamentResolver{
		rules:  rules,
		rng:    rng,
		clock:  clock,
		logger: logger,
		tracer: otel.Tracer("ranked-queue-service/services"),
	}
}

// Resolve claims the pool by deleting its entries and writes ELO and history in the same
// transaction. A pool that is already empty yields ErrQueueAlreadyResolved.
func (r *TournamentResolver) Resolve(ctx context.Context, st store.Store, queueID string, reason ResolveReason) (*TournamentOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "TournamentResolver.Resolve",
		trace.WithAttributes(attribute.String("queue_id", queueID), attribute.String("reason", string(reason))))
	defer span.End()
	start := r.clock.Now()

	var outcome *TournamentOutcome
	err := st.WithinTx(ctx, func(tx store.Store) error {
		entries, err := tx.ListQueue(ctx, queueID)
		if err != nil {
			return fmt.Errorf("failed to list queue %s: %w", queueID, err)
		}
		deleted, err := tx.DeleteQueue(ctx, queueID)
		if err != nil {
			return fmt.Errorf("failed to clear queue %s: %w", queueID, err)
		}
		if deleted == 0 || len(entries) == 0 {
			return ErrQueueAlreadyResolved
		}

		outcome, err = r.rank(ctx, tx, queueID, entries, reason)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("tournament_id", outcome.TournamentID), attribute.Int("players", len(outcome.Results)))
	if r.metrics != nil {
		r.metrics.Resolutions.WithLabelValues(string(reason)).Inc()
		r.metrics.ResolveDuration.Observe(r.clock.Since(start).Seconds())
		if outcome.BanRoll != nil {
			result := "banned_lost"
			if outcome.BanRoll.BannedWon {
				result = "banned_won"
			}
			r.metrics.BanRolls.WithLabelValues(result).Inc()
		}
	}

	r.logger.InfoContext(ctx, "[RANKED] tournament resolved",
		"tournament_id", outcome.TournamentID,
		"queue_id", queueID,
		"reason", reason,
		"players", len(outcome.Results),
		"winner", outcome.Results[0].PlayerName,
		"synthesized", outcome.ScoresSynthesized)
	if outcome.BanRoll != nil {
		r.logger.InfoContext(ctx, "[RANKED] ban mitigation roll",
			"tournament_id", outcome.TournamentID,
			"banned_leader", outcome.BanRoll.BannedLeader,
			"roll", outcome.BanRoll.Roll,
			"banned_won", outcome.BanRoll.BannedWon)
	}
	if outcome.ScoreOrderInconsistent {
		r.logger.WarnContext(ctx, "[RANKED] demoted banned player still outscores winner",
			"tournament_id", outcome.TournamentID)
	}

	if r.archiver != nil {
		if err := r.archiver.Archive(ctx, outcome); err != nil {
			r.logger.ErrorContext(ctx, "[RANKED] archive failed", "tournament_id", outcome.TournamentID, "error", err)
		}
	}
	return outcome, nil
}

// Cancel drains a pool without touching ELO or history.
func (r *TournamentResolver) Cancel(ctx context.Context, st store.Store, queueID string) (int64, error) {
	var deleted int64
	err := st.WithinTx(ctx, func(tx store.Store) error {
		n, err := tx.DeleteQueue(ctx, queueID)
		if err != nil {
			return fmt.Errorf("failed to cancel queue %s: %w", queueID, err)
		}
		if n == 0 {
			return ErrQueueAlreadyResolved
		}
		deleted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.Cancellations.Inc()
	}
	r.logger.InfoContext(ctx, "[RANKED] queue cancelled", "queue_id", queueID, "entries", deleted)
	return deleted, nil
}

func (r *TournamentResolver) rank(ctx context.Context, tx store.Store, queueID string, entries []models.QueueEntry, reason ResolveReason) (*TournamentOutcome, error) {
	ranked := RankByScore(entries)
	names := make([]string, len(ranked))
	for i, s := range ranked {
		names[i] = s.PlayerName
	}

	banned, err := tx.GetBannedFlags(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to load ban flags: %w", err)
	}
	for i := range ranked {
		ranked[i].Banned = banned[ranked[i].PlayerName]
	}

	ranked, roll := ApplyBanMitigation(ranked, r.rng, r.rules)
	ranked, synthesized := SynthesizeScores(ranked, r.rng, r.rules)

	// --- ratings ---
	records, err := tx.GetEloRecords(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to load elo records: %w", err)
	}
	ratings := make(map[string]int, len(ranked))
	for _, name := range names {
		rec, ok := records[name]
		if !ok {
			rec, err = EnsureEloRecord(ctx, tx, name, r.rules.DefaultElo)
			if err != nil {
				return nil, err
			}
			records[name] = rec
		}
		ratings[name] = rec.EloRating
	}
	changes := CalculateEloChanges(ranked, ratings, r.rules)

	outcome := &TournamentOutcome{
		TournamentID:      uuid.NewString(),
		QueueID:           queueID,
		Reason:            reason,
		BanRoll:           roll,
		ScoresSynthesized: synthesized,
		ResolvedAt:        r.clock.Now().UTC(),
	}
	if roll != nil && !roll.BannedWon && len(ranked) > 2 {
		for _, s := range ranked[1:] {
			if s.Banned && s.Score > ranked[0].Score {
				outcome.ScoreOrderInconsistent = true
				break
			}
		}
	}

	// --- persistence ---
	history := make([]models.TournamentHistory, 0, len(ranked))
	for i, c := range changes {
		s := ranked[i]
		rec := records[s.PlayerName]
		rec.EloRating = c.EloAfter
		rec.GamesPlayed++
		if c.Placement == 1 {
			rec.Wins++
		}

		row := models.TournamentHistory{
			TournamentID:      outcome.TournamentID,
			PlayerName:        s.PlayerName,
			Score:             s.Score,
			Kills:             s.Kills,
			BestStreak:        s.BestStreak,
			Placement:         c.Placement,
			PlayerCount:       len(ranked),
			EloBefore:         c.EloBefore,
			EloAfter:          c.EloAfter,
			EloChange:         c.Change,
			ScoresSynthesized: synthesized,
			CreatedAt:         outcome.ResolvedAt,
		}
		if len(ranked) == 2 {
			opp := ranked[1-i]
			rec.RecordOpponent(opp.PlayerName)
			oppName, oppScore := opp.PlayerName, opp.Score
			row.OpponentName, row.OpponentScore = &oppName, &oppScore
		}

		if err := tx.UpdateEloRecord(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to update elo for %s: %w", s.PlayerName, err)
		}
		history = append(history, row)

		outcome.Results = append(outcome.Results, PlayerResult{
			PlayerName:    s.PlayerName,
			Placement:     c.Placement,
			Score:         s.Score,
			OriginalScore: s.OriginalScore,
			Kills:         s.Kills,
			BestStreak:    s.BestStreak,
			EloBefore:     c.EloBefore,
			EloAfter:      c.EloAfter,
			EloChange:     c.Change,
			Banned:        s.Banned,
		})
	}

	if err := tx.InsertHistory(ctx, history); err != nil {
		return nil, fmt.Errorf("failed to insert tournament history: %w", err)
	}
	return outcome, nil
}
