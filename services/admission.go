package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
	"ranked-queue-service/store"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Submission is one authenticated score report.
type Submission struct {
	PlayerName string
	Score      int64
	Kills      int64
	BestStreak int64
}

// AttemptsExhaustedError rejects a submission from a player who has used every attempt
// in their current pool. Nothing is written when it is returned.
type AttemptsExhaustedError struct {
	PlayerName string
	QueueID    string
	Attempts   int
	BestScore  int64
}

func (e *AttemptsExhaustedError) Error() string {
	return fmt.Sprintf("player %s has used all %d attempts in queue %s", e.PlayerName, e.Attempts, e.QueueID)
}

// AdmissionPlan is the write Admit is about to make. Plan and Apply are split so the
// caller can lock the chosen pool in between.
type AdmissionPlan struct {
	QueueID  string
	Entry    models.QueueEntry
	Existing bool
	// Improved is true when the submission replaced the stored best score.
	Improved bool
	// needsElo is set when the submitter has no ELO record yet.
	needsElo bool
}

type AdmissionController struct {
	rules  config.RankedRules
	clock  clockwork.Clock
	logger *slog.Logger
}

func NewAdmissionController(rules config.RankedRules, clock clockwork.Clock, logger *slog.Logger) *AdmissionController {
	return &AdmissionController{rules: rules, clock: clock, logger: logger}
}

// Admit plans and applies in one go. RankedService uses Plan/Apply directly.
func (a *AdmissionController) Admit(ctx context.Context, st store.Store, sub Submission) (*AdmissionPlan, error) {
	plan, err := a.Plan(ctx, st, sub)
	if err != nil {
		return nil, err
	}
	if err := a.Apply(ctx, st, plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// Plan reads every live entry and decides where sub goes.
func (a *AdmissionController) Plan(ctx context.Context, st store.Store, sub Submission) (*AdmissionPlan, error) {
	entries, err := st.ListQueueEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue entries: %w", err)
	}
	now := a.clock.Now().UTC()

	// --- re-submission: same pool, keep-if-higher ---
	for _, e := range entries {
		if e.PlayerName != sub.PlayerName {
			continue
		}
		if e.Attempts >= a.rules.MaxAttempts {
			return nil, &AttemptsExhaustedError{
				PlayerName: sub.PlayerName,
				QueueID:    e.QueueID,
				Attempts:   e.Attempts,
				BestScore:  e.Score,
			}
		}
		updated := e
		updated.Attempts++
		updated.UpdatedAt = now
		improved := sub.Score > e.Score
		if improved {
			updated.Score = sub.Score
			updated.Kills = sub.Kills
			updated.BestStreak = sub.BestStreak
		}
		return &AdmissionPlan{QueueID: e.QueueID, Entry: updated, Existing: true, Improved: improved}, nil
	}

	// --- new player: find an open pool ---
	pools := groupPools(entries)
	names := []string{sub.PlayerName}
	for _, p := range pools {
		names = append(names, p.players...)
	}
	elos, err := st.GetEloRecords(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to load elo records: %w", err)
	}

	queueID := a.choosePool(sub.PlayerName, pools, elos)
	if queueID == "" {
		queueID = uuid.NewString()
		a.logger.Info("[ADMISSION] opening new queue", "player", sub.PlayerName, "queue_id", queueID)
	}

	_, hasElo := elos[sub.PlayerName]
	return &AdmissionPlan{
		QueueID: queueID,
		Entry: models.QueueEntry{
			PlayerName:  sub.PlayerName,
			QueueID:     queueID,
			Score:       sub.Score,
			Kills:       sub.Kills,
			BestStreak:  sub.BestStreak,
			Attempts:    1,
			SubmittedAt: now,
			UpdatedAt:   now,
		},
		Improved: true,
		needsElo: !hasElo,
	}, nil
}

// Apply writes the planned entry. A vanished entry surfaces as store.ErrNotFound so the
// caller can replan.
func (a *AdmissionController) Apply(ctx context.Context, st store.Store, plan *AdmissionPlan) error {
	if plan.Existing {
		if err := st.UpdateQueueEntry(ctx, &plan.Entry); err != nil {
			return fmt.Errorf("failed to update queue entry: %w", err)
		}
		return nil
	}

	if plan.needsElo {
		if _, err := EnsureEloRecord(ctx, st, plan.Entry.PlayerName, a.rules.DefaultElo); err != nil {
			return err
		}
	}
	if err := st.CreateQueueEntry(ctx, &plan.Entry); err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

type pool struct {
	id      string
	players []string
}

// groupPools groups entries by queue id, keeping the order pools are first seen in.
func groupPools(entries []models.QueueEntry) []pool {
	var pools []pool
	index := make(map[string]int)
	for _, e := range entries {
		i, ok := index[e.QueueID]
		if !ok {
			i = len(pools)
			index[e.QueueID] = i
			pools = append(pools, pool{id: e.QueueID})
		}
		if !slices.Contains(pools[i].players, e.PlayerName) {
			pools[i].players = append(pools[i].players, e.PlayerName)
		}
	}
	return pools
}

func (a *AdmissionController) choosePool(player string, pools []pool, elos map[string]*models.PlayerElo) string {
	mine := elos[player]
	for _, p := range pools {
		if len(p.players) >= a.rules.MinPlayers {
			continue
		}
		blocked := ""
		for _, other := range p.players {
			if mine.HasFaced(other) >= a.rules.MaxConsecutiveOpponent ||
				elos[other].HasFaced(player) >= a.rules.MaxConsecutiveOpponent {
				blocked = other
				break
			}
		}
		if blocked != "" {
			a.logger.Info("[ADMISSION] skipping queue, repeat opponent limit",
				"player", player, "opponent", blocked, "queue_id", p.id)
			continue
		}
		return p.id
	}
	return ""
}

// EnsureEloRecord fetches name's ELO record, creating it at defaultElo when missing.
func EnsureEloRecord(ctx context.Context, st store.Store, name string, defaultElo int) (*models.PlayerElo, error) {
	rec, err := st.GetEloRecord(ctx, name)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load elo record: %w", err)
	}

	rec = &models.PlayerElo{PlayerName: name, EloRating: defaultElo}
	err = st.CreateEloRecord(ctx, rec)
	var dup *store.DuplicateError
	if errors.As(err, &dup) {
		// created concurrently
		return st.GetEloRecord(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create elo record: %w", err)
	}
	return rec, nil
}
