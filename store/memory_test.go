package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"ranked-queue-service/models"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueEntryUniqueness(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	name := gofakeit.Username()
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: name, QueueID: "q1"}))

	err := m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: name, QueueID: "q1"})
	var dup *DuplicateError
	assert.ErrorAs(t, err, &dup)

	// same player in a different pool is allowed
	assert.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: name, QueueID: "q2"}))
}

func TestMemoryListQueueOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "late", QueueID: "q", SubmittedAt: base.Add(time.Minute)}))
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "tie-a", QueueID: "q", SubmittedAt: base}))
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "tie-b", QueueID: "q", SubmittedAt: base}))
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "other", QueueID: "z", SubmittedAt: base}))

	entries, err := m.ListQueue(ctx, "q")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.PlayerName)
	}
	assert.Equal(t, []string{"tie-a", "tie-b", "late"}, names)

	all, err := m.ListQueueEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMemoryDeleteQueueReportsCount(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "a", QueueID: "q"}))
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "b", QueueID: "q"}))

	n, err := m.DeleteQueue(ctx, "q")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = m.DeleteQueue(ctx, "q")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryEloRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	rec := &models.PlayerElo{PlayerName: "a", EloRating: 1000}
	require.NoError(t, m.CreateEloRecord(ctx, rec))

	got, err := m.GetEloRecord(ctx, "a")
	require.NoError(t, err)
	got.RecordOpponent("b")
	got.EloRating = 5

	again, err := m.GetEloRecord(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1000, again.EloRating)
	assert.Nil(t, again.LastOpponentName)

	assert.ErrorIs(t, m.UpdateEloRecord(ctx, &models.PlayerElo{PlayerName: "missing"}), ErrNotFound)
}

func TestMemoryWithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateQueueEntry(ctx, &models.QueueEntry{PlayerName: "a", QueueID: "q"}))

	boom := errors.New("boom")
	err := m.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.DeleteQueue(ctx, "q"); err != nil {
			return err
		}
		if err := tx.InsertHistory(ctx, []models.TournamentHistory{{PlayerName: "a"}}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, err := m.ListQueue(ctx, "q")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Empty(t, m.History())
}

func TestMemoryListHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.InsertHistory(ctx, []models.TournamentHistory{
		{TournamentID: "t1", PlayerName: "a"},
		{TournamentID: "t1", PlayerName: "b"},
	}))
	require.NoError(t, m.InsertHistory(ctx, []models.TournamentHistory{{TournamentID: "t2", PlayerName: "a"}}))

	rows, err := m.ListHistory(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "t2", rows[0].TournamentID)

	rows, err = m.ListHistory(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestMemoryBannedFlagsSkipUnknown(t *testing.T) {
	m := NewMemoryStore()
	m.PutProfile(models.PlayerProfile{PlayerName: "cheater", IsBanned: true})
	m.PutProfile(models.PlayerProfile{PlayerName: "honest"})

	flags, err := m.GetBannedFlags(context.Background(), []string{"cheater", "honest", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"cheater": true, "honest": false}, flags)
}
