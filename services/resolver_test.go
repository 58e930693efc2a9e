package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
	"ranked-queue-service/store"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPutter struct {
	mock.Mock
}

func (m *mockPutter) PutObject(ctx context.Context, key, contentType string, body []byte) error {
	args := m.Called(ctx, key, contentType, body)
	return args.Error(0)
}

var resolvedAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newResolver(rng Rand) *TournamentResolver {
	return NewTournamentResolver(config.DefaultRules(), rng, clockwork.NewFakeClockAt(resolvedAt),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func seedQueue(t *testing.T, st *store.MemoryStore, queueID string, scores map[string]int64, banned ...string) {
	t.Helper()
	ctx := context.Background()
	for name, score := range scores {
		require.NoError(t, st.CreateQueueEntry(ctx, &models.QueueEntry{
			PlayerName:  name,
			QueueID:     queueID,
			Score:       score,
			Attempts:    5,
			SubmittedAt: resolvedAt.Add(-time.Minute),
		}))
		st.PutProfile(models.PlayerProfile{PlayerName: name})
	}
	for _, name := range banned {
		st.PutProfile(models.PlayerProfile{PlayerName: name, IsBanned: true})
	}
}

func TestResolveBannedLeaderLosesTwoPlayer(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"cheat": 500, "honest": 300}, "cheat")

	// roll 0.9 loses; draws 20 and 80 land at 470 and 530 inside [450, 550]
	r := newResolver(&scriptedRand{floats: []float64{0.9}, ints: []int64{20, 80}})
	out, err := r.Resolve(context.Background(), st, "q", ReasonAllReady)
	require.NoError(t, err)

	require.NotNil(t, out.BanRoll)
	assert.False(t, out.BanRoll.BannedWon)
	assert.True(t, out.ScoresSynthesized)
	assert.False(t, out.ScoreOrderInconsistent)

	assert.Equal(t, "honest", out.Results[0].PlayerName)
	assert.Equal(t, int64(530), out.Results[0].Score)
	assert.Equal(t, int64(300), out.Results[0].OriginalScore)
	assert.Equal(t, "cheat", out.Results[1].PlayerName)
	assert.Equal(t, int64(470), out.Results[1].Score)

	history := st.History()
	require.Len(t, history, 2)
	for _, h := range history {
		assert.True(t, h.ScoresSynthesized)
		require.NotNil(t, h.OpponentScore)
	}
}

func TestResolveBannedLeaderWinsRoll(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"cheat": 500, "honest": 300}, "cheat")

	r := newResolver(&scriptedRand{floats: []float64{0.1}, ints: []int64{0, 100}})
	out, err := r.Resolve(context.Background(), st, "q", ReasonAllReady)
	require.NoError(t, err)

	assert.True(t, out.BanRoll.BannedWon)
	assert.Equal(t, "cheat", out.Results[0].PlayerName)
	assert.Equal(t, int64(550), out.Results[0].Score)
	assert.Equal(t, int64(450), out.Results[1].Score)
}

func TestResolveThreePlayerBanFlagsInconsistency(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"cheat": 900, "honest": 500, "rookie": 100}, "cheat")

	r := newResolver(&scriptedRand{floats: []float64{0.99}})
	out, err := r.Resolve(context.Background(), st, "q", ReasonTimeout)
	require.NoError(t, err)

	assert.False(t, out.ScoresSynthesized)
	assert.True(t, out.ScoreOrderInconsistent)
	assert.Equal(t, []string{"honest", "rookie", "cheat"},
		[]string{out.Results[0].PlayerName, out.Results[1].PlayerName, out.Results[2].PlayerName})
	// raw score is kept for the demoted player
	assert.Equal(t, int64(900), out.Results[2].Score)

	for _, h := range st.History() {
		assert.Nil(t, h.OpponentName)
		assert.Equal(t, 3, h.PlayerCount)
	}
}

func TestResolveTwiceReportsAlreadyResolved(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"a": 2, "b": 1})
	r := newResolver(&scriptedRand{})
	ctx := context.Background()

	_, err := r.Resolve(ctx, st, "q", ReasonAllReady)
	require.NoError(t, err)

	_, err = r.Resolve(ctx, st, "q", ReasonAllReady)
	assert.ErrorIs(t, err, ErrQueueAlreadyResolved)
	assert.Len(t, st.History(), 2)

	_, err = r.Cancel(ctx, st, "q")
	assert.ErrorIs(t, err, ErrQueueAlreadyResolved)
}

// failingHistory breaks InsertHistory so the transaction must roll back.
type failingHistory struct {
	*store.MemoryStore
}

func (f failingHistory) InsertHistory(context.Context, []models.TournamentHistory) error {
	return errors.New("disk full")
}

func (f failingHistory) WithinTx(ctx context.Context, fn func(tx store.Store) error) error {
	return f.MemoryStore.WithinTx(ctx, func(store.Store) error { return fn(f) })
}

func TestResolveRollsBackOnFailure(t *testing.T) {
	mem := store.NewMemoryStore()
	seedQueue(t, mem, "q", map[string]int64{"a": 2, "b": 1})
	r := newResolver(&scriptedRand{})

	_, err := r.Resolve(context.Background(), failingHistory{mem}, "q", ReasonAllReady)
	require.Error(t, err)

	entries, err := mem.ListQueue(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, entries, 2, "queue is restored")

	rec, err := mem.GetEloRecord(context.Background(), "a")
	if err == nil {
		assert.Zero(t, rec.GamesPlayed)
	} else {
		assert.ErrorIs(t, err, store.ErrNotFound)
	}
}

func TestResolveArchivesOutcome(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"Star Player": 2, "b": 1})

	putter := new(mockPutter)
	putter.On("PutObject", mock.Anything,
		mock.MatchedBy(func(key string) bool {
			return strings.HasPrefix(key, "tournaments/2024-06-01/star-player-") && strings.HasSuffix(key, ".json")
		}),
		"application/json",
		mock.MatchedBy(func(body []byte) bool { return strings.Contains(string(body), `"tournamentId"`) }),
	).Return(nil).Once()

	r := newResolver(&scriptedRand{})
	r.archiver = NewTournamentArchiver(putter)

	_, err := r.Resolve(context.Background(), st, "q", ReasonAllReady)
	require.NoError(t, err)
	putter.AssertExpectations(t)
}

func TestResolveIgnoresArchiveFailure(t *testing.T) {
	st := store.NewMemoryStore()
	seedQueue(t, st, "q", map[string]int64{"a": 2, "b": 1})

	putter := new(mockPutter)
	putter.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket gone"))

	r := newResolver(&scriptedRand{})
	r.archiver = NewTournamentArchiver(putter)

	out, err := r.Resolve(context.Background(), st, "q", ReasonAllReady)
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)
}

func TestArchiveKeyFallsBackForUnsluggableWinner(t *testing.T) {
	out := &TournamentOutcome{
		TournamentID: "t-1",
		ResolvedAt:   resolvedAt,
		Results:      []PlayerResult{{PlayerName: "!!!"}},
	}
	assert.Equal(t, "tournaments/2024-06-01/unknown-t-1.json", ArchiveKey(out))
}
