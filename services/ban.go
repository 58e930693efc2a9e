package services

import (
	"cmp"
	"math"
	"math/rand/v2"
	"slices"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
)

// Rand is the randomness the resolver needs. *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	Int64N(n int64) int64
}

// globalRand uses the goroutine-safe top-level math/rand/v2 source.
type globalRand struct{}

func (globalRand) Float64() float64     { return rand.Float64() }
func (globalRand) Int64N(n int64) int64 { return rand.Int64N(n) }

// Standing is one player's place in a tournament being resolved.
type Standing struct {
	PlayerName    string
	Score         int64
	OriginalScore int64
	Kills         int64
	BestStreak    int64
	Banned        bool
}

// BanRoll records the mitigation draw made when a banned player led the field.
type BanRoll struct {
	BannedLeader string  `json:"bannedLeader"`
	Roll         float64 `json:"roll"`
	BannedWon    bool    `json:"bannedWon"`
}

// RankByScore orders entries by score, highest first. Equal scores keep their input order.
func RankByScore(entries []models.QueueEntry) []Standing {
	out := make([]Standing, len(entries))
	for i, e := range entries {
		out[i] = Standing{
			PlayerName:    e.PlayerName,
			Score:         e.Score,
			OriginalScore: e.Score,
			Kills:         e.Kills,
			BestStreak:    e.BestStreak,
		}
	}
	sortByScore(out)
	return out
}

func sortByScore(s []Standing) {
	slices.SortStableFunc(s, func(a, b Standing) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

// ApplyBanMitigation rolls when a banned player leads and someone eligible could win instead.
// Losing the roll pushes every banned player below every non-banned one.
func ApplyBanMitigation(ranked []Standing, rng Rand, rules config.RankedRules) ([]Standing, *BanRoll) {
	if len(ranked) == 0 || !ranked[0].Banned {
		return ranked, nil
	}

	var clean, banned []Standing
	for _, s := range ranked {
		if s.Banned {
			banned = append(banned, s)
		} else {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return ranked, nil
	}

	roll := &BanRoll{BannedLeader: ranked[0].PlayerName, Roll: rng.Float64()}
	roll.BannedWon = roll.Roll < rules.BanWinProbability
	if roll.BannedWon {
		return ranked, roll
	}
	return append(clean, banned...), roll
}

// SynthesizeScores replaces both scores of a two-player field with one banned player by
// draws near the banned player's score. ranked[0] is the decided winner and keeps first place.
func SynthesizeScores(ranked []Standing, rng Rand, rules config.RankedRules) ([]Standing, bool) {
	if len(ranked) != 2 || ranked[0].Banned == ranked[1].Banned {
		return ranked, false
	}

	base := ranked[0].OriginalScore
	if ranked[1].Banned {
		base = ranked[1].OriginalScore
	}
	lo, hi := SyntheticBand(base, rules.SyntheticScoreSpread)

	a := lo + rng.Int64N(hi-lo+1)
	b := lo + rng.Int64N(hi-lo+1)

	out := slices.Clone(ranked)
	out[0].Score, out[1].Score = max(a, b), min(a, b)
	sortByScore(out)
	return out, true
}

// SyntheticBand returns the inclusive [floor(base*(1-spread)), ceil(base*(1+spread))] range.
func SyntheticBand(base int64, spread float64) (int64, int64) {
	// trim float noise so 1000*1.1 stays 1100 before ceil
	trim := func(v float64) float64 { return math.Round(v*1e6) / 1e6 }
	lo := int64(math.Floor(trim(float64(base) * (1 - spread))))
	hi := int64(math.Ceil(trim(float64(base) * (1 + spread))))
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo, hi
}
