package services

import (
	"math"

	"ranked-queue-service/config"
)

// EloChange is the rating movement of one player in one tournament.
type EloChange struct {
	PlayerName string
	Placement  int
	Score      int64
	EloBefore  int
	EloAfter   int
	Change     int
}

// CalculateEloChanges rates a ranked field (first place at index 0) against its own averages.
//
//	expected    = 1 / (1 + 10^((avgElo - elo)/400))
//	actual      = (total - i - 1) / (total - 1)
//	performance = 1 + weight * (score - avgScore) / scoreRange
//	change      = round(K * (actual - expected) * performance)
//
// Players missing from ratings start at rules.DefaultElo. Fields under two players are a no-op.
func CalculateEloChanges(ranked []Standing, ratings map[string]int, rules config.RankedRules) []EloChange {
	out := make([]EloChange, len(ranked))
	elo := func(name string) int {
		if r, ok := ratings[name]; ok {
			return r
		}
		return rules.DefaultElo
	}

	if len(ranked) < 2 {
		for i, s := range ranked {
			before := elo(s.PlayerName)
			out[i] = EloChange{PlayerName: s.PlayerName, Placement: 1, Score: s.Score, EloBefore: before, EloAfter: before}
		}
		return out
	}

	total := len(ranked)
	var scoreSum, eloSum float64
	minScore, maxScore := ranked[0].Score, ranked[0].Score
	for _, s := range ranked {
		scoreSum += float64(s.Score)
		eloSum += float64(elo(s.PlayerName))
		minScore = min(minScore, s.Score)
		maxScore = max(maxScore, s.Score)
	}
	avgScore := scoreSum / float64(total)
	avgElo := eloSum / float64(total)
	scoreRange := float64(maxScore - minScore)
	if scoreRange == 0 {
		scoreRange = 1
	}

	for i, s := range ranked {
		before := elo(s.PlayerName)
		expected := 1 / (1 + math.Pow(10, (avgElo-float64(before))/400))
		actual := float64(total-i-1) / float64(total-1)
		performance := 1 + rules.PerformanceWeight*((float64(s.Score)-avgScore)/scoreRange)
		change := roundHalfUp(rules.KFactor * (actual - expected) * performance)

		out[i] = EloChange{
			PlayerName: s.PlayerName,
			Placement:  i + 1,
			Score:      s.Score,
			EloBefore:  before,
			EloAfter:   before + change,
			Change:     change,
		}
	}
	return out
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
