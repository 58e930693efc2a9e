package services

import (
	"slices"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/models"
)

type QueueAction string

const (
	QueueWait    QueueAction = "wait"
	QueueCancel  QueueAction = "cancel"
	QueueResolve QueueAction = "resolve"
)

type ResolveReason string

const (
	ReasonAllReady  ResolveReason = "all_ready"
	ReasonTimeout   ResolveReason = "timeout"
	ReasonEarlyExit ResolveReason = "early_exit"
)

// QueueDecision is what EvaluateQueue concluded about one pool at one instant.
type QueueDecision struct {
	Action        QueueAction
	Reason        ResolveReason // set only when Action is QueueResolve
	UniquePlayers int
	PlayersNeeded int
	OldestAt      time.Time
	// QuorumAt is the submission time of the entry that first reached MinPlayers.
	QuorumAt time.Time
	Leader   string
}

// EvaluateQueue decides whether a pool waits, cancels or resolves. It never resolves a
// pool below MinPlayers.
func EvaluateQueue(entries []models.QueueEntry, now time.Time, rules config.RankedRules) QueueDecision {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b models.QueueEntry) int {
		return a.SubmittedAt.Compare(b.SubmittedAt)
	})

	var players []string
	for _, e := range sorted {
		if !slices.Contains(players, e.PlayerName) {
			players = append(players, e.PlayerName)
		}
	}

	d := QueueDecision{Action: QueueWait, UniquePlayers: len(players)}
	if len(sorted) == 0 {
		d.PlayersNeeded = rules.MinPlayers
		return d
	}
	d.OldestAt = sorted[0].SubmittedAt

	if d.UniquePlayers < rules.MinPlayers {
		d.PlayersNeeded = rules.MinPlayers - d.UniquePlayers
		if now.Sub(d.OldestAt) > rules.QueueTimeout {
			d.Action = QueueCancel
		}
		return d
	}

	d.QuorumAt = sorted[rules.MinPlayers-1].SubmittedAt
	d.Leader = strictLeader(sorted)

	allReady := true
	var open []string
	for _, e := range sorted {
		if e.Attempts < rules.MaxAttempts {
			allReady = false
			open = append(open, e.PlayerName)
		}
	}

	switch {
	case allReady:
		d.Action, d.Reason = QueueResolve, ReasonAllReady
	case now.Sub(d.QuorumAt) > rules.QueueTimeout:
		d.Action, d.Reason = QueueResolve, ReasonTimeout
	case len(open) == 1 && d.Leader != "" && open[0] == d.Leader:
		d.Action, d.Reason = QueueResolve, ReasonEarlyExit
	}
	return d
}

// strictLeader returns the player whose score beats every other entry, or "" on a tie.
func strictLeader(entries []models.QueueEntry) string {
	leader := ""
	var best int64
	tied := false
	for _, e := range entries {
		switch {
		case leader == "" || e.Score > best:
			leader, best, tied = e.PlayerName, e.Score, false
		case e.Score == best && e.PlayerName != leader:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return leader
}
