package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gosimple/slug"
)

// ObjectPutter stores a blob under key. utils.R2Client implements it.
type ObjectPutter interface {
	PutObject(ctx context.Context, key, contentType string, body []byte) error
}

// TournamentArchiver writes resolved tournaments to object storage.
type TournamentArchiver struct {
	Objects ObjectPutter
}

func NewTournamentArchiver(objects ObjectPutter) *TournamentArchiver {
	return &TournamentArchiver{Objects: objects}
}

// ArchiveKey is tournaments/<yyyy-mm-dd>/<slug(winner)>-<tournament id>.json.
func ArchiveKey(t *TournamentOutcome) string {
	winner := "unknown"
	if len(t.Results) > 0 {
		if s := slug.Make(t.Results[0].PlayerName); s != "" {
			winner = s
		}
	}
	return fmt.Sprintf("tournaments/%s/%s-%s.json", t.ResolvedAt.UTC().Format("2006-01-02"), winner, t.TournamentID)
}

func (a *TournamentArchiver) Archive(ctx context.Context, t *TournamentOutcome) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode tournament %s: %w", t.TournamentID, err)
	}
	if err := a.Objects.PutObject(ctx, ArchiveKey(t), "application/json", body); err != nil {
		return fmt.Errorf("failed to archive tournament %s: %w", t.TournamentID, err)
	}
	return nil
}
