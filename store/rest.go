package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ranked-queue-service/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RESTStore talks to a PostgREST-style row API (Supabase in production).
// It has no transactions: WithinTx runs fn directly.
type RESTStore struct {
	BaseURL    string // e.g. https://xyz.supabase.co
	ServiceKey string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

// NewRESTStore builds a client limited to rps outbound requests per second.
func NewRESTStore(baseURL, serviceKey string, rps float64, client *http.Client) *RESTStore {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RESTStore{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		ServiceKey: serviceKey,
		HTTPClient: client,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		now:        time.Now,
	}
}

// StatusError carries a non-2xx answer from the row API.
type StatusError struct {
	Method string
	Table  string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store %s %s returned status %d: %s", e.Method, e.Table, e.Status, e.Body)
}

// profileRow exposes password_hash, which models.PlayerProfile hides from JSON.
type profileRow struct {
	PlayerName   string `json:"player_name"`
	PasswordHash string `json:"password_hash"`
	IsBanned     bool   `json:"is_banned"`
}

func (s *RESTStore) GetProfile(ctx context.Context, name string) (*models.PlayerProfile, error) {
	q := url.Values{}
	q.Set("select", "player_name,password_hash,is_banned")
	q.Set("player_name", "eq."+name)
	q.Set("limit", "1")

	var rows []profileRow
	if err := s.do(ctx, http.MethodGet, "leaderboard", q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &models.PlayerProfile{
		PlayerName:   rows[0].PlayerName,
		PasswordHash: rows[0].PasswordHash,
		IsBanned:     rows[0].IsBanned,
	}, nil
}

func (s *RESTStore) GetBannedFlags(ctx context.Context, names []string) (map[string]bool, error) {
	out := make(map[string]bool, len(names))
	if len(names) == 0 {
		return out, nil
	}
	q := url.Values{}
	q.Set("select", "player_name,is_banned")
	q.Set("player_name", inFilter(names))

	var rows []profileRow
	if err := s.do(ctx, http.MethodGet, "leaderboard", q, nil, &rows); err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PlayerName] = r.IsBanned
	}
	return out, nil
}

func (s *RESTStore) GetEloRecord(ctx context.Context, name string) (*models.PlayerElo, error) {
	q := url.Values{}
	q.Set("player_name", "eq."+name)
	q.Set("limit", "1")

	var rows []models.PlayerElo
	if err := s.do(ctx, http.MethodGet, "player_elo", q, nil, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (s *RESTStore) GetEloRecords(ctx context.Context, names []string) (map[string]*models.PlayerElo, error) {
	out := make(map[string]*models.PlayerElo, len(names))
	if len(names) == 0 {
		return out, nil
	}
	q := url.Values{}
	q.Set("player_name", inFilter(names))

	var rows []models.PlayerElo
	if err := s.do(ctx, http.MethodGet, "player_elo", q, nil, &rows); err != nil {
		return nil, err
	}
	for i := range rows {
		out[rows[i].PlayerName] = &rows[i]
	}
	return out, nil
}

func (s *RESTStore) CreateEloRecord(ctx context.Context, rec *models.PlayerElo) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.now().UTC()
	rec.CreatedAt, rec.UpdatedAt = now, now
	return s.do(ctx, http.MethodPost, "player_elo", nil, rec, nil)
}

func (s *RESTStore) UpdateEloRecord(ctx context.Context, rec *models.PlayerElo) error {
	q := url.Values{}
	q.Set("player_name", "eq."+rec.PlayerName)
	rec.UpdatedAt = s.now().UTC()

	patch := map[string]interface{}{
		"elo_rating":                 rec.EloRating,
		"games_played":               rec.GamesPlayed,
		"wins":                       rec.Wins,
		"last_opponent_name":         rec.LastOpponentName,
		"consecutive_opponent_count": rec.ConsecutiveOpponentCount,
		"updated_at":                 rec.UpdatedAt,
	}
	var rows []models.PlayerElo
	if err := s.do(ctx, http.MethodPatch, "player_elo", q, patch, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RESTStore) ListQueueEntries(ctx context.Context) ([]models.QueueEntry, error) {
	q := url.Values{}
	q.Set("order", "submitted_at.asc,id.asc")

	var rows []models.QueueEntry
	err := s.do(ctx, http.MethodGet, "ranked_queue", q, nil, &rows)
	return rows, err
}

func (s *RESTStore) ListQueue(ctx context.Context, queueID string) ([]models.QueueEntry, error) {
	q := url.Values{}
	q.Set("queue_id", "eq."+queueID)
	q.Set("order", "submitted_at.asc,id.asc")

	var rows []models.QueueEntry
	err := s.do(ctx, http.MethodGet, "ranked_queue", q, nil, &rows)
	return rows, err
}

func (s *RESTStore) CreateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	return s.do(ctx, http.MethodPost, "ranked_queue", nil, entry, nil)
}

func (s *RESTStore) UpdateQueueEntry(ctx context.Context, entry *models.QueueEntry) error {
	q := url.Values{}
	q.Set("id", "eq."+entry.ID)

	patch := map[string]interface{}{
		"score":       entry.Score,
		"kills":       entry.Kills,
		"best_streak": entry.BestStreak,
		"attempts":    entry.Attempts,
		"updated_at":  entry.UpdatedAt,
	}
	var rows []models.QueueEntry
	if err := s.do(ctx, http.MethodPatch, "ranked_queue", q, patch, &rows); err != nil {
		return err
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RESTStore) DeleteQueue(ctx context.Context, queueID string) (int64, error) {
	q := url.Values{}
	q.Set("queue_id", "eq."+queueID)

	var rows []models.QueueEntry
	if err := s.do(ctx, http.MethodDelete, "ranked_queue", q, nil, &rows); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (s *RESTStore) InsertHistory(ctx context.Context, rows []models.TournamentHistory) error {
	if len(rows) == 0 {
		return nil
	}
	now := s.now().UTC()
	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = uuid.NewString()
		}
		if rows[i].CreatedAt.IsZero() {
			rows[i].CreatedAt = now
		}
	}
	return s.do(ctx, http.MethodPost, "tournament_history", nil, rows, nil)
}

func (s *RESTStore) ListHistory(ctx context.Context, name string, limit int) ([]models.TournamentHistory, error) {
	q := url.Values{}
	q.Set("player_name", "eq."+name)
	q.Set("order", "created_at.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var rows []models.TournamentHistory
	err := s.do(ctx, http.MethodGet, "tournament_history", q, nil, &rows)
	return rows, err
}

func (s *RESTStore) WithinTx(_ context.Context, fn func(tx Store) error) error {
	return fn(s)
}

func (s *RESTStore) do(ctx context.Context, method, table string, query url.Values, body, out interface{}) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("store rate limiter: %w", err)
	}

	u := fmt.Sprintf("%s/rest/v1/%s", s.BaseURL, table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", table, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", s.ServiceKey)
	req.Header.Set("Authorization", "Bearer "+s.ServiceKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		if resp.StatusCode == http.StatusConflict {
			return &DuplicateError{Table: table, Key: string(msg)}
		}
		return &StatusError{Method: method, Table: table, Status: resp.StatusCode, Body: string(msg)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", table, err)
	}
	return nil
}

// inFilter renders names as a PostgREST in.(...) filter with every value quoted.
func inFilter(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		n = strings.ReplaceAll(n, `\`, `\\`)
		n = strings.ReplaceAll(n, `"`, `\"`)
		quoted[i] = `"` + n + `"`
	}
	return "in.(" + strings.Join(quoted, ",") + ")"
}
