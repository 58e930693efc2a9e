package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"

	"ranked-queue-service/services"
	"ranked-queue-service/store"

	"github.com/gofiber/fiber/v2"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ValidationError is a 400 caused by the request body.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type RankedHandler struct {
	Service *services.RankedService
	Logger  *slog.Logger
}

func SetupRankedRoutes(app *fiber.App, h *RankedHandler, admin fiber.Handler) {
	// 🎮 Public ranked API
	api := app.Group("/api/ranked")
	api.Post("/submit", h.Submit)
	api.All("/submit", methodNotAllowed)
	api.Get("/elo/:player", h.GetElo)
	api.Get("/history/:player", h.GetHistory)
	api.Get("/queue/:player", h.GetQueue)

	// 🔐 Service-token routes
	adminGroup := app.Group("/admin/ranked", admin)
	adminGroup.Post("/sweep", h.Sweep)
}

// --- request parsing ---

type submitBody struct {
	PlayerName string          `json:"playerName"`
	Password   string          `json:"password"`
	Score      json.RawMessage `json:"score"`
	Kills      json.RawMessage `json:"kills"`
	BestStreak json.RawMessage `json:"bestStreak"`
}

func (h *RankedHandler) parseSubmit(c *fiber.Ctx) (services.SubmitRequest, error) {
	var body submitBody
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return services.SubmitRequest{}, &ValidationError{Field: "body", Message: "invalid JSON"}
	}

	req := services.SubmitRequest{
		PlayerName: services.NormalizePlayerName(body.PlayerName),
		Password:   body.Password,
	}
	if req.PlayerName == "" {
		return req, &ValidationError{Field: "playerName", Message: "player name is required"}
	}
	if minLen := h.Service.Rules.MinPasswordLength; len(req.Password) < minLen {
		return req, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minLen)}
	}

	var err error
	if req.Score, err = parseCount("score", body.Score, true); err != nil {
		return req, err
	}
	if req.Kills, err = parseCount("kills", body.Kills, false); err != nil {
		return req, err
	}
	if req.BestStreak, err = parseCount("bestStreak", body.BestStreak, false); err != nil {
		return req, err
	}
	return req, nil
}

// parseCount accepts a non-negative JSON number or numeric string. Fractions are floored.
func parseCount(field string, raw json.RawMessage, required bool) (int64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		if required {
			return 0, &ValidationError{Field: field, Message: "is required"}
		}
		return 0, nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field, Message: "must be a number"}
	}
	if v < 0 {
		return 0, &ValidationError{Field: field, Message: "must not be negative"}
	}
	if v > math.MaxInt64/2 {
		return 0, &ValidationError{Field: field, Message: "is too large"}
	}
	return int64(math.Floor(v)), nil
}

// --- handlers ---

func (h *RankedHandler) Submit(c *fiber.Ctx) error {
	if h == nil || h.Service == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "ranked service is not configured",
		})
	}

	req, err := h.parseSubmit(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	outcome, err := h.Service.Submit(c.UserContext(), req)
	if err != nil {
		return h.submitError(c, req.PlayerName, err)
	}

	switch o := outcome.(type) {
	case *services.QueuedOutcome:
		return c.JSON(fiber.Map{
			"success":           true,
			"status":            o.Status(),
			"queueId":           o.QueueID,
			"attempts":          o.Attempts,
			"attemptsRemaining": o.AttemptsRemaining,
			"maxAttempts":       h.Service.Rules.MaxAttempts,
			"bestScore":         o.BestScore,
			"submittedScore":    o.SubmittedScore,
			"improved":          o.Improved,
			"playersInQueue":    o.PlayersInQueue,
			"playersNeeded":     o.PlayersNeeded,
			"deadlineAt":        o.DeadlineAt,
			"message":           queuedMessage(o),
		})

	case *services.ResolvedOutcome:
		results := make([]fiber.Map, 0, len(o.Tournament.Results))
		for _, r := range o.Tournament.Results {
			results = append(results, fiber.Map{
				"playerName": r.PlayerName,
				"placement":  r.Placement,
				"score":      r.Score,
				"eloBefore":  r.EloBefore,
				"eloAfter":   r.EloAfter,
				"eloChange":  r.EloChange,
			})
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"status":       o.Status(),
			"tournamentId": o.Tournament.TournamentID,
			"placement":    o.Player.Placement,
			"score":        o.Player.Score,
			"eloBefore":    o.Player.EloBefore,
			"eloAfter":     o.Player.EloAfter,
			"eloChange":    o.Player.EloChange,
			"playerCount":  len(o.Tournament.Results),
			"results":      results,
		})

	case *services.CancelledOutcome:
		return c.JSON(fiber.Map{
			"success":        true,
			"status":         o.Status(),
			"queueCancelled": true,
			"playersNeeded":  o.PlayersNeeded,
			"bestScore":      o.BestScore,
			"message":        fmt.Sprintf("Not enough players joined in time. %d more player(s) needed.", o.PlayersNeeded),
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fmt.Sprintf("unexpected outcome %T", outcome),
	})
}

func (h *RankedHandler) submitError(c *fiber.Ctx, player string, err error) error {
	var exhausted *services.AttemptsExhaustedError
	switch {
	case errors.Is(err, services.ErrPlayerNotFound):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":    "player not found",
			"notFound": true,
		})
	case errors.Is(err, services.ErrWrongPassword):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":         "incorrect password",
			"wrongPassword": true,
		})
	case errors.As(err, &exhausted):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":     "maximum attempts reached",
			"attempts":  exhausted.Attempts,
			"bestScore": exhausted.BestScore,
			"message":   "Wait for the current tournament to resolve before submitting again.",
		})
	case errors.Is(err, services.ErrQueueAlreadyResolved):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "queue was resolved by another submission, check your history",
		})
	}

	h.logger().Error("[RANKED] submission failed", "player", player, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func (h *RankedHandler) GetElo(c *fiber.Ctx) error {
	player, err := playerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rec, err := h.Service.LookupElo(c.UserContext(), player)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"playerName":               rec.PlayerName,
		"eloRating":                rec.EloRating,
		"gamesPlayed":              rec.GamesPlayed,
		"wins":                     rec.Wins,
		"consecutiveOpponentCount": rec.ConsecutiveOpponentCount,
	})
}

func (h *RankedHandler) GetHistory(c *fiber.Ctx) error {
	player, err := playerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}

	rows, err := h.Service.History(c.UserContext(), player, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	out := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		item := fiber.Map{
			"tournamentId": r.TournamentID,
			"placement":    r.Placement,
			"playerCount":  r.PlayerCount,
			"score":        r.Score,
			"eloBefore":    r.EloBefore,
			"eloAfter":     r.EloAfter,
			"eloChange":    r.EloChange,
			"createdAt":    r.CreatedAt,
		}
		if r.OpponentName != nil {
			item["opponentName"] = *r.OpponentName
		}
		if r.OpponentScore != nil {
			item["opponentScore"] = *r.OpponentScore
		}
		out = append(out, item)
	}
	return c.JSON(fiber.Map{"playerName": player, "history": out})
}

func (h *RankedHandler) GetQueue(c *fiber.Ctx) error {
	player, err := playerParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	status, err := h.Service.QueueStatus(c.UserContext(), player)
	if errors.Is(err, services.ErrNotQueued) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "player is not queued", "queued": false})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"queued":            true,
		"queueId":           status.QueueID,
		"attempts":          status.Attempts,
		"attemptsRemaining": status.AttemptsRemaining,
		"bestScore":         status.BestScore,
		"playersInQueue":    status.PlayersInQueue,
		"playersNeeded":     status.PlayersNeeded,
		"deadlineAt":        status.DeadlineAt,
	})
}

func (h *RankedHandler) Sweep(c *fiber.Ctx) error {
	report, err := h.Service.SweepStaleQueues(c.UserContext())
	if err != nil {
		status := fiber.StatusInternalServerError
		var se *store.StatusError
		if errors.As(err, &se) {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "report": report})
	}
	return c.JSON(report)
}

func methodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, "POST, OPTIONS")
	return c.Status(fiber.StatusMethodNotAllowed).JSON(fiber.Map{"error": "method not allowed"})
}

func playerParam(c *fiber.Ctx) (string, error) {
	raw, err := url.PathUnescape(c.Params("player"))
	if err != nil {
		return "", &ValidationError{Field: "player", Message: "invalid encoding"}
	}
	name := services.NormalizePlayerName(raw)
	if name == "" {
		return "", &ValidationError{Field: "player", Message: "player name is required"}
	}
	return name, nil
}

func queuedMessage(o *services.QueuedOutcome) string {
	if o.PlayersNeeded > 0 {
		return fmt.Sprintf("Score submitted. Waiting for %d more player(s).", o.PlayersNeeded)
	}
	if o.AttemptsRemaining == 0 {
		return "All attempts used. Waiting for opponents to finish."
	}
	return fmt.Sprintf("Score submitted. %d attempt(s) remaining.", o.AttemptsRemaining)
}

func (h *RankedHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
