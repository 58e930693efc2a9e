package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ranked-queue-service/config"
	"ranked-queue-service/middleware"
	"ranked-queue-service/models"
	"ranked-queue-service/services"
	"ranked-queue-service/store"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassword = "hunter22"
	testToken    = "ops-token"
)

type testServer struct {
	app   *fiber.App
	st    *store.MemoryStore
	clock *clockwork.FakeClock
}

func newTestServer(t *testing.T, players ...string) *testServer {
	t.Helper()
	verifier, err := services.NewCredentialVerifier("handler-secret")
	require.NoError(t, err)

	st := store.NewMemoryStore()
	for _, p := range players {
		blob, err := verifier.Seal(testPassword)
		require.NoError(t, err)
		st.PutProfile(models.PlayerProfile{PlayerName: p, PasswordHash: blob})
	}

	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	svc := services.NewRankedService(st, verifier, config.DefaultRules(),
		services.WithClock(clock),
		services.WithLogger(logger),
		services.WithMetrics(services.NewMetrics(reg)),
	)

	app := fiber.New()
	SetupOpsRoutes(app, reg)
	SetupRankedRoutes(app, &RankedHandler{Service: svc, Logger: logger}, middleware.ServiceTokenMiddleware(testToken))
	return &testServer{app: app, st: st, clock: clock}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (s *testServer) submit(t *testing.T, name string, score int) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"playerName": name, "password": testPassword, "score": score, "kills": 3})
	require.NoError(t, err)
	return s.do(t, "POST", "/api/ranked/submit", string(body))
}

func TestSubmitRejectsOtherMethods(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/ranked/submit", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Allow"), "POST")
}

func TestSubmitValidation(t *testing.T) {
	s := newTestServer(t, "ace")

	tests := map[string]struct {
		body  string
		field string
	}{
		"invalid json":     {body: `{"playerName":`, field: "body"},
		"missing name":     {body: `{"password":"hunter22","score":1}`, field: "playerName"},
		"blank name":       {body: `{"playerName":"   ","password":"hunter22","score":1}`, field: "playerName"},
		"short password":   {body: `{"playerName":"ace","password":"abc","score":1}`, field: "password"},
		"missing score":    {body: `{"playerName":"ace","password":"hunter22"}`, field: "score"},
		"negative score":   {body: `{"playerName":"ace","password":"hunter22","score":-5}`, field: "score"},
		"non-numeric":      {body: `{"playerName":"ace","password":"hunter22","score":"lots"}`, field: "score"},
		"bad kills":        {body: `{"playerName":"ace","password":"hunter22","score":1,"kills":"x"}`, field: "kills"},
		"negative streaks": {body: `{"playerName":"ace","password":"hunter22","score":1,"bestStreak":-1}`, field: "bestStreak"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			status, body := s.do(t, "POST", "/api/ranked/submit", tc.body)
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.True(t, strings.HasPrefix(body["error"].(string), tc.field+":"), body["error"])
		})
	}
	assert.Empty(t, s.st.History())
}

func TestSubmitCredentialFailures(t *testing.T) {
	s := newTestServer(t, "ace")

	status, body := s.do(t, "POST", "/api/ranked/submit",
		`{"playerName":"`+gofakeit.Username()+`-missing","password":"hunter22","score":10}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, true, body["notFound"])

	status, body = s.do(t, "POST", "/api/ranked/submit", `{"playerName":"ace","password":"wrong-pass","score":10}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, true, body["wrongPassword"])
}

func TestSubmitQueuedAcceptsNumericStrings(t *testing.T) {
	s := newTestServer(t, "ace")

	status, body := s.do(t, "POST", "/api/ranked/submit",
		`{"playerName":"ace","password":"hunter22","score":"1250.9","kills":"4"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, float64(1250), body["bestScore"])
	assert.Equal(t, float64(4), body["attemptsRemaining"])
	assert.Equal(t, float64(1), body["playersNeeded"])
	assert.NotEmpty(t, body["queueId"])

	status, body = s.do(t, "GET", "/api/ranked/queue/ace", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["queued"])
	assert.Equal(t, float64(1), body["attempts"])
}

func TestSubmitResolvesOverHTTP(t *testing.T) {
	s := newTestServer(t, "ace", "bob")

	status, _ := s.submit(t, "ace", 500)
	require.Equal(t, fiber.StatusOK, status)

	var body map[string]any
	for i := range 5 {
		status, body = s.submit(t, "bob", 300)
		require.Equal(t, fiber.StatusOK, status)
		if i < 4 {
			require.Equal(t, "queued", body["status"])
		}
	}

	assert.Equal(t, "resolved", body["status"])
	assert.Equal(t, float64(2), body["placement"])
	assert.Equal(t, float64(-12), body["eloChange"])
	assert.Equal(t, float64(2), body["playerCount"])
	assert.NotContains(t, body, "banRoll")
	results := body["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, "ace", results[0].(map[string]any)["playerName"])

	status, body = s.do(t, "GET", "/api/ranked/elo/ace", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1020), body["eloRating"])
	assert.Equal(t, float64(1), body["wins"])

	status, body = s.do(t, "GET", "/api/ranked/history/bob?limit=5", "")
	require.Equal(t, fiber.StatusOK, status)
	history := body["history"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, "ace", history[0].(map[string]any)["opponentName"])

	status, _ = s.do(t, "GET", "/api/ranked/queue/ace", "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestSubmitCancelledOverHTTP(t *testing.T) {
	s := newTestServer(t, "ace")
	s.submit(t, "ace", 100)
	s.clock.Advance(61 * time.Minute)

	status, body := s.submit(t, "ace", 50)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "cancelled", body["status"])
	assert.Equal(t, true, body["queueCancelled"])
	assert.Equal(t, float64(100), body["bestScore"])
}

func TestSubmitAttemptsExhaustedOverHTTP(t *testing.T) {
	s := newTestServer(t, "ace")
	for range 5 {
		status, _ := s.submit(t, "ace", 10)
		require.Equal(t, fiber.StatusOK, status)
	}

	status, body := s.submit(t, "ace", 999)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, float64(10), body["bestScore"])
	assert.Equal(t, float64(5), body["attempts"])
}

func TestSubmitWithoutService(t *testing.T) {
	app := fiber.New()
	SetupRankedRoutes(app, &RankedHandler{}, middleware.ServiceTokenMiddleware(testToken))

	req := httptest.NewRequest("POST", "/api/ranked/submit", strings.NewReader(`{}`))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestLookupsForUnknownPlayer(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/api/ranked/elo/nobody", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1000), body["eloRating"])
	assert.Equal(t, float64(0), body["gamesPlayed"])

	status, body = s.do(t, "GET", "/api/ranked/history/nobody", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Empty(t, body["history"])
}

func TestAdminSweep(t *testing.T) {
	s := newTestServer(t, "ace")
	s.submit(t, "ace", 100)
	s.clock.Advance(2 * time.Hour)

	status, _ := s.do(t, "POST", "/admin/ranked/sweep", "")
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := s.do(t, "POST", "/admin/ranked/sweep", "", "Authorization", "Bearer "+testToken)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), body["checked"])
	assert.Equal(t, float64(1), body["cancelled"])
}

func TestOpsRoutes(t *testing.T) {
	s := newTestServer(t, "ace")
	s.submit(t, "ace", 100)

	status, body := s.do(t, "GET", "/healthz", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body["status"])

	resp, err := s.app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "ranked_submissions_total")
}
