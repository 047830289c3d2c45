package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"debate-arena/engine"
	"debate-arena/models"
	"debate-arena/store"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNarrator struct {
	opening    string
	openingErr error
	arg        Argument
	argErr     error
	delay      time.Duration
	calls      int32
}

func (s *stubNarrator) Opening(ctx context.Context, characters, agents [2]string) (string, error) {
	return s.opening, s.openingErr
}

func (s *stubNarrator) NextArgument(ctx context.Context, req ArgumentRequest) (Argument, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Argument{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	return s.arg, s.argErr
}

type stubSearcher struct {
	url string
	err error
}

func (s *stubSearcher) SearchImage(ctx context.Context, query string) (string, error) {
	return s.url, s.err
}

func newTestApp(svc *MatchService) *fiber.App {
	app := fiber.New()
	app.Post("/start-game", svc.StartGame)
	app.Post("/game-event", svc.GameEvent)
	app.Get("/matches/:id", svc.GetMatch)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(buf))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func seedMatch(t *testing.T, s store.MatchStore, health models.Health) *models.Match {
	t.Helper()
	match := models.NewMatch("m1", "Pikachu vs Charizard",
		[2]string{"Pikachu", "Charizard"},
		[2]string{"Passionate Pikachu Fan", "Devoted Charizard Fan"})
	match.ChatLog = append(match.ChatLog, models.ChatEntry{
		Agent:   models.SystemAgent,
		Message: "Welcome to the arena!",
	})
	match.Health = health
	require.NoError(t, s.Create(match))
	return match
}

func TestStartGame(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	svc := NewMatchService(matchStore, &stubNarrator{opening: "Let the debate begin!"}, nil)
	app := newTestApp(svc)

	resp := postJSON(t, app, "/start-game", fiber.Map{"characters": []string{"Pikachu", "Charizard"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		MatchID string             `json:"matchId"`
		ChatLog []models.ChatEntry `json:"chatLog"`
		Agents  [2]string          `json:"agents"`
	}
	decodeBody(t, resp, &out)

	assert.NotEmpty(t, out.MatchID)
	assert.NotEqual(t, out.Agents[0], out.Agents[1])
	assert.Contains(t, out.Agents[0], "Pikachu")
	assert.Contains(t, out.Agents[1], "Charizard")

	require.Len(t, out.ChatLog, 1)
	assert.Equal(t, models.SystemAgent, out.ChatLog[0].Agent)
	assert.Equal(t, "Let the debate begin!", out.ChatLog[0].Message)

	stored, err := matchStore.Get(out.MatchID)
	require.NoError(t, err)
	assert.Equal(t, models.Health{Character1: 100, Character2: 100}, stored.Health)
	assert.Equal(t, "Pikachu vs Charizard", stored.Topic)
	assert.Equal(t, "pikachu-vs-charizard", stored.Slug)
}

func TestStartGameValidation(t *testing.T) {
	svc := NewMatchService(store.NewInMemoryMatchStore(), &stubNarrator{}, nil)
	app := newTestApp(svc)

	resp := postJSON(t, app, "/start-game", fiber.Map{"characters": []string{"Pikachu"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartGameNarrationFailure(t *testing.T) {
	svc := NewMatchService(store.NewInMemoryMatchStore(),
		&stubNarrator{openingErr: errors.New("quota exceeded")}, nil)
	app := newTestApp(svc)

	resp := postJSON(t, app, "/start-game", fiber.Map{"characters": []string{"Pikachu", "Charizard"}})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	decodeBody(t, resp, &out)
	assert.NotEmpty(t, out["error"])
}

func TestGameEventNotFound(t *testing.T) {
	svc := NewMatchService(store.NewInMemoryMatchStore(), &stubNarrator{}, nil)
	app := newTestApp(svc)

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": "ghost"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var out map[string]string
	decodeBody(t, resp, &out)
	assert.Equal(t, "Match not found", out["error"])
}

func TestGameEventAdvancesTurn(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "Charizard flies circles around Pikachu.", Rating: 10}}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	// One System entry in the log means agents[1] acts and character1 is hit.
	assert.Equal(t, match.Agents[1], out.NewMessage.Agent)
	assert.Equal(t, "Charizard flies circles around Pikachu.", out.NewMessage.Message)
	assert.Equal(t, 20, out.Damage)
	assert.Equal(t, models.Health{Character1: 80, Character2: 100}, out.Health)
	assert.Nil(t, out.Winner)
	assert.Nil(t, out.ImageURL)

	stored, err := matchStore.Get(match.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatLog, 2)
	assert.Equal(t, models.Health{Character1: 80, Character2: 100}, stored.Health)
}

func TestGameEventIgnoresClientHealth(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "arg", Rating: 10}}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	// A doctored client snapshot must not influence scoring.
	resp := postJSON(t, app, "/game-event", fiber.Map{
		"matchId": match.ID,
		"health":  models.Health{Character1: 1, Character2: 1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)
	assert.Equal(t, models.Health{Character1: 80, Character2: 100}, out.Health)
	assert.Nil(t, out.Winner)
}

func TestGameEventDeclaresWinner(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "the final word", Rating: 10}}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 12, Character2: 100})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	assert.Equal(t, 20, out.Damage)
	assert.Equal(t, 0, out.Health.Character1)
	require.NotNil(t, out.Winner)
	assert.Equal(t, match.Agents[1], *out.Winner)
}

func TestGameEventFinishedMatchIsNotAdvanced(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "should not run", Rating: 10}}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 0, Character2: 55})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	require.NotNil(t, out.Winner)
	assert.Equal(t, match.Agents[1], *out.Winner)
	assert.Zero(t, out.Damage)
	assert.Zero(t, atomic.LoadInt32(&narrator.calls))

	stored, err := matchStore.Get(match.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatLog, 1)
}

func TestGameEventTimeoutSkipsTurn(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{delay: 500 * time.Millisecond, arg: Argument{Message: "late", Rating: 10}}
	svc := NewMatchService(matchStore, narrator, nil)
	svc.turnBudget = 20 * time.Millisecond
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 70, Character2: 70})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	assert.Equal(t, engine.SkipMessage, out.NewMessage.Message)
	assert.Equal(t, match.Agents[1], out.NewMessage.Agent)
	assert.Zero(t, out.Damage)
	assert.Equal(t, models.Health{Character1: 70, Character2: 70}, out.Health)
	assert.Nil(t, out.Winner)

	// The skip still consumed a turn slot.
	stored, err := matchStore.Get(match.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatLog, 2)
}

func TestGameEventUpstreamFailure(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{argErr: errors.New("groq: status 503")}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out map[string]string
	decodeBody(t, resp, &out)
	assert.NotEmpty(t, out["error"])
	assert.Contains(t, out["details"], "503")
}

func TestGameEventResolvesImage(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "Watch this.", Rating: 8, ImageHint: "seismic toss"}}
	searcher := &stubSearcher{url: "https://img.example/toss.png"}
	svc := NewMatchService(matchStore, narrator, searcher)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	require.NotNil(t, out.ImageURL)
	assert.Equal(t, "https://img.example/toss.png", *out.ImageURL)
	assert.True(t, strings.HasSuffix(out.NewMessage.Message, "[Image: https://img.example/toss.png]"))
}

func TestGameEventDropsFailedImageLookup(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{arg: Argument{Message: "No props needed.", Rating: 6, ImageHint: "dramatic pose"}}
	searcher := &stubSearcher{err: errors.New("tavily: status 500")}
	svc := NewMatchService(matchStore, narrator, searcher)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out gameEventResponse
	decodeBody(t, resp, &out)

	assert.Nil(t, out.ImageURL)
	assert.Equal(t, "No props needed.", out.NewMessage.Message)
}

func TestConcurrentAdvancesAreSerialized(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	narrator := &stubNarrator{delay: 150 * time.Millisecond, arg: Argument{Message: "slow burn", Rating: 5}}
	svc := NewMatchService(matchStore, narrator, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	var wg sync.WaitGroup
	results := make([]gameEventResponse, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := postJSON(t, app, "/game-event", fiber.Map{"matchId": match.ID, "health": match.Health})
			require.Equal(t, http.StatusOK, resp.StatusCode)
			decodeBody(t, resp, &results[i])
		}(i)
	}
	wg.Wait()

	// Both callers shared one flight: one narration, one appended entry.
	assert.Equal(t, int32(1), atomic.LoadInt32(&narrator.calls))
	stored, err := matchStore.Get(match.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ChatLog, 2)
	assert.Equal(t, results[0].Health, results[1].Health)
}

func TestGetMatch(t *testing.T) {
	matchStore := store.NewInMemoryMatchStore()
	svc := NewMatchService(matchStore, &stubNarrator{}, nil)
	app := newTestApp(svc)

	match := seedMatch(t, matchStore, models.Health{Character1: 100, Character2: 100})

	req := httptest.NewRequest(http.MethodGet, "/matches/"+match.ID, nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out models.Match
	decodeBody(t, resp, &out)
	assert.Equal(t, match.ID, out.ID)
	assert.Equal(t, match.Agents, out.Agents)

	req = httptest.NewRequest(http.MethodGet, "/matches/ghost", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGenerateAgentName(t *testing.T) {
	for i := 0; i < 10; i++ {
		name := generateAgentName("pikachu")
		assert.Contains(t, name, "Pikachu")
		assert.True(t, strings.HasSuffix(name, " Fan"))
	}
}

func TestRecentHistorySkipsSystemEntries(t *testing.T) {
	log := []models.ChatEntry{
		{Agent: models.SystemAgent, Message: "intro"},
		{Agent: "A", Message: "one"},
		{Agent: "B", Message: "two"},
		{Agent: "A", Message: "three"},
	}
	recent := recentHistory(log, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "two", recent[0].Message)
	assert.Equal(t, "three", recent[1].Message)
}
