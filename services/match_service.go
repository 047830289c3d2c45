package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"debate-arena/engine"
	"debate-arena/models"
	"debate-arena/store"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Wall-clock budget for one narration + judging round trip. A turn that
// misses it is recorded as skipped.
const defaultTurnBudget = 35 * time.Second

// Image lookups are best effort and get a short budget of their own.
const imageBudget = 10 * time.Second

var fanPrefixes = []string{"Passionate", "Devoted", "Dedicated", "Loyal", "Fervent"}

// MatchService owns the two match operations: starting a match and advancing
// it one turn. It wires the store, the narrator, and the image searcher
// together and shapes the HTTP responses.
type MatchService struct {
	Store    store.MatchStore
	narrator Narrator
	images   ImageSearcher // nil disables image lookups

	// advances serializes turn progression per match id: concurrent
	// /game-event calls for one match collapse into a single in-flight
	// read-narrate-resolve-write sequence and share its result.
	advances   singleflight.Group
	turnBudget time.Duration
}

func NewMatchService(matchStore store.MatchStore, narrator Narrator, images ImageSearcher) *MatchService {
	return &MatchService{
		Store:      matchStore,
		narrator:   narrator,
		images:     images,
		turnBudget: defaultTurnBudget,
	}
}

type startGameRequest struct {
	Characters []string `json:"characters"`
}

type startGameResponse struct {
	MatchID string             `json:"matchId"`
	ChatLog []models.ChatEntry `json:"chatLog"`
	Agents  [2]string          `json:"agents"`
}

type gameEventRequest struct {
	MatchID string `json:"matchId"`
	// Health is the client's display snapshot. The stored record is
	// authoritative; this field is never trusted for scoring.
	Health models.Health `json:"health"`
}

type gameEventResponse struct {
	NewMessage models.ChatEntry `json:"newMessage"`
	Health     models.Health    `json:"health"`
	Winner     *string          `json:"winner"`
	Damage     int              `json:"damage"`
	ImageURL   *string          `json:"imageUrl"`
}

// StartGame creates a match between two named characters: generates the fan
// display names, asks the narrator for the opening, and stores the match at
// full health with the opening as a System chat entry.
func (s *MatchService) StartGame(c *fiber.Ctx) error {
	var req startGameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Characters) != 2 || req.Characters[0] == "" || req.Characters[1] == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "two characters are required"})
	}

	characters := [2]string{req.Characters[0], req.Characters[1]}
	agents := [2]string{generateAgentName(characters[0]), generateAgentName(characters[1])}
	topic := fmt.Sprintf("%s vs %s", characters[0], characters[1])

	opening, err := s.narrator.Opening(c.UserContext(), characters, agents)
	if err != nil {
		logrus.WithError(err).Error("Error starting the match")
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "An error occurred while starting the match"})
	}

	match := models.NewMatch(uuid.NewString(), topic, characters, agents)
	match.ChatLog = append(match.ChatLog, models.ChatEntry{Agent: models.SystemAgent, Message: opening})

	if err := s.Store.Create(match); err != nil {
		logrus.WithError(err).WithField("match_id", match.ID).Error("failed to store match")
		return c.Status(fiber.StatusInternalServerError).
			JSON(fiber.Map{"error": "An error occurred while starting the match"})
	}

	logrus.WithFields(logrus.Fields{
		"match_id": match.ID,
		"slug":     match.Slug,
	}).Info("match started")

	return c.JSON(startGameResponse{
		MatchID: match.ID,
		ChatLog: match.ChatLog,
		Agents:  match.Agents,
	})
}

// GameEvent advances a match by exactly one turn.
func (s *MatchService) GameEvent(c *fiber.Ctx) error {
	var req gameEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	res, err, _ := s.advances.Do(req.MatchID, func() (interface{}, error) {
		return s.advanceTurn(req.MatchID)
	})
	if err != nil {
		if errors.Is(err, store.ErrMatchNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
		}
		logrus.WithError(err).WithField("match_id", req.MatchID).Error("Error processing game event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "An error occurred while processing the game event",
			"details": err.Error(),
		})
	}
	return c.JSON(res.(*gameEventResponse))
}

// GetMatch returns the full match record.
func (s *MatchService) GetMatch(c *fiber.Ctx) error {
	match, err := s.Store.Get(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Match not found"})
	}
	return c.JSON(match)
}

// advanceTurn runs the read-narrate-resolve-write sequence for one turn. It
// deliberately runs on its own context so an abandoned caller cannot cancel
// a flight shared with another request.
func (s *MatchService) advanceTurn(matchID string) (*gameEventResponse, error) {
	match, err := s.Store.Get(matchID)
	if err != nil {
		return nil, err
	}

	// A finished match is never advanced again; hand the verdict back to
	// late pollers instead of dealing damage past zero.
	if winner := engine.Winner(match.Agents, match.Health); winner != "" {
		resp := &gameEventResponse{Health: match.Health, Winner: &winner}
		if n := len(match.ChatLog); n > 0 {
			resp.NewMessage = match.ChatLog[n-1]
		}
		return resp, nil
	}

	acting := engine.TurnIndex(len(match.ChatLog), len(match.Agents))
	target := engine.TargetIndex(acting, len(match.Agents))

	ctx, cancel := context.WithTimeout(context.Background(), s.turnBudget)
	defer cancel()

	outcome, imageURL, err := s.narrateTurn(ctx, match, acting, target)
	if err != nil {
		return nil, err
	}

	result := engine.Resolve(match.Agents, match.Health, acting, outcome)
	match.ChatLog = append(match.ChatLog, result.Entry)
	match.Health = result.Health

	if err := s.Store.Update(match); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"match_id": match.ID,
		"agent":    result.Entry.Agent,
		"damage":   result.Damage,
		"skipped":  outcome.Skipped,
	}
	if result.Winner != "" {
		fields["winner"] = result.Winner
	}
	logrus.WithFields(fields).Info("turn resolved")

	resp := &gameEventResponse{
		NewMessage: result.Entry,
		Health:     result.Health,
		Damage:     result.Damage,
	}
	if result.Winner != "" {
		winner := result.Winner
		resp.Winner = &winner
	}
	if imageURL != "" {
		resp.ImageURL = &imageURL
	}
	return resp, nil
}

// narrateTurn asks the narrator for the acting agent's argument and resolves
// an attached image suggestion. A narration that misses the turn budget
// comes back as a skipped outcome; image failures drop the suggestion
// silently.
func (s *MatchService) narrateTurn(ctx context.Context, match *models.Match, acting, target int) (engine.Outcome, string, error) {
	arg, err := s.narrator.NextArgument(ctx, ArgumentRequest{
		Acting:    match.Agents[acting],
		Target:    match.Agents[target],
		Character: match.Characters[acting],
		History:   recentHistory(match.ChatLog, 2),
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.Outcome{Skipped: true}, "", nil
	}
	if err != nil {
		return engine.Outcome{}, "", err
	}

	message := arg.Message
	imageURL := ""
	if arg.ImageHint != "" && s.images != nil {
		imgCtx, cancel := context.WithTimeout(context.Background(), imageBudget)
		defer cancel()
		url, err := s.images.SearchImage(imgCtx, match.Characters[acting]+" "+arg.ImageHint)
		if err != nil {
			logrus.WithError(err).WithField("match_id", match.ID).Debug("image lookup failed")
		} else if url != "" {
			imageURL = url
			message += fmt.Sprintf(" [Image: %s]", url)
		}
	}

	return engine.Outcome{Message: message, Rating: arg.Rating}, imageURL, nil
}

// recentHistory returns the last n non-system chat entries in log order.
func recentHistory(log []models.ChatEntry, n int) []models.ChatEntry {
	var recent []models.ChatEntry
	for _, entry := range log {
		if entry.Agent != models.SystemAgent {
			recent = append(recent, entry)
		}
	}
	if len(recent) > n {
		recent = recent[len(recent)-n:]
	}
	return recent
}

// generateAgentName turns a character name into a fan display name, e.g.
// "Devoted Pikachu Fan".
func generateAgentName(character string) string {
	prefix := fanPrefixes[rand.Intn(len(fanPrefixes))]
	return fmt.Sprintf("%s %s Fan", prefix, cases.Title(language.English).String(character))
}
