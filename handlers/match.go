// handlers/match.go
package handlers

import (
	"debate-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupMatchRoutes(app *fiber.App, matchService *services.MatchService) {
	app.Post("/start-game", matchService.StartGame)
	app.Post("/game-event", matchService.GameEvent)
	app.Get("/matches/:id", matchService.GetMatch)

	// The two game endpoints are POST-only; everything else gets a 405
	// with the allowed method advertised.
	postOnly := func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return c.SendStatus(fiber.StatusMethodNotAllowed)
	}
	app.All("/start-game", postOnly)
	app.All("/game-event", postOnly)
}
