package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"debate-arena/handlers"
	"debate-arena/services"
	"debate-arena/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Warn("No .env file found, reading environment variables directly")
	}

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	groqAPIKey := os.Getenv("GROQ_API_KEY")
	if groqAPIKey == "" {
		logrus.Fatal("GROQ_API_KEY environment variable not set")
	}

	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	// Load allowed origins from environment variable
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		logrus.Warn("ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOrigins = "http://localhost:3000"
	}
	origins := strings.Split(allowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	narrator := services.NewGroqNarrator(groqAPIKey, os.Getenv("GROQ_MODEL"))

	var images services.ImageSearcher
	if tavilyAPIKey := os.Getenv("TAVILY_API_KEY"); tavilyAPIKey != "" {
		images = services.NewTavilyClient(tavilyAPIKey)
	} else {
		logrus.Warn("TAVILY_API_KEY not set, image lookups disabled")
	}

	matchStore := store.NewInMemoryMatchStore()
	matchService := services.NewMatchService(matchStore, narrator, images)
	matchService.StartStatsScheduler()

	handlers.SetupMatchRoutes(app, matchService)

	port := os.Getenv("PORT")
	if port == "" {
		port = "5200"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(":" + port); err != nil {
			logrus.WithError(err).Error("server error")
		}
	}()

	logrus.Infof("Server running on http://localhost:%s", port)

	<-ctx.Done()
	logrus.Info("Shutting down server...")
	_ = app.ShutdownWithTimeout(5 * time.Second)
}
