package main

import (
	"os"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/example/pixaccess/internal/config"
	"github.com/example/pixaccess/internal/database"
	"github.com/example/pixaccess/internal/logger"
	"github.com/example/pixaccess/internal/routes"
	"github.com/example/pixaccess/internal/services"
)

func main() {
	log := logger.New(logger.Options{ServiceName: "pixaccess"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	log = logger.New(logger.Options{
		ServiceName: "pixaccess",
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = services.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis url")
		}
		defer redisClient.Close()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app := fiber.New(fiber.Config{
		AppName: "Pix Access",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{Output: os.Stdout}))

	routes.Register(app, routes.Dependencies{
		DB:       db,
		Config:   cfg,
		Redis:    redisClient,
		Registry: registry,
		Logger:   log,
	})

	log.Info().Str("port", cfg.AppPort).Msg("starting server")
	if err := app.Listen(":" + cfg.AppPort); err != nil {
		log.Fatal().Err(err).Msg("fiber.Listen error")
	}
}
