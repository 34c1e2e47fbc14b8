package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/quiniela360/backend/internal/pkg/cache"
	"github.com/quiniela360/backend/internal/pkg/constants"
	"github.com/quiniela360/backend/internal/pkg/database"
	"github.com/quiniela360/backend/internal/pkg/env"
	"github.com/quiniela360/backend/internal/pkg/router"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "3000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	app := fiber.New(fiber.Config{
		AppName: "quiniela360-backend",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// the checkout form is served from the static frontend origin
	app.Use(cors.New(cors.Config{
		AllowOrigins: env.GetEnv("CORS_ALLOW_ORIGINS", "*"),
		AllowMethods: "GET,POST,OPTIONS",
	}))

	// fiber metrics
	app.Get(constants.MetricsRoute, monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app
}
