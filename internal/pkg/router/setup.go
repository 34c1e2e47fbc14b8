package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/quiniela360/backend/app/controllers"
	"github.com/quiniela360/backend/internal/pkg/constants"
	"github.com/quiniela360/backend/internal/pkg/database"
	"github.com/quiniela360/backend/internal/pkg/gateway"
	"github.com/quiniela360/backend/internal/pkg/settlement"
)

// InstallRouter wires all HTTP routes with their dependencies constructed
// once at startup.
func InstallRouter(app *fiber.App) {
	client := gateway.NewClientFromEnv()
	svc := settlement.NewServiceFromDB(database.GetDB())

	InstallRouterWith(app, client, svc)
}

// InstallRouterWith registers routes against injected collaborators; tests
// use it to swap in stub gateways and in-memory repositories.
func InstallRouterWith(app *fiber.App, client *gateway.Client, svc *settlement.Service) {
	checkout := controllers.NewCheckoutController(client, svc.Repo())
	webhook := controllers.NewWebhookControllerFromEnv(client, svc)

	app.Get(constants.HealthRoute, controllers.HandleHealth)

	// The checkout endpoint is browser-facing and rate limited; the webhook
	// endpoint is provider-facing and must never be throttled into retry
	// storms.
	app.Post(constants.CreatePreferenceRoute, limiter.New(), checkout.HandleCreatePreference)
	app.Post(constants.WebhookRoute, webhook.HandleWebhook)
}
