package routes

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/handlers"
	"github.com/Ananth-NQI/glamping-leads/internal/middleware"
)

// Options wires handlers and secrets into the route table.
type Options struct {
	Version string

	WhatsApp *handlers.WhatsAppHandler
	Sessions *handlers.SessionHandler
	Health   *handlers.HealthHandler

	AppSecret         string
	TwilioAuthToken   string
	DisableValidation bool
	AdminAPIKey       string
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, opts Options) {
	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Glamping Leads WhatsApp service",
			"version": opts.Version,
			"endpoints": fiber.Map{
				"health":  "/health",
				"webhook": "/webhook",
				"twilio":  "/webhook/twilio",
				"api":     "/api",
			},
		})
	})

	app.Get("/health", opts.Health.Check)

	// ========== WEBHOOK ROUTES ==========
	app.Get("/webhook", opts.WhatsApp.Verify)
	app.Post("/webhook", middleware.ValidateMetaSignature(opts.AppSecret, opts.DisableValidation), opts.WhatsApp.HandleWebhook)
	app.Post("/webhook/twilio", middleware.ValidateTwilioSignature(opts.TwilioAuthToken, opts.DisableValidation), opts.WhatsApp.HandleTwilioWebhook)

	// ========== ADMIN ROUTES ==========
	if opts.AdminAPIKey == "" {
		log.Println("⚠️  ADMIN_API_KEY not set - /api routes disabled")
		return
	}
	api := app.Group("/api", middleware.AdminAuth(opts.AdminAPIKey))
	api.Post("/sessions/:phone/seed", opts.Sessions.Seed)
	api.Get("/leads", opts.Sessions.ListLeads)
}
