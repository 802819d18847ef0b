package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/Ananth-NQI/glamping-leads/database"
	"github.com/Ananth-NQI/glamping-leads/internal/config"
	"github.com/Ananth-NQI/glamping-leads/internal/handlers"
	"github.com/Ananth-NQI/glamping-leads/internal/jobs"
	"github.com/Ananth-NQI/glamping-leads/internal/routes"
	"github.com/Ananth-NQI/glamping-leads/internal/services"
	"github.com/Ananth-NQI/glamping-leads/internal/storage"
	"github.com/Ananth-NQI/glamping-leads/internal/telemetry"
)

const version = "1.0.0"

// store is what the service needs from a storage backend.
type store interface {
	storage.SessionStore
	storage.LeadStore
	storage.LeadLister
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration:", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "glamping-leads",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})

	// Initialize storage
	storeOpts := storage.Options{StateTTL: cfg.StateTTL(), LeadDedupWindow: cfg.LeadDedupWindow()}
	var st store
	var ping func() error
	storageType := "memory"

	if cfg.UseMemoryStore {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		st = storage.NewMemoryStore(storeOpts)
	} else {
		log.Printf("📦 Connecting to %s database...", cfg.DBDriver)
		db, err := database.Connect(cfg.DBDriver, cfg.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}

		log.Println("🔄 Running database migrations...")
		if err := database.Migrate(db); err != nil {
			log.Fatal(err)
		}
		log.Println("✅ Database migrations completed!")

		st = storage.NewDatabaseStore(db, storeOpts)
		ping = func() error { return database.Ping(db) }
		storageType = cfg.DBDriver
	}

	transport, err := newTransport(cfg)
	if err != nil {
		log.Fatal("Failed to initialize WhatsApp transport:", err)
	}
	transport = services.NewRateLimitedTransport(transport, cfg.OutboundRatePerSecond, cfg.OutboundBurst)

	retries := services.NewRetryQueue(transport, services.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		Initial:     cfg.RetryInitial(),
		Max:         cfg.RetryMax(),
		Capacity:    cfg.RetryQueueSize,
		SendTimeout: cfg.OutboundTimeout(),
	})
	go retries.Run(ctx, time.Second)

	processor := services.NewProcessor(services.ProcessorDeps{
		Sessions: st,
		Leads:    st,
		Dialogue: services.NewDialogue(services.DialogueConfig{
			MaxReprompts:       cfg.MaxReprompts,
			Location:           cfg.Location(),
			RequireProperty:    cfg.RequireProperty,
			TemplateLanguage:   cfg.TemplateLanguage,
			HandoffTemplate:    cfg.HandoffTemplate,
			CompletionTemplate: cfg.CompletionTemplate,
		}),
		Transport: transport,
		Retries:   retries,
		Dedup:     services.NewDedupCache(cfg.DedupCacheSize, cfg.DedupWindow()),
	}, services.ProcessorConfig{
		StoreTimeout:    cfg.StoreTimeout(),
		OutboundTimeout: cfg.OutboundTimeout(),
		HandlerDeadline: cfg.HandlerDeadline(),
	})

	reaper, err := jobs.NewReaper(st, retries, cfg.StateTTL(), cfg.ReaperSchedule)
	if err != nil {
		log.Fatal(err)
	}
	reaper.Start()

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName:           "Glamping Leads v" + version,
		EnablePrintRoutes: cfg.IsDevelopment(),
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Admin-Key",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	routes.SetupRoutes(app, routes.Options{
		Version:  version,
		WhatsApp: handlers.NewWhatsAppHandler(processor, cfg.WebhookVerifyToken),
		Sessions: handlers.NewSessionHandler(processor, st),
		Health: &handlers.HealthHandler{
			Version:  version,
			Storage:  storageType,
			Provider: cfg.Provider,
			Ping:     ping,
			Stats:    processor.Stats,
		},
		AppSecret:         cfg.AppSecret,
		TwilioAuthToken:   cfg.TwilioAuthToken,
		DisableValidation: cfg.DisableWebhookValidation,
		AdminAPIKey:       cfg.AdminAPIKey,
	})

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping reaper...")
		reaper.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
		cancel()
		if n := retries.Len(); n > 0 {
			log.Printf("⚠️  %d outbound messages still queued at shutdown", n)
		}
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Printf("⚠️  Tracer shutdown: %v", err)
		}
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 Glamping Leads starting on port %s", cfg.Port)
	log.Printf("📊 Storage: %s", storageType)
	log.Printf("🌍 Environment: %s", cfg.Environment)
	log.Printf("📱 WhatsApp: %s", cfg.Provider)
	log.Printf("🕐 Timezone: %s, session TTL %s", cfg.Location(), cfg.StateTTL())
	if cfg.DisableWebhookValidation {
		log.Println("⚠️  Webhook signature validation DISABLED")
	}
	log.Println("========================================")

	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal(err)
	}
}

// newTransport builds the outbound transport for WHATSAPP_PROVIDER.
func newTransport(cfg *config.Config) (services.Transport, error) {
	switch cfg.Provider {
	case config.ProviderCloud:
		return services.NewCloudTransport(services.CloudConfig{
			BaseURL:     cfg.APIBaseURL,
			Token:       cfg.APIToken,
			PhoneID:     cfg.PhoneID,
			Timeout:     cfg.OutboundTimeout(),
			StripPrefix: cfg.StripPrefix,
		})
	case config.ProviderTwilio:
		return services.NewTwilioTransport(services.TwilioConfig{
			AccountSID:   cfg.TwilioAccountSID,
			AuthToken:    cfg.TwilioAuthToken,
			From:         cfg.TwilioWhatsAppFrom,
			TemplateSIDs: cfg.TwilioTemplateSIDs,
		})
	case config.ProviderLog:
		log.Println("⚠️  Outbound messages are only logged")
		return services.LogTransport{}, nil
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
