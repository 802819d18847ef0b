package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"runtime/debug"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
	"github.com/Ananth-NQI/glamping-leads/internal/services"
)

// EnvelopeProcessor runs a webhook delivery through the engine.
type EnvelopeProcessor interface {
	HandleEnvelope(ctx context.Context, payload models.WebhookPayload) error
}

// WhatsAppHandler handles WhatsApp webhook requests
type WhatsAppHandler struct {
	processor   EnvelopeProcessor
	verifyToken string
}

// NewWhatsAppHandler creates a new WhatsApp handler
func NewWhatsAppHandler(processor EnvelopeProcessor, verifyToken string) *WhatsAppHandler {
	return &WhatsAppHandler{processor: processor, verifyToken: verifyToken}
}

// Verify answers the provider's subscription challenge.
func (h *WhatsAppHandler) Verify(c *fiber.Ctx) error {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		log.Println("✅ Webhook verified")
		return c.Status(fiber.StatusOK).SendString(challenge)
	}

	log.Printf("🚫 Webhook verification failed (mode=%q)", mode)
	return c.SendStatus(fiber.StatusForbidden)
}

// HandleWebhook processes incoming WhatsApp messages
func (h *WhatsAppHandler) HandleWebhook(c *fiber.Ctx) error {
	var payload models.WebhookPayload
	if err := json.Unmarshal(c.Body(), &payload); err != nil {
		log.Printf("Error parsing webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	return h.dispatch(c, payload)
}

// dispatch hands the envelope to the processor. Store failures ask the
// provider to redeliver; anything else, panics included, is acknowledged.
func (h *WhatsAppHandler) dispatch(c *fiber.Ctx, payload models.WebhookPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("💥 Panic while processing webhook: %v\n%s", r, debug.Stack())
			err = c.SendStatus(fiber.StatusOK)
		}
	}()

	if err := h.processor.HandleEnvelope(c.UserContext(), payload); err != nil {
		if errors.Is(err, services.ErrStoreUnavailable) {
			log.Printf("⚠️ Asking provider to redeliver: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Temporarily unavailable",
			})
		}
		log.Printf("❌ Error processing webhook: %v", err)
	}

	// Acknowledge webhook receipt
	return c.SendStatus(fiber.StatusOK)
}
