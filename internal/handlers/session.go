package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/services"
	"github.com/Ananth-NQI/glamping-leads/internal/storage"
	"github.com/Ananth-NQI/glamping-leads/internal/utils"
)

// SessionSeeder pre-populates a conversation.
type SessionSeeder interface {
	Seed(ctx context.Context, phone, propertyID string, extra map[string]string) error
}

// SessionHandler serves the back-office session and lead endpoints
type SessionHandler struct {
	seeder SessionSeeder
	leads  storage.LeadLister
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(seeder SessionSeeder, leads storage.LeadLister) *SessionHandler {
	return &SessionHandler{seeder: seeder, leads: leads}
}

// SeedRequest is the body of POST /api/sessions/:phone/seed
type SeedRequest struct {
	PropertyID string            `json:"property_id"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Seed stores a deep-linked property on an idle session.
func (h *SessionHandler) Seed(c *fiber.Ctx) error {
	phone := utils.NormalizePhone(c.Params("phone"))
	if phone == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid phone number",
		})
	}

	var req SeedRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.PropertyID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "property_id is required",
		})
	}
	if utf8.RuneCountInString(req.PropertyID) > services.MaxPropertyLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("property_id must be at most %d characters", services.MaxPropertyLength),
		})
	}

	err := h.seeder.Seed(c.UserContext(), phone, req.PropertyID, req.Extra)
	switch {
	case errors.Is(err, services.ErrSessionBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Conversation in progress",
		})
	case err != nil:
		log.Printf("❌ Failed to seed session %s: %v", phone, err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Could not seed session",
		})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"phone":       phone,
		"property_id": req.PropertyID,
	})
}

// ListLeads returns recent leads, newest first.
func (h *SessionHandler) ListLeads(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be between 1 and 500",
		})
	}

	leads, err := h.leads.ListLeads(c.UserContext(), limit)
	if err != nil {
		log.Printf("❌ Failed to list leads: %v", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Could not list leads",
		})
	}

	return c.JSON(fiber.Map{
		"count": len(leads),
		"leads": leads,
	})
}
