package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/services"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	Version  string
	Storage  string
	Provider string

	// Ping checks the database; nil for the memory store.
	Ping  func() error
	Stats func() services.ProcessorStats
}

// Check returns the health status of the service
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	status := "healthy"
	statusCode := fiber.StatusOK
	database := fiber.Map{"type": h.Storage}

	if h.Ping != nil {
		if err := h.Ping(); err != nil {
			status = "unhealthy"
			statusCode = fiber.StatusServiceUnavailable
			database["status"] = "error: " + err.Error()
		} else {
			database["status"] = "connected"
		}
	}

	response := fiber.Map{
		"status":   status,
		"service":  "Glamping Leads",
		"version":  h.Version,
		"database": database,
		"whatsapp": fiber.Map{"provider": h.Provider},
	}
	if h.Stats != nil {
		response["processor"] = h.Stats()
	}

	return c.Status(statusCode).JSON(response)
}
