package handlers

import (
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// TwilioWebhookPayload represents incoming WhatsApp message from Twilio
type TwilioWebhookPayload struct {
	MessageSid        string `form:"MessageSid"`
	AccountSid        string `form:"AccountSid"`
	From              string `form:"From"` // whatsapp:+573001234567
	To                string `form:"To"`
	Body              string `form:"Body"`
	ButtonPayload     string `form:"ButtonPayload"`
	ButtonText        string `form:"ButtonText"`
	Latitude          string `form:"Latitude"`
	Longitude         string `form:"Longitude"`
	NumMedia          string `form:"NumMedia"`
	MediaContentType0 string `form:"MediaContentType0"`
}

// ToMessage maps the Twilio form post onto the Cloud API message shape so
// both providers share one processing path.
func (p TwilioWebhookPayload) ToMessage() models.WebhookMessage {
	msg := models.WebhookMessage{ID: p.MessageSid, From: p.From}

	switch {
	case p.ButtonPayload != "":
		msg.Type = "button"
		msg.Button = &models.WebhookButton{Payload: p.ButtonPayload, Text: p.ButtonText}
	case p.Latitude != "" && p.Longitude != "":
		lat, errLat := strconv.ParseFloat(p.Latitude, 64)
		lng, errLng := strconv.ParseFloat(p.Longitude, 64)
		if errLat != nil || errLng != nil {
			msg.Type = "location_invalid"
			break
		}
		msg.Type = "location"
		msg.Location = &models.WebhookLocation{Latitude: lat, Longitude: lng}
	case p.NumMedia != "" && p.NumMedia != "0":
		msg.Type = "media"
	default:
		msg.Type = "text"
		msg.Text = &models.WebhookText{Body: p.Body}
	}
	return msg
}

// HandleTwilioWebhook processes messages delivered by Twilio
func (h *WhatsAppHandler) HandleTwilioWebhook(c *fiber.Ctx) error {
	var payload TwilioWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		log.Printf("Error parsing Twilio webhook: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid webhook payload",
		})
	}

	// status callbacks carry no sender body worth processing
	if payload.From == "" || payload.MessageSid == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	log.Printf("📱 Twilio message %s from %s", payload.MessageSid, payload.From)
	envelope := models.WebhookPayload{
		Object: "twilio",
		Entry: []models.WebhookEntry{{Changes: []models.WebhookChange{{
			Field: "messages",
			Value: models.WebhookChangeValue{Messages: []models.WebhookMessage{payload.ToMessage()}},
		}}}},
	}
	return h.dispatch(c, envelope)
}
