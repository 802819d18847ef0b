package services

import (
	"strconv"
	"time"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
	"github.com/Ananth-NQI/glamping-leads/internal/utils"
)

// Classify maps one provider message to an InboundEvent. It never fails:
// anything it does not understand becomes EventUnsupported.
func Classify(msg models.WebhookMessage) models.InboundEvent {
	event := models.InboundEvent{
		MessageID: msg.ID,
		FromPhone: utils.NormalizePhone(msg.From),
		Timestamp: parseUnix(msg.Timestamp),
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return unsupported(event, "text message without body")
		}
		event.Kind = models.EventText
		event.Text = msg.Text.Body

	case "interactive":
		if msg.Interactive == nil {
			return unsupported(event, "interactive message without reply")
		}
		switch {
		case msg.Interactive.ButtonReply != nil && msg.Interactive.ButtonReply.ID != "":
			event.Kind = models.EventButtonReply
			event.ReplyID = msg.Interactive.ButtonReply.ID
			event.ReplyTitle = msg.Interactive.ButtonReply.Title
		case msg.Interactive.ListReply != nil && msg.Interactive.ListReply.ID != "":
			event.Kind = models.EventListReply
			event.ReplyID = msg.Interactive.ListReply.ID
			event.ReplyTitle = msg.Interactive.ListReply.Title
		default:
			return unsupported(event, "interactive type "+msg.Interactive.Type)
		}

	case "button":
		// quick-reply button on a template message
		if msg.Button == nil || msg.Button.Payload == "" {
			return unsupported(event, "button message without payload")
		}
		event.Kind = models.EventButtonReply
		event.ReplyID = msg.Button.Payload
		event.ReplyTitle = msg.Button.Text

	case "location":
		if msg.Location == nil {
			return unsupported(event, "location message without coordinates")
		}
		event.Kind = models.EventLocation
		event.Latitude = msg.Location.Latitude
		event.Longitude = msg.Location.Longitude

	default:
		return unsupported(event, "message type "+msg.Type)
	}
	return event
}

func unsupported(event models.InboundEvent, reason string) models.InboundEvent {
	event.Kind = models.EventUnsupported
	event.Reason = reason
	return event
}

func parseUnix(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}
