package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
	"github.com/Ananth-NQI/glamping-leads/internal/utils"
)

// Cloud API limits for interactive messages
const (
	maxButtonTitle = 20
	maxRowTitle    = 24
	maxRowDesc     = 72
	maxListRows    = 10
	maxBodyText    = 1024
)

// CloudConfig configures the WhatsApp Cloud API transport
type CloudConfig struct {
	BaseURL     string
	Token       string
	PhoneID     string
	Timeout     time.Duration
	StripPrefix string
}

// CloudTransport sends messages through the Meta WhatsApp Cloud API.
type CloudTransport struct {
	client      *resty.Client
	phoneID     string
	stripPrefix string
}

// NewCloudTransport creates the Cloud API client
func NewCloudTransport(cfg CloudConfig) (*CloudTransport, error) {
	if cfg.Token == "" || cfg.PhoneID == "" {
		return nil, fmt.Errorf("missing WhatsApp Cloud API credentials")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com/v19.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")

	return &CloudTransport{client: client, phoneID: cfg.PhoneID, stripPrefix: cfg.StripPrefix}, nil
}

type cloudErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// Send posts one action to /{phone-id}/messages.
func (t *CloudTransport) Send(ctx context.Context, action models.OutboundAction) error {
	payload, err := t.payload(action)
	if err != nil {
		return &SendError{Permanent: true, Err: err}
	}

	var apiErr cloudErrorBody
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetError(&apiErr).
		Post("/" + t.phoneID + "/messages")
	if err != nil {
		return &SendError{Err: err}
	}
	if resp.IsError() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		log.Printf("❌ WhatsApp API rejected %s to %s: %d %s", action.Kind, action.To, resp.StatusCode(), msg)
		return classifyStatus(resp.StatusCode(), errors.New(msg))
	}

	log.Printf("✅ WhatsApp %s sent to %s", action.Kind, action.To)
	return nil
}

func (t *CloudTransport) payload(action models.OutboundAction) (map[string]interface{}, error) {
	msg := map[string]interface{}{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                utils.OutboundNumber(action.To, t.stripPrefix),
	}

	switch action.Kind {
	case models.ActionText:
		msg["type"] = "text"
		msg["text"] = map[string]interface{}{"body": action.Body, "preview_url": false}

	case models.ActionTemplate:
		template := map[string]interface{}{
			"name":     action.TemplateName,
			"language": map[string]string{"code": action.Language},
		}
		if len(action.Parameters) > 0 {
			params := make([]map[string]string, len(action.Parameters))
			for i, p := range action.Parameters {
				params[i] = map[string]string{"type": "text", "text": p}
			}
			template["components"] = []map[string]interface{}{{"type": "body", "parameters": params}}
		}
		msg["type"] = "template"
		msg["template"] = template

	case models.ActionInteractive:
		if len(action.Options) == 0 {
			return nil, fmt.Errorf("interactive message without options")
		}
		msg["type"] = "interactive"
		if action.UsesList() {
			msg["interactive"] = listPayload(action)
		} else {
			msg["interactive"] = buttonPayload(action)
		}

	default:
		return nil, fmt.Errorf("unknown action kind %q", action.Kind)
	}
	return msg, nil
}

func buttonPayload(action models.OutboundAction) map[string]interface{} {
	buttons := make([]map[string]interface{}, len(action.Options))
	for i, o := range action.Options {
		buttons[i] = map[string]interface{}{
			"type":  "reply",
			"reply": map[string]string{"id": o.ID, "title": truncate(o.Title, maxButtonTitle)},
		}
	}
	return map[string]interface{}{
		"type":   "button",
		"body":   map[string]string{"text": truncate(action.Prompt, maxBodyText)},
		"action": map[string]interface{}{"buttons": buttons},
	}
}

func listPayload(action models.OutboundAction) map[string]interface{} {
	opts := action.Options
	if len(opts) > maxListRows {
		opts = opts[:maxListRows]
	}
	rows := make([]map[string]string, len(opts))
	for i, o := range opts {
		row := map[string]string{"id": o.ID, "title": truncate(o.Title, maxRowTitle)}
		if o.Description != "" {
			row["description"] = truncate(o.Description, maxRowDesc)
		}
		rows[i] = row
	}
	label := action.ButtonLabel
	if label == "" {
		label = "Ver opciones"
	}
	return map[string]interface{}{
		"type": "list",
		"body": map[string]string{"text": truncate(action.Prompt, maxBodyText)},
		"action": map[string]interface{}{
			"button":   truncate(label, maxButtonTitle),
			"sections": []map[string]interface{}{{"title": truncate(label, maxRowTitle), "rows": rows}},
		},
	}
}

// truncate cuts s to n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
