package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// TwilioConfig configures the Twilio WhatsApp transport
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // e.g. "whatsapp:+14155238886"
	// TemplateSIDs maps a template name to its Twilio Content SID.
	TemplateSIDs map[string]string
}

// messageCreator is the slice of the Twilio API we use.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioTransport sends messages through Twilio's WhatsApp API. Twilio has no
// free-form interactive messages, so prompts are rendered as numbered text;
// the engine accepts the number as an answer.
type TwilioTransport struct {
	api       messageCreator
	from      string
	templates map[string]string
}

// NewTwilioTransport creates a new Twilio transport
func NewTwilioTransport(cfg TwilioConfig) (*TwilioTransport, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, fmt.Errorf("missing Twilio credentials")
	}

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return newTwilioTransport(rest.Api, cfg.From, cfg.TemplateSIDs), nil
}

func newTwilioTransport(api messageCreator, from string, templates map[string]string) *TwilioTransport {
	if !strings.HasPrefix(from, "whatsapp:") {
		from = "whatsapp:" + from
	}
	return &TwilioTransport{api: api, from: from, templates: templates}
}

// Send delivers one action.
func (t *TwilioTransport) Send(ctx context.Context, action models.OutboundAction) error {
	if err := ctx.Err(); err != nil {
		return &SendError{Err: err}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetFrom(t.from)
	params.SetTo("whatsapp:" + action.To)

	switch action.Kind {
	case models.ActionText:
		params.SetBody(action.Body)
	case models.ActionInteractive:
		params.SetBody(numberedPrompt(action))
	case models.ActionTemplate:
		sid, ok := t.templates[action.TemplateName]
		if !ok {
			return &SendError{Permanent: true, Err: fmt.Errorf("no content SID for template %q", action.TemplateName)}
		}
		params.SetContentSid(sid)
		if len(action.Parameters) > 0 {
			// Content variables are 1-based: {"1": "...", "2": "..."}
			vars := make(map[string]string, len(action.Parameters))
			for i, p := range action.Parameters {
				vars[strconv.Itoa(i+1)] = p
			}
			raw, err := json.Marshal(vars)
			if err != nil {
				return &SendError{Permanent: true, Err: err}
			}
			params.SetContentVariables(string(raw))
		}
	default:
		return &SendError{Permanent: true, Err: fmt.Errorf("unknown action kind %q", action.Kind)}
	}

	resp, err := t.create(ctx, params)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Printf("⚠️ Twilio send of %s to %s abandoned: %v", action.Kind, action.To, err)
			return &SendError{Err: err}
		}
		log.Printf("❌ Failed to send WhatsApp %s via Twilio: %v", action.Kind, err)
		var restErr *client.TwilioRestError
		if errors.As(err, &restErr) {
			return classifyStatus(restErr.Status, err)
		}
		return &SendError{Err: err}
	}

	if resp.ErrorCode != nil && *resp.ErrorCode != 0 {
		msg := ""
		if resp.ErrorMessage != nil {
			msg = *resp.ErrorMessage
		}
		return &SendError{Permanent: true, Err: fmt.Errorf("twilio error %d: %s", *resp.ErrorCode, msg)}
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	log.Printf("✅ WhatsApp %s sent via Twilio! SID: %s", action.Kind, sid)
	return nil
}

// create calls the Twilio API, giving up when ctx is done. The SDK call has
// no context, so an abandoned request may still be delivered.
func (t *TwilioTransport) create(ctx context.Context, params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	type result struct {
		msg *twilioApi.ApiV2010Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		msg, err := t.api.CreateMessage(params)
		ch <- result{msg, err}
	}()

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// numberedPrompt renders an interactive action as plain text.
func numberedPrompt(action models.OutboundAction) string {
	var b strings.Builder
	b.WriteString(action.Prompt)
	b.WriteString("\n")
	for i, o := range action.Options {
		fmt.Fprintf(&b, "\n%d. %s", i+1, o.Title)
	}
	b.WriteString("\n\nResponde con el número de tu opción.")
	return b.String()
}
