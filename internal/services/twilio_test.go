package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

type fakeTwilioAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeTwilioAPI) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestTwilioTransportRendersPrompts(t *testing.T) {
	api := &fakeTwilioAPI{}
	tr := newTwilioTransport(api, "+14155238886", map[string]string{"lead_completed": "HX1"})

	prompt := models.SendInteractive("+573001234567", "¿Confirmamos?", []models.Option{{ID: "yes", Title: "Sí"}, {ID: "no", Title: "No"}})
	if err := tr.Send(context.Background(), prompt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	p := api.params[0]
	if *p.From != "whatsapp:+14155238886" || *p.To != "whatsapp:+573001234567" {
		t.Fatalf("unexpected addressing from=%s to=%s", *p.From, *p.To)
	}
	if !strings.Contains(*p.Body, "1. Sí") || !strings.Contains(*p.Body, "2. No") {
		t.Fatalf("options not numbered: %q", *p.Body)
	}

	if err := tr.Send(context.Background(), models.SendTemplate("+573001234567", "lead_completed", "es", "Cartagena")); err != nil {
		t.Fatalf("Send template: %v", err)
	}
	tp := api.params[1]
	if *tp.ContentSid != "HX1" || *tp.ContentVariables != `{"1":"Cartagena"}` {
		t.Fatalf("unexpected template params sid=%s vars=%s", *tp.ContentSid, *tp.ContentVariables)
	}
}

func TestTwilioTransportUnknownTemplateIsPermanent(t *testing.T) {
	tr := newTwilioTransport(&fakeTwilioAPI{}, "whatsapp:+1", nil)
	err := tr.Send(context.Background(), models.SendTemplate("+1", "human_handoff", "es"))
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestTwilioTransportClassifiesRestErrors(t *testing.T) {
	throttled := &fakeTwilioAPI{err: &client.TwilioRestError{Status: 429, Code: 20429, Message: "Too Many Requests"}}
	err := newTwilioTransport(throttled, "whatsapp:+1", nil).Send(context.Background(), models.SendText("+1", "hola"))
	if !IsTransient(err) {
		t.Fatalf("429 should be transient, got %v", err)
	}

	invalid := &fakeTwilioAPI{err: &client.TwilioRestError{Status: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}}
	err = newTwilioTransport(invalid, "whatsapp:+1", nil).Send(context.Background(), models.SendText("+1", "hola"))
	if IsTransient(err) {
		t.Fatalf("400 should be permanent, got %v", err)
	}
}

// stalledTwilioAPI never answers until release is closed.
type stalledTwilioAPI struct {
	release chan struct{}
}

func (s *stalledTwilioAPI) CreateMessage(*twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	<-s.release
	return &twilioApi.ApiV2010Message{}, nil
}

func TestTwilioTransportHonoursContext(t *testing.T) {
	api := &stalledTwilioAPI{release: make(chan struct{})}
	defer close(api.release)
	tr := newTwilioTransport(api, "whatsapp:+1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tr.Send(ctx, models.SendText("+573001234567", "hola"))
	if !errors.Is(err, context.DeadlineExceeded) || !IsTransient(err) {
		t.Fatalf("expected a transient deadline error, got %v", err)
	}
}
