package services

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

const (
	maxCityLength = 80
	// MaxPropertyLength matches the leads.property_id column.
	MaxPropertyLength = 64
)

// DialogueConfig tunes the lead-capture flow
type DialogueConfig struct {
	// MaxReprompts is the number of consecutive invalid answers that sends
	// the guest back to MENU.
	MaxReprompts int
	// Location decides what "today" means for arrival dates.
	Location *time.Location
	// RequireProperty asks for a property when none was deep-linked.
	RequireProperty bool

	TemplateLanguage   string
	HandoffTemplate    string
	CompletionTemplate string
}

// StepResult is everything the adapter must do after one inbound event.
type StepResult struct {
	NextState   models.State
	NextContext models.Context
	Outbound    []models.OutboundAction
	// Persist asks the adapter to write NextState/NextContext.
	Persist bool
	// Lead is set when the guest confirmed; the adapter assigns its id.
	Lead *models.Lead
}

// Dialogue is the lead-capture state machine. Step is pure: it performs no
// I/O and its output depends only on its arguments and the config.
type Dialogue struct {
	cfg DialogueConfig
}

// NewDialogue creates the engine, filling config defaults
func NewDialogue(cfg DialogueConfig) *Dialogue {
	if cfg.MaxReprompts <= 0 {
		cfg.MaxReprompts = 3
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TemplateLanguage == "" {
		cfg.TemplateLanguage = "es"
	}
	if cfg.HandoffTemplate == "" {
		cfg.HandoffTemplate = "human_handoff"
	}
	if cfg.CompletionTemplate == "" {
		cfg.CompletionTemplate = "lead_completed"
	}
	return &Dialogue{cfg: cfg}
}

// Step advances session by one inbound event.
func (d *Dialogue) Step(session models.Session, event models.InboundEvent, now time.Time) StepResult {
	to := session.Phone
	c := session.Context.Clone()

	var res StepResult
	if event.Kind == models.EventUnsupported {
		res = StepResult{
			NextState:   session.State,
			NextContext: c,
			Outbound:    []models.OutboundAction{models.SendText(to, msgNotSupported)},
		}
	} else {
		state := session.State
		if state == models.StateDone {
			// one-level re-entry: a finished conversation starts over
			state = models.StateMenu
			c = models.Context{}
		}
		res = d.handle(state, c, event, to, now)
	}

	res.NextContext.LastInboundID = event.MessageID
	for _, a := range res.Outbound {
		if a.PromptID != "" {
			res.NextContext.LastPromptID = a.PromptID
		}
	}
	res.Persist = true
	return res
}

func (d *Dialogue) handle(state models.State, c models.Context, event models.InboundEvent, to string, now time.Time) StepResult {
	switch state {
	case models.StateAwaitIntent:
		return d.onIntent(c, event, to)
	case models.StateAwaitProperty:
		return d.onProperty(c, event, to)
	case models.StateAwaitCity:
		return d.onCity(c, event, to)
	case models.StateAwaitArrival:
		return d.onArrival(c, event, to, now)
	case models.StateAwaitDeparture:
		return d.onDeparture(c, event, to)
	case models.StateAwaitSource:
		return d.onSource(c, event, to)
	case models.StateConfirm:
		return d.onConfirm(c, event, to, now)
	default:
		return advance(models.StateAwaitIntent, c, welcomePrompt(to, ""))
	}
}

func (d *Dialogue) onIntent(c models.Context, event models.InboundEvent, to string) StepResult {
	intent, ok := matchChoice(event, intentChoices)
	if !ok {
		return d.reprompt(models.StateAwaitIntent, c, welcomePrompt(to, hintInvalidChoice))
	}

	switch intent {
	case IntentReserve:
		if c.PropertyID == "" && d.cfg.RequireProperty {
			return advance(models.StateAwaitProperty, c, propertyPrompt(to, ""))
		}
		return advance(models.StateAwaitCity, c, cityPrompt(to, ""))
	case IntentAskInfo:
		return advance(models.StateMenu, c, models.SendText(to, msgInfo))
	default:
		if c.Extra == nil {
			c.Extra = map[string]string{}
		}
		c.Extra["handoff"] = "true"
		return advance(models.StateDone, c,
			models.SendTemplate(to, d.cfg.HandoffTemplate, d.cfg.TemplateLanguage))
	}
}

func (d *Dialogue) onProperty(c models.Context, event models.InboundEvent, to string) StepResult {
	text, ok := freeText(event)
	if !ok {
		return d.reprompt(models.StateAwaitProperty, c, propertyPrompt(to, hintEmptyText))
	}
	if utf8.RuneCountInString(text) > MaxPropertyLength {
		return d.reprompt(models.StateAwaitProperty, c, propertyPrompt(to, hintPropertyLength))
	}
	c.PropertyID = text
	return advance(models.StateAwaitCity, c, cityPrompt(to, ""))
}

func (d *Dialogue) onCity(c models.Context, event models.InboundEvent, to string) StepResult {
	text, ok := freeText(event)
	if !ok {
		return d.reprompt(models.StateAwaitCity, c, cityPrompt(to, hintEmptyText))
	}
	if utf8.RuneCountInString(text) > maxCityLength {
		return d.reprompt(models.StateAwaitCity, c, cityPrompt(to, hintCityLength))
	}
	c.City = text
	return advance(models.StateAwaitArrival, c, arrivalPrompt(to, ""))
}

func (d *Dialogue) onArrival(c models.Context, event models.InboundEvent, to string, now time.Time) StepResult {
	text, _ := freeText(event)
	date, ok := parseDate(text, d.cfg.Location)
	if !ok {
		return d.reprompt(models.StateAwaitArrival, c, arrivalPrompt(to, hintBadDate))
	}
	if date.Before(startOfDay(now, d.cfg.Location)) {
		return d.reprompt(models.StateAwaitArrival, c, arrivalPrompt(to, hintPastDate))
	}
	c.ArrivalDate = date.Format(isoDate)
	return advance(models.StateAwaitDeparture, c, departurePrompt(to, "", c))
}

func (d *Dialogue) onDeparture(c models.Context, event models.InboundEvent, to string) StepResult {
	text, _ := freeText(event)
	date, ok := parseDate(text, d.cfg.Location)
	if !ok {
		return d.reprompt(models.StateAwaitDeparture, c, departurePrompt(to, hintBadDate, c))
	}
	arrival, ok := parseDate(c.ArrivalDate, d.cfg.Location)
	if !ok || !date.After(arrival) {
		return d.reprompt(models.StateAwaitDeparture, c, departurePrompt(to, hintDepartureDate, c))
	}
	c.DepartureDate = date.Format(isoDate)
	return advance(models.StateAwaitSource, c, sourcePrompt(to, ""))
}

func (d *Dialogue) onSource(c models.Context, event models.InboundEvent, to string) StepResult {
	source, ok := matchChoice(event, sourceChoices)
	if !ok {
		return d.reprompt(models.StateAwaitSource, c, sourcePrompt(to, hintInvalidChoice))
	}
	c.Source = source
	return advance(models.StateConfirm, c, confirmPrompt(to, "", c))
}

func (d *Dialogue) onConfirm(c models.Context, event models.InboundEvent, to string, now time.Time) StepResult {
	answer, ok := matchChoice(event, confirmChoices)
	if !ok {
		return d.reprompt(models.StateConfirm, c, confirmPrompt(to, hintInvalidChoice, c))
	}
	if answer == ConfirmNo {
		return advance(models.StateMenu, models.Context{}, models.SendText(to, msgCancelled))
	}

	// the conversation may have crossed midnight since the arrival was given
	arrival, ok := parseDate(c.ArrivalDate, d.cfg.Location)
	if !ok || arrival.Before(startOfDay(now, d.cfg.Location)) {
		c.ArrivalDate = ""
		c.DepartureDate = ""
		return advance(models.StateAwaitArrival, c, arrivalPrompt(to, hintPastDate))
	}

	c.Reprompts = 0
	lead := &models.Lead{
		Phone:           to,
		PropertyID:      c.PropertyID,
		City:            c.City,
		ArrivalDate:     c.ArrivalDate,
		DepartureDate:   c.DepartureDate,
		Source:          c.Source,
		Status:          models.LeadStatusNew,
		ContextSnapshot: c.Clone(),
		CreatedAt:       now,
	}
	res := advance(models.StateDone, c, models.SendTemplate(to, d.cfg.CompletionTemplate, d.cfg.TemplateLanguage,
		c.City, displayDate(c.ArrivalDate), displayDate(c.DepartureDate)))
	res.Lead = lead
	return res
}

// advance moves to next, clearing the reprompt counter.
func advance(next models.State, c models.Context, actions ...models.OutboundAction) StepResult {
	c.Reprompts = 0
	return StepResult{NextState: next, NextContext: c, Outbound: actions}
}

// reprompt re-emits prompt in state, or falls back to MENU once the guest has
// given MaxReprompts invalid answers in a row.
func (d *Dialogue) reprompt(state models.State, c models.Context, prompt models.OutboundAction) StepResult {
	c.Reprompts++
	if c.Reprompts >= d.cfg.MaxReprompts {
		return advance(models.StateMenu, models.Context{}, models.SendText(prompt.To, msgTooManyErrors))
	}
	return StepResult{NextState: state, NextContext: c, Outbound: []models.OutboundAction{prompt}}
}

// freeText returns the trimmed text of a text event.
func freeText(event models.InboundEvent) (string, bool) {
	if event.Kind != models.EventText {
		return "", false
	}
	text := strings.TrimSpace(event.Text)
	return text, text != ""
}
