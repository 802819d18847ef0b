package models

import "time"

// EventKind tags an InboundEvent
type EventKind string

const (
	EventText        EventKind = "text"
	EventButtonReply EventKind = "button_reply"
	EventListReply   EventKind = "list_reply"
	EventLocation    EventKind = "location"
	EventUnsupported EventKind = "unsupported"
)

// InboundEvent is a normalized inbound WhatsApp message.
// Only the fields matching Kind are populated.
type InboundEvent struct {
	Kind      EventKind `json:"kind"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
	FromPhone string    `json:"from_phone"`

	Text string `json:"text,omitempty"`

	ReplyID    string `json:"reply_id,omitempty"`
	ReplyTitle string `json:"reply_title,omitempty"`

	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`

	Reason string `json:"reason,omitempty"`
}

// ActionKind tags an OutboundAction
type ActionKind string

const (
	ActionText        ActionKind = "text"
	ActionTemplate    ActionKind = "template"
	ActionInteractive ActionKind = "interactive"
)

// Option is one selectable choice of an interactive message
type Option struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// OutboundAction is a message the engine wants delivered.
type OutboundAction struct {
	Kind ActionKind `json:"kind"`
	To   string     `json:"to"`

	// text
	Body string `json:"body,omitempty"`

	// template
	TemplateName string   `json:"template_name,omitempty"`
	Language     string   `json:"language,omitempty"`
	Parameters   []string `json:"parameters,omitempty"`

	// interactive
	Prompt      string   `json:"prompt,omitempty"`
	Options     []Option `json:"options,omitempty"`
	ButtonLabel string   `json:"button_label,omitempty"`

	// PromptID names the prompt this action renders, if any.
	PromptID string `json:"prompt_id,omitempty"`
}

// SendText builds a text action.
func SendText(to, body string) OutboundAction {
	return OutboundAction{Kind: ActionText, To: to, Body: body}
}

// SendTemplate builds a template action.
func SendTemplate(to, name, language string, parameters ...string) OutboundAction {
	return OutboundAction{Kind: ActionTemplate, To: to, TemplateName: name, Language: language, Parameters: parameters}
}

// SendInteractive builds an interactive action.
func SendInteractive(to, prompt string, options []Option) OutboundAction {
	return OutboundAction{Kind: ActionInteractive, To: to, Prompt: prompt, Options: options}
}

// UsesList reports whether the options exceed what reply buttons can render.
func (a OutboundAction) UsesList() bool {
	return len(a.Options) > 3
}
