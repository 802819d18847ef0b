package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// State is a node of the lead-capture dialogue.
type State string

const (
	StateMenu           State = "MENU"
	StateAwaitIntent    State = "AWAIT_INTENT"
	StateAwaitProperty  State = "AWAIT_PROPERTY"
	StateAwaitCity      State = "AWAIT_CITY"
	StateAwaitArrival   State = "AWAIT_ARRIVAL"
	StateAwaitDeparture State = "AWAIT_DEPARTURE"
	StateAwaitSource    State = "AWAIT_SOURCE"
	StateConfirm        State = "CONFIRM"
	StateDone           State = "DONE"
)

// Valid reports whether s is one of the known dialogue states.
func (s State) Valid() bool {
	switch s {
	case StateMenu, StateAwaitIntent, StateAwaitProperty, StateAwaitCity,
		StateAwaitArrival, StateAwaitDeparture, StateAwaitSource, StateConfirm, StateDone:
		return true
	}
	return false
}

// Context is the record of answers collected within a session.
// Dates are stored as YYYY-MM-DD.
type Context struct {
	PropertyID    string `json:"property_id,omitempty"`
	City          string `json:"city,omitempty"`
	ArrivalDate   string `json:"arrival_date,omitempty"`
	DepartureDate string `json:"departure_date,omitempty"`
	Source        string `json:"source,omitempty"`
	LastInboundID string `json:"last_inbound_id,omitempty"`
	LastPromptID  string `json:"last_prompt_id,omitempty"`

	// Reprompts counts consecutive invalid answers in the current state.
	Reprompts int `json:"_reprompts,omitempty"`

	// Extra holds keys the engine does not interpret.
	Extra map[string]string `json:"extra,omitempty"`
}

// Clone returns a deep copy of c.
func (c Context) Clone() Context {
	out := c
	if c.Extra != nil {
		out.Extra = make(map[string]string, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Session is the per-phone conversation state.
type Session struct {
	Phone     string    `json:"phone"`
	State     State     `json:"state"`
	Context   Context   `json:"context"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns the implicit first-contact session for phone.
func NewSession(phone string) Session {
	return Session{Phone: phone, State: StateMenu}
}

// WhatsAppSession is the persisted form of a Session.
type WhatsAppSession struct {
	PhoneNumber  string         `json:"phone_number" gorm:"primaryKey;size:20"`
	State        string         `json:"state" gorm:"size:32;not null"`
	Context      datatypes.JSON `json:"context"`
	LastActivity time.Time      `json:"updated_at" gorm:"column:updated_at;index;not null"`
}

// TableName pins the table name.
func (WhatsAppSession) TableName() string {
	return "sessions"
}

// NewWhatsAppSession converts a Session into its row form.
func NewWhatsAppSession(s Session) (*WhatsAppSession, error) {
	raw, err := json.Marshal(s.Context)
	if err != nil {
		return nil, err
	}
	return &WhatsAppSession{
		PhoneNumber:  s.Phone,
		State:        string(s.State),
		Context:      datatypes.JSON(raw),
		LastActivity: s.UpdatedAt.UTC(),
	}, nil
}

// ToSession decodes the row. Unknown states decode as MENU.
func (w *WhatsAppSession) ToSession() (Session, error) {
	s := Session{
		Phone:     w.PhoneNumber,
		State:     State(w.State),
		UpdatedAt: w.LastActivity.UTC(),
	}
	if !s.State.Valid() {
		s.State = StateMenu
	}
	if len(w.Context) > 0 {
		if err := json.Unmarshal(w.Context, &s.Context); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}
