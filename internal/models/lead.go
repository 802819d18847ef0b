package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// LeadStatus tracks a lead through the sales workflow
type LeadStatus string

// Lead status constants
const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusClosed    LeadStatus = "closed"
	LeadStatusLost      LeadStatus = "lost"
)

// Discovery sources offered to the guest
const (
	SourceGoogle    = "google"
	SourceInstagram = "instagram"
	SourceFacebook  = "facebook"
	SourceFriend    = "friend"
	SourceOther     = "other"
)

// Lead is a completed capture
type Lead struct {
	ID            string `json:"id"`
	Phone         string `json:"phone"`
	PropertyID    string `json:"property_id,omitempty"`
	City          string `json:"city"`
	ArrivalDate   string `json:"arrival_date"`
	DepartureDate string `json:"departure_date"`
	Source        string `json:"source"`

	Status          LeadStatus `json:"status"`
	ContextSnapshot Context    `json:"context_snapshot"`

	CreatedAt time.Time `json:"created_at"`
}

// LeadRecord is the persisted form of a Lead
type LeadRecord struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	Phone           string         `json:"phone" gorm:"size:20;not null;index:idx_leads_dedup,priority:1"`
	PropertyID      *string        `json:"property_id,omitempty" gorm:"size:64"`
	City            string         `json:"city" gorm:"size:80;not null"`
	ArrivalDate     string         `json:"arrival_date" gorm:"size:10;not null;index:idx_leads_dedup,priority:2"`
	DepartureDate   string         `json:"departure_date" gorm:"size:10;not null;index:idx_leads_dedup,priority:3"`
	Source          string         `json:"source" gorm:"size:16;not null"`
	Status          string         `json:"status" gorm:"size:16;not null;default:'new'"`
	ContextSnapshot datatypes.JSON `json:"context_snapshot"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;index"`
}

// TableName pins the table name.
func (LeadRecord) TableName() string {
	return "leads"
}

// NewLeadRecord converts a Lead into its row form.
func NewLeadRecord(l Lead) (*LeadRecord, error) {
	snapshot, err := json.Marshal(l.ContextSnapshot)
	if err != nil {
		return nil, err
	}
	rec := &LeadRecord{
		ID:              l.ID,
		Phone:           l.Phone,
		City:            l.City,
		ArrivalDate:     l.ArrivalDate,
		DepartureDate:   l.DepartureDate,
		Source:          l.Source,
		Status:          string(l.Status),
		ContextSnapshot: datatypes.JSON(snapshot),
		CreatedAt:       l.CreatedAt.UTC(),
	}
	if l.PropertyID != "" {
		pid := l.PropertyID
		rec.PropertyID = &pid
	}
	if rec.Status == "" {
		rec.Status = string(LeadStatusNew)
	}
	return rec, nil
}

// ToLead decodes the row.
func (r *LeadRecord) ToLead() (Lead, error) {
	l := Lead{
		ID:            r.ID,
		Phone:         r.Phone,
		City:          r.City,
		ArrivalDate:   r.ArrivalDate,
		DepartureDate: r.DepartureDate,
		Source:        r.Source,
		Status:        LeadStatus(r.Status),
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if r.PropertyID != nil {
		l.PropertyID = *r.PropertyID
	}
	if len(r.ContextSnapshot) > 0 {
		if err := json.Unmarshal(r.ContextSnapshot, &l.ContextSnapshot); err != nil {
			return Lead{}, err
		}
	}
	return l, nil
}
