// Package event provides the append-only interaction event log and the
// metrics engine that aggregates it.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type enumerates the interaction event kinds.
type Type string

const (
	TypeSent        Type = "sent"
	TypeDelivered   Type = "delivered"
	TypeOpen        Type = "open"
	TypeClick       Type = "click"
	TypeConversion  Type = "conversion"
	TypeBounce      Type = "bounce"
	TypeComplaint   Type = "complaint"
	TypeUnsubscribe Type = "unsubscribe"
)

var validTypes = map[Type]bool{
	TypeSent: true, TypeDelivered: true, TypeOpen: true, TypeClick: true,
	TypeConversion: true, TypeBounce: true, TypeComplaint: true, TypeUnsubscribe: true,
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool { return validTypes[t] }

// EventData holds the type-specific sub-record. Which fields are meaningful
// depends on the event type: clicks carry LinkID/TargetURL, conversions
// carry ConversionType/ConversionValue, bounces carry BounceType/Reason.
type EventData struct {
	LinkID               string  `json:"link_id,omitempty"`
	TargetURL            string  `json:"target_url,omitempty"`
	IsFirstOpen          bool    `json:"is_first_open,omitempty"`
	IsFirstClick         bool    `json:"is_first_click,omitempty"`
	ConversionType       string  `json:"conversion_type,omitempty"`
	ConversionValue      float64 `json:"conversion_value,omitempty"`
	TimeToConversionSecs int64   `json:"time_to_conversion_secs,omitempty"`
	BounceType           string  `json:"bounce_type,omitempty"`
	Reason               string  `json:"reason,omitempty"`
}

// DeviceInfo is parsed from the requesting client's user agent.
type DeviceInfo struct {
	DeviceType  string `json:"device_type,omitempty"` // mobile, tablet, desktop, unknown
	EmailClient string `json:"email_client,omitempty"`
	OS          string `json:"os,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
}

// LocationInfo is best-effort geo metadata supplied by the caller.
type LocationInfo struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// EmailEvent is a single immutable interaction record. Events are only ever
// appended, never updated or deleted.
type EmailEvent struct {
	ID           uuid.UUID         `json:"id"`
	Type         Type              `json:"type"`
	Timestamp    time.Time         `json:"timestamp"`
	LeadID       string            `json:"lead_id"`
	MessageID    string            `json:"message_id"`
	EmailAddress string            `json:"email_address,omitempty"`
	CampaignID   string            `json:"campaign_id,omitempty"`
	SequenceID   string            `json:"sequence_id,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	SequenceStep int               `json:"sequence_step,omitempty"`
	VariantID    string            `json:"variant_id,omitempty"`
	TestID       string            `json:"test_id,omitempty"`
	Data         EventData         `json:"event_data"`
	Device       DeviceInfo        `json:"device"`
	Location     LocationInfo      `json:"location"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Filter selects events. Every set field must match (conjunctive). The same
// shape is shared by the list endpoint, the metrics engine and the
// experiment manager.
type Filter struct {
	Types              []Type     `json:"types,omitempty"`
	LeadID             string     `json:"lead_id,omitempty"`
	MessageID          string     `json:"message_id,omitempty"`
	EmailAddress       string     `json:"email_address,omitempty"`
	CampaignID         string     `json:"campaign_id,omitempty"`
	SequenceID         string     `json:"sequence_id,omitempty"`
	TemplateID         string     `json:"template_id,omitempty"`
	SequenceStep       *int       `json:"sequence_step,omitempty"`
	VariantID          string     `json:"variant_id,omitempty"`
	TestID             string     `json:"test_id,omitempty"`
	LinkID             string     `json:"link_id,omitempty"`
	From               *time.Time `json:"from,omitempty"`
	To                 *time.Time `json:"to,omitempty"`
	DeviceType         string     `json:"device_type,omitempty"`
	EmailClient        string     `json:"email_client,omitempty"`
	Country            string     `json:"country,omitempty"`
	MinConversionValue *float64   `json:"min_conversion_value,omitempty"`
	MaxConversionValue *float64   `json:"max_conversion_value,omitempty"`
}

// Matches reports whether an event passes every set predicate.
func (f Filter) Matches(e *EmailEvent) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if e.Type == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.LeadID != "" && e.LeadID != f.LeadID {
		return false
	}
	if f.MessageID != "" && e.MessageID != f.MessageID {
		return false
	}
	if f.EmailAddress != "" && e.EmailAddress != f.EmailAddress {
		return false
	}
	if f.CampaignID != "" && e.CampaignID != f.CampaignID {
		return false
	}
	if f.SequenceID != "" && e.SequenceID != f.SequenceID {
		return false
	}
	if f.TemplateID != "" && e.TemplateID != f.TemplateID {
		return false
	}
	if f.SequenceStep != nil && e.SequenceStep != *f.SequenceStep {
		return false
	}
	if f.VariantID != "" && e.VariantID != f.VariantID {
		return false
	}
	if f.TestID != "" && e.TestID != f.TestID {
		return false
	}
	if f.LinkID != "" && e.Data.LinkID != f.LinkID {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.DeviceType != "" && e.Device.DeviceType != f.DeviceType {
		return false
	}
	if f.EmailClient != "" && e.Device.EmailClient != f.EmailClient {
		return false
	}
	if f.Country != "" && e.Location.Country != f.Country {
		return false
	}
	if f.MinConversionValue != nil && e.Data.ConversionValue < *f.MinConversionValue {
		return false
	}
	if f.MaxConversionValue != nil && e.Data.ConversionValue > *f.MaxConversionValue {
		return false
	}
	return true
}

// Sort orders a listing by a single field.
type Sort struct {
	Field string `json:"field"` // timestamp (default), type, lead_id, message_id, conversion_value
	Desc  bool   `json:"desc"`
}

// Page is 1-indexed pagination.
type Page struct {
	Number int `json:"page"`
	Limit  int `json:"limit"`
}

// ListResult is one page of events plus paging totals.
type ListResult struct {
	Events     []*EmailEvent `json:"events"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	Limit      int           `json:"limit"`
	TotalPages int           `json:"total_pages"`
}
