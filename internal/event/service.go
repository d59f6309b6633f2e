package event

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidInput is returned when a record call is missing required
// fields. The event is not stored.
var ErrInvalidInput = errors.New("event: invalid input")

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Service is the event-ingestion and query entrypoint. It holds no mutable
// state of its own; the store is the only synchronization point, so the
// service is safe for concurrent use.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a Service on top of a store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// RecordInput is the raw ingestion payload. Optional fields may be missing
// or malformed without failing the call; only Type, LeadID and MessageID
// are required.
type RecordInput struct {
	Type         Type              `json:"type"`
	LeadID       string            `json:"lead_id"`
	MessageID    string            `json:"message_id"`
	EmailAddress string            `json:"email_address,omitempty"`
	CampaignID   string            `json:"campaign_id,omitempty"`
	SequenceID   string            `json:"sequence_id,omitempty"`
	TemplateID   string            `json:"template_id,omitempty"`
	SequenceStep int               `json:"sequence_step,omitempty"`
	VariantID    string            `json:"variant_id,omitempty"`
	TestID       string            `json:"test_id,omitempty"`
	Data         EventData         `json:"event_data,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	IPAddress    string            `json:"ip_address,omitempty"`
	Location     LocationInfo      `json:"location,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// RecordEvent assigns a generated id and server timestamp, parses client
// metadata from the user agent and appends the event.
func (s *Service) RecordEvent(ctx context.Context, in RecordInput) (*EmailEvent, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidInput, in.Type)
	}
	if in.LeadID == "" {
		return nil, fmt.Errorf("%w: leadId is required", ErrInvalidInput)
	}
	if in.MessageID == "" {
		return nil, fmt.Errorf("%w: messageId is required", ErrInvalidInput)
	}

	deviceType, emailClient, osName := parseUserAgent(in.UserAgent)
	e := &EmailEvent{
		ID:           uuid.New(),
		Type:         in.Type,
		Timestamp:    s.now().UTC(),
		LeadID:       in.LeadID,
		MessageID:    in.MessageID,
		EmailAddress: in.EmailAddress,
		CampaignID:   in.CampaignID,
		SequenceID:   in.SequenceID,
		TemplateID:   in.TemplateID,
		SequenceStep: in.SequenceStep,
		VariantID:    in.VariantID,
		TestID:       in.TestID,
		Data:         in.Data,
		Device: DeviceInfo{
			DeviceType:  deviceType,
			EmailClient: emailClient,
			OS:          osName,
			UserAgent:   in.UserAgent,
			IPAddress:   in.IPAddress,
		},
		Location: in.Location,
		Metadata: in.Metadata,
	}

	if err := s.store.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// RecordOpen records an open event, flagging whether it is the first open
// of this message by this lead.
func (s *Service) RecordOpen(ctx context.Context, in RecordInput) (*EmailEvent, error) {
	in.Type = TypeOpen

	prior, err := s.store.Query(ctx, Filter{
		Types:     []Type{TypeOpen},
		LeadID:    in.LeadID,
		MessageID: in.MessageID,
	})
	if err != nil {
		return nil, err
	}
	in.Data.IsFirstOpen = len(prior) == 0

	return s.RecordEvent(ctx, in)
}

// RecordClick records a click event. First-click detection is scoped to the
// link id when one is present.
func (s *Service) RecordClick(ctx context.Context, in RecordInput) (*EmailEvent, error) {
	in.Type = TypeClick

	prior, err := s.store.Query(ctx, Filter{
		Types:     []Type{TypeClick},
		LeadID:    in.LeadID,
		MessageID: in.MessageID,
		LinkID:    in.Data.LinkID,
	})
	if err != nil {
		return nil, err
	}
	in.Data.IsFirstClick = len(prior) == 0

	return s.RecordEvent(ctx, in)
}

// RecordConversion records a conversion event, computing the time since the
// matching sent event when one exists.
func (s *Service) RecordConversion(ctx context.Context, in RecordInput) (*EmailEvent, error) {
	in.Type = TypeConversion

	sent, err := s.store.Query(ctx, Filter{
		Types:     []Type{TypeSent},
		LeadID:    in.LeadID,
		MessageID: in.MessageID,
	})
	if err != nil {
		return nil, err
	}
	if len(sent) > 0 {
		in.Data.TimeToConversionSecs = int64(s.now().UTC().Sub(sent[0].Timestamp).Seconds())
	}

	return s.RecordEvent(ctx, in)
}

// List returns one page of events. Filter fields are conjunctive, sorting
// is by a single field and pages are 1-indexed.
func (s *Service) List(ctx context.Context, f Filter, srt Sort, page Page) (*ListResult, error) {
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	sortEvents(events, srt)

	if page.Limit <= 0 {
		page.Limit = defaultPageLimit
	}
	if page.Limit > maxPageLimit {
		page.Limit = maxPageLimit
	}
	if page.Number <= 0 {
		page.Number = 1
	}

	total := len(events)
	totalPages := (total + page.Limit - 1) / page.Limit
	start := (page.Number - 1) * page.Limit
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	return &ListResult{
		Events:     events[start:end],
		Total:      total,
		Page:       page.Number,
		Limit:      page.Limit,
		TotalPages: totalPages,
	}, nil
}

func sortEvents(events []*EmailEvent, srt Sort) {
	less := func(a, b *EmailEvent) bool { return a.Timestamp.Before(b.Timestamp) }

	switch strings.ToLower(srt.Field) {
	case "", "timestamp":
		// default
	case "type":
		less = func(a, b *EmailEvent) bool { return a.Type < b.Type }
	case "lead_id":
		less = func(a, b *EmailEvent) bool { return a.LeadID < b.LeadID }
	case "message_id":
		less = func(a, b *EmailEvent) bool { return a.MessageID < b.MessageID }
	case "conversion_value":
		less = func(a, b *EmailEvent) bool { return a.Data.ConversionValue < b.Data.ConversionValue }
	}

	sort.SliceStable(events, func(i, j int) bool {
		if srt.Desc {
			return less(events[j], events[i])
		}
		return less(events[i], events[j])
	})
}
