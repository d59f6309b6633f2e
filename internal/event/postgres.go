package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists events in an append-only table. Schema lives in
// migrations; the store only inserts and selects.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append inserts one event row. There is no ON CONFLICT clause: event ids
// are generated, and duplicate inserts should surface rather than be
// silently dropped.
func (s *PostgresStore) Append(ctx context.Context, e *EmailEvent) error {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `INSERT INTO email_events (
		id, event_type, event_at, lead_id, message_id, email_address,
		campaign_id, sequence_id, template_id, sequence_step, variant_id, test_id,
		event_data, device_type, email_client, os, user_agent, ip_address,
		country, region, city, metadata
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, string(e.Type), e.Timestamp, e.LeadID, e.MessageID, e.EmailAddress,
		e.CampaignID, e.SequenceID, e.TemplateID, e.SequenceStep, e.VariantID, e.TestID,
		data, e.Device.DeviceType, e.Device.EmailClient, e.Device.OS, e.Device.UserAgent, e.Device.IPAddress,
		e.Location.Country, e.Location.Region, e.Location.City, metadata)
	if err != nil {
		return fmt.Errorf("%w: append event: %v", ErrStorageUnavailable, err)
	}
	return nil
}

// Query selects matching events in append order. Filter predicates are
// conjunctive; conversion-value bounds are applied against the JSON
// sub-record in memory since they are rare and the column is JSONB.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]*EmailEvent, error) {
	query := `SELECT id, event_type, event_at, lead_id, message_id, email_address,
		campaign_id, sequence_id, template_id, sequence_step, variant_id, test_id,
		event_data, device_type, email_client, os, user_agent, ip_address,
		country, region, city, metadata
	FROM email_events`

	where, args := buildWhere(f)
	query += where + " ORDER BY event_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []*EmailEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", ErrStorageUnavailable, err)
		}
		// JSON-held predicates that SQL did not apply
		if f.LinkID != "" && e.Data.LinkID != f.LinkID {
			continue
		}
		if f.MinConversionValue != nil && e.Data.ConversionValue < *f.MinConversionValue {
			continue
		}
		if f.MaxConversionValue != nil && e.Data.ConversionValue > *f.MaxConversionValue {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: query events: %v", ErrStorageUnavailable, err)
	}
	return out, nil
}

func buildWhere(f Filter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, val interface{}) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if f.LeadID != "" {
		add("lead_id = $%d", f.LeadID)
	}
	if f.MessageID != "" {
		add("message_id = $%d", f.MessageID)
	}
	if f.EmailAddress != "" {
		add("email_address = $%d", f.EmailAddress)
	}
	if f.CampaignID != "" {
		add("campaign_id = $%d", f.CampaignID)
	}
	if f.SequenceID != "" {
		add("sequence_id = $%d", f.SequenceID)
	}
	if f.TemplateID != "" {
		add("template_id = $%d", f.TemplateID)
	}
	if f.SequenceStep != nil {
		add("sequence_step = $%d", *f.SequenceStep)
	}
	if f.VariantID != "" {
		add("variant_id = $%d", f.VariantID)
	}
	if f.TestID != "" {
		add("test_id = $%d", f.TestID)
	}
	if f.From != nil {
		add("event_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("event_at <= $%d", *f.To)
	}
	if f.DeviceType != "" {
		add("device_type = $%d", f.DeviceType)
	}
	if f.EmailClient != "" {
		add("email_client = $%d", f.EmailClient)
	}
	if f.Country != "" {
		add("country = $%d", f.Country)
	}

	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func scanEvent(rows *sql.Rows) (*EmailEvent, error) {
	var (
		e       EmailEvent
		typ     string
		dataRaw []byte
		metaRaw []byte

		emailAddr, campaignID, sequenceID, templateID  sql.NullString
		variantID, testID                              sql.NullString
		deviceType, emailClient, osName, userAgent, ip sql.NullString
		country, region, city                          sql.NullString
	)

	err := rows.Scan(
		&e.ID, &typ, &e.Timestamp, &e.LeadID, &e.MessageID, &emailAddr,
		&campaignID, &sequenceID, &templateID, &e.SequenceStep, &variantID, &testID,
		&dataRaw, &deviceType, &emailClient, &osName, &userAgent, &ip,
		&country, &region, &city, &metaRaw,
	)
	if err != nil {
		return nil, err
	}

	e.Type = Type(typ)
	e.EmailAddress = emailAddr.String
	e.CampaignID = campaignID.String
	e.SequenceID = sequenceID.String
	e.TemplateID = templateID.String
	e.VariantID = variantID.String
	e.TestID = testID.String
	e.Device = DeviceInfo{
		DeviceType:  deviceType.String,
		EmailClient: emailClient.String,
		OS:          osName.String,
		UserAgent:   userAgent.String,
		IPAddress:   ip.String,
	}
	e.Location = LocationInfo{
		Country: country.String,
		Region:  region.String,
		City:    city.String,
	}

	if len(dataRaw) > 0 {
		if err := json.Unmarshal(dataRaw, &e.Data); err != nil {
			return nil, err
		}
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}
