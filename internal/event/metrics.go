package event

import (
	"context"
	"sort"
)

// EmailMetrics is a derived view over a filtered event set. Rates are
// percentages; any zero denominator yields 0, never a division error.
type EmailMetrics struct {
	TotalSent         int `json:"total_sent"`
	TotalDelivered    int `json:"total_delivered"`
	TotalOpened       int `json:"total_opened"`
	TotalClicked      int `json:"total_clicked"`
	TotalConverted    int `json:"total_converted"`
	TotalBounced      int `json:"total_bounced"`
	TotalComplaints   int `json:"total_complaints"`
	TotalUnsubscribed int `json:"total_unsubscribed"`

	UniqueOpens  int `json:"unique_opens"`
	UniqueClicks int `json:"unique_clicks"`

	DeliveryRate    float64 `json:"delivery_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
	ComplaintRate   float64 `json:"complaint_rate"`

	TotalConversionValue   float64 `json:"total_conversion_value"`
	AverageConversionValue float64 `json:"average_conversion_value"`
}

// StepMetrics is the per-sequence-step breakdown entry.
type StepMetrics struct {
	Step    int          `json:"step"`
	Metrics EmailMetrics `json:"metrics"`
}

// SequenceMetrics is the base metrics for one sequence plus a per-step
// breakdown in ascending step order.
type SequenceMetrics struct {
	SequenceID string        `json:"sequence_id"`
	EmailMetrics
	Steps []StepMetrics `json:"steps"`
}

// CampaignMetrics scopes base metrics to one campaign.
type CampaignMetrics struct {
	CampaignID string `json:"campaign_id"`
	EmailMetrics
}

// VariantMetrics scopes base metrics to one experiment variant.
type VariantMetrics struct {
	TestID    string `json:"test_id"`
	VariantID string `json:"variant_id"`
	EmailMetrics
}

// Metrics computes aggregate metrics over the filtered event set.
func (s *Service) Metrics(ctx context.Context, f Filter) (*EmailMetrics, error) {
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	m := computeMetrics(events)
	return &m, nil
}

// SequenceMetrics computes base metrics for a sequence plus one entry per
// distinct step number observed.
func (s *Service) SequenceMetrics(ctx context.Context, sequenceID string, f Filter) (*SequenceMetrics, error) {
	f.SequenceID = sequenceID
	events, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}

	out := &SequenceMetrics{
		SequenceID:   sequenceID,
		EmailMetrics: computeMetrics(events),
	}

	byStep := make(map[int][]*EmailEvent)
	for _, e := range events {
		if e.SequenceStep > 0 {
			byStep[e.SequenceStep] = append(byStep[e.SequenceStep], e)
		}
	}
	steps := make([]int, 0, len(byStep))
	for step := range byStep {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	for _, step := range steps {
		out.Steps = append(out.Steps, StepMetrics{
			Step:    step,
			Metrics: computeMetrics(byStep[step]),
		})
	}
	return out, nil
}

// CampaignMetrics computes base metrics scoped to one campaign.
func (s *Service) CampaignMetrics(ctx context.Context, campaignID string, f Filter) (*CampaignMetrics, error) {
	f.CampaignID = campaignID
	m, err := s.Metrics(ctx, f)
	if err != nil {
		return nil, err
	}
	return &CampaignMetrics{CampaignID: campaignID, EmailMetrics: *m}, nil
}

// VariantMetrics computes base metrics for one variant of one test.
func (s *Service) VariantMetrics(ctx context.Context, testID, variantID string, f Filter) (*VariantMetrics, error) {
	f.TestID = testID
	f.VariantID = variantID
	m, err := s.Metrics(ctx, f)
	if err != nil {
		return nil, err
	}
	return &VariantMetrics{TestID: testID, VariantID: variantID, EmailMetrics: *m}, nil
}

func computeMetrics(events []*EmailEvent) EmailMetrics {
	var m EmailMetrics

	// Uniqueness is per (lead, message) pair: a lead re-opening the same
	// message counts once.
	openPairs := make(map[string]struct{})
	clickPairs := make(map[string]struct{})
	conversions := 0

	for _, e := range events {
		key := e.LeadID + "\x00" + e.MessageID
		switch e.Type {
		case TypeSent:
			m.TotalSent++
		case TypeDelivered:
			m.TotalDelivered++
		case TypeOpen:
			m.TotalOpened++
			openPairs[key] = struct{}{}
		case TypeClick:
			m.TotalClicked++
			clickPairs[key] = struct{}{}
		case TypeConversion:
			m.TotalConverted++
			if e.Data.ConversionValue > 0 {
				m.TotalConversionValue += e.Data.ConversionValue
				conversions++
			}
		case TypeBounce:
			m.TotalBounced++
		case TypeComplaint:
			m.TotalComplaints++
		case TypeUnsubscribe:
			m.TotalUnsubscribed++
		}
	}

	m.UniqueOpens = len(openPairs)
	m.UniqueClicks = len(clickPairs)

	m.DeliveryRate = rate(m.TotalDelivered, m.TotalSent)
	m.BounceRate = rate(m.TotalBounced, m.TotalSent)
	m.OpenRate = rate(m.UniqueOpens, m.TotalDelivered)
	m.ClickRate = rate(m.UniqueClicks, m.TotalDelivered)
	m.ClickToOpenRate = rate(m.UniqueClicks, m.UniqueOpens)
	m.ConversionRate = rate(m.TotalConverted, m.TotalDelivered)
	m.UnsubscribeRate = rate(m.TotalUnsubscribed, m.TotalDelivered)
	m.ComplaintRate = rate(m.TotalComplaints, m.TotalDelivered)

	if conversions > 0 {
		m.AverageConversionValue = m.TotalConversionValue / float64(conversions)
	}
	return m
}

func rate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(numerator) / float64(denominator) * 100
}
