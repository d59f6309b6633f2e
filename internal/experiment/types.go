// Package experiment manages A/B test definitions, lifecycle and
// deterministic variant assignment.
package experiment

import "time"

// Status is the lifecycle state of a test.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// TestType names what a test varies.
type TestType string

const (
	TestTypeSubject  TestType = "subject"
	TestTypeContent  TestType = "content"
	TestTypeSendTime TestType = "send_time"
	TestTypeSender   TestType = "sender"
	TestTypeTemplate TestType = "template"
)

// Valid reports whether the test type is one of the known kinds.
func (t TestType) Valid() bool {
	switch t {
	case TestTypeSubject, TestTypeContent, TestTypeSendTime, TestTypeSender, TestTypeTemplate:
		return true
	}
	return false
}

// Metric names the success measure a test optimizes.
type Metric string

const (
	MetricOpenRate       Metric = "open_rate"
	MetricClickRate      Metric = "click_rate"
	MetricConversionRate Metric = "conversion_rate"
	MetricRevenue        Metric = "revenue"
)

// Valid reports whether the metric is one of the known measures.
func (m Metric) Valid() bool {
	switch m {
	case MetricOpenRate, MetricClickRate, MetricConversionRate, MetricRevenue:
		return true
	}
	return false
}

// Variant is one arm of a test. Weight is a percentage; weights across a
// test's variants must sum to 100.
type Variant struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Weight    float64           `json:"weight"`
	IsControl bool              `json:"is_control"`
	Config    map[string]string `json:"config,omitempty"`
}

// Test is a full experiment definition.
type Test struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        TestType  `json:"type"`
	Status      Status    `json:"status"`
	Variants    []Variant `json:"variants"`

	// TrafficAllocation is the percentage of eligible users entered into
	// the test at all; the rest are excluded and see the default
	// experience.
	TrafficAllocation float64 `json:"traffic_allocation"`

	PrimaryMetric     Metric  `json:"primary_metric"`
	ConfidenceLevel   float64 `json:"confidence_level"`
	MinimumSampleSize int     `json:"minimum_sample_size,omitempty"`

	CampaignID string `json:"campaign_id,omitempty"`
	SequenceID string `json:"sequence_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	WinnerVariantID  string `json:"winner_variant_id,omitempty"`
	CompletionReason string `json:"completion_reason,omitempty"`
}

// ControlVariant returns the control arm. Definitions are validated to
// hold exactly one, so a miss means the test was built outside the
// manager.
func (t *Test) ControlVariant() *Variant {
	for i := range t.Variants {
		if t.Variants[i].IsControl {
			return &t.Variants[i]
		}
	}
	return nil
}

// Variant returns the arm with the given id, or nil.
func (t *Test) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

// Assignment records which variant a user was given for a test. Excluded
// users get an assignment with Excluded set and no variant; those are
// computed on the fly and never stored, so raising the traffic
// allocation later brings previously excluded users in.
type Assignment struct {
	TestID     string    `json:"test_id"`
	UserID     string    `json:"user_id"`
	VariantID  string    `json:"variant_id,omitempty"`
	Excluded   bool      `json:"excluded,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
}
