package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTestDefinition reports a definition that fails validation.
	ErrInvalidTestDefinition = errors.New("invalid test definition")

	// ErrTestLocked reports an update that would change variants after the
	// test started collecting data.
	ErrTestLocked = errors.New("test variants are locked")

	// ErrTestNotRunning reports an assignment request against a test that
	// is not accepting traffic.
	ErrTestNotRunning = errors.New("test not running")
)

// Weights may carry float noise from JSON round trips; sums within this
// tolerance of 100 are accepted.
const weightTolerance = 0.01

// Manager owns test definitions, their lifecycle and variant assignment.
type Manager struct {
	tests       TestStore
	assignments AssignmentStore
	now         func() time.Time
	newID       func() string
}

// NewManager wires a manager over the given stores.
func NewManager(tests TestStore, assignments AssignmentStore) *Manager {
	return &Manager{
		tests:       tests,
		assignments: assignments,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// CreateInput is the user-supplied part of a test definition.
type CreateInput struct {
	Name              string    `json:"name"`
	Description       string    `json:"description,omitempty"`
	Type              TestType  `json:"type"`
	Variants          []Variant `json:"variants"`
	TrafficAllocation float64   `json:"traffic_allocation,omitempty"`
	PrimaryMetric     Metric    `json:"primary_metric,omitempty"`
	ConfidenceLevel   float64   `json:"confidence_level,omitempty"`
	MinimumSampleSize int       `json:"minimum_sample_size,omitempty"`
	CampaignID        string    `json:"campaign_id,omitempty"`
	SequenceID        string    `json:"sequence_id,omitempty"`
}

// CreateTest validates the definition, applies defaults and stores the
// test in draft.
func (m *Manager) CreateTest(ctx context.Context, in CreateInput) (*Test, error) {
	if in.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTestDefinition)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown test type %q", ErrInvalidTestDefinition, in.Type)
	}
	if err := validateVariants(in.Variants); err != nil {
		return nil, err
	}

	if in.TrafficAllocation == 0 {
		in.TrafficAllocation = 100
	}
	if in.TrafficAllocation < 0 || in.TrafficAllocation > 100 {
		return nil, fmt.Errorf("%w: traffic allocation %v out of range", ErrInvalidTestDefinition, in.TrafficAllocation)
	}
	if in.PrimaryMetric == "" {
		in.PrimaryMetric = MetricOpenRate
	}
	if !in.PrimaryMetric.Valid() {
		return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidTestDefinition, in.PrimaryMetric)
	}
	if in.ConfidenceLevel == 0 {
		in.ConfidenceLevel = 0.95
	}
	if in.ConfidenceLevel <= 0 || in.ConfidenceLevel >= 1 {
		return nil, fmt.Errorf("%w: confidence level %v out of range", ErrInvalidTestDefinition, in.ConfidenceLevel)
	}

	now := m.now().UTC()
	t := &Test{
		ID:                m.newID(),
		Name:              in.Name,
		Description:       in.Description,
		Type:              in.Type,
		Status:            StatusDraft,
		Variants:          append([]Variant(nil), in.Variants...),
		TrafficAllocation: in.TrafficAllocation,
		PrimaryMetric:     in.PrimaryMetric,
		ConfidenceLevel:   in.ConfidenceLevel,
		MinimumSampleSize: in.MinimumSampleSize,
		CampaignID:        in.CampaignID,
		SequenceID:        in.SequenceID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := m.tests.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func validateVariants(variants []Variant) error {
	if len(variants) < 2 {
		return fmt.Errorf("%w: at least two variants required", ErrInvalidTestDefinition)
	}

	var sum float64
	controls := 0
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if v.ID == "" {
			return fmt.Errorf("%w: variant id is required", ErrInvalidTestDefinition)
		}
		if seen[v.ID] {
			return fmt.Errorf("%w: duplicate variant id %q", ErrInvalidTestDefinition, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 {
			return fmt.Errorf("%w: variant %q has negative weight", ErrInvalidTestDefinition, v.ID)
		}
		sum += v.Weight
		if v.IsControl {
			controls++
		}
	}
	if math.Abs(sum-100) > weightTolerance {
		return fmt.Errorf("%w: variant weights sum to %v, want 100", ErrInvalidTestDefinition, sum)
	}
	if controls != 1 {
		return fmt.Errorf("%w: exactly one control variant required, got %d", ErrInvalidTestDefinition, controls)
	}
	return nil
}

// UpdateInput carries partial updates; nil fields are left unchanged.
type UpdateInput struct {
	Name              *string   `json:"name,omitempty"`
	Description       *string   `json:"description,omitempty"`
	Variants          []Variant `json:"variants,omitempty"`
	TrafficAllocation *float64  `json:"traffic_allocation,omitempty"`
	PrimaryMetric     *Metric   `json:"primary_metric,omitempty"`
	ConfidenceLevel   *float64  `json:"confidence_level,omitempty"`
	MinimumSampleSize *int      `json:"minimum_sample_size,omitempty"`
}

// UpdateTest applies a partial update. Variants can only change while the
// test is still in draft; everything else may change at any time before
// archive.
func (m *Manager) UpdateTest(ctx context.Context, id string, in UpdateInput) (*Test, error) {
	t, err := m.tests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status == StatusArchived {
		return nil, fmt.Errorf("%w: test %s is archived", ErrTestLocked, id)
	}

	if in.Variants != nil {
		if t.Status != StatusDraft {
			return nil, fmt.Errorf("%w: test %s already started", ErrTestLocked, id)
		}
		if err := validateVariants(in.Variants); err != nil {
			return nil, err
		}
		t.Variants = append([]Variant(nil), in.Variants...)
	}
	if in.Name != nil {
		t.Name = *in.Name
	}
	if in.Description != nil {
		t.Description = *in.Description
	}
	if in.TrafficAllocation != nil {
		if *in.TrafficAllocation < 0 || *in.TrafficAllocation > 100 {
			return nil, fmt.Errorf("%w: traffic allocation %v out of range", ErrInvalidTestDefinition, *in.TrafficAllocation)
		}
		t.TrafficAllocation = *in.TrafficAllocation
	}
	if in.PrimaryMetric != nil {
		if !in.PrimaryMetric.Valid() {
			return nil, fmt.Errorf("%w: unknown metric %q", ErrInvalidTestDefinition, *in.PrimaryMetric)
		}
		t.PrimaryMetric = *in.PrimaryMetric
	}
	if in.ConfidenceLevel != nil {
		if *in.ConfidenceLevel <= 0 || *in.ConfidenceLevel >= 1 {
			return nil, fmt.Errorf("%w: confidence level %v out of range", ErrInvalidTestDefinition, *in.ConfidenceLevel)
		}
		t.ConfidenceLevel = *in.ConfidenceLevel
	}
	if in.MinimumSampleSize != nil {
		t.MinimumSampleSize = *in.MinimumSampleSize
	}

	t.UpdatedAt = m.now().UTC()
	if err := m.tests.Save(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTest returns a test definition.
func (m *Manager) GetTest(ctx context.Context, id string) (*Test, error) {
	return m.tests.Get(ctx, id)
}

// ListTests returns all test definitions.
func (m *Manager) ListTests(ctx context.Context) ([]*Test, error) {
	return m.tests.List(ctx)
}

// StartTest moves a draft or paused test to running. The returned bool is
// false when the test was already running (a no-op, not an error).
func (m *Manager) StartTest(ctx context.Context, id string) (bool, error) {
	return m.transition(ctx, id, StatusRunning, func(t *Test) error {
		switch t.Status {
		case StatusDraft, StatusPaused:
			if t.StartedAt == nil {
				now := m.now().UTC()
				t.StartedAt = &now
			}
			return nil
		default:
			return fmt.Errorf("cannot start test in status %q", t.Status)
		}
	})
}

// PauseTest moves a running test to paused.
func (m *Manager) PauseTest(ctx context.Context, id string) (bool, error) {
	return m.transition(ctx, id, StatusPaused, func(t *Test) error {
		if t.Status != StatusRunning {
			return fmt.Errorf("cannot pause test in status %q", t.Status)
		}
		return nil
	})
}

// CompleteTest moves a running test to completed, recording the winner
// and the reason the test ended, if given.
func (m *Manager) CompleteTest(ctx context.Context, id, winnerVariantID, reason string) (bool, error) {
	return m.transition(ctx, id, StatusCompleted, func(t *Test) error {
		if t.Status != StatusRunning {
			return fmt.Errorf("cannot complete test in status %q", t.Status)
		}
		if winnerVariantID != "" && t.Variant(winnerVariantID) == nil {
			return fmt.Errorf("unknown winner variant %q", winnerVariantID)
		}
		now := m.now().UTC()
		t.CompletedAt = &now
		t.WinnerVariantID = winnerVariantID
		t.CompletionReason = reason
		return nil
	})
}

// ArchiveTest retires a test that is not running.
func (m *Manager) ArchiveTest(ctx context.Context, id string) (bool, error) {
	return m.transition(ctx, id, StatusArchived, func(t *Test) error {
		if t.Status == StatusRunning {
			return fmt.Errorf("cannot archive a running test")
		}
		return nil
	})
}

func (m *Manager) transition(ctx context.Context, id string, to Status, check func(*Test) error) (bool, error) {
	t, err := m.tests.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if t.Status == to {
		return false, nil
	}
	if err := check(t); err != nil {
		return false, err
	}
	t.Status = to
	t.UpdatedAt = m.now().UTC()
	if err := m.tests.Save(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// AssignVariant returns the sticky variant assignment for a user. The
// decision order is: existing assignment, then traffic inclusion, then a
// cumulative weight walk over the variants. Variant assignments are
// recorded before they are returned so the same user can never observe
// two different answers; exclusions are returned without being stored.
func (m *Manager) AssignVariant(ctx context.Context, testID, userID string) (*Assignment, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidTestDefinition)
	}

	t, err := m.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusRunning {
		return nil, fmt.Errorf("%w: test %s is %s", ErrTestNotRunning, testID, t.Status)
	}

	if existing, err := m.assignments.Get(ctx, testID, userID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	a := &Assignment{
		TestID:     testID,
		UserID:     userID,
		AssignedAt: m.now().UTC(),
	}
	// Exclusion is never recorded. The inclusion hash is deterministic, so
	// the answer is stable anyway, and leaving no row lets a later traffic
	// allocation increase pick the user up.
	if inclusionBucket(testID, userID) > t.TrafficAllocation {
		a.Excluded = true
		return a, nil
	}

	a.VariantID = pickVariant(t, userID)
	return m.assignments.SaveIfAbsent(ctx, a)
}

// pickVariant walks cumulative weights at the user's hash point. Float
// accumulation can leave the last boundary a hair under 100, so the last
// variant is the fallback.
func pickVariant(t *Test, userID string) string {
	point := variantPoint(t.ID, userID)
	var cum float64
	for _, v := range t.Variants {
		cum += v.Weight
		if point < cum {
			return v.ID
		}
	}
	return t.Variants[len(t.Variants)-1].ID
}
