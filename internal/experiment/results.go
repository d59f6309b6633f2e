package experiment

import (
	"context"
	"fmt"

	"github.com/ignite/email-insights/internal/event"
	"github.com/ignite/email-insights/internal/stats"
)

// MetricsSource supplies per-variant engagement metrics. The event
// service satisfies it.
type MetricsSource interface {
	VariantMetrics(ctx context.Context, testID, variantID string, f event.Filter) (*event.VariantMetrics, error)
}

// VariantResult is one arm's observed performance within a results report.
type VariantResult struct {
	VariantID string  `json:"variant_id"`
	Name      string  `json:"name"`
	IsControl bool    `json:"is_control"`
	Sent      int     `json:"sent"`
	Delivered int     `json:"delivered"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"rate"`

	// Improvement is the relative lift over control as a percentage;
	// zero for the control itself or when the control rate is zero.
	Improvement float64 `json:"improvement"`

	PValue         float64        `json:"p_value"`
	Significant    bool           `json:"significant"`
	ConfidenceInt  stats.Interval `json:"confidence_interval"`
	EffectSize     float64        `json:"effect_size"`
	StatisticalPow float64        `json:"statistical_power"`
}

// TestResults is the full results report for a test.
type TestResults struct {
	TestID            string          `json:"test_id"`
	Status            Status          `json:"status"`
	PrimaryMetric     Metric          `json:"primary_metric"`
	ConfidenceLevel   float64         `json:"confidence_level"`
	Variants          []VariantResult `json:"variants"`
	TotalSent         int             `json:"total_sent"`
	SampleSizeReached bool            `json:"sample_size_reached"`

	// Recommendation is "declare_winner" once the sample target is met or
	// the test is already completed, otherwise "continue".
	Recommendation  string `json:"recommendation"`
	WinnerVariantID string `json:"winner_variant_id,omitempty"`
}

// Results computes the current results report for a test from its event
// metrics. The filter narrows the event window the report is computed
// over.
func (m *Manager) Results(ctx context.Context, testID string, f event.Filter, src MetricsSource) (*TestResults, error) {
	t, err := m.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	control := t.ControlVariant()
	if control == nil {
		return nil, fmt.Errorf("%w: test %s has no control variant", ErrInvalidTestDefinition, testID)
	}

	obs := make(map[string]stats.Observation, len(t.Variants))
	metrics := make(map[string]*event.VariantMetrics, len(t.Variants))
	totalSent := 0
	for _, v := range t.Variants {
		vm, err := src.VariantMetrics(ctx, testID, v.ID, f)
		if err != nil {
			return nil, err
		}
		metrics[v.ID] = vm
		obs[v.ID] = observationFor(t.PrimaryMetric, v, vm)
		totalSent += vm.TotalSent
	}

	out := &TestResults{
		TestID:            testID,
		Status:            t.Status,
		PrimaryMetric:     t.PrimaryMetric,
		ConfidenceLevel:   t.ConfidenceLevel,
		TotalSent:         totalSent,
		SampleSizeReached: t.MinimumSampleSize == 0 || totalSent >= t.MinimumSampleSize,
		WinnerVariantID:   t.WinnerVariantID,
	}

	controlObs := obs[control.ID]
	var treatments []stats.Observation
	for _, v := range t.Variants {
		vm := metrics[v.ID]
		o := obs[v.ID]
		vr := VariantResult{
			VariantID: v.ID,
			Name:      v.Name,
			IsControl: v.IsControl,
			Sent:      vm.TotalSent,
			Delivered: vm.TotalDelivered,
			Successes: o.Successes,
			Rate:      o.Rate(),
		}

		if v.IsControl {
			vr.ConfidenceInt = stats.WilsonInterval(o.Successes, o.N, t.ConfidenceLevel)
			vr.PValue = 1
		} else {
			treatments = append(treatments, o)
			cmp, err := stats.Compare(controlObs, o, t.ConfidenceLevel)
			if err != nil {
				return nil, err
			}
			vr.PValue = cmp.PValue
			vr.Significant = cmp.Significant
			vr.ConfidenceInt = cmp.TreatmentCI
			vr.EffectSize = cmp.EffectSize
			vr.StatisticalPow = cmp.Power
			if controlObs.Rate() > 0 {
				vr.Improvement = (o.Rate() - controlObs.Rate()) / controlObs.Rate() * 100
			}
		}
		out.Variants = append(out.Variants, vr)
	}

	winner, err := stats.DetermineWinner(controlObs, treatments, t.ConfidenceLevel)
	if err != nil {
		return nil, err
	}
	if winner != "" && out.WinnerVariantID == "" {
		out.WinnerVariantID = winner
	}
	if out.SampleSizeReached || t.Status == StatusCompleted {
		out.Recommendation = "declare_winner"
	} else {
		out.Recommendation = "continue"
	}
	return out, nil
}

// VariantComparison is the full output of a head-to-head comparison:
// both variants' metric sets, the B minus A differences on the headline
// rates and counts, and the significance test on the primary metric.
type VariantComparison struct {
	TestID        string                `json:"test_id"`
	PrimaryMetric Metric                `json:"primary_metric"`
	VariantA      *event.VariantMetrics `json:"variant_a"`
	VariantB      *event.VariantMetrics `json:"variant_b"`
	Diff          MetricsDiff           `json:"diff"`
	Stats         *stats.Comparison     `json:"stats"`
}

// MetricsDiff holds B minus A for the headline metrics. Rates are
// percentage-point differences.
type MetricsDiff struct {
	Sent            int     `json:"sent"`
	Delivered       int     `json:"delivered"`
	UniqueOpens     int     `json:"unique_opens"`
	UniqueClicks    int     `json:"unique_clicks"`
	Converted       int     `json:"converted"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
	ClickToOpenRate float64 `json:"click_to_open_rate"`
	ConversionRate  float64 `json:"conversion_rate"`
	BounceRate      float64 `json:"bounce_rate"`
	UnsubscribeRate float64 `json:"unsubscribe_rate"`
	ConversionValue float64 `json:"conversion_value"`
}

// CompareVariants runs a direct two-arm comparison between any two
// variants of a test on its primary metric, treating the first as the
// baseline. The filter narrows the event window both arms are measured
// over.
func (m *Manager) CompareVariants(ctx context.Context, testID, variantA, variantB string, f event.Filter, src MetricsSource) (*VariantComparison, error) {
	t, err := m.tests.Get(ctx, testID)
	if err != nil {
		return nil, err
	}
	va := t.Variant(variantA)
	vb := t.Variant(variantB)
	if va == nil || vb == nil {
		return nil, fmt.Errorf("%w: unknown variant", ErrInvalidTestDefinition)
	}

	ma, err := src.VariantMetrics(ctx, testID, variantA, f)
	if err != nil {
		return nil, err
	}
	mb, err := src.VariantMetrics(ctx, testID, variantB, f)
	if err != nil {
		return nil, err
	}

	cmp, err := stats.Compare(
		observationFor(t.PrimaryMetric, *va, ma),
		observationFor(t.PrimaryMetric, *vb, mb),
		t.ConfidenceLevel,
	)
	if err != nil {
		return nil, err
	}

	return &VariantComparison{
		TestID:        testID,
		PrimaryMetric: t.PrimaryMetric,
		VariantA:      ma,
		VariantB:      mb,
		Diff: MetricsDiff{
			Sent:            mb.TotalSent - ma.TotalSent,
			Delivered:       mb.TotalDelivered - ma.TotalDelivered,
			UniqueOpens:     mb.UniqueOpens - ma.UniqueOpens,
			UniqueClicks:    mb.UniqueClicks - ma.UniqueClicks,
			Converted:       mb.TotalConverted - ma.TotalConverted,
			OpenRate:        mb.OpenRate - ma.OpenRate,
			ClickRate:       mb.ClickRate - ma.ClickRate,
			ClickToOpenRate: mb.ClickToOpenRate - ma.ClickToOpenRate,
			ConversionRate:  mb.ConversionRate - ma.ConversionRate,
			BounceRate:      mb.BounceRate - ma.BounceRate,
			UnsubscribeRate: mb.UnsubscribeRate - ma.UnsubscribeRate,
			ConversionValue: mb.TotalConversionValue - ma.TotalConversionValue,
		},
		Stats: cmp,
	}, nil
}

// observationFor projects variant metrics onto the success/trial counts
// of the test's primary metric. Opens and clicks count unique pairs over
// delivered; conversions and revenue count over delivered as well, with
// revenue falling back to conversion counts for significance testing.
func observationFor(metric Metric, v Variant, vm *event.VariantMetrics) stats.Observation {
	o := stats.Observation{ID: v.ID, Control: v.IsControl, N: vm.TotalDelivered}
	switch metric {
	case MetricClickRate:
		o.Successes = vm.UniqueClicks
	case MetricConversionRate, MetricRevenue:
		o.Successes = vm.TotalConverted
	default:
		o.Successes = vm.UniqueOpens
	}
	if o.Successes > o.N {
		// Opens can outnumber delivered when delivery events are missing;
		// clamp so the proportion stays valid.
		o.N = o.Successes
	}
	return o
}
