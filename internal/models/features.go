package models

import "math"

// Canonical feature names used by the extractor and the population
// detectors. Performance features describe evaluation scores; behavioral
// features describe interaction patterns.
const (
	FeatureAvgScore         = "avg_score"
	FeatureScoreStdDev      = "score_stddev"
	FeatureScoreVariance    = "score_variance"
	FeatureEvaluatorCount   = "evaluator_count"
	FeatureFeedbackReceived = "feedback_received"
	FeatureFeedbackSent     = "feedback_sent"
	FeatureNegativeRatio    = "negative_ratio"
	FeatureDaysSinceLogin   = "days_since_login"
	FeatureActivePlans      = "active_plans"
)

// PerformanceFeatures lists the features derived from evaluation scores,
// in the order detectors iterate them.
func PerformanceFeatures() []string {
	return []string{FeatureAvgScore, FeatureScoreStdDev, FeatureScoreVariance, FeatureEvaluatorCount}
}

// BehavioralFeatures lists the features derived from interaction signals.
func BehavioralFeatures() []string {
	return []string{FeatureFeedbackReceived, FeatureFeedbackSent, FeatureNegativeRatio, FeatureDaysSinceLogin}
}

// FeatureVector holds the per-employee, per-cycle aggregate features.
// Every numeric feature is either a finite number or absent (nil); NaN
// and infinities are never stored. Absent features exclude the employee
// from detectors that require them.
type FeatureVector struct {
	EmployeeID   string
	EmployeeName string
	CycleID      string

	AvgScore         *float64
	ScoreStdDev      *float64
	ScoreVariance    *float64
	EvaluatorCount   *float64
	FeedbackReceived *float64
	FeedbackSent     *float64
	NegativeRatio    *float64
	DaysSinceLogin   *float64
	ActivePlans      *float64

	// CategoryStdDev maps question category to sample stdev, populated
	// only for categories with at least two answers.
	CategoryStdDev map[string]float64

	// LowConfidence marks vectors whose spread features were defaulted
	// because fewer than two evaluations existed.
	LowConfidence bool
}

// Feature looks up a feature by canonical name. The second return is
// false when the feature is absent for this employee.
func (v FeatureVector) Feature(name string) (float64, bool) {
	var p *float64
	switch name {
	case FeatureAvgScore:
		p = v.AvgScore
	case FeatureScoreStdDev:
		p = v.ScoreStdDev
	case FeatureScoreVariance:
		p = v.ScoreVariance
	case FeatureEvaluatorCount:
		p = v.EvaluatorCount
	case FeatureFeedbackReceived:
		p = v.FeedbackReceived
	case FeatureFeedbackSent:
		p = v.FeedbackSent
	case FeatureNegativeRatio:
		p = v.NegativeRatio
	case FeatureDaysSinceLogin:
		p = v.DaysSinceLogin
	case FeatureActivePlans:
		p = v.ActivePlans
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SetFeature stores a value under a canonical name, silently dropping
// non-finite values to preserve the no-NaN invariant.
func (v *FeatureVector) SetFeature(name string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	val := value
	switch name {
	case FeatureAvgScore:
		v.AvgScore = &val
	case FeatureScoreStdDev:
		v.ScoreStdDev = &val
	case FeatureScoreVariance:
		v.ScoreVariance = &val
	case FeatureEvaluatorCount:
		v.EvaluatorCount = &val
	case FeatureFeedbackReceived:
		v.FeedbackReceived = &val
	case FeatureFeedbackSent:
		v.FeedbackSent = &val
	case FeatureNegativeRatio:
		v.NegativeRatio = &val
	case FeatureDaysSinceLogin:
		v.DaysSinceLogin = &val
	case FeatureActivePlans:
		v.ActivePlans = &val
	}
}

// UsableFeatures returns how many of the named features are present.
func (v FeatureVector) UsableFeatures(names []string) int {
	count := 0
	for _, name := range names {
		if _, ok := v.Feature(name); ok {
			count++
		}
	}
	return count
}
