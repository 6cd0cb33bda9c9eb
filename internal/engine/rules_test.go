package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/talentstack/talent-risk/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func vectorWith(features map[string]float64) models.FeatureVector {
	v := models.FeatureVector{EmployeeID: "emp-1", CycleID: "cycle-1"}
	for name, value := range features {
		v.SetFeature(name, value)
	}
	return v
}

func TestScoreNoEvaluationData(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	// No evaluator count at all means no completed evaluations.
	analysis := scorer.Score(emp, vectorWith(nil))

	if got := analysis.Performance.Score; got != 1 {
		t.Fatalf("performance score = %g, want 1", got)
	}
	if !analysis.Performance.Insufficient {
		t.Fatal("performance sub-score should be marked insufficient")
	}
	if !hasFlag(analysis.RedFlags, models.FlagNoEvaluationData) {
		t.Fatalf("expected NO_EVALUATION_DATA flag, got %v", analysis.RedFlags)
	}
}

func TestScoreNoAnswerData(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	// Evaluations completed but none carried scored answers.
	analysis := scorer.Score(emp, vectorWith(map[string]float64{
		models.FeatureEvaluatorCount: 3,
	}))

	if got := analysis.Performance.Score; got != 2 {
		t.Fatalf("performance score = %g, want 2", got)
	}
	if !hasFlag(analysis.RedFlags, models.FlagNoAnswerData) {
		t.Fatalf("expected NO_ANSWER_DATA flag, got %v", analysis.RedFlags)
	}
}

func TestScoreWorkedExample(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1", FullName: "Dana Reyes", OrgUnitID: "ou-1"}

	// avg 2.1 across 3 evaluations, zero plans, 20 days since login, a
	// single negative feedback event.
	vector := vectorWith(map[string]float64{
		models.FeatureAvgScore:         2.1,
		models.FeatureEvaluatorCount:   3,
		models.FeatureActivePlans:      0,
		models.FeatureDaysSinceLogin:   20,
		models.FeatureFeedbackReceived: 1,
		models.FeatureNegativeRatio:    1.0,
	})

	analysis := scorer.Score(emp, vector)

	if got := analysis.Performance.Score; got != 3 {
		t.Errorf("performance score = %g, want 3", got)
	}
	if got := analysis.Behavioral.Score; got != 3 {
		t.Errorf("behavioral score = %g, want 3", got)
	}
	// Peer: ratio 1.0 > 0.6 adds 3, one event < 2 adds 1.
	if got := analysis.Peer.Score; got != 4 {
		t.Errorf("peer score = %g, want 4", got)
	}
	if analysis.Level != models.RiskCritical && analysis.Level != models.RiskHigh {
		t.Fatalf("level = %s, want HIGH or CRITICAL", analysis.Level)
	}
	if !analysis.Level.AtLeast(models.RiskHigh) {
		t.Fatalf("total %g should map to at least HIGH", analysis.TotalScore)
	}
	for _, want := range []models.RedFlag{
		models.FlagLowPerformance,
		models.FlagLongAbsence,
		models.FlagNoDevelopmentPlan,
		models.FlagHighNegativeFeedback,
	} {
		if !hasFlag(analysis.RedFlags, want) {
			t.Errorf("missing flag %s in %v", want, analysis.RedFlags)
		}
	}
	if len(analysis.Recommendations) == 0 {
		t.Error("expected recommendations for flagged employee")
	}
}

func TestScoreMonotonicInAverage(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	base := map[string]float64{
		models.FeatureEvaluatorCount:   3,
		models.FeatureActivePlans:      1,
		models.FeatureFeedbackReceived: 4,
		models.FeatureNegativeRatio:    0.25,
		models.FeatureDaysSinceLogin:   2,
	}

	prev := -1.0
	for _, avg := range []float64{1.0, 2.0, 2.9, 3.0, 4.5, 8.0} {
		features := make(map[string]float64, len(base)+1)
		for k, v := range base {
			features[k] = v
		}
		features[models.FeatureAvgScore] = avg

		total := scorer.Score(emp, vectorWith(features)).TotalScore
		if prev >= 0 && total > prev {
			t.Fatalf("total score increased from %g to %g as average rose to %g", prev, total, avg)
		}
		prev = total
	}
}

func TestScoreConsistencyVariance(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	vector := vectorWith(map[string]float64{
		models.FeatureAvgScore:       6.0,
		models.FeatureEvaluatorCount: 3,
	})
	vector.CategoryStdDev = map[string]float64{
		"Leadership":    3.1,
		"Communication": 2.8,
		"Delivery":      0.4,
	}

	sub := scorer.Score(emp, vector).Consistency
	if sub.Score != 4 {
		t.Fatalf("consistency score = %g, want 4 (two categories over threshold)", sub.Score)
	}
	if !hasFlag(sub.RedFlags, models.FlagHighScoreVariance) {
		t.Fatalf("expected HIGH_SCORE_VARIANCE, got %v", sub.RedFlags)
	}
}

func TestScoreMissingOrgUnit(t *testing.T) {
	scorer := NewRuleScorer(DefaultRulePack(), testLogger())
	emp := models.Employee{ID: "emp-1"}

	analysis := scorer.Score(emp, vectorWith(map[string]float64{
		models.FeatureAvgScore:       7.0,
		models.FeatureEvaluatorCount: 3,
		models.FeatureActivePlans:    2,
	}))

	if !hasFlag(analysis.RedFlags, models.FlagNoOrganizationalUnit) {
		t.Fatalf("expected NO_ORGANIZATIONAL_UNIT, got %v", analysis.RedFlags)
	}
}

func TestLoadRulePackOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte(`
thresholds:
  lowPerformance: 4.0
  longAbsenceDays: 7
levels:
  medium: 2
  high: 5
  critical: 9
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	pack, err := LoadRulePack(path, testLogger())
	if err != nil {
		t.Fatalf("LoadRulePack: %v", err)
	}
	if pack.Thresholds.LowPerformance != 4.0 {
		t.Errorf("lowPerformance = %g, want 4.0", pack.Thresholds.LowPerformance)
	}
	if pack.Thresholds.LongAbsenceDays != 7 {
		t.Errorf("longAbsenceDays = %g, want 7", pack.Thresholds.LongAbsenceDays)
	}
	// Omitted values keep defaults.
	if pack.Thresholds.NegativeRatioHigh != 0.6 {
		t.Errorf("negativeRatioHigh = %g, want default 0.6", pack.Thresholds.NegativeRatioHigh)
	}
	if pack.Levels.High != 5 {
		t.Errorf("levels.high = %g, want 5", pack.Levels.High)
	}
}

func TestLoadRulePackMissingFileUsesDefaults(t *testing.T) {
	pack, err := LoadRulePack("/nonexistent/rules.yaml", testLogger())
	if err != nil {
		t.Fatalf("LoadRulePack: %v", err)
	}
	if pack.Levels.Critical != 10 {
		t.Fatalf("critical threshold = %g, want default 10", pack.Levels.Critical)
	}
}

func TestLoadRulePackRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	content := []byte("levels:\n  medium: 5\n  high: 5\n  critical: 4\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRulePack(path, testLogger()); err == nil {
		t.Fatal("expected error for non-increasing level thresholds")
	}
}

func hasFlag(flags []models.RedFlag, want models.RedFlag) bool {
	for _, flag := range flags {
		if flag == want {
			return true
		}
	}
	return false
}
