package engine

import (
	"testing"
	"time"

	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/models"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestPlaceOnGridCells(t *testing.T) {
	cases := []struct {
		performance, potential float64
		want                   models.GridCell
	}{
		{4.5, 4.5, models.CellStar},
		{5.0, 5.0, models.CellStar},
		{4.0, 4.5, models.CellFutureLeader},
		{4.5, 3.5, models.CellCurrentLeader},
		{4.0, 3.5, models.CellHighPotential},
		{3.5, 4.0, models.CellEmergingTalent},
		{3.5, 3.0, models.CellSolidPerformer},
		{3.0, 3.5, models.CellDeveloping},
		{3.0, 2.5, models.CellInconsistent},
		{1.0, 1.0, models.CellUnderperformer},
		{2.9, 5.0, models.CellUnderperformer},
	}
	for _, tc := range cases {
		if got := PlaceOnGrid(tc.performance, tc.potential); got != tc.want {
			t.Errorf("PlaceOnGrid(%g, %g) = %s, want %s", tc.performance, tc.potential, got, tc.want)
		}
	}
}

func TestPlaceOnGridTotal(t *testing.T) {
	// Every point of a dense sweep must land in some cell.
	for perf := 0.0; perf <= 5.0; perf += 0.25 {
		for pot := 0.0; pot <= 5.0; pot += 0.25 {
			if cell := PlaceOnGrid(perf, pot); cell == "" {
				t.Fatalf("PlaceOnGrid(%g, %g) returned empty cell", perf, pot)
			}
		}
	}
}

func TestPotentialMissingFactorsUseMidpoint(t *testing.T) {
	scorer := NewPotentialScorer(fixedNow)
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	// No features, no signals: every factor but inverse risk is absent.
	vector := models.FeatureVector{EmployeeID: "emp-1", CycleID: "cycle-1"}
	analysis := models.RiskAnalysis{Level: models.RiskLow}

	a := scorer.Assess(emp, vector, extractors.RawSignals{}, analysis, 0)

	// 0.25*2.5 + 0.30*2.5 + 0.25*2.5 + 0.20*5 = 3.0
	if diff := a.Potential - 3.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("potential = %g, want 3.0", a.Potential)
	}
	if a.Performance != 2.5 {
		t.Errorf("performance axis = %g, want midpoint 2.5", a.Performance)
	}
}

func TestPotentialWeightedComposite(t *testing.T) {
	scorer := NewPotentialScorer(fixedNow)
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1"}

	vector := models.FeatureVector{EmployeeID: "emp-1", CycleID: "cycle-1"}
	vector.SetFeature(models.FeatureAvgScore, 9.0)
	vector.SetFeature(models.FeatureActivePlans, 2)

	recent := fixedNow().AddDate(0, 0, -10)
	signals := extractors.RawSignals{
		Feedback: []models.FeedbackEvent{
			{ToID: "emp-1", Rating: 5, CreatedAt: recent},
			{ToID: "emp-1", Rating: 4, CreatedAt: recent},
			{ToID: "emp-1", Rating: 2, CreatedAt: recent},
			{ToID: "emp-1", Rating: 5, CreatedAt: fixedNow().AddDate(0, 0, -120)},
		},
	}
	analysis := models.RiskAnalysis{Level: models.RiskLow}

	a := scorer.Assess(emp, vector, signals, analysis, 0)

	// development: min(2*2, 5) = 4. feedback: two positives in window,
	// min(0.5*2, 5) = 1. trend: absent, midpoint 2.5. inverse risk: 5.
	want := 0.25*4 + 0.30*1 + 0.25*2.5 + 0.20*5
	if diff := a.Potential - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("potential = %g, want %g", a.Potential, want)
	}
	if a.Performance != 4.5 {
		t.Errorf("performance axis = %g, want 4.5", a.Performance)
	}
}

func TestScoreTrend(t *testing.T) {
	at := func(daysAgo int) *time.Time {
		ts := fixedNow().AddDate(0, 0, -daysAgo)
		return &ts
	}
	evals := []models.Evaluation{
		// Older than the three-evaluation window; must not skew the fit.
		{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(90), Answers: []models.ScoredAnswer{{Score: 10}}},
		{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(60), Answers: []models.ScoredAnswer{{Score: 4}}},
		{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(30), Answers: []models.ScoredAnswer{{Score: 6}}},
		{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(1), Answers: []models.ScoredAnswer{{Score: 8}}},
		{Kind: models.ReviewSelf, Completed: true, CompletedAt: at(1), Answers: []models.ScoredAnswer{{Score: 10}}},
	}

	slope, ok := scoreTrend(evals)
	if !ok {
		t.Fatal("expected a trend from three completed peer evaluations")
	}
	if diff := slope - 2.0; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("slope = %g, want 2.0", slope)
	}

	if _, ok := scoreTrend(evals[:1]); ok {
		t.Error("single evaluation should not produce a trend")
	}
}

func TestRetentionRiskAndSuccession(t *testing.T) {
	scorer := NewPotentialScorer(fixedNow)
	lastLogin := fixedNow().AddDate(0, 0, -10)
	emp := models.Employee{ID: "emp-1", OrgUnitID: "ou-1", LastLogin: &lastLogin}

	vector := models.FeatureVector{EmployeeID: "emp-1", CycleID: "cycle-1"}
	vector.SetFeature(models.FeatureAvgScore, 4.0) // performance axis 2.0

	signals := extractors.RawSignals{SurveyAttention: true}
	analysis := models.RiskAnalysis{Level: models.RiskHigh}

	a := scorer.Assess(emp, vector, signals, analysis, 3)

	// 2 (low performance) + 1.5 (survey) + 1 (flags) + 0.5 (login) = 5.
	if a.RetentionRisk != 5 {
		t.Errorf("retention risk = %g, want 5", a.RetentionRisk)
	}
	if a.SuccessionReady {
		t.Error("high retention risk must block succession readiness")
	}

	// A star with low retention risk is succession ready.
	healthy := models.Employee{ID: "emp-2", OrgUnitID: "ou-1", LastLogin: &lastLogin}
	v2 := models.FeatureVector{EmployeeID: "emp-2", CycleID: "cycle-1"}
	v2.SetFeature(models.FeatureAvgScore, 10)
	v2.SetFeature(models.FeatureActivePlans, 3)
	recent := fixedNow().AddDate(0, 0, -5)
	at := func(daysAgo int) *time.Time {
		ts := fixedNow().AddDate(0, 0, -daysAgo)
		return &ts
	}
	s2 := extractors.RawSignals{
		Feedback: manyPositive("emp-2", 10, recent),
		Evaluations: []models.Evaluation{
			{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(40), Answers: []models.ScoredAnswer{{Score: 8}}},
			{Kind: models.ReviewPeer, Completed: true, CompletedAt: at(5), Answers: []models.ScoredAnswer{{Score: 10}}},
		},
	}

	b := scorer.Assess(healthy, v2, s2, models.RiskAnalysis{Level: models.RiskLow}, 0)
	if b.GridCell != models.CellStar {
		t.Fatalf("grid cell = %s, want star", b.GridCell)
	}
	if !b.HighPotential {
		t.Error("star must be marked high potential")
	}
	if !b.SuccessionReady {
		t.Errorf("star with retention risk %g should be succession ready", b.RetentionRisk)
	}
}

func manyPositive(toID string, n int, at time.Time) []models.FeedbackEvent {
	events := make([]models.FeedbackEvent, n)
	for i := range events {
		events[i] = models.FeedbackEvent{ToID: toID, Rating: 5, CreatedAt: at}
	}
	return events
}
