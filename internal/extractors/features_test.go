package extractors

import (
	"testing"
	"time"

	"github.com/talentstack/talent-risk/internal/models"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func answer(category string, score float64) models.ScoredAnswer {
	return models.ScoredAnswer{QuestionID: "q", Category: category, Score: score}
}

func completedEval(kind models.ReviewKind, answers ...models.ScoredAnswer) models.Evaluation {
	return models.Evaluation{Kind: kind, Completed: true, Answers: answers}
}

func TestExtractAveragesCompletedNonSelfEvaluations(t *testing.T) {
	extractor := NewFeatureExtractor(nil, fixedNow)
	emp := models.Employee{ID: "e1", FullName: "Test Employee"}

	signals := RawSignals{
		Evaluations: []models.Evaluation{
			completedEval(models.ReviewPeer, answer("Teamwork", 8), answer("Teamwork", 6)),
			completedEval(models.ReviewManager, answer("Delivery", 4)),
			// Self review must be excluded from peer aggregates.
			completedEval(models.ReviewSelf, answer("Teamwork", 10)),
			// Incomplete evaluations never count.
			{Kind: models.ReviewPeer, Completed: false, Answers: []models.ScoredAnswer{answer("Teamwork", 1)}},
		},
	}

	vector := extractor.Extract(emp, "c1", signals)

	avg, ok := vector.Feature(models.FeatureAvgScore)
	if !ok {
		t.Fatal("expected avg_score to be present")
	}
	// Per-evaluation means are 7 and 4; their mean is 5.5.
	if avg != 5.5 {
		t.Fatalf("expected avg 5.5, got %g", avg)
	}

	count, ok := vector.Feature(models.FeatureEvaluatorCount)
	if !ok || count != 2 {
		t.Fatalf("expected evaluator count 2, got %g (present=%v)", count, ok)
	}
	if vector.LowConfidence {
		t.Fatal("two evaluations should not be low confidence")
	}
}

func TestExtractNoEvaluationsLeavesPerformanceAbsent(t *testing.T) {
	extractor := NewFeatureExtractor(nil, fixedNow)
	vector := extractor.Extract(models.Employee{ID: "e1"}, "c1", RawSignals{})

	if _, ok := vector.Feature(models.FeatureAvgScore); ok {
		t.Fatal("avg_score should be absent without evaluations")
	}
	if _, ok := vector.Feature(models.FeatureEvaluatorCount); ok {
		t.Fatal("evaluator_count should be absent without evaluations")
	}
	// Behavioral features are still extracted.
	if _, ok := vector.Feature(models.FeatureActivePlans); !ok {
		t.Fatal("active_plans should be present")
	}
}

func TestExtractSingleEvaluationIsLowConfidence(t *testing.T) {
	extractor := NewFeatureExtractor(nil, fixedNow)
	signals := RawSignals{Evaluations: []models.Evaluation{
		completedEval(models.ReviewPeer, answer("Teamwork", 6)),
	}}

	vector := extractor.Extract(models.Employee{ID: "e1"}, "c1", signals)
	stdev, ok := vector.Feature(models.FeatureScoreStdDev)
	if !ok || stdev != 0 {
		t.Fatalf("expected stdev 0 for single evaluation, got %g (present=%v)", stdev, ok)
	}
	if !vector.LowConfidence {
		t.Fatal("single evaluation must mark the vector low confidence")
	}
}

func TestExtractCategoryStdDevRequiresTwoAnswers(t *testing.T) {
	extractor := NewFeatureExtractor(nil, fixedNow)
	signals := RawSignals{Evaluations: []models.Evaluation{
		completedEval(models.ReviewPeer, answer("Teamwork", 2), answer("", 9)),
		completedEval(models.ReviewManager, answer("Teamwork", 9), answer("", 9)),
	}}

	vector := extractor.Extract(models.Employee{ID: "e1"}, "c1", signals)

	if _, ok := vector.CategoryStdDev["Teamwork"]; !ok {
		t.Fatal("expected stdev for Teamwork category")
	}
	// Uncategorised answers bucket under General.
	if stdev, ok := vector.CategoryStdDev[DefaultCategory]; !ok || stdev != 0 {
		t.Fatalf("expected General stdev 0, got %g (present=%v)", stdev, ok)
	}
}

func TestExtractFeedbackWindowAndNegativeRatio(t *testing.T) {
	extractor := NewFeatureExtractor([]string{"problem"}, fixedNow)
	signals := RawSignals{Feedback: []models.FeedbackEvent{
		{ToID: "e1", Rating: 2, CreatedAt: testNow.AddDate(0, 0, -5)},
		{ToID: "e1", Rating: 5, Message: "big PROBLEM again", CreatedAt: testNow.AddDate(0, 0, -10)},
		{ToID: "e1", Rating: 5, Message: "great work", CreatedAt: testNow.AddDate(0, 0, -1)},
		// Outside the 30-day window.
		{ToID: "e1", Rating: 1, CreatedAt: testNow.AddDate(0, 0, -45)},
		{FromID: "e1", ToID: "other", Rating: 4, CreatedAt: testNow.AddDate(0, 0, -2)},
	}}

	vector := extractor.Extract(models.Employee{ID: "e1"}, "c1", signals)

	received, _ := vector.Feature(models.FeatureFeedbackReceived)
	if received != 3 {
		t.Fatalf("expected 3 received, got %g", received)
	}
	sent, _ := vector.Feature(models.FeatureFeedbackSent)
	if sent != 1 {
		t.Fatalf("expected 1 sent, got %g", sent)
	}
	ratio, _ := vector.Feature(models.FeatureNegativeRatio)
	// Low rating plus keyword match: 2 of 3 events are negative.
	if ratio < 0.66 || ratio > 0.67 {
		t.Fatalf("expected ratio ~0.667, got %g", ratio)
	}
}

func TestExtractNeverLoggedInLeavesLoginAbsent(t *testing.T) {
	extractor := NewFeatureExtractor(nil, fixedNow)
	vector := extractor.Extract(models.Employee{ID: "e1", LastLogin: nil}, "c1", RawSignals{})
	if _, ok := vector.Feature(models.FeatureDaysSinceLogin); ok {
		t.Fatal("days_since_login must be absent when the employee never logged in")
	}

	login := testNow.AddDate(0, 0, -20)
	vector = extractor.Extract(models.Employee{ID: "e1", LastLogin: &login}, "c1", RawSignals{})
	days, ok := vector.Feature(models.FeatureDaysSinceLogin)
	if !ok || days != 20 {
		t.Fatalf("expected 20 days since login, got %g (present=%v)", days, ok)
	}
}
