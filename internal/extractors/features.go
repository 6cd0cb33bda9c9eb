package extractors

import (
	"strings"
	"time"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/stats"
	"github.com/talentstack/talent-risk/internal/utils"
)

// DefaultCategory buckets answers whose question carries no category.
const DefaultCategory = "General"

// FeedbackWindowDays bounds the trailing window for peer-feedback
// signals.
const FeedbackWindowDays = 30

// RawSignals carries the per-employee source records pulled from the
// signal store for one cycle.
type RawSignals struct {
	Evaluations []models.Evaluation
	Feedback    []models.FeedbackEvent
	ActivePlans int

	// SurveyAttention reports whether the latest engagement survey put
	// the employee in a needs-attention band.
	SurveyAttention bool
}

// FeatureExtractor turns raw evaluation and feedback records into a
// numeric feature vector. Extraction never fails on missing data: it
// returns a partial vector and lets each scorer decide whether it has
// enough signal.
type FeatureExtractor struct {
	negativeKeywords []string
	now              func() time.Time
}

// NewFeatureExtractor creates an extractor. negativeKeywords feed the
// substring-based negative feedback classifier; now may be nil.
func NewFeatureExtractor(negativeKeywords []string, now func() time.Time) *FeatureExtractor {
	if now == nil {
		now = time.Now
	}
	return &FeatureExtractor{negativeKeywords: negativeKeywords, now: now}
}

// Extract computes the feature vector for one employee in one cycle.
func (e *FeatureExtractor) Extract(emp models.Employee, cycleID string, signals RawSignals) models.FeatureVector {
	vector := models.FeatureVector{
		EmployeeID:   emp.ID,
		EmployeeName: emp.FullName,
		CycleID:      cycleID,
	}

	e.extractPerformance(&vector, signals.Evaluations)
	e.extractFeedback(&vector, emp.ID, signals.Feedback)
	e.extractBehavior(&vector, emp, signals.ActivePlans)

	return vector
}

// extractPerformance aggregates completed, non-self evaluations. Each
// evaluation contributes the mean of its answers; the vector's average
// is the mean of those per-evaluation means.
func (e *FeatureExtractor) extractPerformance(vector *models.FeatureVector, evaluations []models.Evaluation) {
	perEvalMeans := make([]float64, 0, len(evaluations))
	categoryScores := make(map[string][]float64)
	completed := 0

	for _, eval := range evaluations {
		if !eval.Completed || eval.Kind == models.ReviewSelf {
			continue
		}
		completed++

		if len(eval.Answers) == 0 {
			continue
		}
		scores := make([]float64, 0, len(eval.Answers))
		for _, answer := range eval.Answers {
			scores = append(scores, answer.Score)
			category := answer.Category
			if category == "" {
				category = DefaultCategory
			}
			categoryScores[category] = append(categoryScores[category], answer.Score)
		}
		perEvalMeans = append(perEvalMeans, stats.Mean(scores))
	}

	if completed == 0 {
		return
	}
	vector.SetFeature(models.FeatureEvaluatorCount, float64(completed))

	if len(perEvalMeans) == 0 {
		return
	}
	vector.SetFeature(models.FeatureAvgScore, stats.Mean(perEvalMeans))

	if len(perEvalMeans) >= 2 {
		stdev := stats.SampleStdDev(perEvalMeans)
		vector.SetFeature(models.FeatureScoreStdDev, stdev)
		vector.SetFeature(models.FeatureScoreVariance, stdev*stdev)
	} else {
		vector.SetFeature(models.FeatureScoreStdDev, 0)
		vector.SetFeature(models.FeatureScoreVariance, 0)
		vector.LowConfidence = true
	}

	for category, scores := range categoryScores {
		if len(scores) < 2 {
			continue
		}
		if vector.CategoryStdDev == nil {
			vector.CategoryStdDev = make(map[string]float64)
		}
		vector.CategoryStdDev[category] = stats.SampleStdDev(scores)
	}
}

// extractFeedback computes the trailing-window feedback counts and the
// negative ratio. The ratio divisor is max(total, 1); zero received
// feedback still yields a ratio of 0, which scorers treat as
// insufficient rather than safe.
func (e *FeatureExtractor) extractFeedback(vector *models.FeatureVector, employeeID string, feedback []models.FeedbackEvent) {
	cutoff := e.now().AddDate(0, 0, -FeedbackWindowDays)

	received, sent, negative := 0, 0, 0
	for _, event := range feedback {
		if event.CreatedAt.Before(cutoff) {
			continue
		}
		if event.FromID == employeeID {
			sent++
		}
		if event.ToID != employeeID {
			continue
		}
		received++
		if e.IsNegative(event) {
			negative++
		}
	}

	vector.SetFeature(models.FeatureFeedbackReceived, float64(received))
	vector.SetFeature(models.FeatureFeedbackSent, float64(sent))

	total := received
	if total < 1 {
		total = 1
	}
	vector.SetFeature(models.FeatureNegativeRatio, float64(negative)/float64(total))
}

func (e *FeatureExtractor) extractBehavior(vector *models.FeatureVector, emp models.Employee, activePlans int) {
	if emp.LastLogin != nil {
		days := utils.DaysSince(*emp.LastLogin, e.now())
		vector.SetFeature(models.FeatureDaysSinceLogin, float64(days))
	}
	vector.SetFeature(models.FeatureActivePlans, float64(activePlans))
}

// IsNegative classifies one feedback event: a rating below 3 or a
// message containing a configured keyword (case-insensitive substring).
func (e *FeatureExtractor) IsNegative(event models.FeedbackEvent) bool {
	if event.Rating < 3 {
		return true
	}
	message := strings.ToLower(event.Message)
	for _, keyword := range e.negativeKeywords {
		if keyword != "" && strings.Contains(message, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
