package engine

import (
	"sort"
	"time"

	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/stats"
)

// Weights of the four potential factors. They sum to 1.
const (
	weightDevelopment = 0.25
	weightFeedback    = 0.30
	weightTrend       = 0.25
	weightInverseRisk = 0.20

	// midpointFactor substitutes for any factor whose signal is absent,
	// so missing data pulls toward the middle of the scale rather than
	// the bottom.
	midpointFactor = 2.5

	positiveFeedbackWindowDays = 90
	positiveFeedbackMinRating  = 4
)

// PotentialScorer places employees on the performance-by-potential grid
// and estimates retention risk.
type PotentialScorer struct {
	now func() time.Time
}

// NewPotentialScorer creates a scorer; now may be nil.
func NewPotentialScorer(now func() time.Time) *PotentialScorer {
	if now == nil {
		now = time.Now
	}
	return &PotentialScorer{now: now}
}

// Assess computes the potential composite, the grid cell and the
// retention risk for one employee. activeFlags counts the employee's
// currently ACTIVE risk flags.
func (s *PotentialScorer) Assess(
	emp models.Employee,
	vector models.FeatureVector,
	signals extractors.RawSignals,
	analysis models.RiskAnalysis,
	activeFlags int,
) models.PotentialAssessment {
	potential := s.potentialScore(emp.ID, vector, signals, analysis.Level)
	performance := s.performanceAxis(vector)

	assessment := models.PotentialAssessment{
		EmployeeID:  emp.ID,
		CycleID:     vector.CycleID,
		Performance: performance,
		Potential:   potential,
		GridCell:    PlaceOnGrid(performance, potential),
		AssessedAt:  s.now().UTC(),
	}
	assessment.RetentionRisk = s.retentionRisk(emp, performance, signals, activeFlags)

	switch assessment.GridCell {
	case models.CellHighPotential, models.CellFutureLeader, models.CellStar:
		assessment.HighPotential = true
	}
	switch assessment.GridCell {
	case models.CellFutureLeader, models.CellStar:
		assessment.SuccessionReady = assessment.RetentionRisk < 3
	}
	return assessment
}

// performanceAxis maps the 1-10 evaluation average onto the grid's
// 1-5 performance axis. Employees without evaluation data sit at the
// midpoint.
func (s *PotentialScorer) performanceAxis(vector models.FeatureVector) float64 {
	avg, ok := vector.Feature(models.FeatureAvgScore)
	if !ok {
		return midpointFactor
	}
	return stats.Clamp(avg/2, 1, 5)
}

// potentialScore is the weighted composite of development activity,
// positive feedback, score trend and inverse current risk. Each factor
// lives on a 1-5 scale; absent factors contribute the midpoint.
func (s *PotentialScorer) potentialScore(employeeID string, vector models.FeatureVector, signals extractors.RawSignals, level models.RiskLevel) float64 {
	development := midpointFactor
	if plans, ok := vector.Feature(models.FeatureActivePlans); ok {
		development = min5(2 * plans)
	}

	feedback := midpointFactor
	if len(signals.Feedback) > 0 {
		cutoff := s.now().AddDate(0, 0, -positiveFeedbackWindowDays)
		positive := 0
		for _, event := range signals.Feedback {
			if event.ToID != employeeID || event.CreatedAt.Before(cutoff) {
				continue
			}
			if event.Rating >= positiveFeedbackMinRating {
				positive++
			}
		}
		feedback = min5(0.5 * float64(positive))
	}

	trend := midpointFactor
	if slope, ok := scoreTrend(signals.Evaluations); ok {
		trend = stats.Clamp(3+2*slope, 1, 5)
	}

	inverse := inverseRiskFactor(level)

	return weightDevelopment*development +
		weightFeedback*feedback +
		weightTrend*trend +
		weightInverseRisk*inverse
}

// scoreTrend fits a least-squares slope over the last three
// per-evaluation mean scores in completion order. At least two
// completed, scored evaluations are required.
func scoreTrend(evals []models.Evaluation) (float64, bool) {
	type point struct {
		at   time.Time
		mean float64
	}
	var points []point
	for _, eval := range evals {
		if !eval.Completed || eval.Kind == models.ReviewSelf || len(eval.Answers) == 0 || eval.CompletedAt == nil {
			continue
		}
		sum := 0.0
		for _, answer := range eval.Answers {
			sum += answer.Score
		}
		points = append(points, point{at: *eval.CompletedAt, mean: sum / float64(len(eval.Answers))})
	}
	if len(points) < 2 {
		return 0, false
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	if len(points) > 3 {
		points = points[len(points)-3:]
	}

	means := make([]float64, len(points))
	for i, p := range points {
		means[i] = p.mean
	}
	return stats.LinearSlope(means), true
}

func inverseRiskFactor(level models.RiskLevel) float64 {
	switch level {
	case models.RiskLow:
		return 5
	case models.RiskMedium:
		return 4
	case models.RiskHigh:
		return 2
	case models.RiskCritical:
		return 1
	default:
		return midpointFactor
	}
}

// PlaceOnGrid maps (performance, potential) to a 9-box cell. The ladder
// is ordered and first-match-wins with inclusive lower bounds; earlier
// rungs take precedence where ranges overlap. Every input lands in
// exactly one cell.
func PlaceOnGrid(performance, potential float64) models.GridCell {
	switch {
	case performance >= 4.5 && potential >= 4.5:
		return models.CellStar
	case performance >= 4.0 && potential >= 4.5:
		return models.CellFutureLeader
	case performance >= 4.5 && potential >= 3.5:
		return models.CellCurrentLeader
	case performance >= 4.0 && potential >= 3.5:
		return models.CellHighPotential
	case performance >= 3.5 && potential >= 4.0:
		return models.CellEmergingTalent
	case performance >= 3.5 && potential >= 3.0:
		return models.CellSolidPerformer
	case performance >= 3.0 && potential >= 3.5:
		return models.CellDeveloping
	case performance >= 3.0 && potential >= 2.5:
		return models.CellInconsistent
	default:
		return models.CellUnderperformer
	}
}

// retentionRisk scores departure likelihood on a 0-5 scale.
func (s *PotentialScorer) retentionRisk(emp models.Employee, performance float64, signals extractors.RawSignals, activeFlags int) float64 {
	risk := 0.0
	if performance < 3.5 {
		risk += 2
	}
	if signals.SurveyAttention {
		risk += 1.5
	}
	if activeFlags > 2 {
		risk += 1
	}
	if emp.LastLogin != nil && s.now().Sub(*emp.LastLogin) > 7*24*time.Hour {
		risk += 0.5
	}
	return stats.Clamp(risk, 0, 5)
}

func min5(v float64) float64 {
	if v > 5 {
		return 5
	}
	return v
}
