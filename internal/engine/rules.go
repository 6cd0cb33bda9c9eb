package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talentstack/talent-risk/internal/models"
)

// RuleThresholds are the policy constants behind the four rule
// sub-scorers. They are tunable per deployment via the rule pack file.
type RuleThresholds struct {
	LowPerformance        float64 `yaml:"lowPerformance"`
	HighVariance          float64 `yaml:"highVariance"`
	NegativeRatioHigh     float64 `yaml:"negativeRatioHigh"`
	NegativeRatioElevated float64 `yaml:"negativeRatioElevated"`
	LongAbsenceDays       float64 `yaml:"longAbsenceDays"`
	MinEvaluators         int     `yaml:"minEvaluators"`
	MinFeedback           int     `yaml:"minFeedback"`
}

// LevelThresholds map a total rule score onto a discrete risk level.
type LevelThresholds struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// RulePack bundles thresholds, level cut-offs, the negative-feedback
// keyword list and per-flag recommendations.
type RulePack struct {
	Thresholds       RuleThresholds              `yaml:"thresholds"`
	Levels           LevelThresholds             `yaml:"levels"`
	NegativeKeywords []string                    `yaml:"negativeKeywords"`
	Recommendations  map[models.RedFlag][]string `yaml:"recommendations"`
}

// DefaultRulePack returns the built-in policy constants.
func DefaultRulePack() RulePack {
	return RulePack{
		Thresholds: RuleThresholds{
			LowPerformance:        3.0,
			HighVariance:          2.5,
			NegativeRatioHigh:     0.6,
			NegativeRatioElevated: 0.4,
			LongAbsenceDays:       14,
			MinEvaluators:         2,
			MinFeedback:           2,
		},
		Levels:           LevelThresholds{Medium: 3, High: 6, Critical: 10},
		NegativeKeywords: []string{"problem", "weak", "poor"},
		Recommendations: map[models.RedFlag][]string{
			models.FlagLowPerformance:         {"Schedule a performance improvement conversation"},
			models.FlagInsufficientEvaluators: {"Assign additional reviewers for the next cycle"},
			models.FlagHighScoreVariance:      {"Calibrate reviewers on scoring criteria"},
			models.FlagHighNegativeFeedback:   {"Review recent peer feedback with the employee"},
			models.FlagLowPeerInteraction:     {"Encourage participation in peer feedback"},
			models.FlagLongAbsence:            {"Check in with the employee about engagement"},
			models.FlagNoDevelopmentPlan:      {"Create a development plan with the employee"},
			models.FlagNoOrganizationalUnit:   {"Assign the employee to an organizational unit"},
			models.FlagNoEvaluationData:       {"Verify the employee is included in the evaluation cycle"},
		},
	}
}

// LoadRulePack reads a pack from YAML, falling back to defaults when the
// path is empty or the file does not exist. Values omitted from the file
// keep their defaults.
func LoadRulePack(path string, logger *slog.Logger) (RulePack, error) {
	pack := DefaultRulePack()
	if path == "" {
		return pack, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if logger != nil {
				logger.Debug("rule pack not found, using defaults", slog.String("path", path))
			}
			return pack, nil
		}
		return pack, fmt.Errorf("read rule pack: %w", err)
	}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return pack, fmt.Errorf("parse rule pack: %w", err)
	}
	if err := pack.validate(); err != nil {
		return pack, err
	}
	return pack, nil
}

func (p RulePack) validate() error {
	if p.Thresholds.LowPerformance <= 0 || p.Thresholds.HighVariance <= 0 {
		return fmt.Errorf("invalid rule pack: performance/variance thresholds must be > 0")
	}
	if p.Thresholds.NegativeRatioHigh <= p.Thresholds.NegativeRatioElevated {
		return fmt.Errorf("invalid rule pack: negativeRatioHigh must exceed negativeRatioElevated")
	}
	if !(p.Levels.Medium < p.Levels.High && p.Levels.High < p.Levels.Critical) {
		return fmt.Errorf("invalid rule pack: level thresholds must be strictly increasing")
	}
	return nil
}

// RuleScorer computes the four rule-based sub-scores and their combined
// verdict from an employee's feature vector. Scoring is pure: no
// persistence or notification happens here.
type RuleScorer struct {
	pack   RulePack
	logger *slog.Logger
	now    func() time.Time
}

// NewRuleScorer constructs a scorer with the given pack.
func NewRuleScorer(pack RulePack, logger *slog.Logger) *RuleScorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleScorer{pack: pack, logger: logger, now: time.Now}
}

// Score produces the rule-based risk analysis for one employee.
func (s *RuleScorer) Score(emp models.Employee, vector models.FeatureVector) models.RiskAnalysis {
	analysis := models.RiskAnalysis{
		EmployeeID:   emp.ID,
		EmployeeName: emp.FullName,
		CycleID:      vector.CycleID,
		AnalyzedAt:   s.now().UTC(),
	}

	analysis.Performance = s.scorePerformance(vector)
	analysis.Consistency = s.scoreConsistency(vector)
	analysis.Peer = s.scorePeerFeedback(vector)
	analysis.Behavioral = s.scoreBehavioral(emp, vector)

	analysis.TotalScore = analysis.Performance.Score +
		analysis.Consistency.Score +
		analysis.Peer.Score +
		analysis.Behavioral.Score
	analysis.Level = s.levelFor(analysis.TotalScore)

	for _, sub := range []models.SubScore{analysis.Performance, analysis.Consistency, analysis.Peer, analysis.Behavioral} {
		analysis.RedFlags = append(analysis.RedFlags, sub.RedFlags...)
	}
	analysis.Recommendations = s.recommend(analysis.RedFlags)

	return analysis
}

// scorePerformance scores low averages and thin reviewer coverage.
// Absence of evaluation data is itself a risk signal, never zero risk.
func (s *RuleScorer) scorePerformance(vector models.FeatureVector) models.SubScore {
	evaluators, haveEvaluators := vector.Feature(models.FeatureEvaluatorCount)
	if !haveEvaluators {
		return models.SubScore{
			Score:        1,
			RedFlags:     []models.RedFlag{models.FlagNoEvaluationData},
			Rationale:    "no completed evaluations found",
			Insufficient: true,
		}
	}

	avg, haveAvg := vector.Feature(models.FeatureAvgScore)
	if !haveAvg {
		return models.SubScore{
			Score:        2,
			RedFlags:     []models.RedFlag{models.FlagNoAnswerData},
			Rationale:    "evaluations exist but contain no scored answers",
			Insufficient: true,
		}
	}

	sub := models.SubScore{
		Rationale: fmt.Sprintf("average performance %.2f across %d evaluations", avg, int(evaluators)),
	}
	if avg < s.pack.Thresholds.LowPerformance {
		sub.Score += 3
		sub.RedFlags = append(sub.RedFlags, models.FlagLowPerformance)
	}
	if int(evaluators) < s.pack.Thresholds.MinEvaluators {
		sub.Score += 2
		sub.RedFlags = append(sub.RedFlags, models.FlagInsufficientEvaluators)
	}
	return sub
}

// scoreConsistency flags categories whose scores disagree strongly
// across reviewers. A failed spread computation surfaces as
// insufficient, never as a safe zero.
func (s *RuleScorer) scoreConsistency(vector models.FeatureVector) models.SubScore {
	evaluators, ok := vector.Feature(models.FeatureEvaluatorCount)
	if !ok || evaluators < 2 {
		return models.SubScore{
			Rationale:    "not enough evaluations for a consistency verdict",
			Insufficient: true,
		}
	}

	names := make([]string, 0, len(vector.CategoryStdDev))
	for category := range vector.CategoryStdDev {
		names = append(names, category)
	}
	sort.Strings(names)

	sub := models.SubScore{}
	high := 0
	for _, category := range names {
		if vector.CategoryStdDev[category] > s.pack.Thresholds.HighVariance {
			sub.Score += 2
			high++
		}
	}
	if high > 0 {
		sub.RedFlags = append(sub.RedFlags, models.FlagHighScoreVariance)
	}
	sub.Rationale = fmt.Sprintf("%d of %d categories show high score variance", high, len(names))
	return sub
}

// scorePeerFeedback scores the trailing 30-day negative-feedback ratio.
func (s *RuleScorer) scorePeerFeedback(vector models.FeatureVector) models.SubScore {
	received, _ := vector.Feature(models.FeatureFeedbackReceived)
	ratio, _ := vector.Feature(models.FeatureNegativeRatio)
	total := int(received)

	sub := models.SubScore{
		Rationale: fmt.Sprintf("%d feedback events, negative ratio %.2f", total, ratio),
	}
	if total == 0 {
		sub.Insufficient = true
	}

	if total > 0 {
		switch {
		case ratio > s.pack.Thresholds.NegativeRatioHigh:
			sub.Score += 3
			sub.RedFlags = append(sub.RedFlags, models.FlagHighNegativeFeedback)
		case ratio > s.pack.Thresholds.NegativeRatioElevated:
			sub.Score += 1
		}
	}
	if total < s.pack.Thresholds.MinFeedback {
		sub.Score += 1
		sub.RedFlags = append(sub.RedFlags, models.FlagLowPeerInteraction)
	}
	return sub
}

// scoreBehavioral scores absence, missing development plans and missing
// org assignment.
func (s *RuleScorer) scoreBehavioral(emp models.Employee, vector models.FeatureVector) models.SubScore {
	sub := models.SubScore{}

	if days, ok := vector.Feature(models.FeatureDaysSinceLogin); ok && days >= s.pack.Thresholds.LongAbsenceDays {
		sub.Score += 2
		sub.RedFlags = append(sub.RedFlags, models.FlagLongAbsence)
	}
	if plans, ok := vector.Feature(models.FeatureActivePlans); ok && plans == 0 {
		sub.Score += 1
		sub.RedFlags = append(sub.RedFlags, models.FlagNoDevelopmentPlan)
	}
	if emp.OrgUnitID == "" {
		sub.Score += 1
		sub.RedFlags = append(sub.RedFlags, models.FlagNoOrganizationalUnit)
	}
	sub.Rationale = fmt.Sprintf("behavioral risk score %g", sub.Score)
	return sub
}

func (s *RuleScorer) levelFor(total float64) models.RiskLevel {
	switch {
	case total >= s.pack.Levels.Critical:
		return models.RiskCritical
	case total >= s.pack.Levels.High:
		return models.RiskHigh
	case total >= s.pack.Levels.Medium:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (s *RuleScorer) recommend(flags []models.RedFlag) []string {
	seen := make(map[string]struct{})
	recs := make([]string, 0, len(flags))
	for _, flag := range flags {
		for _, rec := range s.pack.Recommendations[flag] {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			recs = append(recs, rec)
		}
	}
	return recs
}
