package models

import "time"

// RiskLevel captures discrete risk severities shared by the rule scorer,
// the anomaly ensemble and persisted flags.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// rank orders levels for max-style merging.
func (l RiskLevel) rank() int {
	switch l {
	case RiskCritical:
		return 4
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the level is l or more severe.
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return l.rank() >= other.rank()
}

// MaxLevel returns the more severe of two levels.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// RedFlag tags a specific condition detected by a rule sub-scorer.
type RedFlag string

const (
	FlagNoEvaluationData       RedFlag = "NO_EVALUATION_DATA"
	FlagNoAnswerData           RedFlag = "NO_ANSWER_DATA"
	FlagLowPerformance         RedFlag = "LOW_PERFORMANCE"
	FlagInsufficientEvaluators RedFlag = "INSUFFICIENT_EVALUATORS"
	FlagHighScoreVariance      RedFlag = "HIGH_SCORE_VARIANCE"
	FlagHighNegativeFeedback   RedFlag = "HIGH_NEGATIVE_FEEDBACK"
	FlagLowPeerInteraction     RedFlag = "LOW_PEER_INTERACTION"
	FlagLongAbsence            RedFlag = "LONG_ABSENCE"
	FlagNoDevelopmentPlan      RedFlag = "NO_DEVELOPMENT_PLAN"
	FlagNoOrganizationalUnit   RedFlag = "NO_ORGANIZATIONAL_UNIT"
)

// SubScore is the result of one rule sub-scorer.
type SubScore struct {
	Score        float64
	RedFlags     []RedFlag
	Rationale    string
	Insufficient bool
}

// RiskAnalysis is the per-(employee, cycle) rule-based snapshot. It is
// recomputed and replaced on every run; only the HR review fields are
// mutated externally.
type RiskAnalysis struct {
	EmployeeID   string
	EmployeeName string
	CycleID      string

	TotalScore float64
	Level      RiskLevel
	RedFlags   []RedFlag

	Performance SubScore
	Consistency SubScore
	Peer        SubScore
	Behavioral  SubScore

	Recommendations []string
	AnalyzedAt      time.Time

	ReviewedBy string
	ReviewedAt *time.Time
	HRNotes    string
}

// GridCell names one of the nine performance-by-potential cells.
type GridCell string

const (
	CellStar           GridCell = "star"
	CellFutureLeader   GridCell = "future_leader"
	CellCurrentLeader  GridCell = "current_leader"
	CellHighPotential  GridCell = "high_potential"
	CellEmergingTalent GridCell = "emerging_talent"
	CellSolidPerformer GridCell = "solid_performer"
	CellDeveloping     GridCell = "developing"
	CellInconsistent   GridCell = "inconsistent"
	CellUnderperformer GridCell = "underperformer"
)

// PotentialAssessment places an employee on the 9-box grid.
type PotentialAssessment struct {
	EmployeeID    string
	CycleID       string
	Performance   float64
	Potential     float64
	GridCell      GridCell
	RetentionRisk float64

	HighPotential   bool
	SuccessionReady bool
	AssessedAt      time.Time
}

// RiskAnalysisResult bundles the single-employee outputs returned by
// on-demand analysis.
type RiskAnalysisResult struct {
	Analysis  RiskAnalysis
	Potential *PotentialAssessment
}
