package models

import (
	"time"

	"github.com/google/uuid"
)

// FlagType names the condition a RiskFlag records.
type FlagType string

const (
	FlagTypeStatisticalAnomaly FlagType = "STATISTICAL_ANOMALY"
)

// FlagStatus is the flag lifecycle state. Flags move none -> ACTIVE ->
// RESOLVED; RESOLVED is terminal for that record.
type FlagStatus string

const (
	FlagActive   FlagStatus = "ACTIVE"
	FlagResolved FlagStatus = "RESOLVED"
)

// RiskFlag is the persistent record of a detected risk. At most one
// ACTIVE flag may exist per (employee, cycle, type) tuple.
type RiskFlag struct {
	ID         uuid.UUID
	EmployeeID string
	CycleID    string
	Type       FlagType
	Severity   RiskLevel
	RiskScore  float64
	Evidence   FlagEvidence
	Confidence float64
	Status     FlagStatus
	DetectedAt time.Time
	UpdatedAt  time.Time

	// HR resolution fields, mutated out-of-band only.
	ResolvedAt *time.Time
	ResolvedBy string
	HRNotes    string

	// Version supports optimistic concurrency on updates.
	Version int64
}

// FlagEvidence is the explainable payload stored with a flag. Methods
// and Findings come from the ensemble, RuleFlags from the rule scorer;
// either side may be empty.
type FlagEvidence struct {
	Methods   []string         `json:"methods,omitempty"`
	Findings  []AnomalyFinding `json:"findings,omitempty"`
	RuleFlags []RedFlag        `json:"rule_flags,omitempty"`
	Source    string           `json:"source"`
}

// DetectionMethod names one statistical detector in the ensemble.
type DetectionMethod string

const (
	MethodIQR             DetectionMethod = "iqr"
	MethodZScore          DetectionMethod = "zscore"
	MethodDensityCluster  DetectionMethod = "density_cluster"
	MethodIsolationForest DetectionMethod = "isolation_forest"
)

// AnomalyFinding is one piece of evidence produced by a detector.
type AnomalyFinding struct {
	EmployeeID   string          `json:"employee_id"`
	EmployeeName string          `json:"employee_name,omitempty"`
	Method       DetectionMethod `json:"method"`
	Feature      string          `json:"feature,omitempty"`
	Value        float64         `json:"value,omitempty"`
	Score        float64         `json:"score,omitempty"`
	LowerBound   float64         `json:"lower_bound,omitempty"`
	UpperBound   float64         `json:"upper_bound,omitempty"`
	Detail       string          `json:"detail,omitempty"`
}

// EmployeeAnomaly is the reconciled per-employee ensemble verdict.
type EmployeeAnomaly struct {
	EmployeeID   string
	EmployeeName string
	Methods      []DetectionMethod
	Findings     []AnomalyFinding
	Severity     RiskLevel
}

// PopulationAnomalyReport summarises one ensemble run over a cycle.
type PopulationAnomalyReport struct {
	CycleID     string
	Population  int
	ByMethod    map[DetectionMethod][]AnomalyFinding
	Combined    []EmployeeAnomaly
	GeneratedAt time.Time
}

// SweepSummary reports the outcome of a full risk sweep.
type SweepSummary struct {
	CycleID           string
	EmployeesAnalyzed int
	HighRisk          int
	AnomaliesDetected int
	FlagsUpserted     int
	Errors            int
	StartedAt         time.Time
	Duration          time.Duration
}
