package models

import "time"

// Employee mirrors the HR suite's employee record. Identity is owned by the
// surrounding application; the engine only reads it.
type Employee struct {
	ID        string
	FullName  string
	Active    bool
	OrgUnitID string
	// LastLogin is nil when the employee has never logged in. A nil value
	// must never be treated as zero days of absence.
	LastLogin *time.Time
}

// EvaluationCycle is a time-boxed review period.
type EvaluationCycle struct {
	ID        string
	Name      string
	Start     time.Time
	End       time.Time
	Active    bool
	Anonymous bool
}

// ReviewKind tags the reviewer-subject relationship of an evaluation.
type ReviewKind string

const (
	ReviewSelf        ReviewKind = "self"
	ReviewPeer        ReviewKind = "peer"
	ReviewManager     ReviewKind = "manager"
	ReviewSubordinate ReviewKind = "subordinate"
)

// Evaluation is one reviewer-to-subject pairing within a cycle.
type Evaluation struct {
	ID         string
	SubjectID  string
	ReviewerID string
	CycleID    string
	Kind       ReviewKind
	Completed  bool
	// CompletedAt is nil while the evaluation is pending.
	CompletedAt *time.Time
	Answers     []ScoredAnswer
}

// ScoredAnswer is the atomic scoring unit: one question answered on a
// 1-10 scale, optionally with a free-text comment.
type ScoredAnswer struct {
	QuestionID string
	Category   string
	Score      float64
	Comment    string
}

// FeedbackEvent is a lightweight signed or anonymous feedback record
// between two employees.
type FeedbackEvent struct {
	ID        string
	FromID    string
	ToID      string
	Rating    int
	Message   string
	Anonymous bool
	CreatedAt time.Time
}
