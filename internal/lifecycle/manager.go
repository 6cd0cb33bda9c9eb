package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/utils"
)

// FlagStore persists risk flags and analysis snapshots. Implementations
// must enforce the one-ACTIVE-flag-per-(employee, cycle, type) rule and
// return utils.ErrConflict on concurrent version races.
type FlagStore interface {
	ActiveFlag(ctx context.Context, employeeID, cycleID string, typ models.FlagType) (*models.RiskFlag, error)
	InsertFlag(ctx context.Context, flag *models.RiskFlag) error
	UpdateFlag(ctx context.Context, flag *models.RiskFlag) error
	CountActiveFlags(ctx context.Context, employeeID, cycleID string) (int, error)

	SaveAnalysis(ctx context.Context, analysis models.RiskAnalysis) error
	SaveAssessment(ctx context.Context, assessment models.PotentialAssessment) error
}

const (
	// flagScorePerMethod converts detector agreement into a flag score.
	flagScorePerMethod = 2.0
	flagConfidence     = 0.9
)

// Manager applies combined risk verdicts to the persistent flag set and
// replaces per-cycle analysis snapshots.
type Manager struct {
	store  FlagStore
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a lifecycle manager; now may be nil.
func NewManager(store FlagStore, logger *slog.Logger, now func() time.Time) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{store: store, logger: logger, now: now}
}

// ApplyVerdict materializes the combined rule-plus-ensemble verdict for
// one employee. anomaly may be nil when no detector fired. Only HIGH
// and CRITICAL combined verdicts produce flags; weaker verdicts stay in
// the snapshot and the report. The operation is an idempotent upsert:
// re-running the same sweep refreshes the existing ACTIVE flag instead
// of duplicating it. A version race is retried once with a fresh read.
func (m *Manager) ApplyVerdict(ctx context.Context, cycleID string, analysis models.RiskAnalysis, anomaly *models.EmployeeAnomaly, combined models.RiskLevel) (bool, error) {
	if !combined.AtLeast(models.RiskHigh) {
		return false, nil
	}

	err := m.upsert(ctx, cycleID, analysis, anomaly, combined)
	if errors.Is(err, utils.ErrConflict) {
		m.logger.Debug("flag upsert conflict, retrying",
			slog.String("employee_id", analysis.EmployeeID),
			slog.String("cycle_id", cycleID))
		err = m.upsert(ctx, cycleID, analysis, anomaly, combined)
	}
	if err != nil {
		return false, fmt.Errorf("apply verdict for employee %s: %w", analysis.EmployeeID, err)
	}
	return true, nil
}

func (m *Manager) upsert(ctx context.Context, cycleID string, analysis models.RiskAnalysis, anomaly *models.EmployeeAnomaly, combined models.RiskLevel) error {
	now := m.now().UTC()
	evidence := models.FlagEvidence{
		RuleFlags: analysis.RedFlags,
		Source:    "rules",
	}
	score := analysis.TotalScore
	if anomaly != nil {
		evidence.Findings = anomaly.Findings
		for _, method := range anomaly.Methods {
			evidence.Methods = append(evidence.Methods, string(method))
		}
		if len(analysis.RedFlags) > 0 {
			evidence.Source = "rules+ensemble"
		} else {
			evidence.Source = "ensemble"
		}
		score += flagScorePerMethod * float64(len(anomaly.Methods))
	}

	existing, err := m.store.ActiveFlag(ctx, analysis.EmployeeID, cycleID, models.FlagTypeStatisticalAnomaly)
	if err != nil {
		return err
	}
	if existing == nil {
		flag := &models.RiskFlag{
			ID:         uuid.New(),
			EmployeeID: analysis.EmployeeID,
			CycleID:    cycleID,
			Type:       models.FlagTypeStatisticalAnomaly,
			Severity:   combined,
			RiskScore:  score,
			Evidence:   evidence,
			Confidence: flagConfidence,
			Status:     models.FlagActive,
			DetectedAt: now,
			UpdatedAt:  now,
			Version:    1,
		}
		return m.store.InsertFlag(ctx, flag)
	}

	existing.Severity = combined
	existing.RiskScore = score
	existing.Evidence = evidence
	existing.Confidence = flagConfidence
	existing.UpdatedAt = now
	return m.store.UpdateFlag(ctx, existing)
}

// Resolve closes an ACTIVE flag. RESOLVED is terminal: resolving an
// already-resolved flag is rejected.
func (m *Manager) Resolve(ctx context.Context, flag *models.RiskFlag, resolvedBy, notes string) error {
	if flag.Status == models.FlagResolved {
		return fmt.Errorf("flag %s is already resolved", flag.ID)
	}
	now := m.now().UTC()
	flag.Status = models.FlagResolved
	flag.ResolvedAt = &now
	flag.ResolvedBy = resolvedBy
	flag.HRNotes = notes
	flag.UpdatedAt = now

	err := m.store.UpdateFlag(ctx, flag)
	if errors.Is(err, utils.ErrConflict) {
		// Retry against a fresh read; the in-hand version is stale.
		fresh, ferr := m.store.ActiveFlag(ctx, flag.EmployeeID, flag.CycleID, flag.Type)
		if ferr != nil {
			return ferr
		}
		if fresh == nil {
			return fmt.Errorf("flag %s no longer active: %w", flag.ID, err)
		}
		fresh.Status = models.FlagResolved
		fresh.ResolvedAt = &now
		fresh.ResolvedBy = resolvedBy
		fresh.HRNotes = notes
		fresh.UpdatedAt = now
		if err := m.store.UpdateFlag(ctx, fresh); err != nil {
			return err
		}
		*flag = *fresh
		return nil
	}
	return err
}

// SaveSnapshot replaces the per-(employee, cycle) analysis snapshot and
// its potential assessment.
func (m *Manager) SaveSnapshot(ctx context.Context, result models.RiskAnalysisResult) error {
	if err := m.store.SaveAnalysis(ctx, result.Analysis); err != nil {
		return fmt.Errorf("save analysis snapshot: %w", err)
	}
	if result.Potential != nil {
		if err := m.store.SaveAssessment(ctx, *result.Potential); err != nil {
			return fmt.Errorf("save potential assessment: %w", err)
		}
	}
	return nil
}

// CountActiveFlags satisfies the pipeline's flag counter.
func (m *Manager) CountActiveFlags(ctx context.Context, employeeID, cycleID string) (int, error) {
	return m.store.CountActiveFlags(ctx, employeeID, cycleID)
}
