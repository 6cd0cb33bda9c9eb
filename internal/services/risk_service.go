package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	cachepkg "github.com/talentstack/talent-risk/internal/cache"
	"github.com/talentstack/talent-risk/internal/engine"
	"github.com/talentstack/talent-risk/internal/lifecycle"
	"github.com/talentstack/talent-risk/internal/metrics"
	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/notify"
	"github.com/talentstack/talent-risk/internal/utils"
)

// RiskStore is the persistence surface the service reads and writes.
// Both the Postgres store and the in-memory store implement it.
type RiskStore interface {
	lifecycle.FlagStore

	GetFlag(ctx context.Context, id uuid.UUID) (*models.RiskFlag, error)
	FlagsFor(ctx context.Context, employeeID, cycleID string) ([]models.RiskFlag, error)
	GetAnalysis(ctx context.Context, employeeID, cycleID string) (*models.RiskAnalysis, error)
	GetAssessment(ctx context.Context, employeeID, cycleID string) (*models.PotentialAssessment, error)
	SaveReport(ctx context.Context, report models.PopulationAnomalyReport) error
	LatestReport(ctx context.Context, cycleID string) (*models.PopulationAnomalyReport, error)
}

// EmployeeRiskView is the read-model served for one employee.
type EmployeeRiskView struct {
	Analysis   *models.RiskAnalysis
	Assessment *models.PotentialAssessment
	Flags      []models.RiskFlag
}

// RiskService is the facade the API and the scheduler call into.
type RiskService struct {
	logger    *slog.Logger
	store     RiskStore
	signals   engine.SignalStore
	pipeline  *engine.Pipeline
	manager   *lifecycle.Manager
	sink      notify.Sink
	latencies *utils.LatencyTracker

	reportCache cachepkg.Provider
	reportTTL   time.Duration
}

// NewRiskService wires the service facade.
func NewRiskService(
	logger *slog.Logger,
	store RiskStore,
	signals engine.SignalStore,
	pipeline *engine.Pipeline,
	manager *lifecycle.Manager,
	sink notify.Sink,
) *RiskService {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = notify.NoopSink{}
	}
	return &RiskService{
		logger:    logger,
		store:     store,
		signals:   signals,
		pipeline:  pipeline,
		manager:   manager,
		sink:      sink,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// AnalyzeEmployee recomputes and persists the snapshot for one employee
// on demand. cycleID empty targets the active cycle. HIGH and CRITICAL
// verdicts are relayed to the notification sink.
func (s *RiskService) AnalyzeEmployee(ctx context.Context, employeeID, cycleID string) (models.RiskAnalysisResult, error) {
	cycle, err := s.pipeline.ResolveCycle(ctx, cycleID)
	if err != nil {
		return models.RiskAnalysisResult{}, err
	}
	employees, err := s.signals.Employees(ctx)
	if err != nil {
		return models.RiskAnalysisResult{}, err
	}
	var target *models.Employee
	for i := range employees {
		if employees[i].ID == employeeID {
			target = &employees[i]
			break
		}
	}
	if target == nil {
		return models.RiskAnalysisResult{}, fmt.Errorf("employee %s not found", employeeID)
	}

	outcome, err := s.pipeline.AnalyzeEmployee(ctx, *target, cycle)
	if err != nil {
		return models.RiskAnalysisResult{}, err
	}
	if err := s.manager.SaveSnapshot(ctx, outcome.Result); err != nil {
		return models.RiskAnalysisResult{}, err
	}
	if outcome.Result.Analysis.Level.AtLeast(models.RiskHigh) {
		s.notifyHighRisk(ctx, outcome, nil, outcome.Result.Analysis.Level)
	}
	return outcome.Result, nil
}

// EmployeeRisk returns the stored snapshot, assessment and flags for an
// employee. cycleID empty reads the active cycle.
func (s *RiskService) EmployeeRisk(ctx context.Context, employeeID, cycleID string) (EmployeeRiskView, error) {
	cycle, err := s.pipeline.ResolveCycle(ctx, cycleID)
	if err != nil {
		return EmployeeRiskView{}, err
	}

	analysis, err := s.store.GetAnalysis(ctx, employeeID, cycle.ID)
	if err != nil {
		return EmployeeRiskView{}, err
	}
	assessment, err := s.store.GetAssessment(ctx, employeeID, cycle.ID)
	if err != nil {
		return EmployeeRiskView{}, err
	}
	flags, err := s.store.FlagsFor(ctx, employeeID, cycle.ID)
	if err != nil {
		return EmployeeRiskView{}, err
	}
	return EmployeeRiskView{Analysis: analysis, Assessment: assessment, Flags: flags}, nil
}

// UseReportCache enables short-lived caching of population reports for
// dashboard reads.
func (s *RiskService) UseReportCache(provider cachepkg.Provider, ttl time.Duration) {
	s.reportCache = provider
	s.reportTTL = ttl
}

func reportCacheKey(cycleID string) string {
	return "talent-risk:population-report:" + cycleID
}

func (s *RiskService) cacheReport(ctx context.Context, report models.PopulationAnomalyReport) {
	if s.reportCache == nil {
		return
	}
	body, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.reportCache.Set(ctx, reportCacheKey(report.CycleID), body, s.reportTTL); err != nil {
		s.logger.Debug("population report cache write failed", slog.Any("error", err))
	}
}

// AnalyzePopulation recomputes the ensemble on demand, stores and
// caches the refreshed report. cycleID empty targets the active cycle.
func (s *RiskService) AnalyzePopulation(ctx context.Context, cycleID string) (models.PopulationAnomalyReport, error) {
	report, err := s.pipeline.Population(ctx, cycleID)
	if err != nil {
		return report, err
	}
	if err := s.store.SaveReport(ctx, report); err != nil {
		return report, err
	}
	s.cacheReport(ctx, report)
	return report, nil
}

// PopulationReport returns the latest anomaly report, serving a cached
// copy when one is fresh. cycleID empty reads the active cycle.
func (s *RiskService) PopulationReport(ctx context.Context, cycleID string) (*models.PopulationAnomalyReport, error) {
	cycle, err := s.pipeline.ResolveCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	if s.reportCache != nil {
		if data, err := s.reportCache.Get(ctx, reportCacheKey(cycle.ID)); err == nil {
			var report models.PopulationAnomalyReport
			if json.Unmarshal(data, &report) == nil && report.CycleID == cycle.ID {
				return &report, nil
			}
		}
	}
	report, err := s.store.LatestReport(ctx, cycle.ID)
	if err != nil || report == nil {
		return report, err
	}
	s.cacheReport(ctx, *report)
	return report, nil
}

// ResolveFlag closes an active flag on behalf of HR.
func (s *RiskService) ResolveFlag(ctx context.Context, flagID uuid.UUID, resolvedBy, notes string) (*models.RiskFlag, error) {
	flag, err := s.store.GetFlag(ctx, flagID)
	if err != nil {
		return nil, err
	}
	if flag == nil {
		return nil, fmt.Errorf("flag %s not found", flagID)
	}
	if err := s.manager.Resolve(ctx, flag, resolvedBy, notes); err != nil {
		return nil, err
	}
	return flag, nil
}

// RunFullSweep analyzes the whole population, persists snapshots and
// flags, and notifies HR of HIGH and CRITICAL combined verdicts.
// cycleID empty sweeps the active cycle.
func (s *RiskService) RunFullSweep(ctx context.Context, cycleID string) (models.SweepSummary, error) {
	started := time.Now()

	outcome, err := s.pipeline.Run(ctx, cycleID)
	if err != nil {
		metrics.ObserveSweep(time.Since(started), metrics.OutcomeError)
		return models.SweepSummary{}, err
	}

	summary := models.SweepSummary{
		CycleID:           outcome.Cycle.ID,
		EmployeesAnalyzed: len(outcome.Outcomes),
		Errors:            outcome.Errors,
		StartedAt:         started.UTC(),
	}

	anomalies := engine.AnomalyByEmployee(outcome.Report)

	for _, result := range outcome.Outcomes {
		if err := s.manager.SaveSnapshot(ctx, result.Result); err != nil {
			summary.Errors++
			s.logger.Error("snapshot persist failed",
				slog.String("employee_id", result.Employee.ID), slog.Any("error", err))
			continue
		}

		anomaly := anomalies[result.Employee.ID]
		combined := engine.CombinedLevel(result.Result.Analysis, anomaly)
		if combined.AtLeast(models.RiskHigh) {
			summary.HighRisk++
			s.notifyHighRisk(ctx, result, anomaly, combined)
		}

		created, err := s.manager.ApplyVerdict(ctx, outcome.Cycle.ID, result.Result.Analysis, anomaly, combined)
		if err != nil {
			summary.Errors++
			s.logger.Error("flag upsert failed",
				slog.String("employee_id", result.Employee.ID), slog.Any("error", err))
			continue
		}
		if created {
			summary.FlagsUpserted++
		}
	}

	if !outcome.InsufficientPopulation {
		summary.AnomaliesDetected = len(outcome.Report.Combined)
		for _, anomaly := range outcome.Report.Combined {
			metrics.ObserveAnomaly(string(anomaly.Severity))
		}
		if err := s.store.SaveReport(ctx, outcome.Report); err != nil {
			summary.Errors++
			s.logger.Error("population report persist failed", slog.Any("error", err))
		} else {
			s.cacheReport(ctx, outcome.Report)
		}
	}

	summary.Duration = time.Since(started)
	s.latencies.Observe(summary.Duration)
	metrics.ObserveSweep(summary.Duration, metrics.OutcomeSuccess)
	metrics.AddEmployeesAnalyzed(summary.EmployeesAnalyzed)
	metrics.AddFlagsUpserted(summary.FlagsUpserted)

	s.logger.Info("risk sweep complete",
		slog.String("cycle_id", summary.CycleID),
		slog.Int("analyzed", summary.EmployeesAnalyzed),
		slog.Int("high_risk", summary.HighRisk),
		slog.Int("anomalies", summary.AnomaliesDetected),
		slog.Int("flags_upserted", summary.FlagsUpserted),
		slog.Int("errors", summary.Errors),
		slog.Duration("elapsed", summary.Duration))
	return summary, nil
}

func (s *RiskService) notifyHighRisk(ctx context.Context, result engine.EmployeeOutcome, anomaly *models.EmployeeAnomaly, level models.RiskLevel) {
	alert := notify.Alert{
		EmployeeID:   result.Employee.ID,
		EmployeeName: result.Employee.FullName,
		CycleID:      result.Result.Analysis.CycleID,
		Level:        level,
		TotalScore:   result.Result.Analysis.TotalScore,
		RedFlags:     result.Result.Analysis.RedFlags,
		DetectedAt:   time.Now().UTC(),
	}
	if anomaly != nil {
		for _, method := range anomaly.Methods {
			alert.Methods = append(alert.Methods, string(method))
		}
	}
	if err := s.sink.Notify(ctx, alert); err != nil {
		s.logger.Warn("risk alert delivery failed",
			slog.String("employee_id", result.Employee.ID), slog.Any("error", err))
	}
}

// LatencyP95 returns the current p95 sweep latency.
func (s *RiskService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

// StartScheduler runs full sweeps on a fixed interval until ctx is
// cancelled. A zero interval disables scheduling.
func (s *RiskService) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunFullSweep(ctx, ""); err != nil {
					s.logger.Error("scheduled sweep failed", slog.Any("error", err))
				}
			}
		}
	}()
}
