package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/utils"
)

// SignalStore provides the HR records the engine analyzes. Implemented
// by the HR core client and by in-memory fixtures in tests.
type SignalStore interface {
	ActiveCycle(ctx context.Context) (models.EvaluationCycle, error)
	Cycle(ctx context.Context, cycleID string) (models.EvaluationCycle, error)
	Employees(ctx context.Context) ([]models.Employee, error)
	Signals(ctx context.Context, employeeID, cycleID string) (extractors.RawSignals, error)
}

// FlagCounter reports how many ACTIVE flags an employee currently has.
// Nil counters are treated as zero flags.
type FlagCounter interface {
	CountActiveFlags(ctx context.Context, employeeID, cycleID string) (int, error)
}

// EmployeeOutcome bundles everything the pipeline computed for one
// employee during a sweep.
type EmployeeOutcome struct {
	Employee models.Employee
	Vector   models.FeatureVector
	Result   models.RiskAnalysisResult
}

// SweepOutcome is the full result of one population run. Report is
// empty when the population was too small for statistical detection;
// InsufficientPopulation records that condition.
type SweepOutcome struct {
	Cycle                  models.EvaluationCycle
	Outcomes               []EmployeeOutcome
	Report                 models.PopulationAnomalyReport
	InsufficientPopulation bool
	Errors                 int
}

// Pipeline orchestrates extraction, rule scoring, potential assessment
// and population detection for a cycle.
type Pipeline struct {
	store     SignalStore
	extractor *extractors.FeatureExtractor
	rules     *RuleScorer
	ensemble  *Ensemble
	potential *PotentialScorer
	flags     FlagCounter
	logger    *slog.Logger
	workers   int
}

// NewPipeline wires the pipeline stages. flags may be nil; workers
// below 1 defaults to 4.
func NewPipeline(
	store SignalStore,
	extractor *extractors.FeatureExtractor,
	rules *RuleScorer,
	ensemble *Ensemble,
	potential *PotentialScorer,
	flags FlagCounter,
	workers int,
	logger *slog.Logger,
) *Pipeline {
	if workers < 1 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     store,
		extractor: extractor,
		rules:     rules,
		ensemble:  ensemble,
		potential: potential,
		flags:     flags,
		logger:    logger,
		workers:   workers,
	}
}

// AnalyzeEmployee runs the per-employee stages for one employee on
// demand. Population detection is not part of the on-demand path.
func (p *Pipeline) AnalyzeEmployee(ctx context.Context, emp models.Employee, cycle models.EvaluationCycle) (EmployeeOutcome, error) {
	signals, err := p.store.Signals(ctx, emp.ID, cycle.ID)
	if err != nil {
		return EmployeeOutcome{}, utils.NewComputationError("signals", emp.ID, cycle.ID, err)
	}

	vector := p.extractor.Extract(emp, cycle.ID, signals)
	analysis := p.rules.Score(emp, vector)

	activeFlags := 0
	if p.flags != nil {
		n, err := p.flags.CountActiveFlags(ctx, emp.ID, cycle.ID)
		if err != nil {
			p.logger.Warn("active flag count unavailable",
				slog.String("employee_id", emp.ID), slog.Any("error", err))
		} else {
			activeFlags = n
		}
	}
	assessment := p.potential.Assess(emp, vector, signals, analysis, activeFlags)

	return EmployeeOutcome{
		Employee: emp,
		Vector:   vector,
		Result: models.RiskAnalysisResult{
			Analysis:  analysis,
			Potential: &assessment,
		},
	}, nil
}

// ResolveCycle maps an explicit cycle id onto its cycle record, or the
// active cycle when cycleID is empty.
func (p *Pipeline) ResolveCycle(ctx context.Context, cycleID string) (models.EvaluationCycle, error) {
	if cycleID == "" {
		return p.store.ActiveCycle(ctx)
	}
	return p.store.Cycle(ctx, cycleID)
}

// Run executes a full sweep over one cycle (the active cycle when
// cycleID is empty): every active employee is analyzed with bounded
// parallelism, then the population detectors run over the collected
// vectors. One employee failing never aborts the sweep; the failure is
// logged and counted.
func (p *Pipeline) Run(ctx context.Context, cycleID string) (SweepOutcome, error) {
	cycle, err := p.ResolveCycle(ctx, cycleID)
	if err != nil {
		return SweepOutcome{}, err
	}
	employees, err := p.store.Employees(ctx)
	if err != nil {
		return SweepOutcome{}, err
	}

	outcome := SweepOutcome{Cycle: cycle}
	started := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, emp := range employees {
		if !emp.Active {
			continue
		}
		emp := emp
		g.Go(func() error {
			result, err := p.AnalyzeEmployee(gctx, emp, cycle)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Errors++
				p.logger.Error("employee analysis failed",
					slog.String("employee_id", emp.ID),
					slog.String("cycle_id", cycle.ID),
					slog.Any("error", err))
				return nil
			}
			outcome.Outcomes = append(outcome.Outcomes, result)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcome, err
	}
	sort.Slice(outcome.Outcomes, func(i, j int) bool {
		return outcome.Outcomes[i].Employee.ID < outcome.Outcomes[j].Employee.ID
	})

	vectors := make([]models.FeatureVector, len(outcome.Outcomes))
	for i, o := range outcome.Outcomes {
		vectors[i] = o.Vector
	}

	report, err := p.ensemble.Detect(cycle.ID, vectors)
	switch {
	case errors.Is(err, utils.ErrInsufficientData):
		outcome.InsufficientPopulation = true
		p.logger.Warn("population too small for statistical detection",
			slog.String("cycle_id", cycle.ID),
			slog.Int("population", len(vectors)))
	case err != nil:
		return outcome, err
	default:
		outcome.Report = report
	}

	p.logger.Info("sweep pipeline complete",
		slog.String("cycle_id", cycle.ID),
		slog.Int("analyzed", len(outcome.Outcomes)),
		slog.Int("errors", outcome.Errors),
		slog.Duration("elapsed", time.Since(started)))
	return outcome, nil
}

// Population recomputes the population anomaly report on demand,
// without rule scoring, snapshots or flags. Extraction failures are
// logged and the employee is left out of the matrix.
func (p *Pipeline) Population(ctx context.Context, cycleID string) (models.PopulationAnomalyReport, error) {
	cycle, err := p.ResolveCycle(ctx, cycleID)
	if err != nil {
		return models.PopulationAnomalyReport{}, err
	}
	employees, err := p.store.Employees(ctx)
	if err != nil {
		return models.PopulationAnomalyReport{}, err
	}

	var mu sync.Mutex
	var vectors []models.FeatureVector
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, emp := range employees {
		if !emp.Active {
			continue
		}
		emp := emp
		g.Go(func() error {
			signals, err := p.store.Signals(gctx, emp.ID, cycle.ID)
			if err != nil {
				p.logger.Error("signal fetch failed",
					slog.String("employee_id", emp.ID),
					slog.String("cycle_id", cycle.ID),
					slog.Any("error", err))
				return nil
			}
			vector := p.extractor.Extract(emp, cycle.ID, signals)
			mu.Lock()
			vectors = append(vectors, vector)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.PopulationAnomalyReport{}, err
	}
	sort.Slice(vectors, func(i, j int) bool { return vectors[i].EmployeeID < vectors[j].EmployeeID })

	return p.ensemble.Detect(cycle.ID, vectors)
}

// CombinedLevel merges the rule verdict with the ensemble verdict for
// one employee; the more severe of the two wins. anomaly may be nil.
func CombinedLevel(analysis models.RiskAnalysis, anomaly *models.EmployeeAnomaly) models.RiskLevel {
	if anomaly == nil {
		return analysis.Level
	}
	return models.MaxLevel(analysis.Level, anomaly.Severity)
}

// AnomalyByEmployee indexes a report's combined verdicts by employee id.
func AnomalyByEmployee(report models.PopulationAnomalyReport) map[string]*models.EmployeeAnomaly {
	out := make(map[string]*models.EmployeeAnomaly, len(report.Combined))
	for i := range report.Combined {
		out[report.Combined[i].EmployeeID] = &report.Combined[i]
	}
	return out
}
