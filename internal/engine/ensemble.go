package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/talentstack/talent-risk/internal/config"
	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/stats"
	"github.com/talentstack/talent-risk/internal/utils"
)

// featureMatrix is a dense view over one feature family for a
// population. Rows are employees, columns are features; absent values
// are tracked separately so detectors can impute or skip them.
type featureMatrix struct {
	vectors  []models.FeatureVector
	features []string
	values   [][]float64 // rows x cols, only valid where present
	present  [][]bool
}

func buildMatrix(vectors []models.FeatureVector, features []string) featureMatrix {
	m := featureMatrix{
		vectors:  vectors,
		features: features,
		values:   make([][]float64, len(vectors)),
		present:  make([][]bool, len(vectors)),
	}
	for i, v := range vectors {
		m.values[i] = make([]float64, len(features))
		m.present[i] = make([]bool, len(features))
		for j, name := range features {
			if val, ok := v.Feature(name); ok {
				m.values[i][j] = val
				m.present[i][j] = true
			}
		}
	}
	return m
}

// column returns the present values of one feature together with the
// row indexes they came from.
func (m featureMatrix) column(j int) ([]float64, []int) {
	vals := make([]float64, 0, len(m.values))
	rows := make([]int, 0, len(m.values))
	for i := range m.values {
		if m.present[i][j] {
			vals = append(vals, m.values[i][j])
			rows = append(rows, i)
		}
	}
	return vals, rows
}

// imputed returns the full column with absent values replaced by the
// column mean of present values.
func (m featureMatrix) imputed(j int) []float64 {
	vals, _ := m.column(j)
	mean := stats.Mean(vals)
	out := make([]float64, len(m.values))
	for i := range m.values {
		if m.present[i][j] {
			out[i] = m.values[i][j]
		} else {
			out[i] = mean
		}
	}
	return out
}

// Ensemble runs the four population detectors over a cycle's feature
// vectors and reconciles their findings into per-employee verdicts.
type Ensemble struct {
	cfg    config.AnalysisConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewEnsemble constructs the detector ensemble.
func NewEnsemble(cfg config.AnalysisConfig, logger *slog.Logger) *Ensemble {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ensemble{cfg: cfg, logger: logger, now: time.Now}
}

// Detect analyzes the whole population for one cycle. It returns
// utils.ErrInsufficientData when the population is below the configured
// minimum; statistics over a handful of employees are noise.
func (e *Ensemble) Detect(cycleID string, vectors []models.FeatureVector) (models.PopulationAnomalyReport, error) {
	report := models.PopulationAnomalyReport{
		CycleID:     cycleID,
		Population:  len(vectors),
		ByMethod:    make(map[models.DetectionMethod][]models.AnomalyFinding),
		GeneratedAt: e.now().UTC(),
	}
	if len(vectors) < e.cfg.MinPopulation {
		return report, utils.InsufficientData("population %d below minimum %d for cycle %s",
			len(vectors), e.cfg.MinPopulation, cycleID)
	}

	perf := buildMatrix(vectors, models.PerformanceFeatures())
	behav := buildMatrix(vectors, models.BehavioralFeatures())

	// Both matrices are immutable once built, so the four detector
	// families run concurrently. Each writes only its own slot.
	perMethod := make([][]models.AnomalyFinding, 4)
	var wg sync.WaitGroup
	for slot, run := range []func() []models.AnomalyFinding{
		func() []models.AnomalyFinding { return append(e.detectIQR(perf), e.detectIQR(behav)...) },
		func() []models.AnomalyFinding { return append(e.detectZScore(perf), e.detectZScore(behav)...) },
		func() []models.AnomalyFinding { return append(e.detectDensity(perf), e.detectDensity(behav)...) },
		func() []models.AnomalyFinding {
			return append(e.detectForest(perf, e.cfg.PerformanceContamination),
				e.detectForest(behav, e.cfg.BehavioralContamination)...)
		},
	} {
		wg.Add(1)
		go func(slot int, run func() []models.AnomalyFinding) {
			defer wg.Done()
			perMethod[slot] = run()
		}(slot, run)
	}
	wg.Wait()

	for _, findings := range perMethod {
		for _, f := range findings {
			report.ByMethod[f.Method] = append(report.ByMethod[f.Method], f)
		}
	}

	report.Combined = e.reconcile(vectors, report.ByMethod)

	e.logger.Info("population anomaly detection complete",
		slog.String("cycle_id", cycleID),
		slog.Int("population", len(vectors)),
		slog.Int("anomalies", len(report.Combined)))
	return report, nil
}

// detectIQR flags values outside [Q1 - k*IQR, Q3 + k*IQR] per feature.
func (e *Ensemble) detectIQR(m featureMatrix) []models.AnomalyFinding {
	var findings []models.AnomalyFinding
	for j, name := range m.features {
		vals, rows := m.column(j)
		if len(vals) < e.cfg.MinPopulation {
			continue
		}
		q1 := stats.Quantile(vals, 0.25)
		q3 := stats.Quantile(vals, 0.75)
		iqr := q3 - q1
		lower := q1 - e.cfg.IQRMultiplier*iqr
		upper := q3 + e.cfg.IQRMultiplier*iqr
		for k, val := range vals {
			if val < lower || val > upper {
				v := m.vectors[rows[k]]
				findings = append(findings, models.AnomalyFinding{
					EmployeeID:   v.EmployeeID,
					EmployeeName: v.EmployeeName,
					Method:       models.MethodIQR,
					Feature:      name,
					Value:        val,
					LowerBound:   lower,
					UpperBound:   upper,
					Detail:       fmt.Sprintf("%s=%.2f outside [%.2f, %.2f]", name, val, lower, upper),
				})
			}
		}
	}
	return findings
}

// detectZScore flags present values whose standard score against the
// mean-imputed column exceeds the threshold. Imputed cells are never
// flagged.
func (e *Ensemble) detectZScore(m featureMatrix) []models.AnomalyFinding {
	var findings []models.AnomalyFinding
	for j, name := range m.features {
		vals, _ := m.column(j)
		if len(vals) < e.cfg.MinPopulation {
			continue
		}
		full := m.imputed(j)
		mean := stats.Mean(full)
		sd := stats.StdDev(full)
		if sd == 0 {
			continue
		}
		for i := range full {
			if !m.present[i][j] {
				continue
			}
			z := (full[i] - mean) / sd
			if math.Abs(z) > e.cfg.ZScoreThreshold {
				v := m.vectors[i]
				findings = append(findings, models.AnomalyFinding{
					EmployeeID:   v.EmployeeID,
					EmployeeName: v.EmployeeName,
					Method:       models.MethodZScore,
					Feature:      name,
					Value:        full[i],
					Score:        z,
					Detail:       fmt.Sprintf("%s=%.2f is %.2f standard deviations from the mean", name, full[i], z),
				})
			}
		}
	}
	return findings
}

// reconcile merges per-method findings into one verdict per employee.
// Severity follows the count of distinct methods that agree: a single
// method is MEDIUM, two is HIGH, three or more is CRITICAL.
func (e *Ensemble) reconcile(vectors []models.FeatureVector, byMethod map[models.DetectionMethod][]models.AnomalyFinding) []models.EmployeeAnomaly {
	type agg struct {
		methods  map[models.DetectionMethod]struct{}
		findings []models.AnomalyFinding
	}
	perEmployee := make(map[string]*agg)
	for _, method := range []models.DetectionMethod{
		models.MethodIQR,
		models.MethodZScore,
		models.MethodDensityCluster,
		models.MethodIsolationForest,
	} {
		for _, f := range byMethod[method] {
			a := perEmployee[f.EmployeeID]
			if a == nil {
				a = &agg{methods: make(map[models.DetectionMethod]struct{})}
				perEmployee[f.EmployeeID] = a
			}
			a.methods[f.Method] = struct{}{}
			a.findings = append(a.findings, f)
		}
	}

	names := make(map[string]string, len(vectors))
	for _, v := range vectors {
		names[v.EmployeeID] = v.EmployeeName
	}

	combined := make([]models.EmployeeAnomaly, 0, len(perEmployee))
	for employeeID, a := range perEmployee {
		methods := make([]models.DetectionMethod, 0, len(a.methods))
		for m := range a.methods {
			methods = append(methods, m)
		}
		sort.Slice(methods, func(i, j int) bool { return methods[i] < methods[j] })

		severity := models.RiskMedium
		switch {
		case len(methods) >= 3:
			severity = models.RiskCritical
		case len(methods) == 2:
			severity = models.RiskHigh
		}

		combined = append(combined, models.EmployeeAnomaly{
			EmployeeID:   employeeID,
			EmployeeName: names[employeeID],
			Methods:      methods,
			Findings:     a.findings,
			Severity:     severity,
		})
	}
	sort.Slice(combined, func(i, j int) bool { return combined[i].EmployeeID < combined[j].EmployeeID })
	return combined
}
