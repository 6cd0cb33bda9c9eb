package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/models"
)

type fakeStore struct {
	cycle     models.EvaluationCycle
	employees []models.Employee
	signals   map[string]extractors.RawSignals
	failFor   map[string]bool
}

func (s *fakeStore) ActiveCycle(context.Context) (models.EvaluationCycle, error) {
	return s.cycle, nil
}

func (s *fakeStore) Cycle(_ context.Context, cycleID string) (models.EvaluationCycle, error) {
	if cycleID != s.cycle.ID {
		return models.EvaluationCycle{}, fmt.Errorf("cycle %s not found", cycleID)
	}
	return s.cycle, nil
}

func (s *fakeStore) Employees(context.Context) ([]models.Employee, error) {
	return s.employees, nil
}

func (s *fakeStore) Signals(_ context.Context, employeeID, _ string) (extractors.RawSignals, error) {
	if s.failFor[employeeID] {
		return extractors.RawSignals{}, errors.New("signal store unavailable")
	}
	return s.signals[employeeID], nil
}

func newTestPipeline(store *fakeStore) *Pipeline {
	logger := testLogger()
	return NewPipeline(
		store,
		extractors.NewFeatureExtractor([]string{"problem"}, fixedNow),
		NewRuleScorer(DefaultRulePack(), logger),
		NewEnsemble(testAnalysisConfig(), logger),
		NewPotentialScorer(fixedNow),
		nil,
		2,
		logger,
	)
}

func evalAt(daysAgo int, scores ...float64) models.Evaluation {
	ts := fixedNow().AddDate(0, 0, -daysAgo)
	answers := make([]models.ScoredAnswer, len(scores))
	for i, score := range scores {
		answers[i] = models.ScoredAnswer{QuestionID: fmt.Sprintf("q%d", i), Score: score}
	}
	return models.Evaluation{
		Kind:        models.ReviewPeer,
		Completed:   true,
		CompletedAt: &ts,
		Answers:     answers,
	}
}

func sweepFixture(n int) *fakeStore {
	store := &fakeStore{
		cycle:   models.EvaluationCycle{ID: "cycle-1", Name: "2026 H1", Active: true},
		signals: make(map[string]extractors.RawSignals),
		failFor: make(map[string]bool),
	}
	login := fixedNow().AddDate(0, 0, -2)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("emp-%02d", i)
		store.employees = append(store.employees, models.Employee{
			ID: id, FullName: fmt.Sprintf("Employee %02d", i),
			Active: true, OrgUnitID: "ou-1", LastLogin: &login,
		})
		store.signals[id] = extractors.RawSignals{
			Evaluations: []models.Evaluation{evalAt(20, 7, 7), evalAt(10, 7, 8)},
			Feedback: []models.FeedbackEvent{
				{ToID: id, Rating: 4, CreatedAt: fixedNow().AddDate(0, 0, -5)},
			},
			ActivePlans: 1,
		}
	}
	return store
}

func TestRunSweepAnalyzesActiveEmployees(t *testing.T) {
	store := sweepFixture(8)
	store.employees = append(store.employees, models.Employee{ID: "emp-inactive", Active: false})

	outcome, err := newTestPipeline(store).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcome.Outcomes) != 8 {
		t.Fatalf("analyzed %d employees, want 8", len(outcome.Outcomes))
	}
	for _, o := range outcome.Outcomes {
		if o.Employee.ID == "emp-inactive" {
			t.Fatal("inactive employee was analyzed")
		}
		if o.Result.Potential == nil {
			t.Fatalf("employee %s missing potential assessment", o.Employee.ID)
		}
	}
	if outcome.InsufficientPopulation {
		t.Fatal("population of 8 should be large enough for detection")
	}
}

func TestRunSweepIsolatesFailures(t *testing.T) {
	store := sweepFixture(8)
	store.failFor["emp-03"] = true

	outcome, err := newTestPipeline(store).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome.Errors != 1 {
		t.Fatalf("errors = %d, want 1", outcome.Errors)
	}
	if len(outcome.Outcomes) != 7 {
		t.Fatalf("analyzed %d employees, want 7", len(outcome.Outcomes))
	}
	for _, o := range outcome.Outcomes {
		if o.Employee.ID == "emp-03" {
			t.Fatal("failed employee should not appear in outcomes")
		}
	}
}

func TestRunSweepSmallPopulation(t *testing.T) {
	outcome, err := newTestPipeline(sweepFixture(3)).Run(context.Background(), "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !outcome.InsufficientPopulation {
		t.Fatal("population of 3 should be reported as insufficient")
	}
	if len(outcome.Report.Combined) != 0 {
		t.Fatalf("no combined anomalies expected, got %d", len(outcome.Report.Combined))
	}
	// Rule scoring still ran for everyone.
	if len(outcome.Outcomes) != 3 {
		t.Fatalf("analyzed %d employees, want 3", len(outcome.Outcomes))
	}
}

func TestCombinedLevel(t *testing.T) {
	analysis := models.RiskAnalysis{Level: models.RiskMedium}

	if got := CombinedLevel(analysis, nil); got != models.RiskMedium {
		t.Errorf("nil anomaly: got %s, want MEDIUM", got)
	}
	anomaly := &models.EmployeeAnomaly{Severity: models.RiskCritical}
	if got := CombinedLevel(analysis, anomaly); got != models.RiskCritical {
		t.Errorf("got %s, want CRITICAL", got)
	}
	weak := &models.EmployeeAnomaly{Severity: models.RiskLow}
	if got := CombinedLevel(models.RiskAnalysis{Level: models.RiskHigh}, weak); got != models.RiskHigh {
		t.Errorf("got %s, want HIGH", got)
	}
}

func TestAnalyzeEmployeeWorkedExample(t *testing.T) {
	store := sweepFixture(1)
	login := fixedNow().AddDate(0, 0, -20)
	store.employees[0].LastLogin = &login
	store.signals["emp-00"] = extractors.RawSignals{
		Evaluations: []models.Evaluation{
			evalAt(20, 2.0, 2.2), evalAt(15, 2.1), evalAt(10, 2.1),
		},
		Feedback: []models.FeedbackEvent{
			{ToID: "emp-00", Rating: 2, CreatedAt: fixedNow().AddDate(0, 0, -5)},
		},
		ActivePlans: 0,
	}

	outcome, err := newTestPipeline(store).AnalyzeEmployee(
		context.Background(), store.employees[0], store.cycle)
	if err != nil {
		t.Fatalf("AnalyzeEmployee: %v", err)
	}

	analysis := outcome.Result.Analysis
	if analysis.Performance.Score != 3 {
		t.Errorf("performance score = %g, want 3", analysis.Performance.Score)
	}
	if analysis.Behavioral.Score != 3 {
		t.Errorf("behavioral score = %g, want 3", analysis.Behavioral.Score)
	}
	if !analysis.Level.AtLeast(models.RiskHigh) {
		t.Errorf("level = %s (total %g), want at least HIGH", analysis.Level, analysis.TotalScore)
	}
}
