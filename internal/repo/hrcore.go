package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	cachepkg "github.com/talentstack/talent-risk/internal/cache"
	"github.com/talentstack/talent-risk/internal/config"
	"github.com/talentstack/talent-risk/internal/extractors"
	"github.com/talentstack/talent-risk/internal/models"
)

const activeCycleCacheKey = "talent-risk:active-cycle"

// HRCoreClient reads employees, cycles and raw signals from the HR
// suite's internal APIs. The active-cycle lookup is cached; everything
// else goes straight to the wire.
type HRCoreClient struct {
	baseURL         string
	employeesPath   string
	cyclesPath      string
	evaluationsPath string
	feedbackPath    string
	plansPath       string
	surveysPath     string
	httpClient      *http.Client

	cache    cachepkg.Provider
	cycleTTL time.Duration
	logger   *slog.Logger
}

// NewHRCoreClient constructs a client from configuration. cache may be
// nil, which disables cycle caching.
func NewHRCoreClient(cfg config.HRCoreConfig, cache cachepkg.Provider, cycleTTL time.Duration, logger *slog.Logger) *HRCoreClient {
	if cache == nil {
		cache = cachepkg.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HRCoreClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		employeesPath:   cfg.EmployeesPath,
		cyclesPath:      cfg.CyclesPath,
		evaluationsPath: cfg.EvaluationsPath,
		feedbackPath:    cfg.FeedbackPath,
		plansPath:       cfg.PlansPath,
		surveysPath:     cfg.SurveysPath,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		cache:           cache,
		cycleTTL:        cycleTTL,
		logger:          logger,
	}
}

type cycleDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Active    bool      `json:"active"`
	Anonymous bool      `json:"anonymous"`
}

func (d cycleDTO) toModel() models.EvaluationCycle {
	return models.EvaluationCycle{
		ID:        d.ID,
		Name:      d.Name,
		Start:     d.Start,
		End:       d.End,
		Active:    d.Active,
		Anonymous: d.Anonymous,
	}
}

// ActiveCycle returns the currently active evaluation cycle. A cached
// copy is served when fresh; cache failures fall through to the API.
func (c *HRCoreClient) ActiveCycle(ctx context.Context) (models.EvaluationCycle, error) {
	if c.baseURL == "" {
		return models.EvaluationCycle{}, fmt.Errorf("hr-core base URL not configured")
	}

	if cached, err := c.cache.Get(ctx, activeCycleCacheKey); err == nil {
		var dto cycleDTO
		if err := json.Unmarshal(cached, &dto); err == nil && dto.ID != "" {
			return dto.toModel(), nil
		}
	}

	var response struct {
		Cycle *cycleDTO `json:"cycle"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cyclesPath), map[string]any{"active": true}, &response); err != nil {
		return models.EvaluationCycle{}, fmt.Errorf("hr-core cycles request failed: %w", err)
	}
	if response.Cycle == nil || response.Cycle.ID == "" {
		return models.EvaluationCycle{}, fmt.Errorf("hr-core reported no active cycle")
	}

	if body, err := json.Marshal(response.Cycle); err == nil {
		if err := c.cache.Set(ctx, activeCycleCacheKey, body, c.cycleTTL); err != nil {
			c.logger.Debug("active cycle cache write failed", slog.Any("error", err))
		}
	}
	return response.Cycle.toModel(), nil
}

// Cycle looks up one evaluation cycle by id, active or not. Lookups by
// id are not cached.
func (c *HRCoreClient) Cycle(ctx context.Context, cycleID string) (models.EvaluationCycle, error) {
	if c.baseURL == "" {
		return models.EvaluationCycle{}, fmt.Errorf("hr-core base URL not configured")
	}

	var response struct {
		Cycle *cycleDTO `json:"cycle"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cyclesPath), map[string]any{"id": cycleID}, &response); err != nil {
		return models.EvaluationCycle{}, fmt.Errorf("hr-core cycles request failed: %w", err)
	}
	if response.Cycle == nil || response.Cycle.ID == "" {
		return models.EvaluationCycle{}, fmt.Errorf("cycle %s not found", cycleID)
	}
	return response.Cycle.toModel(), nil
}

// Employees lists all employees known to the HR suite, including
// inactive ones; callers filter.
func (c *HRCoreClient) Employees(ctx context.Context) ([]models.Employee, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("hr-core base URL not configured")
	}

	var response struct {
		Employees []struct {
			ID        string     `json:"id"`
			FullName  string     `json:"full_name"`
			Active    bool       `json:"active"`
			OrgUnitID string     `json:"org_unit_id"`
			LastLogin *time.Time `json:"last_login"`
		} `json:"employees"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.employeesPath), map[string]any{}, &response); err != nil {
		return nil, fmt.Errorf("hr-core employees request failed: %w", err)
	}

	employees := make([]models.Employee, 0, len(response.Employees))
	for _, e := range response.Employees {
		employees = append(employees, models.Employee{
			ID:        e.ID,
			FullName:  e.FullName,
			Active:    e.Active,
			OrgUnitID: e.OrgUnitID,
			LastLogin: e.LastLogin,
		})
	}
	return employees, nil
}

// Signals aggregates the raw per-employee records for one cycle.
func (c *HRCoreClient) Signals(ctx context.Context, employeeID, cycleID string) (extractors.RawSignals, error) {
	evaluations, err := c.fetchEvaluations(ctx, employeeID, cycleID)
	if err != nil {
		return extractors.RawSignals{}, err
	}
	feedback, err := c.fetchFeedback(ctx, employeeID)
	if err != nil {
		return extractors.RawSignals{}, err
	}
	plans, err := c.fetchActivePlans(ctx, employeeID)
	if err != nil {
		return extractors.RawSignals{}, err
	}
	attention, err := c.fetchSurveyAttention(ctx, employeeID)
	if err != nil {
		return extractors.RawSignals{}, err
	}
	return extractors.RawSignals{
		Evaluations:     evaluations,
		Feedback:        feedback,
		ActivePlans:     plans,
		SurveyAttention: attention,
	}, nil
}

func (c *HRCoreClient) fetchEvaluations(ctx context.Context, employeeID, cycleID string) ([]models.Evaluation, error) {
	payload := map[string]any{
		"subject_id": employeeID,
		"cycle_id":   cycleID,
	}

	var response struct {
		Evaluations []struct {
			ID          string     `json:"id"`
			SubjectID   string     `json:"subject_id"`
			ReviewerID  string     `json:"reviewer_id"`
			CycleID     string     `json:"cycle_id"`
			Kind        string     `json:"kind"`
			Completed   bool       `json:"completed"`
			CompletedAt *time.Time `json:"completed_at"`
			Answers     []struct {
				QuestionID string  `json:"question_id"`
				Category   string  `json:"category"`
				Score      float64 `json:"score"`
				Comment    string  `json:"comment"`
			} `json:"answers"`
		} `json:"evaluations"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.evaluationsPath), payload, &response); err != nil {
		return nil, fmt.Errorf("hr-core evaluations request failed: %w", err)
	}

	evaluations := make([]models.Evaluation, 0, len(response.Evaluations))
	for _, e := range response.Evaluations {
		eval := models.Evaluation{
			ID:          e.ID,
			SubjectID:   e.SubjectID,
			ReviewerID:  e.ReviewerID,
			CycleID:     e.CycleID,
			Kind:        models.ReviewKind(e.Kind),
			Completed:   e.Completed,
			CompletedAt: e.CompletedAt,
		}
		for _, a := range e.Answers {
			eval.Answers = append(eval.Answers, models.ScoredAnswer{
				QuestionID: a.QuestionID,
				Category:   a.Category,
				Score:      a.Score,
				Comment:    a.Comment,
			})
		}
		evaluations = append(evaluations, eval)
	}
	return evaluations, nil
}

func (c *HRCoreClient) fetchFeedback(ctx context.Context, employeeID string) ([]models.FeedbackEvent, error) {
	payload := map[string]any{"employee_id": employeeID}

	var response struct {
		Events []struct {
			ID        string    `json:"id"`
			FromID    string    `json:"from_id"`
			ToID      string    `json:"to_id"`
			Rating    int       `json:"rating"`
			Message   string    `json:"message"`
			Anonymous bool      `json:"anonymous"`
			CreatedAt time.Time `json:"created_at"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.feedbackPath), payload, &response); err != nil {
		return nil, fmt.Errorf("hr-core feedback request failed: %w", err)
	}

	events := make([]models.FeedbackEvent, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, models.FeedbackEvent{
			ID:        e.ID,
			FromID:    e.FromID,
			ToID:      e.ToID,
			Rating:    e.Rating,
			Message:   e.Message,
			Anonymous: e.Anonymous,
			CreatedAt: e.CreatedAt,
		})
	}
	return events, nil
}

func (c *HRCoreClient) fetchActivePlans(ctx context.Context, employeeID string) (int, error) {
	payload := map[string]any{"employee_id": employeeID, "status": "active"}

	var response struct {
		Count int `json:"count"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.plansPath), payload, &response); err != nil {
		return 0, fmt.Errorf("hr-core development plans request failed: %w", err)
	}
	return response.Count, nil
}

func (c *HRCoreClient) fetchSurveyAttention(ctx context.Context, employeeID string) (bool, error) {
	payload := map[string]any{"employee_id": employeeID}

	var response struct {
		NeedsAttention bool `json:"needs_attention"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.surveysPath), payload, &response); err != nil {
		return false, fmt.Errorf("hr-core survey flags request failed: %w", err)
	}
	return response.NeedsAttention, nil
}

func (c *HRCoreClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *HRCoreClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hr-core returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
