package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/talentstack/talent-risk/internal/models"
	"github.com/talentstack/talent-risk/internal/services"
	"github.com/talentstack/talent-risk/internal/utils"
)

// Handlers exposes the risk service over JSON endpoints.
type Handlers struct {
	service *services.RiskService
	logger  *slog.Logger
}

// NewHandlers wires the handler set.
func NewHandlers(service *services.RiskService, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// Routes builds the API router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/healthz", h.health)
	r.Route("/api/v1/risk", func(r chi.Router) {
		r.Post("/sweep", h.runSweep)
		r.Post("/employees/{employeeID}/analyze", h.analyzeEmployee)
		r.Get("/employees/{employeeID}", h.employeeRisk)
		r.Get("/population", h.populationReport)
		r.Post("/population/analyze", h.analyzePopulation)
		r.Post("/flags/{flagID}/resolve", h.resolveFlag)
	})
	return r
}

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sweepResponse struct {
	CycleID           string    `json:"cycle_id"`
	EmployeesAnalyzed int       `json:"employees_analyzed"`
	HighRisk          int       `json:"high_risk"`
	AnomaliesDetected int       `json:"anomalies_detected"`
	FlagsUpserted     int       `json:"flags_upserted"`
	Errors            int       `json:"errors"`
	StartedAt         time.Time `json:"started_at"`
	DurationMs        int64     `json:"duration_ms"`
}

// cycleParam reads the optional cycle query parameter. Empty selects
// the active cycle.
func cycleParam(r *http.Request) string {
	return r.URL.Query().Get("cycle")
}

func (h *Handlers) runSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.RunFullSweep(r.Context(), cycleParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{
		CycleID:           summary.CycleID,
		EmployeesAnalyzed: summary.EmployeesAnalyzed,
		HighRisk:          summary.HighRisk,
		AnomaliesDetected: summary.AnomaliesDetected,
		FlagsUpserted:     summary.FlagsUpserted,
		Errors:            summary.Errors,
		StartedAt:         summary.StartedAt,
		DurationMs:        summary.Duration.Milliseconds(),
	})
}

type analysisDTO struct {
	EmployeeID      string           `json:"employee_id"`
	EmployeeName    string           `json:"employee_name,omitempty"`
	CycleID         string           `json:"cycle_id"`
	TotalScore      float64          `json:"total_score"`
	Level           models.RiskLevel `json:"level"`
	RedFlags        []models.RedFlag `json:"red_flags,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	AnalyzedAt      time.Time        `json:"analyzed_at"`
}

type assessmentDTO struct {
	Performance     float64         `json:"performance"`
	Potential       float64         `json:"potential"`
	GridCell        models.GridCell `json:"grid_cell"`
	RetentionRisk   float64         `json:"retention_risk"`
	HighPotential   bool            `json:"high_potential"`
	SuccessionReady bool            `json:"succession_ready"`
	AssessedAt      time.Time       `json:"assessed_at"`
}

type flagDTO struct {
	ID         uuid.UUID           `json:"id"`
	Type       models.FlagType     `json:"type"`
	Severity   models.RiskLevel    `json:"severity"`
	RiskScore  float64             `json:"risk_score"`
	Confidence float64             `json:"confidence"`
	Status     models.FlagStatus   `json:"status"`
	Evidence   models.FlagEvidence `json:"evidence"`
	DetectedAt time.Time           `json:"detected_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty"`
	ResolvedBy string              `json:"resolved_by,omitempty"`
}

type employeeRiskResponse struct {
	Analysis   *analysisDTO   `json:"analysis"`
	Assessment *assessmentDTO `json:"assessment"`
	Flags      []flagDTO      `json:"flags"`
}

func (h *Handlers) employeeRisk(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	view, err := h.service.EmployeeRisk(r.Context(), employeeID, cycleParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if view.Analysis == nil && view.Assessment == nil && len(view.Flags) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no analysis for employee " + employeeID})
		return
	}

	resp := employeeRiskResponse{Flags: make([]flagDTO, 0, len(view.Flags))}
	if view.Analysis != nil {
		resp.Analysis = &analysisDTO{
			EmployeeID:      view.Analysis.EmployeeID,
			EmployeeName:    view.Analysis.EmployeeName,
			CycleID:         view.Analysis.CycleID,
			TotalScore:      view.Analysis.TotalScore,
			Level:           view.Analysis.Level,
			RedFlags:        view.Analysis.RedFlags,
			Recommendations: view.Analysis.Recommendations,
			AnalyzedAt:      view.Analysis.AnalyzedAt,
		}
	}
	if view.Assessment != nil {
		resp.Assessment = &assessmentDTO{
			Performance:     view.Assessment.Performance,
			Potential:       view.Assessment.Potential,
			GridCell:        view.Assessment.GridCell,
			RetentionRisk:   view.Assessment.RetentionRisk,
			HighPotential:   view.Assessment.HighPotential,
			SuccessionReady: view.Assessment.SuccessionReady,
			AssessedAt:      view.Assessment.AssessedAt,
		}
	}
	for _, flag := range view.Flags {
		resp.Flags = append(resp.Flags, flagDTO{
			ID:         flag.ID,
			Type:       flag.Type,
			Severity:   flag.Severity,
			RiskScore:  flag.RiskScore,
			Confidence: flag.Confidence,
			Status:     flag.Status,
			Evidence:   flag.Evidence,
			DetectedAt: flag.DetectedAt,
			ResolvedAt: flag.ResolvedAt,
			ResolvedBy: flag.ResolvedBy,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) analyzeEmployee(w http.ResponseWriter, r *http.Request) {
	employeeID := chi.URLParam(r, "employeeID")
	result, err := h.service.AnalyzeEmployee(r.Context(), employeeID, cycleParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"employee_id": employeeID,
		"level":       result.Analysis.Level,
		"total_score": result.Analysis.TotalScore,
		"grid_cell":   result.Potential.GridCell,
	})
}

func (h *Handlers) analyzePopulation(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.AnalyzePopulation(r.Context(), cycleParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handlers) populationReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.PopulationReport(r.Context(), cycleParam(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if report == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no population report for cycle"})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Notes      string `json:"notes"`
}

func (h *Handlers) resolveFlag(w http.ResponseWriter, r *http.Request) {
	flagID, err := uuid.Parse(chi.URLParam(r, "flagID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid flag id"})
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ResolvedBy) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "resolved_by is required"})
		return
	}

	flag, err := h.service.ResolveFlag(r.Context(), flagID, req.ResolvedBy, req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          flag.ID,
		"status":      flag.Status,
		"resolved_at": flag.ResolvedAt,
	})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, utils.ErrInsufficientData) {
		status = http.StatusConflict
	}
	if strings.Contains(err.Error(), "not found") {
		status = http.StatusNotFound
	}
	h.logger.Error("request failed", slog.Any("error", err))
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
