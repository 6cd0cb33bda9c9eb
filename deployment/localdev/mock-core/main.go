package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// Standalone stand-in for the HR suite's signal APIs. Serves a small
// deterministic population with one struggling employee (emp-09) so a
// local risk-engine sweep has something to flag.

type employee struct {
	ID        string     `json:"id"`
	FullName  string     `json:"full_name"`
	Active    bool       `json:"active"`
	OrgUnitID string     `json:"org_unit_id"`
	LastLogin *time.Time `json:"last_login"`
}

type cycle struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Active    bool      `json:"active"`
	Anonymous bool      `json:"anonymous"`
}

type answer struct {
	QuestionID string  `json:"question_id"`
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
	Comment    string  `json:"comment"`
}

type evaluation struct {
	ID          string     `json:"id"`
	SubjectID   string     `json:"subject_id"`
	ReviewerID  string     `json:"reviewer_id"`
	CycleID     string     `json:"cycle_id"`
	Kind        string     `json:"kind"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at"`
	Answers     []answer   `json:"answers"`
}

type feedbackEvent struct {
	ID        string    `json:"id"`
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Rating    int       `json:"rating"`
	Message   string    `json:"message"`
	Anonymous bool      `json:"anonymous"`
	CreatedAt time.Time `json:"created_at"`
}

const outlierID = "emp-09"

func main() {
	now := time.Now().UTC()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/signals/cycles", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		req := decodePayload(w, r)
		if req == nil {
			return
		}
		// Lookups by unknown id come back empty; the active lookup and
		// the local cycle's own id both return the one dev cycle.
		if id, ok := req["id"]; ok && id != "cycle-local" {
			writeJSON(w, map[string]any{"cycle": nil})
			return
		}
		writeJSON(w, map[string]any{
			"cycle": cycle{
				ID:     "cycle-local",
				Name:   "Local Dev Cycle",
				Start:  now.AddDate(0, -2, 0),
				End:    now.AddDate(0, 1, 0),
				Active: true,
			},
		})
	})

	mux.HandleFunc("/api/v1/signals/employees", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		writeJSON(w, map[string]any{"employees": population(now)})
	})

	mux.HandleFunc("/api/v1/signals/evaluations", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		req := decodePayload(w, r)
		if req == nil {
			return
		}
		writeJSON(w, map[string]any{"evaluations": evaluationsFor(req["subject_id"], now)})
	})

	mux.HandleFunc("/api/v1/signals/feedback", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		req := decodePayload(w, r)
		if req == nil {
			return
		}
		writeJSON(w, map[string]any{"events": feedbackFor(req["employee_id"], now)})
	})

	mux.HandleFunc("/api/v1/signals/development-plans", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		req := decodePayload(w, r)
		if req == nil {
			return
		}
		count := 1
		if req["employee_id"] == outlierID {
			count = 0
		}
		writeJSON(w, map[string]any{"count": count})
	})

	mux.HandleFunc("/api/v1/signals/survey-flags", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		req := decodePayload(w, r)
		if req == nil {
			return
		}
		writeJSON(w, map[string]any{"needs_attention": req["employee_id"] == outlierID})
	})

	logger := log.New(log.Writer(), "hr-core-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func population(now time.Time) []employee {
	recent := now.Add(-24 * time.Hour)
	stale := now.Add(-45 * 24 * time.Hour)

	employees := make([]employee, 0, 12)
	for i := 1; i <= 12; i++ {
		id := fmt.Sprintf("emp-%02d", i)
		e := employee{
			ID:        id,
			FullName:  fmt.Sprintf("Employee %02d", i),
			Active:    true,
			OrgUnitID: "org-eng",
			LastLogin: &recent,
		}
		if id == outlierID {
			e.OrgUnitID = ""
			e.LastLogin = &stale
		}
		employees = append(employees, e)
	}
	return employees
}

func evaluationsFor(subjectID string, now time.Time) []evaluation {
	scores := []float64{7.0, 7.5, 8.0}
	if subjectID == outlierID {
		scores = []float64{1.5, 2.0}
	}

	evaluations := make([]evaluation, 0, len(scores))
	for i, score := range scores {
		completedAt := now.Add(-time.Duration(30-7*i) * 24 * time.Hour)
		evaluations = append(evaluations, evaluation{
			ID:          fmt.Sprintf("eval-%s-%d", subjectID, i+1),
			SubjectID:   subjectID,
			ReviewerID:  fmt.Sprintf("reviewer-%d", i+1),
			CycleID:     "cycle-local",
			Kind:        "peer",
			Completed:   true,
			CompletedAt: &completedAt,
			Answers: []answer{
				{QuestionID: "q1", Category: "delivery", Score: score},
				{QuestionID: "q2", Category: "collaboration", Score: score + 0.5},
			},
		})
	}
	return evaluations
}

func feedbackFor(employeeID string, now time.Time) []feedbackEvent {
	if employeeID == outlierID {
		return []feedbackEvent{
			{
				ID:        "fb-" + employeeID + "-1",
				FromID:    "emp-01",
				ToID:      employeeID,
				Rating:    1,
				Message:   "serious problem with delivery this quarter",
				CreatedAt: now.Add(-10 * 24 * time.Hour),
			},
		}
	}
	return []feedbackEvent{
		{
			ID:        "fb-" + employeeID + "-1",
			FromID:    "emp-02",
			ToID:      employeeID,
			Rating:    5,
			Message:   "great collaboration on the platform work",
			CreatedAt: now.Add(-5 * 24 * time.Hour),
		},
		{
			ID:        "fb-" + employeeID + "-2",
			FromID:    "emp-03",
			ToID:      employeeID,
			Rating:    4,
			Message:   "reliable and responsive",
			CreatedAt: now.Add(-15 * 24 * time.Hour),
		},
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodePayload(w http.ResponseWriter, r *http.Request) map[string]string {
	payload := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil
	}
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
