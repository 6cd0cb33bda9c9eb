package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/talentstack/talent-risk/internal/models"
)

// Alert is the payload delivered for a HIGH or CRITICAL verdict.
type Alert struct {
	EmployeeID   string           `json:"employee_id"`
	EmployeeName string           `json:"employee_name,omitempty"`
	CycleID      string           `json:"cycle_id"`
	Level        models.RiskLevel `json:"level"`
	TotalScore   float64          `json:"total_score"`
	RedFlags     []models.RedFlag `json:"red_flags,omitempty"`
	Methods      []string         `json:"methods,omitempty"`
	DetectedAt   time.Time        `json:"detected_at"`
}

// Sink delivers alerts to HR. Delivery failures are reported but never
// abort a sweep.
type Sink interface {
	Notify(ctx context.Context, alert Alert) error
}

// NoopSink swallows alerts; used when no webhook is configured.
type NoopSink struct{}

// Notify discards the alert.
func (NoopSink) Notify(context.Context, Alert) error { return nil }

// WebhookSink posts alerts as JSON to a configured endpoint.
type WebhookSink struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookSink creates a sink targeting url.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Notify posts the alert. Non-2xx responses are errors.
func (s *WebhookSink) Notify(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	s.logger.Debug("risk alert delivered",
		slog.String("employee_id", alert.EmployeeID),
		slog.String("level", string(alert.Level)))
	return nil
}
