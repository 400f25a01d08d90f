package switchpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// NotifyConfig configures webhook notifications for detected shifts.
type NotifyConfig struct {
	// WebhookURL receives a POST for each qualifying analysis.
	// Notifications are disabled when empty.
	WebhookURL string `yaml:"webhook_url"`
	// MinProbability is the posterior probability the detected shift
	// must reach before a notification is sent
	MinProbability float64 `yaml:"min_probability"`
	// MinLogBayesFactor is the evidence threshold against the
	// single-rate model
	MinLogBayesFactor float64 `yaml:"min_log_bayes_factor"`
	// Timeout bounds a single delivery attempt
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultNotifyConfig returns default notification configuration.
func DefaultNotifyConfig() NotifyConfig {
	return NotifyConfig{
		MinProbability:    0.5,
		MinLogBayesFactor: 0,
		Timeout:           10 * time.Second,
	}
}

// ShiftNotification is sent to webhooks when a rate shift qualifies.
type ShiftNotification struct {
	AnalysisID     string    `json:"analysis_id"`
	Tau            int       `json:"tau"`
	Date           time.Time `json:"date,omitempty"`
	Probability    float64   `json:"probability"`
	RateBefore     float64   `json:"rate_before"`
	RateAfter      float64   `json:"rate_after"`
	LogBayesFactor float64   `json:"log_bayes_factor"`
	DetectedAt     time.Time `json:"detected_at"`
}

// Notifier delivers shift notifications to a webhook with retries.
type Notifier struct {
	config     NotifyConfig
	httpClient HTTPDoer
	retryer    *Retryer
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithHTTPClient sets a custom HTTP client for webhook deliveries.
func WithHTTPClient(client HTTPDoer) NotifierOption {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

// NewNotifier creates a webhook notifier.
func NewNotifier(cfg NotifyConfig, opts ...NotifierOption) *Notifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	n := &Notifier{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// ShouldNotify reports whether an analysis passes the notification
// thresholds.
func (n *Notifier) ShouldNotify(a *Analysis) bool {
	if n.config.WebhookURL == "" || a == nil {
		return false
	}
	if a.Changepoint.Probability < n.config.MinProbability {
		return false
	}
	if a.Comparison.LogBayesFactor < n.config.MinLogBayesFactor {
		return false
	}
	return true
}

// Notify delivers a shift notification for a qualifying analysis.
// Analyses below the thresholds are skipped without error.
func (n *Notifier) Notify(ctx context.Context, a *Analysis) error {
	if !n.ShouldNotify(a) {
		return nil
	}

	notification := ShiftNotification{
		AnalysisID:     a.ID,
		Tau:            a.Changepoint.Tau,
		Date:           a.Changepoint.Date,
		Probability:    a.Changepoint.Probability,
		RateBefore:     a.Before.MLE,
		RateAfter:      a.After.MLE,
		LogBayesFactor: a.Comparison.LogBayesFactor,
		DetectedAt:     a.CreatedAt,
	}

	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := n.retryer.Do(ctx, func() error {
		return n.sendWebhook(n.config.WebhookURL, payload)
	})

	observeNotification(result.LastErr)
	if result.LastErr != nil {
		slog.Warn("webhook notification failed",
			"analysis_id", a.ID,
			"attempts", result.Attempts,
			"error", result.LastErr)
	}
	return result.LastErr
}

func (n *Notifier) sendWebhook(url string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}
