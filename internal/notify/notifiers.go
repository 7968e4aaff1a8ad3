package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// LogNotifier writes notifications to the structured log. Used as the
// default channel and in deployments without a delivery backend.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notifier")}
}

// Show implements Notifier.Show
func (n *LogNotifier) Show(ctx context.Context, title, body string) error {
	n.logger.Info("Notification", zap.String("title", title), zap.String("body", body))
	return nil
}

// SetBadge implements Notifier.SetBadge
func (n *LogNotifier) SetBadge(ctx context.Context, count int) error {
	n.logger.Info("Badge updated", zap.Int("count", count))
	return nil
}

// WebhookNotifier POSTs notifications and badge updates to an HTTP
// endpoint. A 401 or 403 from the endpoint is treated as the platform
// denying notification permission.
type WebhookNotifier struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
	badge      atomic.Int64
}

// NewWebhookNotifier creates a webhook-backed notifier
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		logger: logger.Named("webhook"),
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Show implements Notifier.Show
func (n *WebhookNotifier) Show(ctx context.Context, title, body string) error {
	payload := map[string]interface{}{
		"type":  "notification",
		"title": title,
		"body":  body,
		"badge": n.badge.Load(),
	}
	return n.post(ctx, payload)
}

// SetBadge implements Notifier.SetBadge
func (n *WebhookNotifier) SetBadge(ctx context.Context, count int) error {
	n.badge.Store(int64(count))
	payload := map[string]interface{}{
		"type":  "badge",
		"badge": count,
	}
	return n.post(ctx, payload)
}

func (n *WebhookNotifier) post(ctx context.Context, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: webhook returned %d", model.ErrPermissionDenied, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// EmailConfig holds SMTP settings for the mail notifier
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
}

// EmailNotifier delivers notifications over SMTP. Badge updates have no
// mail representation and are accepted without effect.
type EmailNotifier struct {
	logger *zap.Logger
	config EmailConfig
}

// NewEmailNotifier creates an SMTP-backed notifier
func NewEmailNotifier(config EmailConfig, logger *zap.Logger) *EmailNotifier {
	return &EmailNotifier{
		logger: logger.Named("email"),
		config: config,
	}
}

// Show implements Notifier.Show
func (n *EmailNotifier) Show(ctx context.Context, title, body string) error {
	if len(n.config.To) == 0 {
		return fmt.Errorf("no recipients configured")
	}

	auth := smtp.PlainAuth("",
		n.config.Username,
		n.config.Password,
		n.config.Host)

	msg := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n",
		n.config.From,
		n.config.To[0],
		title,
		body)

	addr := fmt.Sprintf("%s:%d", n.config.Host, n.config.Port)
	return smtp.SendMail(addr, auth, n.config.From, n.config.To, []byte(msg))
}

// SetBadge implements Notifier.SetBadge
func (n *EmailNotifier) SetBadge(ctx context.Context, count int) error {
	return nil
}
