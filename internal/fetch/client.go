package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"ratewatch/internal/model"
)

// Client fetches rate snapshots from the upstream quote API. It implements
// the scheduler's RateFetcher contract; the scheduler reacts only to the
// delivered snapshots.
type Client struct {
	logger     *zap.Logger
	baseURL    string
	httpClient *http.Client
}

// quote is the subset of the upstream response the core consumes
type quote struct {
	Subject   string  `json:"subject"`
	Rate      float64 `json:"rate"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds, 0 means now
}

// NewClient creates a rate fetch client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		logger:  logger.Named("fetch"),
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchRates fetches one snapshot per subject. A transport or decode
// failure is a network error; the caller skips the cycle and retries on
// its next tick.
func (c *Client) FetchRates(ctx context.Context, subjects []string) ([]model.RateSnapshot, error) {
	endpoint := fmt.Sprintf("%s/rates?subjects=%s",
		c.baseURL, url.QueryEscape(strings.Join(subjects, ",")))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching rates", zap.Strings("subjects", subjects))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var quotes []quote
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	snapshots := make([]model.RateSnapshot, 0, len(quotes))
	for _, q := range quotes {
		if q.Subject == "" {
			continue
		}
		timestamp := time.Now()
		if q.Timestamp > 0 {
			timestamp = time.UnixMilli(q.Timestamp)
		}
		snapshots = append(snapshots, model.RateSnapshot{
			Subject:   q.Subject,
			Rate:      q.Rate,
			Timestamp: timestamp,
		})
	}
	return snapshots, nil
}
