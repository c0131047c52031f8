// Package notify sends operator alerts through ntfy when streams fail
// or drop an unusual number of pulses.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/config"
	"github.com/slaclab/bsastream/internal/pulse"
)

// Notifier is the interface for operator alerts.
type Notifier interface {
	StreamInitFailed(ctx context.Context, channel, beamline string, err error) error
	MissedPulseBurst(ctx context.Context, channel string, missed int, from, to pulse.ID) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *config.NotifyConfig
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *config.NotifyConfig, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// StreamInitFailed alerts that a stream could not be (re)initialized.
func (c *Client) StreamInitFailed(ctx context.Context, channel, beamline string, err error) error {
	title := fmt.Sprintf("Stream Init Failed: %s", channel)
	message := FormatInitFailure(channel, beamline, err)
	return c.send(ctx, title, message, c.config.Topic+",x", "high")
}

// MissedPulseBurst alerts that one update gap exceeded the configured
// burst threshold.
func (c *Client) MissedPulseBurst(ctx context.Context, channel string, missed int, from, to pulse.ID) error {
	title := fmt.Sprintf("Missed Pulse Burst: %s", channel)
	message := FormatGapMessage(channel, missed, from, to)
	return c.send(ctx, title, message, c.config.Topic+",warning", "default")
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are
// disabled.
type NoopNotifier struct{}

// StreamInitFailed is a no-op.
func (n *NoopNotifier) StreamInitFailed(_ context.Context, _, _ string, _ error) error {
	return nil
}

// MissedPulseBurst is a no-op.
func (n *NoopNotifier) MissedPulseBurst(_ context.Context, _ string, _ int, _, _ pulse.ID) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *config.NotifyConfig, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}
