package smtp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/campbell-alarms/engine/internal/logging"
	"github.com/campbell-alarms/engine/internal/ratelimit"
	"github.com/campbell-alarms/engine/internal/resilience"
)

// gatewayPayload mirrors the fields SmtpSender posts when use_gateway
// is set, originally built as a Csi::Json::ObjectHandle.
type gatewayPayload struct {
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc,omitempty"`
	Bcc         []string            `json:"bcc,omitempty"`
	Subject     string              `json:"subject"`
	Body        string              `json:"body"`
	Attachments []gatewayAttachment `json:"attachments,omitempty"`
}

type gatewayAttachment struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	ContentB64  string `json:"content"`
}

// GatewayConfig controls the circuit breaker, retry policy, and rate
// limit applied to the HTTP fallback path.
type GatewayConfig struct {
	HTTPTimeout   time.Duration
	Breaker       resilience.Config
	Retry         resilience.RetryConfig
	RateLimit     ratelimit.RateLimitConfig
}

// DefaultGatewayConfig returns sensible defaults for posting to an
// email gateway that may itself be rate limited or briefly down.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		HTTPTimeout: 15 * time.Second,
		Breaker:     resilience.DefaultConfig(),
		Retry:       resilience.DefaultRetryConfig(),
		RateLimit:   ratelimit.DefaultConfig(),
	}
}

// GatewayClient posts a Message to msg.GatewayURL instead of opening a
// direct SMTP connection, for deployments where outbound port 25/587
// is blocked (spec §4.6 "UseGateway").
type GatewayClient struct {
	cfg     GatewayConfig
	client  *ratelimit.RateLimitedClient
	breaker *resilience.CircuitBreaker
	logger  *logging.Logger
}

// NewGatewayClient constructs a GatewayClient. logger may be nil.
func NewGatewayClient(cfg GatewayConfig, logger *logging.Logger) *GatewayClient {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	return &GatewayClient{
		cfg:     cfg,
		client:  ratelimit.NewRateLimitedClient(httpClient, cfg.RateLimit),
		breaker: resilience.New(cfg.Breaker),
		logger:  logger,
	}
}

// Send posts msg to its gateway URL, retrying transient failures under
// the circuit breaker and reporting the outcome via onComplete.
func (g *GatewayClient) Send(ctx context.Context, msg Message, onComplete func(Outcome, error)) {
	go func() {
		outcome, err := g.run(ctx, msg)
		if g.logger != nil {
			g.logger.LogSmtpOutcome(ctx, outcome.String(), msg.GatewayURL, err)
		}
		onComplete(outcome, err)
	}()
}

func (g *GatewayClient) run(ctx context.Context, msg Message) (Outcome, error) {
	if msg.GatewayURL == "" {
		return OutcomeUnknownFailure, fmt.Errorf("gateway URL is empty")
	}
	payload, err := buildGatewayPayload(msg)
	if err != nil {
		return OutcomeUnknownFailure, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return OutcomeUnknownFailure, err
	}

	var lastErr error
	err = g.breaker.Execute(ctx, func() error {
		return resilience.Retry(ctx, g.cfg.Retry, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.GatewayURL, bytes.NewReader(body))
			if err != nil {
				lastErr = err
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := g.client.Do(req)
			if err != nil {
				lastErr = err
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				lastErr = fmt.Errorf("gateway returned status %d", resp.StatusCode)
				return lastErr
			}
			lastErr = nil
			return nil
		})
	})
	if err != nil {
		if lastErr != nil {
			err = lastErr
		}
		return OutcomeConnectionFailed, err
	}
	return OutcomeSuccess, nil
}

func buildGatewayPayload(msg Message) (gatewayPayload, error) {
	payload := gatewayPayload{
		From:    msg.From,
		To:      msg.To,
		Cc:      msg.Cc,
		Bcc:     msg.Bcc,
		Subject: msg.Subject,
		Body:    msg.Body,
	}
	for _, att := range msg.Attachments {
		content := att.Content
		if len(content) == 0 && att.Path != "" {
			data, err := os.ReadFile(att.Path)
			if err != nil {
				return gatewayPayload{}, fmt.Errorf("reading attachment %q: %w", att.FileName, err)
			}
			content = data
		}
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		payload.Attachments = append(payload.Attachments, gatewayAttachment{
			FileName:    att.FileName,
			ContentType: contentType,
			ContentB64:  base64.StdEncoding.EncodeToString(content),
		})
	}
	return payload, nil
}
