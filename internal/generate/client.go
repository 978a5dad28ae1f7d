package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/logger"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

// Prediction mirrors the provider's response shape. Output is deferred to
// raw JSON because the provider returns either an ordered array of text
// fragments or a single string.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	URLs   struct {
		Get string `json:"get,omitempty"`
	} `json:"urls,omitempty"`
}

func (p *Prediction) terminal() bool {
	switch p.Status {
	case "succeeded", "failed", "canceled":
		return true
	}
	return false
}

type predictionInput struct {
	Prompt            string  `json:"prompt"`
	SystemInstruction string  `json:"system_instruction"`
	ThinkingLevel     string  `json:"thinking_level,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	TopP              float64 `json:"top_p,omitempty"`
	MaxOutputTokens   int     `json:"max_output_tokens,omitempty"`
}

// Client wraps the external text-generation service: submit a prediction,
// then poll its status URL until a terminal state or the attempt bound.
type Client struct {
	cfg        config.GeneratorConfig
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg config.GeneratorConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: logger.Get(),
	}
}

// Generate submits a prediction and waits for its text. Transient transport
// and provider errors come back as RetryableError; a terminally failed
// prediction comes back as GenerationError; exceeding the poll bound comes
// back as ErrGenerationTimeout.
func (c *Client) Generate(ctx context.Context, systemInstruction, prompt string) (string, error) {
	prediction, err := c.submit(ctx, systemInstruction, prompt)
	if err != nil {
		return "", err
	}

	if !prediction.terminal() {
		prediction, err = c.poll(ctx, prediction)
		if err != nil {
			return "", err
		}
	}

	if prediction.Status != "succeeded" {
		return "", pkgerrors.GenerationError{
			Status: prediction.Status,
			Detail: prediction.Error,
		}
	}

	return decodeOutput(prediction.Output)
}

func (c *Client) submit(ctx context.Context, systemInstruction, prompt string) (*Prediction, error) {
	body := struct {
		Input predictionInput `json:"input"`
	}{
		Input: predictionInput{
			Prompt:            prompt,
			SystemInstruction: systemInstruction,
			ThinkingLevel:     c.cfg.ThinkingLevel,
			Temperature:       c.cfg.Temperature,
			TopP:              c.cfg.TopP,
			MaxOutputTokens:   c.cfg.MaxOutputTokens,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	// Lets the provider hold the request open for fast predictions so most
	// calls never hit the poll loop.
	req.Header.Set("Prefer", "wait")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.NewRetryableError(err, "prediction request failed")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return nil, pkgerrors.NewRetryableError(fmt.Errorf("HTTP %d", resp.StatusCode), "generation service unavailable")
	default:
		return nil, pkgerrors.NewRetryableError(fmt.Errorf("HTTP %d", resp.StatusCode), "generation service error")
	}

	var prediction Prediction
	if err := json.NewDecoder(resp.Body).Decode(&prediction); err != nil {
		return nil, fmt.Errorf("failed to decode prediction: %w", err)
	}

	return &prediction, nil
}

func (c *Client) poll(ctx context.Context, prediction *Prediction) (*Prediction, error) {
	pollURL := prediction.URLs.Get
	if pollURL == "" {
		pollURL = fmt.Sprintf("%s/predictions/%s", c.cfg.BaseURL, prediction.ID)
	}

	log := c.log.With().Str("prediction_id", prediction.ID).Logger()

	for attempt := 0; attempt < c.cfg.MaxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create poll request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, pkgerrors.NewRetryableError(err, "poll request failed")
		}

		var polled Prediction
		decodeErr := json.NewDecoder(resp.Body).Decode(&polled)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("failed to decode poll response: %w", decodeErr)
		}

		log.Debug().Int("attempt", attempt+1).Str("status", polled.Status).Msg("Polled prediction")

		if polled.terminal() {
			return &polled, nil
		}
	}

	return nil, pkgerrors.ErrGenerationTimeout
}

// decodeOutput concatenates fragment arrays, accepts plain strings, and
// rejects anything that trims down to nothing: empty output is not a valid
// success.
func decodeOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", pkgerrors.ErrEmptyOutput
	}

	var fragments []string
	if err := json.Unmarshal(raw, &fragments); err == nil {
		text := strings.TrimSpace(strings.Join(fragments, ""))
		if text == "" {
			return "", pkgerrors.ErrEmptyOutput
		}
		return text, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		text := strings.TrimSpace(single)
		if text == "" {
			return "", pkgerrors.ErrEmptyOutput
		}
		return text, nil
	}

	return "", fmt.Errorf("unexpected output shape: %s", string(raw))
}
