package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	DefaultVoyageBaseURL = "https://api.voyageai.com/v1"
	DefaultVoyageModel   = "voyage-3"
	defaultTimeout       = 30 * time.Second
	defaultMaxAttempts   = 4
)

type VoyageConfig struct {
	Logger     *slog.Logger
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	// Dimensions, when set, is checked against every returned vector.
	Dimensions int
	// MaxAttempts bounds requests per call; rate limits and server errors are retried.
	MaxAttempts int
	// RetryBackOff overrides the exponential backoff between attempts.
	RetryBackOff backoff.BackOff
}

func (cfg *VoyageConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.APIKey == "" {
		return errors.New("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultVoyageModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultVoyageBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return nil
}

// VoyageClient calls the Voyage AI embeddings endpoint.
type VoyageClient struct {
	log *slog.Logger
	cfg VoyageConfig
}

func NewVoyageClient(cfg VoyageConfig) (*VoyageClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate voyage config: %w", err)
	}
	return &VoyageClient{log: cfg.Logger, cfg: cfg}, nil
}

type voyageRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type"`
}

type voyageResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type voyageError struct {
	Detail string `json:"detail"`
}

func (c *VoyageClient) Embed(ctx context.Context, text string, mode Mode) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text}, mode)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *VoyageClient) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if err := mode.Validate(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(voyageRequest{Input: texts, Model: c.cfg.Model, InputType: string(mode)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	start := time.Now()
	attempt := 0
	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		if attempt > 0 {
			c.log.Warn("embed: voyage request failed, retrying", "attempt", attempt)
		}
		attempt++
		return c.post(ctx, body)
	}, backoff.WithBackOff(c.backOff()), backoff.WithMaxTries(uint(c.cfg.MaxAttempts)))
	if err != nil {
		return nil, err
	}

	var vr voyageResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(vr.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vr.Data))
	}
	sort.Slice(vr.Data, func(i, j int) bool { return vr.Data[i].Index < vr.Data[j].Index })

	out := make([][]float32, len(vr.Data))
	for i, d := range vr.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if c.cfg.Dimensions > 0 && len(d.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(d.Embedding), c.cfg.Dimensions)
		}
		out[i] = d.Embedding
	}

	c.log.Debug("embed: voyage request complete", "texts", len(texts), "mode", mode, "tokens", vr.Usage.TotalTokens, "duration", time.Since(start))
	return out, nil
}

func (c *VoyageClient) backOff() backoff.BackOff {
	if c.cfg.RetryBackOff != nil {
		return c.cfg.RetryBackOff
	}
	return backoff.NewExponentialBackOff()
}

// post sends one embeddings request. Errors other than rate limits, server errors and transport
// failures are permanent.
func (c *VoyageClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		err = fmt.Errorf("embedding request failed: %w", err)
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return data, nil
	}

	err = fmt.Errorf("embedding request failed with status %d", resp.StatusCode)
	var ve voyageError
	if json.Unmarshal(data, &ve) == nil && ve.Detail != "" {
		err = fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, ve.Detail)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if secs, perr := strconv.Atoi(resp.Header.Get("Retry-After")); perr == nil && secs > 0 {
			return nil, backoff.RetryAfter(secs)
		}
		return nil, err
	case resp.StatusCode >= 500:
		return nil, err
	default:
		return nil, backoff.Permanent(err)
	}
}
