package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/civicdata/internal/catalog"
	"github.com/malbeclabs/civicdata/internal/pipeline"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Kind       string
	Stage      string
	Message    string
	DatasetID  string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("api error %d (%s at %s): %s", e.StatusCode, e.Kind, e.Stage, e.Message)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Kind, e.Message)
}

// Unanswerable reports whether the API refused the question because the data cannot answer it.
func (e *APIError) Unanswerable() bool {
	return e.Kind == "unanswerable"
}

type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// Client calls the API. Answer row values decode into their tagged kinds, so 64-bit integers
// survive the round trip.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("base url must be http(s): %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout + 10*time.Second}
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), token: cfg.Token, http: httpClient}, nil
}

func (c *Client) Answer(ctx context.Context, question, datasetID string) (*pipeline.Answer, error) {
	body, err := json.Marshal(AnswerRequest{Question: question, DatasetID: datasetID})
	if err != nil {
		return nil, err
	}
	var answer pipeline.Answer
	if err := c.do(ctx, http.MethodPost, "/api/answer", bytes.NewReader(body), &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

// SearchDatasets ranks datasets for query. An empty query lists the whole catalog.
func (c *Client) SearchDatasets(ctx context.Context, query string, opts pipeline.RetrieveOptions) (*DatasetsResponse, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Threshold != nil {
		params.Set("threshold", strconv.FormatFloat(*opts.Threshold, 'f', -1, 64))
	}
	path := "/api/datasets"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	var resp DatasetsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetDataset(ctx context.Context, id string) (catalog.Summary, error) {
	var d catalog.Summary
	err := c.do(ctx, http.MethodGet, "/api/datasets/"+url.PathEscape(id), nil, &d)
	return d, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, RequestID: resp.Header.Get(requestIDHeader)}
		var er ErrorResponse
		if err := json.Unmarshal(data, &er); err == nil && er.Error.Kind != "" {
			apiErr.Kind = er.Error.Kind
			apiErr.Stage = er.Error.Stage
			apiErr.Message = er.Error.Message
			apiErr.DatasetID = er.Error.DatasetID
		} else {
			apiErr.Kind = "http"
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// IsUnanswerable reports whether err is an API refusal.
func IsUnanswerable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unanswerable()
}
