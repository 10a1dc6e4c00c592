// Package vision calls the model-based viewpoint scorer, the costlier
// fallback behind the heuristic stage. The model itself is an external
// collaborator; this client only owns transport, retries and response
// validation.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/carsnap/angle-review/internal/core/domain"
	"github.com/carsnap/angle-review/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, model string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

type scoreRequest struct {
	Model    string `json:"model"`
	ImageURL string `json:"image_url"`
}

type scoreResponse struct {
	Angle      string  `json:"angle"`
	Confidence float64 `json:"confidence"`
}

// Score asks the vision model for a viewpoint label. Tokens outside the
// canonical set are rejected at this boundary so bad model output never
// reaches persistence.
func (c *Client) Score(ctx context.Context, imageURL string) (domain.Angle, float64, error) {
	var resp scoreResponse
	call := func(callCtx context.Context) error {
		return c.postJSON(callCtx, "/v1/vehicle/angle", scoreRequest{
			Model:    c.model,
			ImageURL: imageURL,
		}, &resp)
	}

	var err error
	if c.executor != nil {
		err = c.executor.Do(ctx, "vision.score", call, classifyVisionError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.AngleUnknown, 0, wrapTemporaryIfNeeded("vision score", err)
	}

	angle, err := domain.ParseAngle(resp.Angle)
	if err != nil {
		return domain.AngleUnknown, 0, fmt.Errorf("vision scorer returned %q: %w", resp.Angle, err)
	}
	confidence := resp.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return angle, confidence, nil
}

func (c *Client) postJSON(ctx context.Context, path string, request any, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal vision request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create vision request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vision request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "score",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(raw),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode vision response: %w", err)
	}
	return nil
}
