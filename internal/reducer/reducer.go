package reducer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/domain"
)

type reduceRequest struct {
	Vectors     [][]float32 `json:"vectors"`
	Method      string      `json:"method"`
	NComponents int         `json:"n_components"`
}

type reduceResponse struct {
	Coordinates []domain.Position `json:"coordinates"`
}

// Client calls the dimensionality-reduction service.
type Client struct {
	url       string
	algorithm string
	http      *http.Client
}

func NewClient(cfg config.ReducerConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		url:       strings.TrimSuffix(cfg.URL, "/") + "/reduce",
		algorithm: cfg.Algorithm,
		http:      &http.Client{Timeout: timeout},
	}
}

// Algorithm returns the configured reduction method.
func (c *Client) Algorithm() string { return c.algorithm }

// Reduce maps the given vectors to 3D coordinates. The response must contain
// exactly one coordinate per input vector.
func (c *Client) Reduce(ctx context.Context, vectors [][]float32) ([]domain.Position, error) {
	body, err := json.Marshal(reduceRequest{
		Vectors:     vectors,
		Method:      c.algorithm,
		NComponents: 3,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reducer request failed: status %d", resp.StatusCode)
	}
	var result reduceResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Coordinates) != len(vectors) {
		return nil, fmt.Errorf("reducer returned %d coordinates for %d vectors", len(result.Coordinates), len(vectors))
	}
	return result.Coordinates, nil
}
