package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"mnemo/internal/config"
	"mnemo/internal/observability"
)

// Content-length advisories. Oversized content still proceeds; the embedding
// backend truncates on its own terms.
const (
	lowContextChars     = 50
	nearTruncationChars = 8000
	criticalChars       = 15000
)

type embeddingRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Client generates embeddings over the configured HTTP endpoint.
type Client struct {
	cfg  config.EmbeddingConfig
	http *http.Client
}

func NewClient(cfg config.EmbeddingConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

// Embed returns one vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	c.adviseLength(ctx, text)

	body, err := json.Marshal(embeddingRequest{
		Input:          []string{text},
		Model:          c.cfg.Model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + c.cfg.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		header := c.cfg.APIHeader
		if header == "" {
			header = "Authorization"
		}
		value := c.cfg.APIKey
		if strings.EqualFold(header, "Authorization") {
			value = "Bearer " + c.cfg.APIKey
		}
		req.Header.Add(header, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding request failed: status %d", resp.StatusCode)
	}

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, fmt.Errorf("embedding response contained no vectors")
	}
	src := result.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

func (c *Client) adviseLength(ctx context.Context, text string) {
	n := len(text)
	log := observability.LoggerWithTrace(ctx)
	switch {
	case n > criticalChars:
		log.Error().Int("chars", n).Msg("embedding content far beyond model window, proceeding anyway")
	case n > nearTruncationChars:
		log.Warn().Int("chars", n).Msg("embedding content near truncation limit")
	case n < lowContextChars:
		log.Debug().Int("chars", n).Msg("embedding content is low-context")
	}
}
