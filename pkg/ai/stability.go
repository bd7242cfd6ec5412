package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const defaultStabilityBaseURL = "https://api.stability.ai/v2beta"

// StabilityClient calls the Stability AI image generation API.
type StabilityClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewStabilityClient constructs a client with the provided API key. Model
// selects the generation endpoint (e.g. "core", "ultra"); empty means core.
func NewStabilityClient(apiKey, model string) (*StabilityClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("stability api key required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = "core"
	}
	return &StabilityClient{
		apiKey:     apiKey,
		baseURL:    defaultStabilityBaseURL,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateImage renders an image for the prompt and returns PNG bytes.
func (c *StabilityClient) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, "", fmt.Errorf("prompt required")
	}
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("prompt", prompt); err != nil {
		return nil, "", err
	}
	if err := writer.WriteField("output_format", "png"); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("%s/stable-image/generate/%s", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Errors []string `json:"errors"`
			Name   string   `json:"name"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if len(errResp.Errors) > 0 {
			return nil, "", fmt.Errorf("stability api error: %s", strings.Join(errResp.Errors, "; "))
		}
		return nil, "", fmt.Errorf("stability api error: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
