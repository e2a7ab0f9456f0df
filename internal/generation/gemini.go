package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// GeminiClient implements Generator and Reviser against the Gemini
// generateContent REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client

	// Cost per million tokens, split by direction.
	inputCostPerM  float64
	outputCostPerM float64

	mu          sync.Mutex
	lastRequest time.Time
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	InputCostPerM  float64
	OutputCostPerM float64
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:         apiKey,
		BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
		Model:          "gemini-2.5-flash",
		Timeout:        5 * time.Minute,
		InputCostPerM:  0.30,
		OutputCostPerM: 2.50,
	}
}

// NewGeminiClient creates a Gemini client with custom config.
func NewGeminiClient(config GeminiConfig) *GeminiClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}
	return &GeminiClient{
		apiKey:         config.APIKey,
		baseURL:        config.BaseURL,
		model:          config.Model,
		inputCostPerM:  config.InputCostPerM,
		outputCostPerM: config.OutputCostPerM,
		httpClient:     &http.Client{Timeout: config.Timeout},
	}
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Invoke generates one stage's structured output.
func (c *GeminiClient) Invoke(ctx context.Context, stageID string, input map[string]any) (*Result, error) {
	prompt, err := BuildPrompt(stageID, input)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, prompt)
}

// Revise repairs a rejected case model using the validator's error list.
func (c *GeminiClient) Revise(ctx context.Context, prior map[string]any, violations []string) (*Result, error) {
	prompt, err := BuildRevisionPrompt(prior, violations)
	if err != nil {
		return nil, err
	}
	return c.complete(ctx, prompt)
}

func (c *GeminiClient) complete(ctx context.Context, prompt string) (*Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("generation: API key not configured")
	}

	// At least 500ms between requests.
	c.mu.Lock()
	if elapsed := time.Since(c.lastRequest); elapsed < 500*time.Millisecond {
		time.Sleep(500*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenConfig{
			Temperature:      0.9,
			ResponseMimeType: "application/json",
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("generation: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("generation: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generation: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("generation: read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("generation: decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("generation: API error %d (%s): %s", parsed.Error.Code, parsed.Error.Status, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generation: unexpected status %d: %s", resp.StatusCode, string(body))
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("generation: empty response")
	}

	var text string
	for _, part := range parsed.Candidates[0].Content.Parts {
		text += part.Text
	}

	record, err := ParseRecord(text)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Output: record,
		Cost: float64(parsed.UsageMetadata.PromptTokenCount)/1e6*c.inputCostPerM +
			float64(parsed.UsageMetadata.CandidatesTokenCount)/1e6*c.outputCostPerM,
	}
	if reason := parsed.Candidates[0].FinishReason; reason != "" && reason != "STOP" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("generation finished with reason %s", reason))
	}
	return result, nil
}
