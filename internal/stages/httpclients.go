package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const maxAttempts = 3

// base delay before the first retry, doubled per attempt
var retryBackoff = 2 * time.Second

// doWithRetry retries transport errors and retryable statuses (429, 5xx)
// with exponential backoff. The caller owns the response body on success.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff << (attempt - 1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", maxAttempts, lastErr)
}

// HTTPLLMClient talks to an OpenAI-compatible chat completion endpoint
type HTTPLLMClient struct {
	baseURL     string
	apiKey      string
	model       string
	costPerCall float64
	client      *http.Client
}

// NewHTTPLLMClient creates a chat completion client
func NewHTTPLLMClient(baseURL, apiKey, model string, costPerCall float64) *HTTPLLMClient {
	return &HTTPLLMClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		costPerCall: costPerCall,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion request
func (c *HTTPLLMClient) Complete(ctx context.Context, system, prompt string) (string, float64, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", 0, err
	}

	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("chat completion returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, err
	}
	if len(parsed.Choices) == 0 {
		return "", 0, fmt.Errorf("chat completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, c.costPerCall, nil
}

// HTTPImageClient talks to an OpenAI-compatible image endpoint
type HTTPImageClient struct {
	baseURL     string
	apiKey      string
	model       string
	costPerCall float64
	client      *http.Client
}

// NewHTTPImageClient creates an image generation client
func NewHTTPImageClient(baseURL, apiKey, model string, costPerCall float64) *HTTPImageClient {
	return &HTTPImageClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		model:       model,
		costPerCall: costPerCall,
		client: &http.Client{
			Timeout: 300 * time.Second,
		},
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Image  string `json:"image,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (c *HTTPImageClient) call(ctx context.Context, path string, reqBody imageRequest) (string, float64, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", 0, err
	}

	resp, err := doWithRetry(ctx, c.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("image endpoint returned status %d", resp.StatusCode)
	}

	var parsed imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, err
	}
	if len(parsed.Data) == 0 {
		return "", 0, fmt.Errorf("image endpoint returned no data")
	}
	return parsed.Data[0].URL, c.costPerCall, nil
}

// Generate renders one image from a prompt
func (c *HTTPImageClient) Generate(ctx context.Context, prompt string) (string, float64, error) {
	return c.call(ctx, "/v1/images/generations", imageRequest{Model: c.model, Prompt: prompt, N: 1})
}

// Edit reworks an existing image following an instruction
func (c *HTTPImageClient) Edit(ctx context.Context, baseRef, instruction string) (string, float64, error) {
	return c.call(ctx, "/v1/images/edits", imageRequest{Model: c.model, Prompt: instruction, N: 1, Image: baseRef})
}
