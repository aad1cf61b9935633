package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/tidegate/cascade/internal/registry"
	"github.com/tidegate/cascade/internal/vault"
)

// HTTPClient is the reference Client implementation for OpenAI-compatible
// chat-completions APIs. It uses a shared http.Client with connection
// pooling; per-attempt timeouts come from the caller's context.
type HTTPClient struct {
	client *http.Client
	vault  *vault.Vault
}

// NewHTTPClient creates an HTTPClient with pooling defaults.
func NewHTTPClient(v *vault.Vault) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport},
		vault:  v,
	}
}

// chatRequest is the OpenAI-compatible chat completions request body.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// chatResponse is the subset of the chat completions response we consume.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate performs one chat completion against the provider's API.
func (h *HTTPClient) Generate(ctx context.Context, prov registry.Provider, req Request) (*Result, error) {
	// An empty key ref means the endpoint is unauthenticated (local Ollama
	// and the like); skip resolution and send no Authorization header.
	apiKey := ""
	if prov.KeyRef != "" {
		key, err := h.vault.ResolveKeyRef(prov.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("provider %s: resolving key: %w", prov.ID, err)
		}
		apiKey = key
	}

	body, err := json.Marshal(chatRequest{
		Model:       prov.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: encoding request: %w", prov.ID, err)
	}

	url := strings.TrimSuffix(prov.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider %s: creating request: %w", prov.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", prov.ID, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("provider %s: reading response: %w", prov.ID, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider %s: upstream status %d: %s", prov.ID, resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("provider %s: decoding response: %w", prov.ID, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("provider %s: api error: %s", prov.ID, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("provider %s: empty choices", prov.ID)
	}

	tokensIn := parsed.Usage.PromptTokens
	tokensOut := parsed.Usage.CompletionTokens
	cost := float64(tokensIn)/1000*prov.InputPrice + float64(tokensOut)/1000*prov.OutputPrice

	return &Result{
		Content:   parsed.Choices[0].Message.Content,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		CostUSD:   cost,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
