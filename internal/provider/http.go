package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opentalon/aspri/internal/version"
)

// postJSON sends body as JSON and returns the raw response body. Any failure,
// including a non-2xx status, is reported as a *ProviderError.
func postJSON(ctx context.Context, client *http.Client, providerID, url string, headers map[string]string, body any) ([]byte, error) {
	resp, err := send(ctx, client, providerID, url, headers, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: providerID, Err: fmt.Errorf("read response: %w", err)}
	}
	return respBody, nil
}

// openStream sends body as JSON and returns the response with its body still
// open. The caller owns resp.Body.
func openStream(ctx context.Context, client *http.Client, providerID, url string, headers map[string]string, body any) (*http.Response, error) {
	headers["Accept"] = "text/event-stream"
	return send(ctx, client, providerID, url, headers, body)
}

func send(ctx context.Context, client *http.Client, providerID, url string, headers map[string]string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.Get().UserAgent())
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Provider: providerID, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer func() { _ = resp.Body.Close() }()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &ProviderError{Provider: providerID, StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func decodeResponse(providerID string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return &ProviderError{Provider: providerID, Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	return nil
}
