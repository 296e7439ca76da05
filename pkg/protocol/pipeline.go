package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/protocolos/handshake/pkg/logger"
	"github.com/protocolos/handshake/pkg/networking"
)

// maxExecutionBodySize caps how much of a response body executors read.
const maxExecutionBodySize = 4 * 1024 * 1024

// InjectFunc derives the credential injection for a call.
type InjectFunc func(execCtx *ExecutionContext) (*Injection, error)

// RefreshFunc attempts a token refresh mid-call. A nil RefreshFunc
// disables the refresh-and-retry cycle.
type RefreshFunc func(ctx context.Context) *RefreshResult

// ExecutePipeline runs the shared request pipeline used by the HTTP
// executors: inject credentials, send the request, parse the response,
// and on a 401 run at most one refresh-and-retry cycle. It never retries
// more than once, so persistently invalid credentials cannot loop.
// Transport and parsing failures are converted into a failed
// ExecutionResult rather than an error.
func ExecutePipeline(
	ctx context.Context,
	client networking.HTTPClient,
	execCtx *ExecutionContext,
	inject InjectFunc,
	refresh RefreshFunc,
) *ExecutionResult {
	if execCtx.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, execCtx.Timeout)
		defer cancel()
	}

	result := sendOnce(ctx, client, execCtx, inject)

	if result.StatusCode == http.StatusUnauthorized && refresh != nil {
		logger.Debugw("401 received, attempting token refresh", "url", execCtx.URL)
		refreshed := refresh(ctx)
		if refreshed != nil && refreshed.Success {
			execCtx.Credentials.Merge(refreshed.Updated)
			retried := sendOnce(ctx, client, execCtx, inject)
			retried.TokensRefreshed = true
			retried.UpdatedCredentials = refreshed.Updated
			return retried
		}
	}

	return result
}

// sendOnce performs a single injected request without retry logic.
func sendOnce(
	ctx context.Context,
	client networking.HTTPClient,
	execCtx *ExecutionContext,
	inject InjectFunc,
) *ExecutionResult {
	injection, err := inject(execCtx)
	if err != nil {
		return &ExecutionResult{
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorCode:    CodeUnauthorized,
		}
	}

	req, err := buildRequest(ctx, execCtx, injection)
	if err != nil {
		return &ExecutionResult{
			Success:      false,
			ErrorMessage: err.Error(),
			ErrorCode:    CodeClientError,
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		code := CodeNetworkError
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return &ExecutionResult{
			Success:      false,
			StatusCode:   0,
			Duration:     duration,
			ErrorMessage: err.Error(),
			ErrorCode:    code,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxExecutionBodySize))
	if err != nil {
		return &ExecutionResult{
			Success:      false,
			StatusCode:   resp.StatusCode,
			Headers:      resp.Header,
			Duration:     duration,
			ErrorMessage: fmt.Sprintf("failed to read response body: %v", err),
			ErrorCode:    CodeNetworkError,
		}
	}

	result := &ExecutionResult{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		RawBody:    string(raw),
		Duration:   duration,
	}

	// Attempt JSON decode, fall back to raw text.
	var parsed any
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		result.Body = parsed
	}

	if !result.Success {
		result.ErrorCode = ClassifyStatus(resp.StatusCode)
		result.ErrorMessage = fmt.Sprintf("HTTP %d from %s", resp.StatusCode, execCtx.URL)
	}

	return result
}

// buildRequest assembles the outbound HTTP request from the execution
// context and the credential injection.
func buildRequest(ctx context.Context, execCtx *ExecutionContext, injection *Injection) (*http.Request, error) {
	method := execCtx.Method
	if method == "" {
		method = http.MethodGet
	}

	parsed, err := url.Parse(execCtx.URL)
	if err != nil {
		return nil, fmt.Errorf("malformed URL %q: %w", execCtx.URL, err)
	}
	query := parsed.Query()
	for k, v := range execCtx.QueryParams {
		query.Set(k, v)
	}
	if injection != nil {
		for k, v := range injection.QueryParams {
			query.Set(k, v)
		}
	}
	parsed.RawQuery = query.Encode()

	body, contentType, err := buildBody(execCtx, injection)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range execCtx.Headers {
		req.Header.Set(k, v)
	}
	if injection != nil {
		for k, v := range injection.Headers {
			req.Header.Set(k, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// buildBody merges the context body with injected body fields. Injected
// fields require a JSON object body (or no body at all).
func buildBody(execCtx *ExecutionContext, injection *Injection) (io.Reader, string, error) {
	var injected map[string]any
	if injection != nil && len(injection.Body) > 0 {
		injected = injection.Body
	}

	switch body := execCtx.Body.(type) {
	case nil:
		if injected == nil {
			return nil, "", nil
		}
		raw, err := json.Marshal(injected)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(raw), networking.ContentTypeJSON, nil

	case string:
		if injected != nil {
			return nil, "", fmt.Errorf("cannot inject body fields into a raw string body")
		}
		return strings.NewReader(body), "", nil

	case map[string]any:
		merged := make(map[string]any, len(body)+len(injected))
		for k, v := range body {
			merged[k] = v
		}
		for k, v := range injected {
			merged[k] = v
		}
		raw, err := json.Marshal(merged)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(raw), networking.ContentTypeJSON, nil

	default:
		if injected != nil {
			return nil, "", fmt.Errorf("cannot inject body fields into a %T body", execCtx.Body)
		}
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode body: %w", err)
		}
		return bytes.NewReader(raw), networking.ContentTypeJSON, nil
	}
}
