package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/taleweave/taleweave/pkg/config"
	"github.com/taleweave/taleweave/pkg/httpclient"
	"github.com/taleweave/taleweave/pkg/observability"
)

func newHTTPClient(cfg *config.ProviderConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		}),
		httpclient.WithMaxRetries(cfg.RetryMaxAttempts),
		httpclient.WithBackoff(
			time.Duration(cfg.RetryBackoffBaseMS)*time.Millisecond,
			time.Duration(cfg.RetryBackoffCapMS)*time.Millisecond,
		),
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}

// postJSON sends the payload and returns the response body. Non-2xx
// responses come back as classified ProviderErrors.
func postJSON(ctx context.Context, client *httpclient.Client, provider, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := client.Do(req)
	if err != nil {
		// A response alongside the error means an HTTP-level failure,
		// either non-retryable or with the retry budget exhausted.
		if resp != nil {
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return nil, wrapHTTPError(provider, resp.StatusCode, truncateBody(data), err)
		}
		status := 0
		var re *httpclient.RetryableError
		if errors.As(err, &re) {
			status = re.StatusCode
		}
		return nil, &ProviderError{
			Provider:   provider,
			Kind:       KindOf(err),
			StatusCode: status,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: provider, Kind: KindTransient, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, wrapHTTPError(provider, resp.StatusCode, truncateBody(data), nil)
	}
	return data, nil
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// startLLMSpan opens the shared llm.request span.
func startLLMSpan(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return observability.Tracer().Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrProvider, provider),
			attribute.String(observability.AttrModel, model),
		),
	)
}

// finishLLMSpan records the call outcome on span and metrics.
func finishLLMSpan(ctx context.Context, span trace.Span, model string, start time.Time, usage Usage, err error) {
	duration := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int(observability.AttrTokensInput, usage.InputTokens),
			attribute.Int(observability.AttrTokensOutput, usage.OutputTokens),
		)
	}
	span.End()
	observability.GetMetrics().RecordLLMCall(ctx, model, duration, usage.InputTokens, usage.OutputTokens, err)
}

// schemaInstruction renders a response schema as a prompt suffix for
// providers without native structured output.
func schemaInstruction(schema *jsonschema.Schema) string {
	if schema == nil {
		return ""
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return "\n\nRespond with a single JSON object conforming to this JSON Schema, with no surrounding prose or code fences:\n" + string(data)
}

// schemaAsMap converts a schema to the loose map form several provider
// request bodies want.
func schemaAsMap(schema *jsonschema.Schema) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func resolveTemperature(req *Request, cfg *config.ProviderConfig) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return 0.7
}

func resolveMaxTokens(req *Request, cfg *config.ProviderConfig) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return cfg.MaxTokens
}
