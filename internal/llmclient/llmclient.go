// Package llmclient implements the LLM Client (spec §4, component 3):
// wraps an external completion provider, returning {text, prompt_tokens,
// completion_tokens}. Request/response shapes reuse go-openai's types,
// the wire format every inference integration in this codebase family
// speaks, but transport is this package's own resty client so retry,
// timeout, and breaker behavior stay uniform with the other adapters.
package llmclient

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"resty.dev/v3"
)

// Result is the LLM Client's normalized output.
type Result struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// RetryPolicy matches spec §4.3: at most 2 retries on transport/5xx,
// exponential backoff with jitter (base 250ms, cap 2s); a 4xx other than
// 429 is not retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 250 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// Client is the LLM Client's interface.
type Client interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, params Params) (*Result, error)
}

// Params carries the per-call invocation parameters from spec §4.3.
type Params struct {
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

type restyClient struct {
	http    *resty.Client
	baseURL string
	apiKey  string
	retry   RetryPolicy
}

// New builds a Client against an OpenAI-compatible chat-completions
// endpoint, grounded on the teacher's openrouter adapter
// (app/utils/httpclients/openrouter/client.go), which speaks the same
// go-openai request/response types over resty.
func New(httpClient *resty.Client, baseURL, apiKey string, retry RetryPolicy) Client {
	return &restyClient{
		http:    httpClient,
		baseURL: baseURL,
		apiKey:  apiKey,
		retry:   retry,
	}
}

// RetryableError wraps a failed attempt with whether the caller's retry
// loop should try again.
type RetryableError struct {
	StatusCode int
	Err        error
}

func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("llmclient: status %d", e.StatusCode)
}

func (e *RetryableError) Retryable() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == 0 // transport-level failure (no status)
}

func (c *restyClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, params Params) (*Result, error) {
	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    messages,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Stream:      false,
	}

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if params.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, params.Timeout)
		}
		result, rerr := c.attempt(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if rerr == nil {
			return result, nil
		}

		lastErr = rerr
		re, ok := rerr.(*RetryableError)
		if !ok || !re.Retryable() {
			return nil, rerr
		}
	}
	return nil, lastErr
}

func (c *restyClient) attempt(ctx context.Context, req openai.ChatCompletionRequest) (*Result, error) {
	var resp openai.ChatCompletionResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+c.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&resp).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, &RetryableError{Err: err}
	}
	if r.IsError() {
		return nil, &RetryableError{StatusCode: r.StatusCode()}
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llmclient: provider returned no choices")
	}
	return &Result{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *restyClient) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.retry.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.retry.MaxDelay {
		delay = c.retry.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) + 1))
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
