// Package provider implements the chat-completion client for an
// OpenAI-compatible endpoint. Failures are classified into structured kinds
// here, inside the client, so callers never match on message text.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
)

// Kind classifies a completion failure.
type Kind int

// failure kinds, surfaced to the web layer as distinct user-facing messages
const (
	KindUnknown Kind = iota
	KindQuotaExceeded
	KindTimeout
	KindRateLimited
	KindEmptyResponse
)

// String returns the kind name for logs and history records.
func (k Kind) String() string {
	switch k {
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindEmptyResponse:
		return "empty_response"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
}

// Is matches errors by kind so repeater termination and errors.Is work on
// kind, not message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the failure kind of err, KindUnknown for anything that is
// not a provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// Options configures the client.
type Options struct {
	APIKey      string
	BaseURL     string        // default https://api.x.ai/v1
	Model       string        // default grok-beta
	MaxTokens   int           // default 1024
	Temperature float64       // default 0.7
	Timeout     time.Duration // per-request HTTP timeout, default 60s
	Attempts    int           // repeats for transient failures, default 1 (no retry)
	Client      *http.Client  // optional, for tests
}

// Client performs chat-completion calls.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	rptr        *repeater.Repeater
}

// New creates a completion client with defaults applied.
func New(opts Options) *Client {
	c := &Client{
		apiKey:      opts.APIKey,
		baseURL:     opts.BaseURL,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		temperature: opts.Temperature,
		httpClient:  opts.Client,
	}
	if c.baseURL == "" {
		c.baseURL = "https://api.x.ai/v1"
	}
	c.baseURL = strings.TrimSuffix(c.baseURL, "/")
	if c.model == "" {
		c.model = "grok-beta"
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 1024
	}
	if c.temperature == 0 {
		c.temperature = 0.7
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		c.httpClient = &http.Client{Timeout: timeout}
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	c.rptr = repeater.New(&strategy.Backoff{Repeats: attempts, Duration: time.Second, Factor: 2, Jitter: true})
	return c
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Complete sends system and user messages and returns the generated text.
// Transient failures (timeout, rate limit, unknown) are retried with backoff,
// quota and empty-response failures terminate immediately.
func (c *Client) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	var text string
	err := c.rptr.Do(ctx, func() error {
		res, err := c.call(ctx, systemPrompt, userMessage)
		if err != nil {
			return err
		}
		text = res
		return nil
	}, &Error{Kind: KindQuotaExceeded}, &Error{Kind: KindEmptyResponse})
	if err != nil {
		return "", err
	}
	return text, nil
}

// call performs a single chat-completions request
func (c *Client) call(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &Error{Kind: KindTimeout, Message: err.Error()}
		}
		return "", &Error{Kind: KindUnknown, Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(data, &chatResp); err != nil && resp.StatusCode == http.StatusOK {
		return "", &Error{Kind: KindUnknown, Message: fmt.Sprintf("malformed response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		e := classify(resp.StatusCode, chatResp.Error)
		log.Printf("[DEBUG] completion request failed, status %d, kind %s", resp.StatusCode, e.Kind)
		return "", e
	}
	if chatResp.Error != nil {
		return "", classify(resp.StatusCode, chatResp.Error)
	}

	if len(chatResp.Choices) == 0 || strings.TrimSpace(chatResp.Choices[0].Message.Content) == "" {
		return "", &Error{Kind: KindEmptyResponse, Message: "no generated text in response"}
	}
	return chatResp.Choices[0].Message.Content, nil
}

// classify maps HTTP status and the API error object to a failure kind.
// quota detection relies on the structured code/type fields the upstream
// sends alongside 429, not on free-text matching by callers.
func classify(status int, apiErr *apiError) *Error {
	msg := fmt.Sprintf("status %d", status)
	code, errType := "", ""
	if apiErr != nil {
		msg = apiErr.Message
		code, errType = apiErr.Code, apiErr.Type
	}

	switch {
	case code == "insufficient_quota" || errType == "insufficient_quota":
		return &Error{Kind: KindQuotaExceeded, Message: msg}
	case status == http.StatusPaymentRequired:
		return &Error{Kind: KindQuotaExceeded, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Message: msg}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: msg}
	default:
		return &Error{Kind: KindUnknown, Message: msg}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
