package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(t *testing.T, content string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"content": content}}},
	})
	require.NoError(t, err)
	return body
}

func TestClient_Complete(t *testing.T) {
	var gotReq chatRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(completionBody(t, "a royal reply"))
	}))
	defer ts.Close()

	c := New(Options{APIKey: "test-key", BaseURL: ts.URL, Model: "grok-beta"})
	text, err := c.Complete(context.Background(), "be royal", "greetings")
	require.NoError(t, err)
	assert.Equal(t, "a royal reply", text)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be royal", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
	assert.Equal(t, "greetings", gotReq.Messages[1].Content)
	assert.Equal(t, "grok-beta", gotReq.Model)
	assert.Equal(t, 1024, gotReq.MaxTokens, "default max tokens applied")
}

func TestClient_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   Kind
	}{
		{"quota via code", http.StatusTooManyRequests,
			`{"error":{"message":"you are out of credits","code":"insufficient_quota"}}`, KindQuotaExceeded},
		{"quota via type", http.StatusTooManyRequests,
			`{"error":{"message":"no more","type":"insufficient_quota"}}`, KindQuotaExceeded},
		{"quota via 402", http.StatusPaymentRequired, `{"error":{"message":"payment required"}}`, KindQuotaExceeded},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, KindRateLimited},
		{"gateway timeout", http.StatusGatewayTimeout, `{"error":{"message":"upstream timeout"}}`, KindTimeout},
		{"empty choices", http.StatusOK, `{"choices":[]}`, KindEmptyResponse},
		{"blank content", http.StatusOK, `{"choices":[{"message":{"content":"   "}}]}`, KindEmptyResponse},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, KindUnknown},
		{"garbage body", http.StatusOK, `not json at all`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			c := New(Options{BaseURL: ts.URL, Attempts: 1})
			_, err := c.Complete(context.Background(), "sys", "msg")
			require.Error(t, err)
			assert.Equal(t, tt.kind, KindOf(err), "got %v", err)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write(completionBody(t, "too late"))
	}))
	defer ts.Close()

	c := New(Options{BaseURL: ts.URL, Timeout: 50 * time.Millisecond, Attempts: 1})
	_, err := c.Complete(context.Background(), "sys", "msg")
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestClient_RetriesTransient(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"flaky"}}`))
			return
		}
		_, _ = w.Write(completionBody(t, "second time lucky"))
	}))
	defer ts.Close()

	c := New(Options{BaseURL: ts.URL, Attempts: 3})
	text, err := c.Complete(context.Background(), "sys", "msg")
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NoRetryOnQuota(t *testing.T) {
	var calls int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"broke","code":"insufficient_quota"}}`))
	}))
	defer ts.Close()

	c := New(Options{BaseURL: ts.URL, Attempts: 3})
	_, err := c.Complete(context.Background(), "sys", "msg")
	require.Error(t, err)
	assert.Equal(t, KindQuotaExceeded, KindOf(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "quota failures terminate retrying")
}

func TestError_IsMatchesKind(t *testing.T) {
	err := error(&Error{Kind: KindRateLimited, Message: "429 from upstream"})
	assert.True(t, errors.Is(err, &Error{Kind: KindRateLimited}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTimeout}))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(&Error{Kind: KindTimeout}))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain error")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
