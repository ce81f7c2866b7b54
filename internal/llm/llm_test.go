package llm

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

func TestNewOpenAIClient_Endpoint(t *testing.T) {
	cases := map[string]string{
		"":                              defaultOpenAIEndpoint,
		"https://api.deepseek.com":      "https://api.deepseek.com/v1/chat/completions",
		"https://api.example.com/v1/":   "https://api.example.com/v1/chat/completions",
		"http://gw/v1/chat/completions": "http://gw/v1/chat/completions",
	}
	for in, want := range cases {
		assert.Equal(t, want, NewOpenAIClient("k", "m", in, 0).Endpoint(), in)
	}
}

func TestOpenAIClient_Call(t *testing.T) {
	var got openAIChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("{\"choices\":[{\"message\":{\"role\":\"assistant\",\"content\":\"```json\\n{\\\"a\\\":1}\\n```\"}}]}"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("secret", "deepseek-chat", srv.URL, time.Second)
	out, err := c.Call(context.Background(), Request{
		System:      "rules",
		User:        "text",
		Temperature: 0.1,
		Format:      FormatJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out)

	assert.Equal(t, "deepseek-chat", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
}

func TestOpenAIClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"rate limited", http.StatusTooManyRequests, `{}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrRateLimited)
		}},
		{"upstream 5xx", http.StatusBadGateway, `bad gateway`, func(t *testing.T, err error) {
			var up *UpstreamError
			require.ErrorAs(t, err, &up)
			assert.True(t, up.Retryable())
			assert.ErrorIs(t, err, ErrServiceFailure)
		}},
		{"upstream 4xx", http.StatusUnauthorized, `no`, func(t *testing.T, err error) {
			var up *UpstreamError
			require.ErrorAs(t, err, &up)
			assert.False(t, up.Retryable())
		}},
		{"empty choices", http.StatusOK, `{"choices":[]}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrServiceFailure)
		}},
		{"not json", http.StatusOK, `<html>`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrServiceFailure)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()
			_, err := NewOpenAIClient("k", "m", srv.URL, time.Second).Call(context.Background(), Request{User: "x"})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	_, err := NewOpenAIClient("", "m", "", 0).Call(context.Background(), Request{User: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWithRetry(t *testing.T) {
	t.Run("retries transient then succeeds", func(t *testing.T) {
		var calls int32
		c := WithRetry(ClientFunc(func(ctx context.Context, req Request) (string, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return "", ErrRateLimited
			}
			return "ok", nil
		}), 3, time.Millisecond, nil)

		out, err := c.Call(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.EqualValues(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		var calls int32
		c := WithRetry(ClientFunc(func(ctx context.Context, req Request) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", &UpstreamError{Status: 400, Msg: "bad"}
		}), 5, time.Millisecond, nil)

		_, err := c.Call(context.Background(), Request{})
		require.Error(t, err)
		assert.EqualValues(t, 1, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		var calls int32
		c := WithRetry(ClientFunc(func(ctx context.Context, req Request) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "", &UpstreamError{Status: 503, Msg: "busy"}
		}), 2, time.Millisecond, nil)

		_, err := c.Call(context.Background(), Request{})
		assert.ErrorIs(t, err, ErrServiceFailure)
		assert.EqualValues(t, 2, calls)
	})
}

func TestWithTimeout(t *testing.T) {
	slow := ClientFunc(func(ctx context.Context, req Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	_, err := WithTimeout(slow, 10*time.Millisecond).Call(context.Background(), Request{})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCleanMarkdownOutput(t *testing.T) {
	assert.Equal(t, "text", CleanMarkdownOutput("```markdown\ntext\n```"))
	assert.Equal(t, "{}", CleanMarkdownOutput("```json\n{}\n```"))
	assert.Equal(t, "plain", CleanMarkdownOutput("  plain "))
}
