package sentiment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpagent/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		URL:        srv.URL,
		HTTPClient: srv.Client(),
		Logger:     &mockLogger{},
	})
	require.NoError(t, err)
	return c
}

func TestFearGreed_ParsesValue(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"value":"34","value_classification":"Fear"}]}`)
	})

	v, err := c.FearGreed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 34, v)
}

func TestFearGreed_CachesWithinTTL(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":[{"value":"60","value_classification":"Greed"}]}`)
	})

	_, err := c.FearGreed(context.Background())
	require.NoError(t, err)
	_, err = c.FearGreed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second call within TTL must hit the cache")
}

func TestFearGreed_CacheExpires(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"data":[{"value":"60","value_classification":"Greed"}]}`)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, HTTPClient: srv.Client(), CacheTTL: time.Millisecond, Logger: &mockLogger{}})
	require.NoError(t, err)

	_, err = c.FearGreed(context.Background())
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = c.FearGreed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFearGreed_ClampsToRange(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"value":"140","value_classification":"Broken"}]}`)
	})

	v, err := c.FearGreed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, v)
}

func TestFearGreed_MalformedResponses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "Not JSON", body: `<html>`},
		{name: "Empty data", body: `{"data":[]}`},
		{name: "Non-numeric value", body: `{"data":[{"value":"lots"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			_, err := c.FearGreed(context.Background())
			assert.ErrorIs(t, err, ports.ErrMalformedResponse)
		})
	}
}

func TestFearGreed_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FearGreed(context.Background())
	assert.Error(t, err)
}
