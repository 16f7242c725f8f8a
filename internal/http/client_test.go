package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Empty(t, r.URL.RawQuery)
		assert.Equal(t, "invload-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Load-Test"))
		time.Sleep(5 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"1"}]`))
	}))
	defer server.Close()

	client := NewClient(
		WithTimeout(5*time.Second),
		WithUserAgent("invload-test"),
		WithHeader("X-Load-Test", "yes"),
	)
	defer client.CloseIdleConnections()

	resp, err := client.Get(context.Background(), server.URL+"/api/ListarProductos")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.IsSuccess())
	assert.False(t, resp.IsFailure())
	assert.Equal(t, "application/json", resp.GetHeader("Content-Type"))
	assert.Equal(t, `[{"id":"1"}]`, string(resp.Body))

	var rows []map[string]string
	require.NoError(t, resp.GetBodyAsJSON(&rows))
	assert.Equal(t, "1", rows[0]["id"])

	tm := resp.Timings
	assert.GreaterOrEqual(t, tm.Waiting, 5*time.Millisecond)
	assert.Equal(t, tm.Sending+tm.Waiting+tm.Receiving, tm.Duration)
	assert.Greater(t, tm.Connecting, time.Duration(0))
}

func TestClient_KeepAliveReusesConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient()
	defer client.CloseIdleConnections()

	_, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)

	resp, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), resp.Timings.Connecting)
}

func TestClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	resp, err := NewClient().Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, resp.IsFailure())
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	resp, err := NewClient(WithTimeout(time.Second)).Get(context.Background(), url)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 0, resp.StatusCode)
	assert.True(t, resp.IsFailure())
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient().Get(ctx, server.URL)
	assert.Error(t, err)
}

func TestClient_BadURL(t *testing.T) {
	_, err := NewClient().Get(context.Background(), "://nope")
	assert.Error(t, err)
}
