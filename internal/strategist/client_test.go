package strategist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	cfg := DefaultClientConfig("test-key")
	cfg.BaseURL = url
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg)
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generate", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "write an adder", req.Prompt)

		json.NewEncoder(w).Encode(generateResponse{Code: "package task\n"})
	}))
	defer srv.Close()

	code, err := newTestClient(srv.URL).Generate(context.Background(), "write an adder", nil)
	require.NoError(t, err)
	assert.Equal(t, "package task\n", code)
}

func TestGenerateEmptyCodeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "anything", nil)
	assert.Error(t, err)
}

func TestReview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/review", r.URL.Path)
		json.NewEncoder(w).Encode(reviewResponse{
			ReviewVerdict: ReviewVerdict{Approved: true, LogicScore: 93.5, Comments: []string{"solid"}},
		})
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).Review(context.Background(), ReviewRequest{ProjectID: "p1"})
	require.NoError(t, err)
	assert.True(t, v.Approved)
	assert.Equal(t, 93.5, v.LogicScore)
}

func TestReviewTimeoutSurfacesAsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Review(ctx, ReviewRequest{})
	assert.Error(t, err, "a timed-out review must be an error, never a hang")
}

func TestServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), "x", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestMissingAPIKey(t *testing.T) {
	c := NewClient(ClientConfig{BaseURL: "http://localhost:1", Timeout: time.Second})
	_, err := c.Generate(context.Background(), "x", nil)
	assert.Error(t, err)
	_, err = c.Review(context.Background(), ReviewRequest{})
	assert.Error(t, err)
}
