package recognize

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/docmark/internal/testutil"
)

func TestNewClient_RequiresEndpoint(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.Error(t, err)

	c, err := NewClient(ClientConfig{Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
}

func TestClient_Recognize(t *testing.T) {
	var gotReq recognizeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/recognize", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(recognizeResponse{
			Texts: make([]string, len(gotReq.Pages)),
		})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	pages := []image.Image{testutil.WhitePage(10, 10), testutil.WhitePage(10, 10)}
	texts, err := c.Recognize(context.Background(), pages, "")
	require.NoError(t, err)
	assert.Len(t, texts, 2)
	assert.Equal(t, DefaultInstruction, gotReq.Instruction)
	assert.Len(t, gotReq.Pages, 2)
}

func TestClient_Recognize_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(recognizeResponse{Texts: []string{"only one"}})
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	pages := []image.Image{testutil.WhitePage(10, 10), testutil.WhitePage(10, 10)}
	_, err = c.Recognize(context.Background(), pages, "x")
	assert.ErrorContains(t, err, "1 texts for 2 pages")
}

func TestClient_Recognize_ServerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(ClientConfig{Endpoint: srv.URL})
	require.NoError(t, err)
	_, err = c.Recognize(context.Background(), []image.Image{testutil.WhitePage(10, 10)}, "x")
	assert.Error(t, err)
}

func TestClient_Recognize_EmptyBatch(t *testing.T) {
	c, err := NewClient(ClientConfig{Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	_, err = c.Recognize(context.Background(), nil, "x")
	assert.Error(t, err)
}
