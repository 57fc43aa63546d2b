package cmd

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSURL(t *testing.T) {
	tests := []struct {
		server string
		want   string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/alice"},
		{"http://localhost:8080/", "ws://localhost:8080/ws/alice"},
		{"https://chat.example.com", "wss://chat.example.com/ws/alice"},
		{"ws://already", "ws://already/ws/alice"},
	}
	for _, tt := range tests {
		serverURL = tt.server
		assert.Equal(t, tt.want, wsURL("/ws/alice"), tt.server)
	}
}

func TestAPIRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer op-token" {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer ts.Close()
	serverURL = ts.URL

	bearerToken = ""
	_, err := apiRequest(context.Background(), http.MethodGet, "/admin/rooms", nil)
	require.Error(t, err, "a token is required")

	bearerToken = "wrong"
	_, err = apiRequest(context.Background(), http.MethodGet, "/admin/rooms", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	bearerToken = "op-token"
	resp, err := apiRequest(context.Background(), http.MethodGet, "/admin/rooms", nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "[]", string(body))
}
