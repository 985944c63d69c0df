package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthServiceClientValidateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/validate", r.URL.Path)
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		if r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"user_id":"alice","device_id":"d1"}`))
	}))
	defer srv.Close()

	client := NewAuthServiceClient(srv.URL, "svc-token", nil)
	out, err := client.ValidateToken(context.Background(), "tok", "d1")
	require.NoError(t, err)
	assert.Equal(t, "alice", out.UserID)

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer denied.Close()

	_, err = NewAuthServiceClient(denied.URL, "svc-token", nil).ValidateToken(context.Background(), "tok", "d1")
	assert.Error(t, err)
}
