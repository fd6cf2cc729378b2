package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/validate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "aws", req.Cloud)

		json.NewEncoder(w).Encode(Result{
			Valid:    true,
			Warnings: []string{"key expires in 7 days"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())

	result, err := client.ValidateCredentials(context.Background(), Request{
		Cloud:       "aws",
		Credentials: map[string]string{"AWS_ACCESS_KEY_ID": "AKIA"},
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Len(t, result.Warnings, 1)
}

func TestValidateCredentialsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Result{Valid: false, Message: "access key not recognized"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())

	result, err := client.ValidateCredentials(context.Background(), Request{Cloud: "azure"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Contains(t, result.Message, "not recognized")
}

func TestValidateCredentialsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, time.Second, zerolog.Nop())

	_, err := client.ValidateCredentials(context.Background(), Request{Cloud: "gcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestValidateCredentialsUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", 200*time.Millisecond, zerolog.Nop())

	_, err := client.ValidateCredentials(context.Background(), Request{Cloud: "aws"})
	assert.Error(t, err)
}
