package risk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearpath-id/kyc-engine/internal/resilience"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func TestAuthenticitySourceScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/authenticity", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "national_id", req["document_type"])
		assert.NotEmpty(t, req["image"])

		json.NewEncoder(w).Encode(map[string]float64{"authenticity": 0.92}) //nolint:errcheck
	}))
	defer srv.Close()

	src := NewAuthenticitySource(0.4, srv.URL, "key-123", WithRetry(fastRetry()))
	sig, err := src.Score(context.Background(), SubjectContext{
		DocumentType:  "national_id",
		DocumentImage: []byte("fake-image"),
	})

	require.NoError(t, err)
	assert.InDelta(t, 0.92, sig.RawScore, 1e-9)
	assert.InDelta(t, 0.08, sig.Normalized, 1e-9)
}

func TestLivenessSourceScore(t *testing.T) {
	tests := []struct {
		name     string
		live     bool
		conf     float64
		wantRisk float64
	}{
		{"live high confidence", true, 0.95, 0.05},
		{"not live high confidence", false, 0.9, 0.9},
		{"live low confidence", true, 0.4, 0.6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/liveness", r.URL.Path)
				json.NewEncoder(w).Encode(livenessResponse{Live: tt.live, Confidence: tt.conf}) //nolint:errcheck
			}))
			defer srv.Close()

			src := NewLivenessSource(0.25, srv.URL, "", WithRetry(fastRetry()))
			sig, err := src.Score(context.Background(), SubjectContext{FaceImage: []byte("face")})

			require.NoError(t, err)
			assert.InDelta(t, tt.wantRisk, sig.Normalized, 1e-9)
		})
	}
}

func TestRemoteSourceRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{"authenticity": 0.8}) //nolint:errcheck
	}))
	defer srv.Close()

	src := NewAuthenticitySource(0.4, srv.URL, "", WithRetry(fastRetry()))
	sig, err := src.Score(context.Background(), SubjectContext{})

	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.InDelta(t, 0.2, sig.Normalized, 1e-9)
}

func TestRemoteSourcePermanentErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	src := NewLivenessSource(0.25, srv.URL, "", WithRetry(fastRetry()))
	_, err := src.Score(context.Background(), SubjectContext{})

	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
