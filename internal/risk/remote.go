package risk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/internal/resilience"
)

// remoteScorer is the shared HTTP plumbing for scoring services that accept
// an image and return a confidence.
type remoteScorer struct {
	name    string
	weight  float64
	baseURL string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryConfig
}

// RemoteOption configures a remote scoring source.
type RemoteOption func(*remoteScorer)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(s *remoteScorer) {
		s.client = client
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) RemoteOption {
	return func(s *remoteScorer) {
		s.retry = cfg
	}
}

func newRemoteScorer(name string, weight float64, baseURL, apiKey string, opts ...RemoteOption) remoteScorer {
	s := remoteScorer{
		name:    name,
		weight:  weight,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		retry:   resilience.DefaultRetryConfig(),
	}
	s.retry.OnRetry = resilience.RetryLogger(name, "score")
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s *remoteScorer) post(ctx context.Context, path string, payload, out any) error {
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.postOnce(ctx, path, payload, out)
	})
}

func (s *remoteScorer) postOnce(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return eris.Wrap(err, "risk: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "risk: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return resilience.Unavailable(s.name, err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resilience.Unavailable(s.name, err, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("risk: %s returned %d", s.name, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.Unavailable(s.name, err, resp.StatusCode)
		}
		return err
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrapf(err, "risk: unmarshal %s response", s.name)
	}
	return nil
}

// AuthenticitySource scores document authenticity against a remote forgery
// detection service. The service returns an authenticity confidence; risk is
// its complement.
type AuthenticitySource struct {
	remoteScorer
}

func NewAuthenticitySource(weight float64, baseURL, apiKey string, opts ...RemoteOption) *AuthenticitySource {
	return &AuthenticitySource{newRemoteScorer(SourceAuthenticity, weight, baseURL, apiKey, opts...)}
}

func (s *AuthenticitySource) Name() string    { return s.name }
func (s *AuthenticitySource) Weight() float64 { return s.weight }

type authenticityResponse struct {
	Authenticity float64 `json:"authenticity"`
}

func (s *AuthenticitySource) Score(ctx context.Context, subject SubjectContext) (model.RiskSignal, error) {
	var resp authenticityResponse
	payload := map[string]string{
		"document_type": string(subject.DocumentType),
		"image":         base64.StdEncoding.EncodeToString(subject.DocumentImage),
	}
	if err := s.post(ctx, "/v1/authenticity", payload, &resp); err != nil {
		return model.RiskSignal{}, err
	}
	return model.RiskSignal{
		RawScore:   resp.Authenticity,
		Normalized: 1 - clamp01(resp.Authenticity),
	}, nil
}

// LivenessSource scores face liveness against a remote service. A passing
// check with confidence c maps to risk 1-c; a failing check with confidence c
// maps to risk c.
type LivenessSource struct {
	remoteScorer
}

func NewLivenessSource(weight float64, baseURL, apiKey string, opts ...RemoteOption) *LivenessSource {
	return &LivenessSource{newRemoteScorer(SourceLiveness, weight, baseURL, apiKey, opts...)}
}

func (s *LivenessSource) Name() string    { return s.name }
func (s *LivenessSource) Weight() float64 { return s.weight }

type livenessResponse struct {
	Live       bool    `json:"live"`
	Confidence float64 `json:"confidence"`
}

func (s *LivenessSource) Score(ctx context.Context, subject SubjectContext) (model.RiskSignal, error) {
	var resp livenessResponse
	payload := map[string]string{
		"image": base64.StdEncoding.EncodeToString(subject.FaceImage),
	}
	if err := s.post(ctx, "/v1/liveness", payload, &resp); err != nil {
		return model.RiskSignal{}, err
	}

	conf := clamp01(resp.Confidence)
	risk := conf
	if resp.Live {
		risk = 1 - conf
	}
	return model.RiskSignal{
		RawScore:   resp.Confidence,
		Normalized: risk,
	}, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
