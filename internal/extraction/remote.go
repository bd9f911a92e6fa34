package extraction

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

// RemoteEngine calls an HTTP document-extraction provider. The provider
// contract is a single POST returning per-field values with confidences.
type RemoteEngine struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.Breaker
}

// RemoteOption configures a RemoteEngine.
type RemoteOption func(*RemoteEngine)

// WithHTTPClient sets a custom HTTP client (for testing).
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(e *RemoteEngine) {
		e.client = client
	}
}

// WithRetry overrides the default retry policy.
func WithRetry(cfg resilience.RetryConfig) RemoteOption {
	return func(e *RemoteEngine) {
		e.retry = cfg
	}
}

// NewRemoteEngine creates an engine backed by the provider at baseURL.
func NewRemoteEngine(name, baseURL, apiKey string, opts ...RemoteOption) *RemoteEngine {
	e := &RemoteEngine{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
		retry:   resilience.DefaultRetryConfig(),
		breaker: resilience.NewBreaker(name, resilience.BreakerConfig{}),
	}
	e.retry.OnRetry = resilience.RetryLogger(name, "extract")
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *RemoteEngine) Name() string { return e.name }

func (e *RemoteEngine) Supports(docType model.DocumentType) bool {
	return model.KnownDocumentType(docType)
}

type remoteExtractRequest struct {
	DocumentType string `json:"document_type"`
	Format       string `json:"format"`
	Image        string `json:"image"` // base64
}

type remoteExtractResponse struct {
	Confidence float64                  `json:"confidence"`
	Fields     map[string]remoteField `json:"fields"`
}

type remoteField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Extract posts the document and normalizes the provider's response. Calls
// run through a per-provider circuit breaker so a flapping provider fails
// fast and the chain falls through to the next engine.
func (e *RemoteEngine) Extract(ctx context.Context, doc Document) (*Result, error) {
	var result *Result
	err := e.breaker.Call(ctx, func(ctx context.Context) error {
		var innerErr error
		result, innerErr = resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*Result, error) {
			return e.extractOnce(ctx, doc)
		})
		return innerErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *RemoteEngine) extractOnce(ctx context.Context, doc Document) (*Result, error) {
	reqBody := remoteExtractRequest{
		DocumentType: string(doc.Type),
		Format:       doc.Format,
		Image:        base64.StdEncoding.EncodeToString(doc.Image),
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, eris.Wrap(err, "extraction: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, eris.Wrap(err, "extraction: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, resilience.Unavailable(e.name, err, 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Unavailable(e.name, err, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("extraction: %s returned %d", e.name, resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.Unavailable(e.name, err, resp.StatusCode)
		}
		return nil, err
	}

	var parsed remoteExtractResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, eris.Wrapf(err, "extraction: unmarshal %s response", e.name)
	}

	fields := make(model.CanonicalDocumentRecord, len(parsed.Fields))
	for key, fv := range parsed.Fields {
		fields[key] = model.FieldValue{
			Value:      fv.Value,
			Source:     e.name,
			Confidence: clamp01(fv.Confidence),
		}
	}
	return &Result{Fields: fields, Confidence: clamp01(parsed.Confidence)}, nil
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
