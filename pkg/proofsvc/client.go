// Package proofsvc provides a client for the zero-knowledge proof service.
// The service turns verdict digests into a non-identifying proof token; no
// personal data crosses this boundary.
package proofsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the proof service operations.
type Client interface {
	// IssueProof obtains a proof over the given digests.
	IssueProof(ctx context.Context, req ProofRequest) (*Proof, error)
	// VerifyProof checks a previously issued proof with the service.
	VerifyProof(ctx context.Context, proof Proof) (bool, error)
}

// ProofRequest carries the digests the proof commits to.
type ProofRequest struct {
	SessionID   string `json:"session_id"`
	FieldDigest string `json:"field_digest"`
	RiskDigest  string `json:"risk_digest"`
	Decision    string `json:"decision"`
}

// Proof is the service's opaque proof token plus its scheme identifier.
type Proof struct {
	Token  string `json:"token"`
	Scheme string `json:"scheme"`
}

// Option configures the proofsvc client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new proof service client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) IssueProof(ctx context.Context, req ProofRequest) (*Proof, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "proofsvc: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/proofs", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "proofsvc: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "proofsvc: issue proof")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "proofsvc: read response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, eris.New(fmt.Sprintf("proofsvc: status %d: %s", resp.StatusCode, truncate(respBody)))
	}

	var proof Proof
	if err := json.Unmarshal(respBody, &proof); err != nil {
		return nil, eris.Wrap(err, "proofsvc: unmarshal response")
	}
	if proof.Token == "" {
		return nil, eris.New("proofsvc: empty proof token")
	}
	return &proof, nil
}

func (c *httpClient) VerifyProof(ctx context.Context, proof Proof) (bool, error) {
	body, err := json.Marshal(proof)
	if err != nil {
		return false, eris.Wrap(err, "proofsvc: marshal proof")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/proofs/verify", bytes.NewReader(body))
	if err != nil {
		return false, eris.Wrap(err, "proofsvc: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, eris.Wrap(err, "proofsvc: verify proof")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, eris.Wrap(err, "proofsvc: read response")
	}
	if resp.StatusCode != http.StatusOK {
		return false, eris.New(fmt.Sprintf("proofsvc: status %d: %s", resp.StatusCode, truncate(respBody)))
	}

	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, eris.Wrap(err, "proofsvc: unmarshal response")
	}
	return result.Valid, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
