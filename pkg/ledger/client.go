// Package ledger provides a client for the append-only attestation ledger.
// Appends return a stable reference; entries are never updated or deleted.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Client defines the ledger operations.
type Client interface {
	// Append writes an entry and returns its ledger reference.
	Append(ctx context.Context, entry Entry) (string, error)
}

// Entry is one ledger record. It carries digests and references only.
type Entry struct {
	AttestationID string `json:"attestation_id"`
	SessionID     string `json:"session_id"`
	Decision      string `json:"decision"`
	FieldDigest   string `json:"field_digest"`
	RiskDigest    string `json:"risk_digest"`
	Proof         string `json:"proof"`
	Supersedes    string `json:"supersedes,omitempty"`
}

// Option configures the ledger client.
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

// NewClient creates a new ledger client.
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

type appendResponse struct {
	Ref string `json:"ref"`
}

func (c *httpClient) Append(ctx context.Context, entry Entry) (string, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return "", eris.Wrap(err, "ledger: marshal entry")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/entries", bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "ledger: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ledger: append")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ledger: read response")
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", eris.New(fmt.Sprintf("ledger: status %d", resp.StatusCode))
	}

	var parsed appendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", eris.Wrap(err, "ledger: unmarshal response")
	}
	if parsed.Ref == "" {
		return "", eris.New("ledger: empty reference")
	}
	return parsed.Ref, nil
}

// Memory is an in-process ledger for tests and single-node deployments.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	refs    []string
}

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, entry Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem:" + uuid.NewString()
	m.entries = append(m.entries, entry)
	m.refs = append(m.refs, ref)
	return ref, nil
}

// Entries returns a copy of everything appended so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
