package proofsvc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/rotisserie/eris"
)

// LocalScheme identifies tokens minted by the Local issuer. They are plain
// HMAC commitments, not zero-knowledge proofs; verifiers must treat the
// scheme as development-only.
const LocalScheme = "local-hmac"

// Local mints and verifies proof tokens in process, for development and
// tests where no proof service is deployed.
type Local struct {
	secret []byte

	mu     sync.Mutex
	issued map[string]struct{}
}

// NewLocal creates an in-process issuer keyed with the given secret.
func NewLocal(secret string) *Local {
	return &Local{
		secret: []byte(secret),
		issued: make(map[string]struct{}),
	}
}

// IssueProof commits to the request digests with an HMAC over their
// concatenation. Deterministic: the same digests always yield the same token.
func (l *Local) IssueProof(_ context.Context, req ProofRequest) (*Proof, error) {
	if req.FieldDigest == "" || req.RiskDigest == "" {
		return nil, eris.New("proofsvc: missing digest")
	}
	mac := hmac.New(sha256.New, l.secret)
	for _, part := range []string{req.SessionID, req.FieldDigest, req.RiskDigest, req.Decision} {
		mac.Write([]byte(part))
		mac.Write([]byte{0})
	}
	token := hex.EncodeToString(mac.Sum(nil))

	l.mu.Lock()
	l.issued[token] = struct{}{}
	l.mu.Unlock()

	return &Proof{Token: token, Scheme: LocalScheme}, nil
}

// VerifyProof accepts only tokens this issuer minted.
func (l *Local) VerifyProof(_ context.Context, proof Proof) (bool, error) {
	if proof.Scheme != LocalScheme {
		return false, nil
	}
	l.mu.Lock()
	_, ok := l.issued[proof.Token]
	l.mu.Unlock()
	return ok, nil
}
