package proofsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalIssueDeterministic(t *testing.T) {
	l := NewLocal("secret")
	req := ProofRequest{
		SessionID:   "s-1",
		FieldDigest: "aaaa",
		RiskDigest:  "bbbb",
		Decision:    "approved",
	}

	first, err := l.IssueProof(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, LocalScheme, first.Scheme)
	assert.Len(t, first.Token, 64)

	second, err := l.IssueProof(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	req.RiskDigest = "cccc"
	changed, err := l.IssueProof(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, changed.Token)
}

func TestLocalVerifyOnlyIssuedTokens(t *testing.T) {
	l := NewLocal("secret")
	req := ProofRequest{
		SessionID:   "s-1",
		FieldDigest: "aaaa",
		RiskDigest:  "bbbb",
		Decision:    "approved",
	}

	proof, err := l.IssueProof(context.Background(), req)
	require.NoError(t, err)

	valid, err := l.VerifyProof(context.Background(), *proof)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = l.VerifyProof(context.Background(), Proof{Token: "forged", Scheme: LocalScheme})
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = l.VerifyProof(context.Background(), Proof{Token: proof.Token, Scheme: "groth16"})
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestLocalRejectsMissingDigests(t *testing.T) {
	l := NewLocal("secret")
	_, err := l.IssueProof(context.Background(), ProofRequest{SessionID: "s-1"})
	require.Error(t, err)
}
