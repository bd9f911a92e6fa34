// Package attest commits verification decisions as privacy-preserving
// attestations: digests and a proof token, never raw personal data.
package attest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// digest produces the hex SHA-256 of v's canonical JSON form. encoding/json
// sorts map keys, so equal values always digest identically.
func digest(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "attest: marshal for digest")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// FieldDigest digests the per-field verdicts of a session. Only verdicts and
// similarity scores enter the digest, never the field values themselves.
func FieldDigest(verdicts map[string]model.FieldVerdict) (string, error) {
	return digest(verdicts)
}

// RiskDigest digests the aggregate risk verdict.
func RiskDigest(v *model.AggregateRiskVerdict) (string, error) {
	if v == nil {
		return digest(struct{}{})
	}
	return digest(v)
}
