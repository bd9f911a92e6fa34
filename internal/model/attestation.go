package model

import "time"

// Attestation is the immutable, privacy-preserving record of a verification
// decision. It carries digests of the verdicts, never raw personal data.
// Write-once: corrections are new attestations referencing the superseded ID.
type Attestation struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Decision    Outcome   `json:"decision"`
	FieldDigest string    `json:"field_digest"`
	RiskDigest  string    `json:"risk_digest"`
	Proof       string    `json:"proof"`
	ProofScheme string    `json:"proof_scheme"`
	CommittedAt time.Time `json:"committed_at"`
	LedgerRef   string    `json:"ledger_ref"`
	Supersedes  string    `json:"supersedes,omitempty"`
}
