package model

import "time"

// OtpRecord is the stored form of an issued one-time passcode. Only the HMAC
// of the code is persisted. AttemptsRemaining decreases monotonically to
// zero; a new record for the same session invalidates the previous one.
type OtpRecord struct {
	SessionID         string    `json:"session_id"`
	CodeHash          string    `json:"code_hash"`
	IssuedAt          time.Time `json:"issued_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r *OtpRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// OtpVerifyResult is the outcome of a single verify call.
type OtpVerifyResult string

const (
	OtpAccepted  OtpVerifyResult = "accepted"
	OtpMismatch  OtpVerifyResult = "mismatch"
	OtpExpired   OtpVerifyResult = "expired"
	OtpExhausted OtpVerifyResult = "exhausted"
)

// TerminalForRecord reports whether this result ends the OTP's life: a fresh
// issuance is required, the record is never silently renewed.
func (r OtpVerifyResult) TerminalForRecord() bool {
	return r == OtpAccepted || r == OtpExpired || r == OtpExhausted
}
