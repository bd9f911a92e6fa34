// Package extraction turns raw identity-document images into a canonical
// field record by running a prioritized chain of extraction engines.
package extraction

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// ErrAllEnginesUnavailable is returned when every engine in the chain,
// including the degraded fallback, errored. Fatal for the document stage.
var ErrAllEnginesUnavailable = eris.New("extraction: all engines unavailable")

// Document is the input to an extraction attempt.
type Document struct {
	Type   model.DocumentType
	Format string // "png", "jpeg", "pdf"
	Image  []byte
}

// Result is one engine's output: extracted fields and the engine's overall
// confidence in the extraction.
type Result struct {
	Fields     model.CanonicalDocumentRecord
	Confidence float64
}

// Engine is a single pluggable extraction provider.
type Engine interface {
	// Name returns the provider identifier used in field provenance.
	Name() string
	// Supports reports whether the engine handles the document type.
	Supports(docType model.DocumentType) bool
	// Extract runs one extraction attempt. The chain applies the per-call
	// timeout; implementations must respect ctx.
	Extract(ctx context.Context, doc Document) (*Result, error)
}
