package model

// DocumentType enumerates the identity documents the pipeline accepts.
type DocumentType string

const (
	DocTypeNationalID DocumentType = "national_id"
	DocTypeTaxID      DocumentType = "tax_id"
)

// KnownDocumentType reports whether t is one of the accepted document types.
func KnownDocumentType(t DocumentType) bool {
	switch t {
	case DocTypeNationalID, DocTypeTaxID:
		return true
	}
	return false
}

// FieldValue is one extracted document attribute with its provenance.
type FieldValue struct {
	Value      string  `json:"value"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// CanonicalDocumentRecord is the normalized output of extraction: at most one
// authoritative value per field name.
type CanonicalDocumentRecord map[string]FieldValue

// Merge folds another record into this one. An incoming value replaces the
// stored one only when its confidence strictly exceeds it.
func (r CanonicalDocumentRecord) Merge(other CanonicalDocumentRecord) {
	for key, fv := range other {
		existing, ok := r[key]
		if !ok || fv.Confidence > existing.Confidence {
			r[key] = fv
		}
	}
}

// OverallConfidence is the mean confidence across fields, 0 when empty.
func (r CanonicalDocumentRecord) OverallConfidence() float64 {
	if len(r) == 0 {
		return 0
	}
	var sum float64
	for _, fv := range r {
		sum += fv.Confidence
	}
	return sum / float64(len(r))
}
