package extraction

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// mockConfidence keeps degraded results below any sane accept threshold so a
// real engine's partial fields always win the merge.
const mockConfidence = 0.30

// MockEngine is the deterministic last-resort engine. It derives stable
// pseudo-fields from a hash of the document bytes, so the chain always
// produces a record and repeated runs on the same document agree.
type MockEngine struct{}

// NewMockEngine creates the fallback engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

func (e *MockEngine) Name() string { return "mock" }

func (e *MockEngine) Supports(docType model.DocumentType) bool {
	return model.KnownDocumentType(docType)
}

func (e *MockEngine) Extract(_ context.Context, doc Document) (*Result, error) {
	sum := sha256.Sum256(doc.Image)
	seed := binary.BigEndian.Uint64(sum[:8])

	fields := make(model.CanonicalDocumentRecord)
	switch doc.Type {
	case model.DocTypeNationalID:
		fields["id_number"] = e.field(fmt.Sprintf("%012d", seed%1_000_000_000_000))
	case model.DocTypeTaxID:
		fields["tax_number"] = e.field(fmt.Sprintf("%s%04d%s",
			letters(seed, 5), seed%10000, letters(seed>>32, 1)))
	}
	fields["full_name"] = e.field(fmt.Sprintf("Holder %X", sum[8:12]))

	return &Result{Fields: fields, Confidence: mockConfidence}, nil
}

func (e *MockEngine) field(value string) model.FieldValue {
	return model.FieldValue{Value: value, Source: e.Name(), Confidence: mockConfidence}
}

func letters(seed uint64, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('A' + seed%26)
		seed /= 26
	}
	return string(buf)
}
