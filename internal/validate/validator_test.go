package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

func canonical(fields map[string]string) model.CanonicalDocumentRecord {
	rec := make(model.CanonicalDocumentRecord, len(fields))
	for k, v := range fields {
		rec[k] = model.FieldValue{Value: v, Source: "test", Confidence: 0.9}
	}
	return rec
}

func TestValidateExactMatch(t *testing.T) {
	v := New(DefaultConfig())

	verdicts := v.Validate(
		map[string]string{"full_name": "Priya Sharma"},
		canonical(map[string]string{"full_name": "PRIYA  SHARMA"}),
	)

	assert.Equal(t, model.MatchResultMatch, verdicts["full_name"].Result)
	assert.InDelta(t, 1.0, verdicts["full_name"].Similarity, 1e-9)
}

func TestValidateNearNameIsAmbiguousNotMismatch(t *testing.T) {
	v := New(DefaultConfig())

	verdicts := v.Validate(
		map[string]string{"full_name": "Jon Smith"},
		canonical(map[string]string{"full_name": "John Smith"}),
	)

	fv := verdicts["full_name"]
	assert.Equal(t, model.MatchResultAmbiguous, fv.Result)
	assert.Greater(t, fv.Similarity, DefaultConfig().MismatchThreshold)
	assert.Less(t, fv.Similarity, DefaultConfig().MatchThreshold)
}

func TestValidateMismatch(t *testing.T) {
	v := New(DefaultConfig())

	verdicts := v.Validate(
		map[string]string{"full_name": "Priya Sharma"},
		canonical(map[string]string{"full_name": "Rahul Verma"}),
	)

	assert.Equal(t, model.MatchResultMismatch, verdicts["full_name"].Result)
}

func TestValidateAbsentCanonicalFieldIsAmbiguous(t *testing.T) {
	v := New(DefaultConfig())

	verdicts := v.Validate(
		map[string]string{"date_of_birth": "1990-04-02"},
		canonical(map[string]string{"full_name": "Priya Sharma"}),
	)

	assert.Equal(t, model.MatchResultAmbiguous, verdicts["date_of_birth"].Result)
	assert.Zero(t, verdicts["date_of_birth"].Similarity)
}

func TestValidateUnicodeNormalization(t *testing.T) {
	v := New(DefaultConfig())

	// Fullwidth forms and case differences collapse under NFKC plus folding.
	verdicts := v.Validate(
		map[string]string{"full_name": "Ｐｒｉｙａ Sharma"},
		canonical(map[string]string{"full_name": "priya sharma"}),
	)

	assert.Equal(t, model.MatchResultMatch, verdicts["full_name"].Result)
}

func TestStageVerdict(t *testing.T) {
	v := New(DefaultConfig())

	tests := []struct {
		name     string
		verdicts map[string]model.FieldVerdict
		want     model.StageStatus
	}{
		{
			name: "all match passes",
			verdicts: map[string]model.FieldVerdict{
				"full_name": {Result: model.MatchResultMatch},
				"id_number": {Result: model.MatchResultMatch},
			},
			want: model.StageStatusPassed,
		},
		{
			name: "single mismatch fails",
			verdicts: map[string]model.FieldVerdict{
				"full_name": {Result: model.MatchResultMatch},
				"id_number": {Result: model.MatchResultMismatch},
			},
			want: model.StageStatusFailed,
		},
		{
			name: "one ambiguous within tolerance passes",
			verdicts: map[string]model.FieldVerdict{
				"full_name": {Result: model.MatchResultAmbiguous},
				"id_number": {Result: model.MatchResultMatch},
			},
			want: model.StageStatusPassed,
		},
		{
			name: "two ambiguous exceeds tolerance",
			verdicts: map[string]model.FieldVerdict{
				"full_name":     {Result: model.MatchResultAmbiguous},
				"date_of_birth": {Result: model.MatchResultAmbiguous},
			},
			want: model.StageStatusAmbiguous,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.StageVerdict(tt.verdicts))
		})
	}
}
