package risk

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsValid(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())
}

func TestLoadPolicyEmptyPathReturnsDefaults(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

func TestLoadPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
threshold: 0.7
band: 0.15
weights:
  doc_authenticity: 0.5
  face_liveness: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p.Threshold, 1e-9)
	assert.InDelta(t, 0.15, p.Band, 1e-9)
	assert.InDelta(t, 0.5, p.WeightFor(SourceAuthenticity), 1e-9)
	assert.Zero(t, p.WeightFor(SourceContentFraud))
}

func TestLoadPolicyPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 0.55\n"), 0o644))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, p.Threshold, 1e-9)
	assert.InDelta(t, DefaultPolicy().Band, p.Band, 1e-9)
	assert.Equal(t, DefaultPolicy().Weights, p.Weights)
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"threshold too high", func(p *Policy) { p.Threshold = 1.0 }},
		{"threshold zero", func(p *Policy) { p.Threshold = 0 }},
		{"band swallows approve range", func(p *Policy) { p.Band = 0.6 }},
		{"negative band", func(p *Policy) { p.Band = -0.1 }},
		{"no weights", func(p *Policy) { p.Weights = nil }},
		{"zero weight", func(p *Policy) { p.Weights["doc_authenticity"] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}
