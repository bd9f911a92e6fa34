package risk

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Source names referenced by the default policy.
const (
	SourceAuthenticity = "doc_authenticity"
	SourceContentFraud = "content_fraud"
	SourceLiveness     = "face_liveness"
)

// Policy holds the decision thresholds and per-source weights. Scores at or
// above Threshold+Band reject, below Threshold-Band approve, anything else
// goes to manual review.
type Policy struct {
	Threshold float64            `yaml:"threshold"`
	Band      float64            `yaml:"band"`
	Weights   map[string]float64 `yaml:"weights"`
}

// DefaultPolicy returns the shipped decision policy.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 0.6,
		Band:      0.1,
		Weights: map[string]float64{
			SourceAuthenticity: 0.40,
			SourceContentFraud: 0.35,
			SourceLiveness:     0.25,
		},
	}
}

// LoadPolicy reads a policy file, filling any omitted values from the
// defaults. A weights block replaces the default weights wholesale, so a
// source the file does not name carries no weight. An empty path returns
// the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, eris.Wrapf(err, "risk: read policy %s", path)
	}
	p.Weights = nil
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, eris.Wrapf(err, "risk: parse policy %s", path)
	}
	if p.Weights == nil {
		p.Weights = DefaultPolicy().Weights
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects policies that cannot produce all three decisions.
func (p Policy) Validate() error {
	if p.Threshold <= 0 || p.Threshold >= 1 {
		return eris.Errorf("risk: threshold %.2f outside (0,1)", p.Threshold)
	}
	if p.Band < 0 || p.Threshold-p.Band <= 0 || p.Threshold+p.Band >= 1 {
		return eris.Errorf("risk: band %.2f leaves no decision range", p.Band)
	}
	if len(p.Weights) == 0 {
		return eris.New("risk: policy has no source weights")
	}
	for name, w := range p.Weights {
		if w <= 0 {
			return eris.Errorf("risk: weight for %s must be positive", name)
		}
	}
	return nil
}

// WeightFor returns the configured weight for a source, or zero when the
// policy does not mention it.
func (p Policy) WeightFor(source string) float64 {
	return p.Weights[source]
}
