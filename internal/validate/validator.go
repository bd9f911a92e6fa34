package validate

import (
	"sort"

	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// Config holds the fuzzy-match bands and the stage tolerance for ambiguous
// fields.
type Config struct {
	MatchThreshold    float64 `mapstructure:"match_threshold"`
	MismatchThreshold float64 `mapstructure:"mismatch_threshold"`
	MaxAmbiguous      int     `mapstructure:"max_ambiguous"`
}

// DefaultConfig returns the standard comparison bands.
func DefaultConfig() Config {
	return Config{
		MatchThreshold:    0.85,
		MismatchThreshold: 0.55,
		MaxAmbiguous:      1,
	}
}

// Validator compares claimed fields against the canonical document record.
type Validator struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) *Validator {
	if cfg.MatchThreshold == 0 {
		cfg = DefaultConfig()
	}
	return &Validator{cfg: cfg, log: zap.L().Named("validate")}
}

// Validate produces a per-field verdict for every claimed field. A claimed
// field with no canonical counterpart is ambiguous, never a mismatch: absence
// of evidence is not contradiction.
func (v *Validator) Validate(claimed map[string]string, canonical model.CanonicalDocumentRecord) map[string]model.FieldVerdict {
	verdicts := make(map[string]model.FieldVerdict, len(claimed))

	fields := make([]string, 0, len(claimed))
	for f := range claimed {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		cv, ok := canonical[field]
		if !ok || cv.Value == "" {
			verdicts[field] = model.FieldVerdict{Result: model.MatchResultAmbiguous, Similarity: 0}
			v.log.Debug("field absent from canonical record",
				zap.String("field", field))
			continue
		}

		sim := Similarity(claimed[field], cv.Value)
		verdicts[field] = model.FieldVerdict{Result: v.classify(sim), Similarity: sim}
		v.log.Debug("field compared",
			zap.String("field", field),
			zap.Float64("similarity", sim),
			zap.String("result", string(v.classify(sim))))
	}
	return verdicts
}

func (v *Validator) classify(sim float64) model.MatchResult {
	switch {
	case sim >= v.cfg.MatchThreshold:
		return model.MatchResultMatch
	case sim < v.cfg.MismatchThreshold:
		return model.MatchResultMismatch
	default:
		return model.MatchResultAmbiguous
	}
}

// StageVerdict folds field verdicts into a stage status: any mismatch fails
// the stage, more than MaxAmbiguous ambiguous fields sends it to ambiguous,
// otherwise it passes.
func (v *Validator) StageVerdict(verdicts map[string]model.FieldVerdict) model.StageStatus {
	ambiguous := 0
	for _, fv := range verdicts {
		switch fv.Result {
		case model.MatchResultMismatch:
			return model.StageStatusFailed
		case model.MatchResultAmbiguous:
			ambiguous++
		}
	}
	if ambiguous > v.cfg.MaxAmbiguous {
		return model.StageStatusAmbiguous
	}
	return model.StageStatusPassed
}
