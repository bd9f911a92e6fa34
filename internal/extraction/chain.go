package extraction

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/model"
)

// ChainConfig holds the chain's tunables.
type ChainConfig struct {
	// AcceptThreshold is the overall confidence at which a single engine's
	// result is accepted outright without consulting later engines.
	AcceptThreshold float64
	// EngineTimeout bounds each engine invocation.
	EngineTimeout time.Duration
	// MinImageBytes is the minimum accepted image size.
	MinImageBytes int
}

// Chain tries engines in priority order and normalizes their outputs into a
// single canonical record. The last engine is expected to be a deterministic
// fallback so the pipeline never blocks on provider unavailability.
type Chain struct {
	cfg     ChainConfig
	engines []Engine
}

// NewChain creates a chain over the given engines, tried in slice order.
func NewChain(cfg ChainConfig, engines ...Engine) *Chain {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = 0.75
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = 10 * time.Second
	}
	return &Chain{cfg: cfg, engines: engines}
}

// Extract runs the chain. It accepts the first result whose overall
// confidence meets the accept threshold; otherwise it merges partial
// high-confidence fields across engines, a later value overriding a stored
// one only when its confidence strictly exceeds it.
func (c *Chain) Extract(ctx context.Context, doc Document) (model.CanonicalDocumentRecord, error) {
	if err := c.precheck(doc); err != nil {
		return nil, err
	}

	merged := make(model.CanonicalDocumentRecord)
	attempted := 0
	failed := 0

	for _, engine := range c.engines {
		if !engine.Supports(doc.Type) {
			continue
		}
		attempted++

		engCtx, cancel := context.WithTimeout(ctx, c.cfg.EngineTimeout)
		start := time.Now()
		result, err := engine.Extract(engCtx, doc)
		latency := time.Since(start)
		cancel()

		if err != nil {
			failed++
			zap.L().Warn("extraction engine failed",
				zap.String("engine", engine.Name()),
				zap.Duration("latency", latency),
				zap.Error(err),
			)
			continue
		}

		zap.L().Info("extraction engine responded",
			zap.String("engine", engine.Name()),
			zap.Duration("latency", latency),
			zap.Float64("confidence", result.Confidence),
			zap.Int("fields", len(result.Fields)),
		)

		if result.Confidence >= c.cfg.AcceptThreshold {
			return result.Fields, nil
		}
		merged.Merge(result.Fields)
	}

	if attempted == 0 {
		return nil, eris.Errorf("extraction: no engine supports document type %q", doc.Type)
	}
	if failed == attempted {
		return nil, ErrAllEnginesUnavailable
	}
	return merged, nil
}

// precheck enforces input constraints before any engine runs.
func (c *Chain) precheck(doc Document) error {
	if !model.KnownDocumentType(doc.Type) {
		return eris.Errorf("extraction: unknown document type %q", doc.Type)
	}
	switch doc.Format {
	case "png", "jpeg", "pdf":
	default:
		return eris.Errorf("extraction: unsupported image format %q", doc.Format)
	}
	if len(doc.Image) < c.cfg.MinImageBytes {
		return eris.Errorf("extraction: image below minimum size (%d < %d bytes)", len(doc.Image), c.cfg.MinImageBytes)
	}
	return nil
}
