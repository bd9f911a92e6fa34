package main

import (
	"context"
	"net/http"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearpath-id/kyc-engine/internal/attest"
	"github.com/clearpath-id/kyc-engine/internal/extraction"
	"github.com/clearpath-id/kyc-engine/internal/kv"
	"github.com/clearpath-id/kyc-engine/internal/otp"
	"github.com/clearpath-id/kyc-engine/internal/pipeline"
	"github.com/clearpath-id/kyc-engine/internal/risk"
	"github.com/clearpath-id/kyc-engine/internal/session"
	"github.com/clearpath-id/kyc-engine/internal/store"
	"github.com/clearpath-id/kyc-engine/internal/validate"
	anthropicpkg "github.com/clearpath-id/kyc-engine/pkg/anthropic"
	"github.com/clearpath-id/kyc-engine/pkg/ledger"
	"github.com/clearpath-id/kyc-engine/pkg/proofsvc"
)

// pipelineEnv holds the initialized stores, clients, and pipeline needed by
// the serve/verify/sessions commands.
type pipelineEnv struct {
	KV        kv.Store
	Store     store.Store
	Machine   *session.Machine
	Pipeline  *pipeline.Pipeline
	Abandoner *pipeline.Abandoner
	Committer *attest.Committer
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.KV != nil {
		_ = pe.KV.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "kyc.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initKV(ctx context.Context) (kv.Store, error) {
	switch cfg.KV.Driver {
	case "memory":
		zap.L().Warn("kv driver is in-process memory; sessions do not survive restarts")
		return kv.NewMemory(), nil
	case "redis":
		return kv.NewRedis(ctx, cfg.KV.RedisURL)
	default:
		return nil, eris.Errorf("unsupported kv driver: %s", cfg.KV.Driver)
	}
}

// initExtraction builds the engine chain: the remote provider when one is
// configured, then the deterministic fallback.
func initExtraction() *extraction.Chain {
	chainCfg := extraction.ChainConfig{
		AcceptThreshold: cfg.Extraction.AcceptThreshold,
		EngineTimeout:   cfg.Extraction.EngineTimeout,
		MinImageBytes:   cfg.Extraction.MinImageBytes,
	}

	var engines []extraction.Engine
	if cfg.Extraction.RemoteURL != "" {
		engines = append(engines, extraction.NewRemoteEngine("remote", cfg.Extraction.RemoteURL, cfg.Extraction.RemoteKey))
	} else {
		zap.L().Warn("no remote extraction provider configured, running on the deterministic fallback only")
	}
	engines = append(engines, extraction.NewMockEngine())

	return extraction.NewChain(chainCfg, engines...)
}

// initRisk loads the decision policy and builds the aggregator over every
// configured source. Sources without credentials are skipped with a warning;
// with zero sources every session lands in manual review.
func initRisk() (*risk.Aggregator, error) {
	policy, err := risk.LoadPolicy(cfg.Risk.PolicyPath)
	if err != nil {
		return nil, err
	}

	var sources []risk.Source
	if cfg.Risk.AuthenticityURL != "" {
		sources = append(sources, risk.NewAuthenticitySource(
			policy.WeightFor(risk.SourceAuthenticity), cfg.Risk.AuthenticityURL, cfg.Risk.AuthenticityKey))
	}
	if cfg.Anthropic.Key != "" {
		sources = append(sources, risk.NewContentFraudSource(
			anthropicpkg.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model,
			policy.WeightFor(risk.SourceContentFraud)))
	}
	if cfg.Risk.LivenessURL != "" {
		sources = append(sources, risk.NewLivenessSource(
			policy.WeightFor(risk.SourceLiveness), cfg.Risk.LivenessURL, cfg.Risk.LivenessKey))
	}

	if len(sources) == 0 {
		zap.L().Warn("no risk sources configured; every session will require manual review")
	} else {
		zap.L().Info("risk sources configured", zap.Int("count", len(sources)))
	}

	return risk.NewAggregator(policy, cfg.Risk.SourceTimeout, sources...), nil
}

// initAttest wires the proof and ledger clients. Both fall back to local
// in-process implementations when no service URL is configured, so the
// pipeline stays runnable in development.
func initAttest(st store.Store) *attest.Committer {
	var proofs proofsvc.Client
	if cfg.Proof.BaseURL != "" {
		proofs = proofsvc.NewClient(cfg.Proof.BaseURL, cfg.Proof.Key,
			proofsvc.WithHTTPClient(&http.Client{Timeout: cfg.Proof.Timeout}))
	} else {
		zap.L().Warn("proof.base_url not set, minting local development proofs")
		proofs = proofsvc.NewLocal(cfg.OTP.HMACSecret)
	}

	var ledg ledger.Client
	if cfg.Ledger.BaseURL != "" {
		ledg = ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.Key,
			ledger.WithHTTPClient(&http.Client{Timeout: cfg.Ledger.Timeout}))
	} else {
		zap.L().Warn("ledger.base_url not set, using in-process ledger")
		ledg = ledger.NewMemory()
	}

	return attest.NewCommitter(st, proofs, ledg)
}

// initEnv sets up the kv store, archive, and all pipeline components.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	kvStore, err := initKV(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sessCfg := session.Config{
		AbandonAfter:  cfg.Session.AbandonAfter,
		SweepInterval: cfg.Session.SweepInterval,
		TerminalGrace: cfg.Session.TerminalGrace,
	}
	machine := session.NewMachine(kvStore, st, sessCfg)

	aggregator, err := initRisk()
	if err != nil {
		_ = kvStore.Close()
		_ = st.Close()
		return nil, err
	}

	validator := validate.New(validate.Config{
		MatchThreshold:    cfg.Validator.MatchThreshold,
		MismatchThreshold: cfg.Validator.MismatchThreshold,
		MaxAmbiguous:      cfg.Validator.MaxAmbiguous,
	})

	otpMgr := otp.NewManager(kvStore, otp.Config{
		MaxAttempts:   cfg.OTP.MaxAttempts,
		TTL:           cfg.OTP.TTL,
		IssueInterval: cfg.OTP.IssueInterval,
		IssueBurst:    cfg.OTP.IssueBurst,
		HMACSecret:    cfg.OTP.HMACSecret,
	})

	committer := initAttest(st)
	p := pipeline.New(cfg, machine, initExtraction(), validator, aggregator, otpMgr, committer, st)

	return &pipelineEnv{
		KV:        kvStore,
		Store:     st,
		Machine:   machine,
		Pipeline:  p,
		Abandoner: pipeline.NewAbandoner(machine, st, sessCfg),
		Committer: committer,
	}, nil
}
