package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/documents"
	"github.com/sells-group/mca-router/internal/learner"
	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/predictor"
	"github.com/sells-group/mca-router/internal/requeststate"
	"github.com/sells-group/mca-router/internal/resilience"
	"github.com/sells-group/mca-router/internal/store"
	"github.com/sells-group/mca-router/internal/submission"
	"github.com/sells-group/mca-router/pkg/anthropic"
	"github.com/sells-group/mca-router/pkg/mailer"
	sfpkg "github.com/sells-group/mca-router/pkg/salesforce"
)

const defaultSQLiteDSN = "mca-router.db"

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLiteDSN
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		pool := cfg.Store.Pool
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// env holds the services the commands run against. Fields not needed by a
// command stay nil.
type env struct {
	Store        store.Store
	Profiles     *predictor.ProfileCache
	Predictor    *predictor.Predictor
	Orchestrator *submission.Orchestrator
	Learner      *learner.Learner
	Rules        *learner.Rules

	docs *documents.BlobStore
}

// Close releases resources held by the environment.
func (e *env) Close() {
	if e.docs != nil {
		if err := e.docs.Close(); err != nil {
			zap.L().Warn("close document store", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates cfg for mode and builds the services. The predictor
// and rules are always available; "submit" adds the orchestrator, "learn"
// the learner, and "serve" both. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*env, error) {
	if mode != "" {
		if err := cfg.Validate(mode); err != nil {
			return nil, err
		}
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	e := &env{Store: st}
	e.Profiles = predictor.NewProfileCache(st, time.Duration(cfg.Predictor.ProfileTTLMinutes)*time.Minute)
	e.Predictor = predictor.New(e.Profiles, cfg.Predictor.MinSamples)
	e.Rules = learner.NewRules(st)

	if mode == "submit" || mode == "serve" {
		if err := e.initOrchestrator(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}
	if mode == "learn" || mode == "serve" {
		e.Learner = newLearner(st)
	}
	return e, nil
}

func (e *env) initOrchestrator(ctx context.Context) error {
	docs, err := documents.Open(ctx, cfg.Documents.BucketURL)
	if err != nil {
		return err
	}
	e.docs = docs

	transport, err := mailer.NewSMTPSender(mailer.Config{
		Host:       cfg.Mailer.Host,
		Port:       cfg.Mailer.Port,
		Username:   cfg.Mailer.Username,
		Password:   cfg.Mailer.Password,
		From:       cfg.Mailer.From,
		ReplyTo:    cfg.Mailer.ReplyTo,
		RatePerSec: cfg.Mailer.RatePerSec,
		Burst:      cfg.Mailer.Burst,
	})
	if err != nil {
		return err
	}

	state, err := initStateUpdater(e.Store)
	if err != nil {
		return err
	}

	e.Orchestrator = submission.New(submission.Deps{
		Store:     e.Store,
		Ranker:    e.Predictor,
		Documents: docs,
		Transport: transport,
		State:     state,
	}, cfg.Submission.MaxConcurrent)
	return nil
}

// initStateUpdater picks where request state transitions are written.
func initStateUpdater(st store.Store) (requeststate.Updater, error) {
	if cfg.RequestState.Provider != "salesforce" {
		return requeststate.NewStoreUpdater(st), nil
	}
	sf, err := sfpkg.Login(sfpkg.JWTConfig{
		ClientID: cfg.Salesforce.ClientID,
		Username: cfg.Salesforce.Username,
		KeyPath:  cfg.Salesforce.KeyPath,
		LoginURL: cfg.Salesforce.LoginURL,
	}, sfpkg.WithRateLimit(cfg.Salesforce.RateLimit))
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}
	return requeststate.NewSalesforceUpdater(st, sf, map[model.RequestState]string{
		model.RequestStateSubmitted: cfg.Salesforce.StageSubmitted,
	}), nil
}

func newLearner(st store.Store) *learner.Learner {
	breakerCfg := resilience.FromCircuitConfig(cfg.Learner.CircuitFailureThreshold, cfg.Learner.CircuitResetSecs)
	breakerCfg.OnStateChange = resilience.StateLogger("anthropic")
	classifier := learner.NewAnthropicClassifier(
		anthropic.NewClient(cfg.Anthropic.Key),
		resilience.NewCircuitBreaker(breakerCfg),
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxTokens,
	)
	return learner.New(st, classifier, learner.Config{
		BatchSize:     cfg.Learner.BatchSize,
		MinConfidence: cfg.Learner.MinConfidence,
		ExcerptChars:  cfg.Learner.ExcerptChars,
	})
}
