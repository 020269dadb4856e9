package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mca-router/internal/config"
	"github.com/sells-group/mca-router/internal/requeststate"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store: config.StoreConfig{
			Driver:      "sqlite",
			DatabaseURL: filepath.Join(t.TempDir(), "test.db"),
		},
		Anthropic: config.AnthropicConfig{Key: "sk-ant-test", Model: "claude-haiku-4-5-20251001", MaxTokens: 512},
		Mailer:    config.MailerConfig{Host: "smtp.broker.test", Port: 587, From: "subs@broker.test"},
		Documents: config.DocumentsConfig{BucketURL: "mem://"},
		Predictor: config.PredictorConfig{ProfileTTLMinutes: 60, MinSamples: 3},
		Learner:   config.LearnerConfig{BatchSize: 10, MinConfidence: 0.7, Schedule: "@every 15m"},
		Server:    config.ServerConfig{Port: 8080},
	}
}

func TestInitStore_SQLite(t *testing.T) {
	cfg = sqliteConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	defer st.Close() //nolint:errcheck

	lenders, err := st.ListLenders(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lenders)
}

func TestInitStore_SQLiteDefaultDSN(t *testing.T) {
	tmpDir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(tmpDir))
	defer os.Chdir(origDir) //nolint:errcheck

	cfg = &config.Config{Store: config.StoreConfig{Driver: "sqlite"}}

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, statErr := os.Stat(filepath.Join(tmpDir, defaultSQLiteDSN))
	assert.NoError(t, statErr)
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	cfg = &config.Config{Store: config.StoreConfig{Driver: "mysql"}}

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_ReadOnly(t *testing.T) {
	cfg = sqliteConfig(t)

	e, err := initEnv(context.Background(), "")
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Predictor)
	assert.NotNil(t, e.Profiles)
	assert.NotNil(t, e.Rules)
	assert.Nil(t, e.Orchestrator)
	assert.Nil(t, e.Learner)
}

func TestInitEnv_Serve(t *testing.T) {
	cfg = sqliteConfig(t)

	e, err := initEnv(context.Background(), "serve")
	require.NoError(t, err)
	defer e.Close()

	assert.NotNil(t, e.Orchestrator)
	assert.NotNil(t, e.Learner)
}

func TestInitEnv_ValidationFails(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Mailer.Host = ""

	_, err := initEnv(context.Background(), "submit")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailer.host is required")
}

func TestInitEnv_BadBucket(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.Documents.BucketURL = "nosuchscheme://bucket"

	_, err := initEnv(context.Background(), "submit")
	assert.Error(t, err)
}

func TestInitStateUpdater_DefaultsToStore(t *testing.T) {
	cfg = sqliteConfig(t)
	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	u, err := initStateUpdater(st)
	require.NoError(t, err)
	assert.IsType(t, &requeststate.StoreUpdater{}, u)
}

func TestInitStateUpdater_SalesforceMissingKey(t *testing.T) {
	cfg = sqliteConfig(t)
	cfg.RequestState.Provider = "salesforce"
	cfg.Salesforce.ClientID = "client"
	cfg.Salesforce.KeyPath = filepath.Join(t.TempDir(), "missing.pem")

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	_, err = initStateUpdater(st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "init salesforce")
}
