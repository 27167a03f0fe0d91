package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/digest-enricher/internal/config"
	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Port: 0, ShutdownTimeoutSeconds: 5},
		Logging: config.LoggingConfig{Level: "error"},
		Storage: config.StorageConfig{Backend: config.StorageMemory},
		Staging: config.StagingConfig{Backend: config.StagingMemory, TTLSeconds: 60},
		Queues:  config.QueuesConfig{Fetch: 1, Summarize: 1, Translate: 1, Illustrate: 1},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, MaxBodyBytes: 1 << 20},
		Poll:    config.PollConfig{MaxAttempts: 2, IntervalMs: 10},
	}
}

func TestBuildWithMemoryBackends(t *testing.T) {
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NotNil(t, app.Pipeline())
	require.Nil(t, app.flushLog)
	require.Nil(t, app.closePubSub)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.apiServer.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	date := digest.DateKey("2025-10-18")
	res, err := app.Pipeline().Ingest(context.Background(), date, []pipeline.IngestItem{{Title: "Hello"}})
	require.NoError(t, err)
	require.True(t, res.Created)

	batch, err := app.Pipeline().Batch(context.Background(), date)
	require.NoError(t, err)
	require.Len(t, batch.Items, 1)
}

func TestBuildWithoutAIKeyDisablesAICollaborators(t *testing.T) {
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	date := digest.DateKey("2025-10-18")
	_, err = app.Pipeline().Ingest(context.Background(), date, []pipeline.IngestItem{{Title: "Hello"}})
	require.NoError(t, err)

	_, err = app.Pipeline().EnqueueSummarize(context.Background(), date, false)
	require.Error(t, err)
}

func TestBuildWithLocalStorageAndRedisStaging(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: config.StorageLocal, Local: config.LocalStorageConfig{BaseDir: t.TempDir()}}
	cfg.Staging = config.StagingConfig{Backend: config.StagingRedis, Addr: mr.Addr(), TTLSeconds: 60}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, app.redis)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.NoError(t, app.Pipeline().Ready(context.Background()))
}

func TestBuildFailsOnBadRedisAddr(t *testing.T) {
	cfg := testConfig()
	cfg.Staging = config.StagingConfig{Backend: config.StagingRedis, TTLSeconds: 60}

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "redis staging init failed")
}

func TestRunStopsWhenContextIsCanceled(t *testing.T) {
	app, err := Build(context.Background(), testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
