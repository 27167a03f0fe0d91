package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/config"
	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
)

type fakeService struct {
	ingestDate  digest.DateKey
	ingestItems []pipeline.IngestItem
	flushDate   digest.DateKey
	flushReq    digest.FlushRequest
	err         error
}

func (f *fakeService) Ingest(_ context.Context, date digest.DateKey, items []pipeline.IngestItem) (pipeline.IngestResult, error) {
	f.ingestDate, f.ingestItems = date, items
	if f.err != nil {
		return pipeline.IngestResult{}, f.err
	}
	return pipeline.IngestResult{Created: true, Items: len(items)}, nil
}

func (f *fakeService) Flush(_ context.Context, date digest.DateKey, req digest.FlushRequest) (digest.FlushResult, error) {
	f.flushDate, f.flushReq = date, req
	if f.err != nil {
		return digest.FlushResult{}, f.err
	}
	return digest.FlushResult{Attempted: true, CanFlush: true, Flushed: req.Total}, nil
}

type fakeApp struct {
	svc    *fakeService
	ran    bool
	closed bool
}

func (a *fakeApp) Run(context.Context) error   { a.ran = true; return nil }
func (a *fakeApp) Close(context.Context) error { a.closed = true; return nil }
func (a *fakeApp) Logger() *zap.Logger         { return zap.NewNop() }
func (a *fakeApp) Service() Service            { return a.svc }

// runCLI executes the root command against a fake app. Not parallel: it swaps package state.
func runCLI(t *testing.T, app *fakeApp, stdin string, args ...string) (string, error) {
	t.Helper()
	origApp, origNow := newApp, now
	t.Cleanup(func() { newApp, now = origApp, origNow })

	newApp = func(context.Context, *config.Config) (App, error) { return app, nil }
	now = func() time.Time { return time.Date(2025, 10, 17, 20, 0, 0, 0, time.UTC) }

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestServeRunsAndClosesApp(t *testing.T) {
	app := &fakeApp{svc: &fakeService{}}
	_, err := runCLI(t, app, "", "serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestIngestFromStdin(t *testing.T) {
	app := &fakeApp{svc: &fakeService{}}
	out, err := runCLI(t, app, `[{"title":"Hello","url":"https://example.com"},{"title":"World"}]`,
		"ingest", "--date", "20251018")
	require.NoError(t, err)

	require.Equal(t, digest.DateKey("2025-10-18"), app.svc.ingestDate)
	require.Len(t, app.svc.ingestItems, 2)
	assert.Equal(t, "https://example.com", app.svc.ingestItems[0].URL)

	var res pipeline.IngestResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Created)
	assert.Equal(t, 2, res.Items)
	assert.True(t, app.closed)
}

func TestIngestFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"Hello"}]`), 0o600))

	app := &fakeApp{svc: &fakeService{}}
	_, err := runCLI(t, app, "", "ingest", "--file", path)
	require.NoError(t, err)
	assert.Equal(t, digest.DateKey("2025-10-18"), app.svc.ingestDate, "defaults to today in the batch zone")
}

func TestIngestRejectsEmptyInput(t *testing.T) {
	app := &fakeApp{svc: &fakeService{}}
	_, err := runCLI(t, app, `[]`, "ingest")
	require.ErrorContains(t, err, "no items")
	assert.Nil(t, app.svc.ingestItems)
}

func TestFlushCommand(t *testing.T) {
	app := &fakeApp{svc: &fakeService{}}
	out, err := runCLI(t, app, "", "flush", "--date", "2025-10-18", "--type", "translate", "--lang", "ko", "--total", "3")
	require.NoError(t, err)

	assert.Equal(t, digest.DateKey("2025-10-18"), app.svc.flushDate)
	assert.Equal(t, digest.FlushRequest{Type: digest.TaskTranslate, Lang: digest.LangKO, Total: 3}, app.svc.flushReq)

	var res digest.FlushResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Flushed)
}

func TestFlushCommandValidation(t *testing.T) {
	cases := []struct {
		name string
		args []string
	}{
		{"missing type", []string{"flush", "--total", "1"}},
		{"missing total", []string{"flush", "--type", "fetch"}},
		{"bad type", []string{"flush", "--type", "paint", "--total", "1"}},
		{"lang without translate", []string{"flush", "--type", "fetch", "--lang", "ko", "--total", "1"}},
		{"bad date", []string{"flush", "--type", "fetch", "--total", "1", "--date", "yesterday"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			app := &fakeApp{svc: &fakeService{}}
			_, err := runCLI(t, app, "", tc.args...)
			require.Error(t, err)
			assert.Empty(t, app.svc.flushDate)
		})
	}
}

func TestServiceErrorsPropagate(t *testing.T) {
	app := &fakeApp{svc: &fakeService{err: errors.New("boom")}}
	_, err := runCLI(t, app, "", "flush", "--type", "fetch", "--total", "1")
	require.ErrorContains(t, err, "boom")
}
