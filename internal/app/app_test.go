package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/di"
	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/storage"
)

type mockServer struct {
	shutdownCalled bool
}

func (m *mockServer) ListenAndServe() error { return http.ErrServerClosed }

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.shutdownCalled = true
	return nil
}

func setupTest(t *testing.T) *config.Config {
	t.Helper()
	instance = nil
	di.GetContainer().Clear()

	dir := t.TempDir()
	cfg := &config.Config{
		Port:         "0",
		DataDir:      filepath.Join(dir, "data"),
		LogDir:       filepath.Join(dir, "logs"),
		LogLevel:     "error",
		HistoryDB:    filepath.Join(dir, "data", "history.db"),
		FetchTimeout: time.Second,
		SessionTTL:   time.Hour,
	}
	require.NoError(t, os.MkdirAll(cfg.DataDir, 0755))

	t.Cleanup(func() {
		GetApp().cleanup()
		di.GetContainer().Clear()
		instance = nil
	})
	return cfg
}

func TestGetAppIsSingleton(t *testing.T) {
	instance = nil
	a := GetApp()
	assert.Same(t, a, GetApp())
	assert.NotNil(t, a.stopChan)
}

func TestInitRegistersServices(t *testing.T) {
	cfg := setupTest(t)
	require.NoError(t, Init(cfg))

	container := GetDIContainer()
	assert.Equal(t, []string{
		di.FileStorage, di.HistoryStore, di.BookLibrary, di.LibraryService, di.LockManager, di.SessionService,
	}, container.GetNames())

	_, err := di.Resolve[*services.SessionService](container, di.SessionService)
	assert.NoError(t, err)
	_, err = di.Resolve[*storage.FileStorage](container, di.SessionService)
	assert.Error(t, err)

	assert.FileExists(t, filepath.Join(cfg.DataDir, "settings.json"))
	entries, err := os.ReadDir(cfg.LogDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestInitServicesWithoutConfig(t *testing.T) {
	instance = nil
	assert.Error(t, InitServices())
}

func TestRunShutsDownOnSignal(t *testing.T) {
	cfg := setupTest(t)
	require.NoError(t, Init(cfg))

	a := GetApp()
	srv := &mockServer{}
	a.server = srv

	go func() {
		time.Sleep(50 * time.Millisecond)
		a.stopChan <- syscall.SIGTERM
	}()

	require.NoError(t, Run())
	assert.True(t, srv.shutdownCalled)
	assert.Nil(t, a.cancel)
}

func TestRunRequiresRouter(t *testing.T) {
	instance = nil
	assert.Error(t, Run())
}

func TestDebugMode(t *testing.T) {
	a := &App{}
	assert.False(t, a.IsDebugMode())

	a.config = &config.Config{DebugMode: true}
	assert.True(t, a.IsDebugMode())
	assert.Same(t, a.config, a.GetConfig())
}
