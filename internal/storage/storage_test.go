package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

func newLibrary(t *testing.T) (*BookLibrary, *FileStorage) {
	t.Helper()
	files, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewBookLibrary(files), files
}

func TestFileStorageRoundTrip(t *testing.T) {
	files, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, files.SaveJSONFile("a", "x.json", map[string]int{"n": 1}))
	assert.True(t, files.FileExists("a", "x.json"))
	assert.NoFileExists(t, filepath.Join(files.BaseDir, "a", "x.json.tmp"))

	var got map[string]int
	require.NoError(t, files.LoadJSONFile("a", "x.json", &got))
	assert.Equal(t, 1, got["n"])

	// a write replaces the cached copy
	require.NoError(t, files.SaveJSONFile("a", "x.json", map[string]int{"n": 2}))
	require.NoError(t, files.LoadJSONFile("a", "x.json", &got))
	assert.Equal(t, 2, got["n"])

	names, err := files.ListFiles("a", ".json")
	require.NoError(t, err)
	assert.Equal(t, []string{"x.json"}, names)

	require.NoError(t, files.DeleteFile("a", "x.json"))
	assert.ErrorIs(t, files.DeleteFile("a", "x.json"), os.ErrNotExist)

	names, err = files.ListFiles("missing", ".json")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFileStorageCacheExpiry(t *testing.T) {
	files, err := NewFileStorage(t.TempDir())
	require.NoError(t, err)
	files.cacheExpiry = time.Millisecond

	require.NoError(t, files.SaveFile("", "a.txt", []byte("one")))
	_, err = files.LoadFile("", "a.txt")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	files.cleanupExpiredCache()
	files.cacheMutex.RLock()
	assert.Empty(t, files.cache)
	files.cacheMutex.RUnlock()
}

func TestBookLibrary(t *testing.T) {
	lib, _ := newLibrary(t)
	version := 2

	id, err := lib.Save(&models.Book{ID: "cellar", Name: "The Cellar", Savefile: &version, Pages: []models.Page{{ID: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, "cellar", id)

	generated, err := lib.Save(&models.Book{ID: "../escape", Name: "Other"})
	require.NoError(t, err)
	assert.NotEqual(t, "../escape", generated)
	assert.Regexp(t, bookIDPattern, generated)

	book, err := lib.Get("cellar")
	require.NoError(t, err)
	assert.Equal(t, "The Cellar", book.Name)
	assert.Equal(t, 2, *book.Savefile)

	list, err := lib.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	names := []string{list[0].Name, list[1].Name}
	assert.ElementsMatch(t, []string{"The Cellar", "Other"}, names)

	require.NoError(t, lib.Delete("cellar"))
	_, err = lib.Get("cellar")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
	assert.ErrorIs(t, lib.Delete("cellar"), apperrors.ErrBookNotFound)

	_, err = lib.Get("../../etc/passwd")
	assert.ErrorIs(t, err, apperrors.ErrBookNotFound)
}

func openTempHistory(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenHistoryRequiresPath(t *testing.T) {
	_, err := OpenHistory(" ")
	assert.Error(t, err)
}

func TestHistoryRecordAndList(t *testing.T) {
	store := openTempHistory(t)
	ctx := context.Background()
	at := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, PlayEvent{SessionID: "s1", BookID: "b", Kind: EventStart, PageID: "hall", CreatedAt: at}))
	require.NoError(t, store.Record(ctx, PlayEvent{
		SessionID: "s1", Kind: EventAction, PageID: "hall",
		Verb: "open", Noun: "door", Behavior: "open", TargetPage: "cellar",
		Flags: []string{"door_open", "inhall"}, CreatedAt: at.Add(time.Second),
	}))
	require.NoError(t, store.Record(ctx, PlayEvent{SessionID: "s2", Kind: EventStart}))

	events, err := store.List(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventStart, events[0].Kind)
	assert.Equal(t, at, events[0].CreatedAt)
	assert.Equal(t, []string{}, events[0].Flags)
	assert.Equal(t, "cellar", events[1].TargetPage)
	assert.Equal(t, []string{"door_open", "inhall"}, events[1].Flags)
	assert.Less(t, events[0].ID, events[1].ID)

	limited, err := store.List(ctx, "s1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.DeleteSession(ctx, "s1"))
	events, err = store.List(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)

	others, err := store.List(ctx, "s2", 0)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestHistoryRecordValidation(t *testing.T) {
	store := openTempHistory(t)
	ctx := context.Background()

	assert.Error(t, store.Record(ctx, PlayEvent{Kind: EventStart}))
	assert.Error(t, store.Record(ctx, PlayEvent{SessionID: "s"}))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, store.Record(cancelled, PlayEvent{SessionID: "s", Kind: EventStart}), context.Canceled)
}

func TestHistoryMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	first, err := OpenHistory(path)
	require.NoError(t, err)
	require.NoError(t, first.Record(context.Background(), PlayEvent{SessionID: "s", Kind: EventStart}))
	require.NoError(t, first.Close())

	second, err := OpenHistory(path)
	require.NoError(t, err)
	defer second.Close()

	events, err := second.List(context.Background(), "s", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUpMigration(t *testing.T) {
	assert.Equal(t, "\nA\n", upMigration("-- +migrate Up\nA\n-- +migrate Down\nB"))
	assert.Equal(t, "plain", upMigration("plain"))
}
