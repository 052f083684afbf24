package loader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

const storyJSON = `{
	"name": "Tiny",
	"savefile": 2,
	"startpage": "a",
	"pages": [
		{"id": "a", "text": [{"text": "Hello "}, {"elem": "span", "id": "door", "text": "door"}],
		 "verbs": [{"id": "open", "name": "Open"}],
		 "actions": [{"verb": "open", "noun": "door", "behaviors": [{"name": "go", "turnTo": "b", "setFlags": ""}]}]},
		{"id": "b", "text": [{"text": "Bye"}], "actions": []}
	]
}`

func quiet() []Option {
	return []Option{
		WithLogger(utils.NewLogger(nil, utils.ERROR)),
		WithMetrics(utils.NewMetricsCollector()),
	}
}

func serveStory(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestInputShapesYieldEqualBooks(t *testing.T) {
	ctx := context.Background()
	srv := serveStory(t, http.StatusOK, storyJSON)

	fromString, err := New(storyJSON, quiet()...)
	require.NoError(t, err)
	want, err := fromString.Book(ctx)
	require.NoError(t, err)

	fromBytes, err := New([]byte(storyJSON), quiet()...)
	require.NoError(t, err)
	gotBytes, err := fromBytes.Book(ctx)
	require.NoError(t, err)

	fromObject, err := New(*want, quiet()...)
	require.NoError(t, err)
	gotObject, err := fromObject.Book(ctx)
	require.NoError(t, err)

	fromURL, err := New(srv.URL+"/story.json", quiet()...)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/story.json", fromURL.URL())
	gotURL, err := fromURL.Book(ctx)
	require.NoError(t, err)

	assert.Equal(t, want, gotBytes)
	assert.Equal(t, want, gotObject)
	assert.Equal(t, want, gotURL)
	assert.Equal(t, "Tiny", want.Name)
	require.Len(t, want.Pages, 2)
	assert.Equal(t, "b", want.Pages[0].Actions[0].Behaviors[0].TurnTo.Page)
}

func TestBookPointerIsReturnedAsIs(t *testing.T) {
	book := &models.Book{Name: "x"}
	l, err := New(book, quiet()...)
	require.NoError(t, err)

	got, err := l.Book(context.Background())
	require.NoError(t, err)
	assert.Same(t, book, got)
}

func TestIsURL(t *testing.T) {
	for _, s := range []string{"http://x/y.json", "https://x", "/stories/a.json", "./a.json"} {
		assert.True(t, IsURL(s), s)
	}
	for _, s := range []string{"{}", "stories/a.json", "", " http://x"} {
		assert.False(t, IsURL(s), s)
	}
}

func TestInvalidJSONStrings(t *testing.T) {
	tests := []struct {
		input string
		err   error
	}{
		{`["not", "an", "object"]`, apperrors.ErrInvalidStoryString},
		{`stories/a.json`, apperrors.ErrInvalidStoryString},
		{`{"name": }`, apperrors.ErrInvalidJSON},
		{`  {"name": "ok"  `, apperrors.ErrInvalidStoryString},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			l, err := New(tt.input, quiet()...)
			assert.Nil(t, l)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, apperrors.IsIOError(err))
		})
	}
}

func TestNoStoryWithURLOptionsDisabled(t *testing.T) {
	opts := append(quiet(), WithDisableURLOptions(true))

	l, err := New(nil, opts...)
	assert.Nil(t, l)
	assert.ErrorIs(t, err, apperrors.ErrNoStory)
	assert.Contains(t, err.Error(), "fetching story from the URL is disabled")

	var nilBook *models.Book
	_, err = New(nilBook, opts...)
	assert.ErrorIs(t, err, apperrors.ErrNoStory)
}

func TestFallbackURL(t *testing.T) {
	srv := serveStory(t, http.StatusOK, storyJSON)

	l, err := New(nil, append(quiet(), WithFallbackURL(srv.URL))...)
	require.NoError(t, err)
	book, err := l.Book(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tiny", book.Name)

	l, err = New(nil, quiet()...)
	require.NoError(t, err)
	_, err = l.Book(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoStory)
	assert.Contains(t, err.Error(), "no story provided in config or URL")

	l, err = New(nil, append(quiet(), WithFallbackURL("ftp.example.com/a.json"))...)
	require.NoError(t, err)
	_, err = l.Book(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidURL)
}

func TestRelativeURLUsesBase(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		_, _ = w.Write([]byte(storyJSON))
	}))
	defer srv.Close()

	l, err := New("./stories/tiny.json", append(quiet(), WithBaseURL(srv.URL+"/books/"))...)
	require.NoError(t, err)
	_, err = l.Book(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/books/stories/tiny.json", requested)

	l, err = New("/tiny.json", quiet()...)
	require.NoError(t, err)
	_, err = l.Book(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidURL)
}

func TestHTTPErrorStatus(t *testing.T) {
	srv := serveStory(t, http.StatusNotFound, `{"error":"missing"}`)
	metrics := utils.NewMetricsCollector()

	l, err := New(srv.URL, WithLogger(utils.NewLogger(nil, utils.ERROR)), WithMetrics(metrics))
	require.NoError(t, err)
	_, err = l.Book(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrHTTPStatus)
	assert.True(t, apperrors.IsIOError(err))
	assert.Contains(t, err.Error(), "HTTP error 404: Not Found")
	assert.Equal(t, int64(1), metrics.GetCounterValue(utils.MetricBookLoadFailures))
}

func TestFetchFailure(t *testing.T) {
	srv := serveStory(t, http.StatusOK, storyJSON)
	target := srv.URL
	srv.Close()

	l, err := New(target, quiet()...)
	require.NoError(t, err)
	_, err = l.Book(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrFetchFailed)
	assert.True(t, apperrors.IsIOError(err))
	assert.Contains(t, err.Error(), "could not fetch story file from "+target)
}

func TestFetchedBodyMustBeJSONObject(t *testing.T) {
	for _, body := range []string{"<html></html>", `[1, 2]`, `{"name": `} {
		t.Run(body, func(t *testing.T) {
			srv := serveStory(t, http.StatusOK, body)
			l, err := New(srv.URL, quiet()...)
			require.NoError(t, err)

			_, err = l.Book(context.Background())
			assert.ErrorIs(t, err, apperrors.ErrInvalidJSON)
			assert.True(t, apperrors.IsIOError(err))
		})
	}
}

func TestUnsupportedInput(t *testing.T) {
	_, err := New(42, quiet()...)
	assert.ErrorIs(t, err, apperrors.ErrNoStory)
}
