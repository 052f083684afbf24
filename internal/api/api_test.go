package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/engine"
	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/services"
	"github.com/Corphon/GamebookRuntime/internal/storage"
)

const gardenBook = `{
	"id": "garden",
	"name": "Garden",
	"savefile": 2,
	"startpage": "gate",
	"pages": [
		{
			"id": "gate",
			"text": [{"text": "A "}, {"elem": "span", "id": "gate", "text": "gate"}],
			"verbs": [{"id": "open", "name": "Open"}],
			"actions": [
				{"verb": "open", "noun": "gate", "behaviors": [
					{"name": "open", "turnTo": {"page": "lawn", "immediately": true}, "setFlags": ["opened"]}
				]}
			]
		},
		{"id": "lawn", "text": [{"text": "Grass."}], "actions": []}
	]
}`

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{DataDir: dir, DebugMode: true, LogLevel: "info", ShowTitlePage: false}
	require.NoError(t, config.InitSettings(cfg))

	files, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	lib := storage.NewBookLibrary(files)

	history, err := storage.OpenHistory(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	sessions := services.NewSessionService(lib, history, services.NewLockManager(), services.SessionOptions{})
	router := NewRouter(cfg, sessions, services.NewLibraryService(lib))
	t.Cleanup(router.WebSocket.Shutdown)
	return router
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestBookEndpoints(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/books", gardenBook)
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, "garden", decode[map[string]string](t, env.Data)["id"])

	code, env = do(t, r, http.MethodPost, "/api/books", `{"book": `+gardenBook+`}`)
	require.Equal(t, http.StatusCreated, code)

	code, env = do(t, r, http.MethodGet, "/api/books", "")
	require.Equal(t, http.StatusOK, code)
	books := decode[[]storage.BookSummary](t, env.Data)
	require.Len(t, books, 1)
	assert.Equal(t, 2, books[0].Pages)

	code, env = do(t, r, http.MethodGet, "/api/books/garden", "")
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPost, "/api/books", `{"name": "Broken", "savefile": 2, "pages": []}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, ErrorBookInvalid, env.Error.Code)

	code, env = do(t, r, http.MethodPost, "/api/books", `not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, r, http.MethodDelete, "/api/books/garden", "")
	assert.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/api/books/garden", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrorBookNotFound, env.Error.Code)
}

func TestSessionEndpoints(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/sessions", `{"json": `+mustQuote(gardenBook)+`}`)
	require.Equal(t, http.StatusCreated, code, env.Error)
	created := decode[services.SessionResult](t, env.Data)
	id := created.Session.ID
	assert.Equal(t, "gate", created.Session.View.ID)

	code, env = do(t, r, http.MethodPost, "/api/sessions/"+id+"/actions", `{"verb": "open", "noun": "gate"}`)
	require.Equal(t, http.StatusOK, code, env.Error)
	acted := decode[services.SessionResult](t, env.Data)
	assert.Equal(t, "lawn", acted.Session.View.ID)
	assert.Equal(t, []string{"opened"}, acted.Session.Flags)

	code, env = do(t, r, http.MethodPost, "/api/sessions/"+id+"/actions", `{"noun": "gate"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodPost, "/api/sessions/"+id+"/continue", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, r, http.MethodPost, "/api/sessions/"+id+"/next", "")
	assert.Equal(t, http.StatusConflict, code)

	code, env = do(t, r, http.MethodPost, "/api/sessions/"+id+"/restart", `{"page_id": "gate"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "gate", decode[services.SessionResult](t, env.Data).Session.View.ID)

	code, env = do(t, r, http.MethodGet, "/api/sessions/"+id+"/history", "")
	require.Equal(t, http.StatusOK, code)
	events := decode[[]storage.PlayEvent](t, env.Data)
	require.Len(t, events, 3)
	assert.Equal(t, storage.EventRestart, events[2].Kind)

	code, env = do(t, r, http.MethodGet, "/api/sessions/"+id+"/history?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]services.SessionSnapshot](t, env.Data), 1)

	code, _ = do(t, r, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, code)
	code, env = do(t, r, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrorSessionNotFound, env.Error.Code)
}

func TestCreateSessionErrors(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodPost, "/api/sessions", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrorNoStory, env.Error.Code)

	code, env = do(t, r, http.MethodPost, "/api/sessions", `{"book_id": "nope"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = do(t, r, http.MethodPost, "/api/sessions", `{"url": "/books/a.json"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Details, "base URL")
}

func TestSettingsEndpoints(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, code)
	assert.False(t, decode[config.Settings](t, env.Data).ShowTitlePage)

	code, _ = do(t, r, http.MethodPut, "/api/settings", `{"show_title_page": true, "log_level": "loud"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = do(t, r, http.MethodPut, "/api/settings", `{"show_title_page": true}`)
	require.Equal(t, http.StatusOK, code)
	saved := decode[config.Settings](t, env.Data)
	assert.True(t, saved.ShowTitlePage)
	assert.Equal(t, "info", saved.LogLevel)
	assert.True(t, config.GetSettings().ShowTitlePage)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", decode[map[string]any](t, env.Data)["status"])

	code, _ = do(t, r, http.MethodGet, "/api/metrics", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestImportBookFromURL(t *testing.T) {
	r := newTestRouter(t)
	books := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(gardenBook))
	}))
	defer books.Close()
	body := `{"url": "` + books.URL + `/garden.json"}`

	code, env := do(t, r, http.MethodPut, "/api/settings", `{"disable_url_options": true}`)
	require.Equal(t, http.StatusOK, code, env.Error)

	code, env = do(t, r, http.MethodPost, "/api/books", body)
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, ErrorURLDisabled, env.Error.Code)

	code, _ = do(t, r, http.MethodGet, "/api/books/garden", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, r, http.MethodPut, "/api/settings", `{"disable_url_options": false}`)
	require.Equal(t, http.StatusOK, code)

	code, env = do(t, r, http.MethodPost, "/api/books", body)
	require.Equal(t, http.StatusCreated, code, env.Error)
	assert.Equal(t, "garden", decode[map[string]string](t, env.Data)["id"])
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperrors.NewConfigurationError("x", apperrors.ErrUnknownPage), http.StatusUnprocessableEntity},
		{apperrors.NewIOError("x", apperrors.ErrFetchFailed), http.StatusBadGateway},
		{apperrors.NewConflictError("x", apperrors.ErrNotStarted), http.StatusConflict},
		{apperrors.NewValidationError("x", nil), http.StatusBadRequest},
		{apperrors.ErrSessionNotFound, http.StatusNotFound},
		{apperrors.NewValidationError("x", apperrors.ErrURLLoadingDisabled), http.StatusForbidden},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := statusForError(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()

	ok, remaining, _ := rl.Allow("a", 2, time.Minute)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)
	ok, _, _ = rl.Allow("a", 2, time.Minute)
	assert.True(t, ok)
	ok, _, _ = rl.Allow("a", 2, time.Minute)
	assert.False(t, ok)

	ok, _, _ = rl.Allow("b", 2, time.Minute)
	assert.True(t, ok)

	rl.cleanup(time.Now().Add(2 * time.Minute))
	ok, _, _ = rl.Allow("a", 2, time.Minute)
	assert.True(t, ok)
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(corsMiddleware([]string{"https://play.example"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://play.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://play.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://other.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSessionWebSocket(t *testing.T) {
	r := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	code, env := do(t, r, http.MethodPost, "/api/sessions", `{"book": `+gardenBook+`}`)
	require.Equal(t, http.StatusCreated, code)
	id := decode[services.SessionResult](t, env.Data).Session.ID

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]json.RawMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}
	msgType := func(msg map[string]json.RawMessage) string {
		var s string
		require.NoError(t, json.Unmarshal(msg["type"], &s))
		return s
	}

	assert.Equal(t, MessageConnected, msgType(read()))
	assert.Equal(t, 1, r.WebSocket.ClientCount(id))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, MessagePong, msgType(read()))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "action", "verb": "open", "noun": "gate"}))
	pushed := read()
	require.Equal(t, MessageInstructions, msgType(pushed))
	var instructions []engine.Instruction
	require.NoError(t, json.Unmarshal(pushed["instructions"], &instructions))
	require.NotEmpty(t, instructions)
	assert.Equal(t, engine.InstructionNavigate, instructions[0].Kind)
	assert.Equal(t, MessageResult, msgType(read()))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "continue"}))
	failed := read()
	assert.Equal(t, MessageError, msgType(failed))
	assert.Contains(t, string(failed["error"]), "no page transition pending")

	// REST calls on the same session are pushed to the socket too
	code, _ = do(t, r, http.MethodPost, "/api/sessions/"+id+"/restart", `{}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, MessageInstructions, msgType(read()))

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, MessageError, msgType(read()))
}

func TestSessionWebSocketUnknownSession(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/sessions/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func mustQuote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		panic(err)
	}
	return strings.TrimSpace(buf.String())
}
