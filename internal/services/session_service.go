// internal/services/session_service.go
package services

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Corphon/GamebookRuntime/internal/config"
	"github.com/Corphon/GamebookRuntime/internal/engine"
	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/loader"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/storage"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// InstructionPublisher delivers renderer instructions to a session's live clients.
type InstructionPublisher interface {
	Publish(sessionID string, instructions []engine.Instruction)
}

// SessionOptions are the fixed settings of a SessionService.
type SessionOptions struct {
	BaseURL      string
	FetchTimeout time.Duration
	SessionTTL   time.Duration
	// Settings returns the current player defaults. Defaults to config.GetSettings.
	Settings func() config.Settings
}

// CreateSessionRequest names the book to play. Exactly one of BookID, Book,
// JSON or URL is normally set; with none the URL fallback rules apply.
type CreateSessionRequest struct {
	BookID        string       `json:"book_id"`
	Book          *models.Book `json:"book"`
	JSON          string       `json:"json"`
	URL           string       `json:"url"`
	ShowTitlePage *bool        `json:"show_title_page"`
}

// SessionSnapshot is the externally visible state of a session.
type SessionSnapshot struct {
	ID         string             `json:"id"`
	BookID     string             `json:"book_id,omitempty"`
	BookName   string             `json:"book_name"`
	Theme      *models.Theme      `json:"theme,omitempty"`
	View       *engine.PageView   `json:"view"`
	Flags      []string           `json:"flags"`
	Pending    *engine.Navigation `json:"pending,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
	LastActive time.Time          `json:"last_active"`
}

// SessionResult is returned by every operation that drives a session.
type SessionResult struct {
	Session      SessionSnapshot      `json:"session"`
	Outcome      *engine.Outcome      `json:"outcome,omitempty"`
	Instructions []engine.Instruction `json:"instructions"`
}

// session fields other than lastActive are guarded by the session lock.
type session struct {
	id        string
	bookID    string
	story     *engine.Story
	recorder  *engine.Recorder
	createdAt time.Time
	ended     bool

	lastActive atomic.Int64 // unix nanoseconds, read by the idle sweep without the session lock
}

func (sess *session) touch(now time.Time) {
	sess.lastActive.Store(now.UnixNano())
}

func (sess *session) lastActiveAt() time.Time {
	return time.Unix(0, sess.lastActive.Load())
}

// SessionService owns the live play sessions. Each session is one story
// controller; calls on the same session are serialized by the lock manager.
type SessionService struct {
	library   *storage.BookLibrary
	history   *storage.HistoryStore
	locks     *LockManager
	publisher InstructionPublisher
	opts      SessionOptions
	client    *http.Client
	logger    *utils.Logger
	metrics   *utils.MetricsCollector

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewSessionService creates the service. history may be nil.
func NewSessionService(library *storage.BookLibrary, history *storage.HistoryStore, locks *LockManager, opts SessionOptions) *SessionService {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.Settings == nil {
		opts.Settings = config.GetSettings
	}
	if locks == nil {
		locks = NewLockManager()
	}

	return &SessionService{
		library:  library,
		history:  history,
		locks:    locks,
		opts:     opts,
		client:   &http.Client{Timeout: opts.FetchTimeout},
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
		sessions: make(map[string]*session),
	}
}

// SetPublisher sets where instructions of later operations are pushed.
func (s *SessionService) SetPublisher(p InstructionPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}

// Create loads the requested book and starts a new session on it.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*SessionResult, error) {
	settings := s.opts.Settings()

	book, err := s.resolveBook(ctx, req, settings)
	if err != nil {
		return nil, err
	}

	showTitle := settings.ShowTitlePage
	if req.ShowTitlePage != nil {
		showTitle = *req.ShowTitlePage
	}

	id := uuid.NewString()
	rec := engine.NewRecorder(nil)
	story := engine.NewStory(rec,
		engine.WithLogger(s.logger.With(map[string]interface{}{"session": id})),
		engine.WithMetrics(s.metrics),
	)
	if err := story.Start(book, engine.StartOptions{ShowTitlePage: showTitle}); err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session{
		id:        id,
		bookID:    req.BookID,
		story:     story,
		recorder:  rec,
		createdAt: now,
	}
	sess.touch(now)

	// 注册前记录，此时没有其他调用方能访问该会话
	s.record(ctx, sess, storage.PlayEvent{Kind: storage.EventStart})
	result := &SessionResult{Session: snapshot(sess), Instructions: rec.Drain()}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.metrics.IncGauge(utils.MetricSessionsActive)

	s.logger.Info("session started", map[string]interface{}{
		"session": id,
		"book":    book.Name,
	})

	return result, nil
}

func (s *SessionService) resolveBook(ctx context.Context, req CreateSessionRequest, settings config.Settings) (*models.Book, error) {
	if req.BookID != "" {
		if s.library == nil {
			return nil, apperrors.NewNotFoundError("book library", apperrors.ErrBookNotFound)
		}
		return s.library.Get(req.BookID)
	}

	var input any
	switch {
	case req.Book != nil:
		input = req.Book
	case req.JSON != "":
		input = req.JSON
	}

	opts := []loader.Option{
		loader.WithDisableURLOptions(settings.DisableURLOptions),
		loader.WithFallbackURL(req.URL),
		loader.WithBaseURL(s.opts.BaseURL),
		loader.WithHTTPClient(s.client),
		loader.WithLogger(s.logger),
		loader.WithMetrics(s.metrics),
	}
	l, err := loader.New(input, opts...)
	if err != nil {
		return nil, err
	}
	return l.Book(ctx)
}

// Get returns the state of a session.
func (s *SessionService) Get(id string) (*SessionSnapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	var snap SessionSnapshot
	err = s.locks.ExecuteWithSessionReadLock(id, func() error {
		snap = snapshot(sess)
		return nil
	})
	return &snap, err
}

// List returns every live session, oldest first.
func (s *SessionService) List() []SessionSnapshot {
	s.mu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(all))
	for _, sess := range all {
		_ = s.locks.ExecuteWithSessionReadLock(sess.id, func() error {
			out = append(out, snapshot(sess))
			return nil
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Act triggers verbID on nounID. When the action currently does nothing the
// result has no Outcome and no instructions.
func (s *SessionService) Act(ctx context.Context, id, verbID, nounID string) (*SessionResult, error) {
	if verbID == "" {
		return nil, apperrors.NewValidationError("verb is required", nil)
	}

	return s.drive(ctx, id, func(sess *session) (*engine.Outcome, error) {
		pageID := sess.story.CurrentPage().ID()
		outcome, err := sess.story.Trigger(verbID, nounID)
		if err != nil || outcome == nil {
			return outcome, err
		}

		event := storage.PlayEvent{
			Kind:     storage.EventAction,
			PageID:   pageID,
			Verb:     outcome.Verb,
			Noun:     outcome.Noun,
			Behavior: outcome.Behavior,
		}
		if outcome.Navigation != nil {
			event.TargetPage = outcome.Navigation.PageID
		}
		s.record(ctx, sess, event)
		return outcome, nil
	})
}

// Continue completes a navigation that waits for confirmation.
func (s *SessionService) Continue(ctx context.Context, id string) (*SessionResult, error) {
	return s.drive(ctx, id, func(sess *session) (*engine.Outcome, error) {
		if err := sess.story.Continue(); err != nil {
			return nil, err
		}
		s.record(ctx, sess, storage.PlayEvent{Kind: storage.EventContinue})
		return nil, nil
	})
}

// Next follows the next page link of the current image page.
func (s *SessionService) Next(ctx context.Context, id string) (*SessionResult, error) {
	return s.drive(ctx, id, func(sess *session) (*engine.Outcome, error) {
		if err := sess.story.FollowNextPage(); err != nil {
			return nil, err
		}
		s.record(ctx, sess, storage.PlayEvent{Kind: storage.EventNavigate})
		return nil, nil
	})
}

// Restart reopens pageID, or the start page when empty. showTitlePage nil
// uses the current player setting.
func (s *SessionService) Restart(ctx context.Context, id, pageID string, showTitlePage *bool) (*SessionResult, error) {
	showTitle := s.opts.Settings().ShowTitlePage
	if showTitlePage != nil {
		showTitle = *showTitlePage
	}

	return s.drive(ctx, id, func(sess *session) (*engine.Outcome, error) {
		if err := sess.story.Restart(pageID, showTitle, sess.story.Book().Cover); err != nil {
			return nil, err
		}
		s.record(ctx, sess, storage.PlayEvent{Kind: storage.EventRestart, TargetPage: pageID})
		return nil, nil
	})
}

// History returns the recorded events of a session.
func (s *SessionService) History(ctx context.Context, id string, limit int) ([]storage.PlayEvent, error) {
	if _, err := s.lookup(id); err != nil {
		return nil, err
	}
	if s.history == nil {
		return []storage.PlayEvent{}, nil
	}
	events, err := s.history.List(ctx, id, limit)
	if err != nil {
		return nil, apperrors.NewProcessingError("load session history", err)
	}
	if events == nil {
		events = []storage.PlayEvent{}
	}
	return events, nil
}

// ClearHistory drops the recorded events of a session. The session keeps playing.
func (s *SessionService) ClearHistory(ctx context.Context, id string) error {
	if _, err := s.lookup(id); err != nil {
		return err
	}
	if s.history == nil {
		return nil
	}
	if err := s.history.DeleteSession(ctx, id); err != nil {
		return apperrors.NewProcessingError("clear session history", err)
	}
	return nil
}

// Delete ends a session. Its history is kept.
func (s *SessionService) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return apperrors.NewNotFoundError(fmt.Sprintf("session %q", id), apperrors.ErrSessionNotFound)
	}

	s.metrics.DecGauge(utils.MetricSessionsActive)
	// 等待进行中的操作结束后再记录，之后的操作会看到 ended
	return s.locks.ExecuteWithSessionLock(id, func() error {
		sess.ended = true
		s.record(ctx, sess, storage.PlayEvent{Kind: storage.EventEnd})
		return nil
	})
}

// Count returns the number of live sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// StartCleanup removes sessions idle longer than the session TTL every
// interval until ctx is done.
func (s *SessionService) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.cleanupIdle(ctx, now); n > 0 {
					s.logger.Info("idle sessions removed", map[string]interface{}{"count": n})
				}
			}
		}
	}()
}

func (s *SessionService) cleanupIdle(ctx context.Context, now time.Time) int {
	s.mu.RLock()
	var idle []string
	for id, sess := range s.sessions {
		if now.Sub(sess.lastActiveAt()) > s.opts.SessionTTL {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range idle {
		if s.Delete(ctx, id) == nil {
			removed++
		}
	}
	return removed
}

func (s *SessionService) lookup(id string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("session %q", id), apperrors.ErrSessionNotFound)
	}
	return sess, nil
}

// drive runs op under the session lock, then drains and publishes the
// instructions it produced. Publishing happens under the same lock so
// batches of one session reach clients in order.
func (s *SessionService) drive(ctx context.Context, id string, op func(*session) (*engine.Outcome, error)) (*SessionResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	var result *SessionResult
	err = s.locks.ExecuteWithSessionLock(id, func() error {
		if sess.ended {
			return apperrors.NewNotFoundError(fmt.Sprintf("session %q", id), apperrors.ErrSessionNotFound)
		}

		outcome, err := op(sess)
		instructions := sess.recorder.Drain()
		if err != nil {
			return err
		}

		sess.touch(time.Now())
		if instructions == nil {
			instructions = []engine.Instruction{}
		}
		result = &SessionResult{
			Session:      snapshot(sess),
			Outcome:      outcome,
			Instructions: instructions,
		}

		s.mu.RLock()
		publisher := s.publisher
		s.mu.RUnlock()
		if publisher != nil && len(instructions) > 0 {
			publisher.Publish(id, instructions)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("session operation failed", map[string]interface{}{
			"session": id,
			"err":     err.Error(),
		})
		return nil, err
	}
	return result, nil
}

func (s *SessionService) record(ctx context.Context, sess *session, event storage.PlayEvent) {
	if s.history == nil {
		return
	}

	event.SessionID = sess.id
	event.BookID = sess.bookID
	if event.PageID == "" {
		if page := sess.story.CurrentPage(); page != nil {
			event.PageID = page.ID()
		}
	}
	event.Flags = sess.story.Flags().Active()

	if err := s.history.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record play event", map[string]interface{}{
			"session": sess.id,
			"kind":    event.Kind,
			"err":     err.Error(),
		})
	}
}

func snapshot(sess *session) SessionSnapshot {
	book := sess.story.Book()
	snap := SessionSnapshot{
		ID:         sess.id,
		BookID:     sess.bookID,
		View:       sess.story.View(),
		Flags:      sess.story.Flags().Active(),
		Pending:    sess.story.Pending(),
		CreatedAt:  sess.createdAt,
		LastActive: sess.lastActiveAt(),
	}
	if book != nil {
		snap.BookName = book.Name
		snap.Theme = book.Theme
	}
	return snap
}
