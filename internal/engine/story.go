// internal/engine/story.go
package engine

import (
	"fmt"
	"time"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/flags"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

// StartOptions controls how a story begins.
type StartOptions struct {
	// ShowTitlePage shows the book's title page first when the book enables one.
	ShowTitlePage bool
}

// Outcome describes one executed behavior.
type Outcome struct {
	PageID     string          `json:"page_id"`
	Verb       string          `json:"verb"`
	Noun       string          `json:"noun"`
	Behavior   string          `json:"behavior"`
	FlagsSet   []string        `json:"flags_set,omitempty"`
	FlagsUnset []string        `json:"flags_unset,omitempty"`
	Navigation *Navigation     `json:"navigation,omitempty"`
	Changes    []ContentChange `json:"changes,omitempty"`
}

// Story is the story controller. It owns the book, the flag store and the
// current page. A Story is single-threaded: the host must serialize calls.
type Story struct {
	renderer Renderer
	logger   *utils.Logger
	metrics  *utils.MetricsCollector

	book    *models.Book
	flags   *flags.Store
	page    *Page
	pending *Page
	nav     *Navigation
	started bool
}

// Option configures a Story.
type Option func(*Story)

// WithLogger replaces the global logger.
func WithLogger(logger *utils.Logger) Option {
	return func(s *Story) { s.logger = logger }
}

// WithMetrics replaces the global metrics collector.
func WithMetrics(metrics *utils.MetricsCollector) Option {
	return func(s *Story) { s.metrics = metrics }
}

// NewStory returns an idle Story that reports to renderer.
func NewStory(renderer Renderer, opts ...Option) *Story {
	if renderer == nil {
		renderer = NopRenderer{}
	}
	s := &Story{
		renderer: renderer,
		logger:   utils.GetLogger(),
		metrics:  utils.GetMetricsCollector(),
		flags:    flags.NewStore(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateBook checks the book invariants and the format version.
func ValidateBook(book *models.Book) error {
	invalid := func(msg string) error {
		return apperrors.NewConfigurationError(msg, apperrors.ErrInvalidBook)
	}

	switch {
	case book == nil:
		return invalid("no story book")
	case book.Savefile == nil:
		return invalid("the story file doesn't specify savefile version")
	case *book.Savefile < models.MinFormatVersion:
		return invalid(fmt.Sprintf("invalid story file savefile version %d, must be %d or larger",
			*book.Savefile, models.MinFormatVersion))
	case *book.Savefile > models.CurrentFormatVersion:
		return invalid(fmt.Sprintf("story file savefile version is %d, this reader supports versions up to %d",
			*book.Savefile, models.CurrentFormatVersion))
	case book.Name == "":
		return invalid("the story doesn't have a name field")
	case len(book.Pages) == 0:
		return invalid("the story has no pages")
	case book.StartPage == "":
		return invalid("the story doesn't specify start page")
	}
	return nil
}

// Start validates book, resets all flags and opens the start page, or the
// title page when requested and enabled. A book that fails validation or
// whose start page cannot be opened leaves the running story untouched.
func (s *Story) Start(book *models.Book, opts StartOptions) error {
	if err := ValidateBook(book); err != nil {
		return err
	}

	spec := book.FindPage(book.StartPage)
	if spec == nil {
		return apperrors.NewConfigurationError(fmt.Sprintf("page %q", book.StartPage), apperrors.ErrUnknownPage)
	}
	first, err := NewPage(spec)
	if err != nil {
		return err
	}
	if opts.ShowTitlePage && book.Cover != nil && book.Cover.Enabled {
		first = NewTitlePage(book.Name, book.StartPage, book.Cover)
	}

	s.book = book
	s.flags.ResetAll()
	s.flags.PopulateAllFlags(book)
	s.page, s.pending, s.nav = nil, nil, nil
	s.started = true
	s.enterPage(first)

	s.logger.Info("story started", map[string]interface{}{
		"book":       book.Name,
		"start_page": book.StartPage,
	})
	return nil
}

// Restart leaves the current page, applying its exit rule, and opens pageID
// (the start page when empty). The title page is shown instead when
// showTitlePage is set and title is enabled. Flags are kept.
func (s *Story) Restart(pageID string, showTitlePage bool, title *models.TitlePage) error {
	if !s.started {
		return apperrors.NewConflictError("restart", apperrors.ErrNotStarted)
	}

	id := pageID
	if id == "" {
		id = s.book.StartPage
	}

	var next *Page
	if showTitlePage && title != nil && title.Enabled {
		next = NewTitlePage(s.book.Name, id, title)
	} else {
		var err error
		if next, err = s.buildPage(id); err != nil {
			return err
		}
	}

	s.pending, s.nav = nil, nil
	s.enterPage(next)
	s.metrics.IncrementCounter(utils.MetricStoryRestarts)
	return nil
}

// OpenPage moves to page id. With immediately unset the new page waits for
// Continue, and the renderer shows a continue control meanwhile.
func (s *Story) OpenPage(id string, immediately bool) error {
	if !s.started {
		return apperrors.NewConflictError("open page", apperrors.ErrNotStarted)
	}
	next, err := s.buildPage(id)
	if err != nil {
		return err
	}
	s.navigate(next, &Navigation{PageID: id, Immediate: immediately})
	return nil
}

// Continue completes a navigation that was waiting for confirmation.
func (s *Story) Continue() error {
	if !s.started {
		return apperrors.NewConflictError("continue", apperrors.ErrNotStarted)
	}
	if s.pending == nil {
		return apperrors.NewConflictError("continue", apperrors.ErrNothingPending)
	}
	s.enterPage(s.pending)
	return nil
}

// FollowNextPage opens the next page of the current image page.
func (s *Story) FollowNextPage() error {
	if err := s.checkIdle("next page"); err != nil {
		return err
	}
	img, ok := s.page.Content().(ImageContent)
	if !ok || img.NextPage == "" {
		return apperrors.NewConflictError(fmt.Sprintf("page %q", s.page.ID()), apperrors.ErrNoNextPage)
	}
	return s.OpenPage(img.NextPage, true)
}

// Resolve returns the behavior that verbID on nounID would execute right now,
// or nil when the action currently does nothing. It never changes state.
func (s *Story) Resolve(verbID, nounID string) (*Behavior, error) {
	if err := s.checkIdle("resolve action"); err != nil {
		return nil, err
	}
	action := s.page.FindAction(verbID, nounID)
	if action == nil {
		return nil, nil
	}
	return action.ValidBehavior(s.flags)
}

// Trigger resolves and executes verbID on nounID. A nil Outcome with a nil
// error means nothing happened.
func (s *Story) Trigger(verbID, nounID string) (*Outcome, error) {
	b, err := s.Resolve(verbID, nounID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		s.metrics.IncrementCounter(utils.MetricActionsUnmatched)
		s.logger.Debug("action does nothing", map[string]interface{}{
			"page": s.page.ID(),
			"verb": verbID,
			"noun": nounID,
		})
		return nil, nil
	}
	return s.Execute(b)
}

// Execute runs b. Everything that can fail is checked before any state
// changes. Effects happen in this order: the action is disabled, the page
// counter is incremented, flags are applied, navigation is issued, and then
// content changes are sent to the renderer.
func (s *Story) Execute(b *Behavior) (*Outcome, error) {
	if err := s.checkIdle("execute behavior"); err != nil {
		return nil, err
	}
	if b == nil || b.action == nil {
		return nil, apperrors.NewValidationError("execute behavior", apperrors.ErrActionInactive)
	}

	action := b.action
	page := s.page
	if action.page != page || !action.IsActive() {
		return nil, apperrors.NewConflictError(
			fmt.Sprintf("action %s/%s", action.VerbID(), action.NounID()),
			apperrors.ErrActionInactive,
		)
	}
	if action.NounID() == "" || !page.HasNoun(action.NounID()) {
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("page %q action %s/%s", page.ID(), action.VerbID(), action.NounID()),
			apperrors.ErrMissingNoun,
		)
	}

	changes, err := contentChanges(&b.Behavior, page.ID(), action.NounID())
	if err != nil {
		return nil, apperrors.WrapError(err, fmt.Sprintf("behavior %q", b.Name), apperrors.ErrorTypeConfiguration)
	}

	var nav *Navigation
	if b.TurnTo != nil && b.TurnTo.Page != "" {
		nav = &Navigation{PageID: b.TurnTo.Page, Immediate: b.TurnTo.Immediately}
	} else if target, ok := page.timerTargetAt(page.ActionCount() + 1); ok {
		nav = &Navigation{PageID: target, Immediate: true, Timer: true}
	}

	var next *Page
	if nav != nil {
		if next, err = s.buildPage(nav.PageID); err != nil {
			return nil, err
		}
	}

	action.Disable()
	page.IncrementActionCount()
	if nav != nil && nav.Timer {
		s.metrics.IncrementCounter(utils.MetricTimersFired)
	}
	s.flags.ApplyRule(b.FlagRule())
	if next != nil {
		s.navigate(next, nav)
	}
	for _, change := range changes {
		s.renderer.ChangeContent(change)
	}

	s.metrics.IncrementCounter(utils.MetricBehaviorsExecuted)
	s.logger.Debug("behavior executed", map[string]interface{}{
		"page":     page.ID(),
		"verb":     action.VerbID(),
		"noun":     action.NounID(),
		"behavior": b.Name,
	})

	return &Outcome{
		PageID:     page.ID(),
		Verb:       action.VerbID(),
		Noun:       action.NounID(),
		Behavior:   b.Name,
		FlagsSet:   b.SetFlags,
		FlagsUnset: b.UnsetFlags,
		Navigation: nav,
		Changes:    changes,
	}, nil
}

// View returns the current page view, or nil before Start.
func (s *Story) View() *PageView {
	if s.page == nil {
		return nil
	}
	v := s.page.View()
	return &v
}

func (s *Story) Book() *models.Book  { return s.book }
func (s *Story) Flags() *flags.Store { return s.flags }
func (s *Story) CurrentPage() *Page  { return s.page }
func (s *Story) Started() bool       { return s.started }

// Pending returns the navigation waiting for Continue, or nil.
func (s *Story) Pending() *Navigation {
	if s.pending == nil {
		return nil
	}
	nav := *s.nav
	return &nav
}

// NounsForVerb lists the nouns on the current page that still react to verbID.
func (s *Story) NounsForVerb(verbID string) []string {
	if s.page == nil {
		return nil
	}
	return s.page.NounsForVerb(verbID)
}

func (s *Story) checkIdle(op string) error {
	if !s.started || s.page == nil {
		return apperrors.NewConflictError(op, apperrors.ErrNotStarted)
	}
	if s.pending != nil {
		return apperrors.NewConflictError(op, apperrors.ErrTransitionPending)
	}
	return nil
}

func (s *Story) buildPage(id string) (*Page, error) {
	spec := s.book.FindPage(id)
	if spec == nil {
		return nil, apperrors.NewConfigurationError(fmt.Sprintf("page %q", id), apperrors.ErrUnknownPage)
	}
	return NewPage(spec)
}

func (s *Story) navigate(next *Page, nav *Navigation) {
	s.renderer.RequestNavigation(nav.PageID, nav.Immediate)
	if nav.Immediate {
		s.enterPage(next)
		return
	}
	s.pending, s.nav = next, nav
}

func (s *Story) enterPage(next *Page) {
	start := time.Now()
	if s.page != nil {
		s.page.Exit(s.flags)
	}
	s.page, s.pending, s.nav = next, nil, nil
	next.Enter(s.flags)
	s.renderer.RenderPage(next.View())

	s.metrics.IncrementCounter(utils.MetricPagesOpened)
	s.metrics.RecordDuration(utils.MetricPageEnterMillis, time.Since(start))
	s.logger.Debug("page opened", map[string]interface{}{
		"page":     next.ID(),
		"category": string(next.Category()),
	})
}
