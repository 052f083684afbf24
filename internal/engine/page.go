// internal/engine/page.go
package engine

import (
	"fmt"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/flags"
	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/rules"
)

// Identifiers of the title page's built-in action.
const (
	TitleStartVerb  = "start-verb"
	TitleStartNoun  = "start-noun"
	defaultPlayVerb = "play"
)

// PageState is the lifecycle state of one page instance.
type PageState int

const (
	PageEntering PageState = iota // created, enter rule not yet applied
	PageActive                    // entered and accepting actions
	PageClosed                    // exit rule applied; never reused
)

func (s PageState) String() string {
	switch s {
	case PageEntering:
		return "entering"
	case PageActive:
		return "active"
	case PageClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PageContent is the category-specific part of a page. The set of
// implementations is closed: TextContent, ImageContent and TitleContent.
type PageContent interface {
	Category() models.PageCategory
	view(id string) PageView
}

// TextContent is the default page kind: text with verbs.
type TextContent struct {
	Paragraphs []Paragraph
	Verbs      []models.Verb
}

// ImageContent is an illustration. Clicking it follows NextPage.
type ImageContent struct {
	URL      string
	Caption  string
	Title    string
	Subtitle string
	NextPage string
}

// TitleContent is the story title page that leads into the start page.
type TitleContent struct {
	Title     string
	Subtitle  Paragraph
	Verb      string
	StartPage string
}

func (TextContent) Category() models.PageCategory  { return models.CategoryText }
func (ImageContent) Category() models.PageCategory { return models.CategoryImage }
func (TitleContent) Category() models.PageCategory { return models.CategoryTitle }

func (c TextContent) view(id string) PageView {
	return PageView{
		ID:         id,
		Category:   models.CategoryText,
		Paragraphs: c.Paragraphs,
		Verbs:      c.Verbs,
		IsEnding:   len(c.Verbs) == 0,
	}
}

func (c ImageContent) view(id string) PageView {
	return PageView{
		ID:       id,
		Category: models.CategoryImage,
		Image: &ImageView{
			URL:      c.URL,
			Caption:  c.Caption,
			Title:    c.Title,
			Subtitle: c.Subtitle,
			NextPage: c.NextPage,
		},
		IsEnding: c.NextPage == "",
	}
}

func (c TitleContent) view(id string) PageView {
	return PageView{
		ID:       id,
		Category: models.CategoryTitle,
		Verbs:    []models.Verb{{ID: TitleStartVerb, Name: c.Verb}},
		Title:    &TitleView{Title: c.Title, Subtitle: c.Subtitle, Verb: c.Verb},
	}
}

// Page is one visit to a page. A new Page is built for every visit.
type Page struct {
	id          string
	content     PageContent
	actions     []*Action
	enter       *models.FlagRule
	exit        *models.ExitEvent
	actionCount int
	state       PageState
	nouns       map[string]struct{}
}

// NewPage builds a page instance from its serialization, dispatching on category.
func NewPage(spec *models.Page) (*Page, error) {
	var content PageContent

	switch spec.Category {
	case "", models.CategoryText:
		paragraphs, err := flattenText(spec.Text)
		if err != nil {
			return nil, apperrors.WrapError(err, fmt.Sprintf("page %q", spec.ID), apperrors.ErrorTypeConfiguration)
		}
		content = TextContent{Paragraphs: paragraphs, Verbs: spec.Verbs}
	case models.CategoryImage:
		content = ImageContent{
			URL:      spec.ImageURL,
			Caption:  spec.ImageCaption,
			Title:    spec.Title,
			Subtitle: spec.Subtitle,
			NextPage: spec.NextPage,
		}
	default:
		return nil, apperrors.NewConfigurationError(
			fmt.Sprintf("page %q has category %q", spec.ID, spec.Category),
			apperrors.ErrUnknownCategory,
		)
	}

	p := newPage(spec.ID, content, spec.EnterRule(), spec.ExitEvent())
	if _, isText := content.(TextContent); isText {
		for _, a := range spec.Actions {
			p.addAction(NewAction(a))
		}
	}
	return p, nil
}

// NewTitlePage builds the title page for book. Its only action starts the
// story at startPage.
func NewTitlePage(bookName, startPage string, title *models.TitlePage) *Page {
	if title == nil {
		title = &models.TitlePage{}
	}
	verb := title.Verb
	if verb == "" {
		verb = defaultPlayVerb
	}

	p := newPage("", TitleContent{
		Title:     bookName,
		Subtitle:  titleSubtitle(title.Subtitle, title.Author),
		Verb:      verb,
		StartPage: startPage,
	}, nil, nil)

	p.addAction(NewAction(models.Action{
		Noun: TitleStartNoun,
		Verb: TitleStartVerb,
		Behaviors: []models.Behavior{{
			Name:   "Start story",
			TurnTo: &models.TurnTo{Page: startPage, Immediately: true},
		}},
	}))
	return p
}

func newPage(id string, content PageContent, enter *models.FlagRule, exit *models.ExitEvent) *Page {
	p := &Page{
		id:      id,
		content: content,
		enter:   enter,
		exit:    exit,
		state:   PageEntering,
		nouns:   make(map[string]struct{}),
	}
	v := content.view(id)
	for _, noun := range v.NounIDs() {
		p.nouns[noun] = struct{}{}
	}
	return p
}

func (p *Page) addAction(a *Action) {
	a.page = p
	p.actions = append(p.actions, a)
}

func (p *Page) ID() string                    { return p.id }
func (p *Page) Category() models.PageCategory { return p.content.Category() }
func (p *Page) Content() PageContent          { return p.content }
func (p *Page) State() PageState              { return p.state }
func (p *Page) ActionCount() int              { return p.actionCount }
func (p *Page) Actions() []*Action            { return p.actions }

// View returns the page flattened for the renderer.
func (p *Page) View() PageView {
	return p.content.view(p.id)
}

// HasNoun reports whether nounID is an interactive noun on this page.
func (p *Page) HasNoun(nounID string) bool {
	_, ok := p.nouns[nounID]
	return ok
}

// FindAction returns the first active action for verbID and nounID, or nil.
func (p *Page) FindAction(verbID, nounID string) *Action {
	for _, a := range p.actions {
		if a.IsActionFor(verbID, nounID) {
			return a
		}
	}
	return nil
}

// NounsForVerb lists the nouns that still react to verbID.
func (p *Page) NounsForVerb(verbID string) []string {
	var nouns []string
	for _, a := range p.actions {
		if a.IsActionFor(verbID, "") {
			nouns = append(nouns, a.NounID())
		}
	}
	return nouns
}

// Enter applies the enter rule and makes the page accept actions.
func (p *Page) Enter(store *flags.Store) {
	if p.state != PageEntering {
		return
	}
	store.ApplyRule(p.enter)
	p.state = PageActive
}

// Exit applies the exit rule. Only the first call has an effect.
func (p *Page) Exit(store *flags.Store) {
	if p.state == PageClosed {
		return
	}
	if p.exit != nil {
		store.ApplyRule(&p.exit.FlagRule)
	}
	p.state = PageClosed
}

type timerRule struct {
	count  int
	target string
}

func (p *Page) timerRules() []timerRule {
	if p.exit == nil || !p.exit.Timer.Armed() {
		return nil
	}
	return []timerRule{{count: *p.exit.Timer.Count, target: *p.exit.Timer.Target}}
}

// timerTargetAt returns the page the exit timer opens when the counter equals count.
// The match is exact: a counter that skips past the timer count never fires it.
func (p *Page) timerTargetAt(count int) (string, bool) {
	timers := p.timerRules()
	idx, _ := rules.FirstMatch(timers, func(_ int, t timerRule) (bool, error) {
		return t.count == count, nil
	})
	if idx < 0 {
		return "", false
	}
	return timers[idx].target, true
}

// IncrementActionCount counts one executed behavior and reports the exit timer
// target when this increment makes it fire.
func (p *Page) IncrementActionCount() (target string, fired bool) {
	p.actionCount++
	return p.timerTargetAt(p.actionCount)
}
