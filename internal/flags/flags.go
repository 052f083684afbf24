// internal/flags/flags.go
package flags

import (
	"sort"
	"strings"

	"github.com/Corphon/GamebookRuntime/internal/models"
)

// Store is the set of currently set story flags. Names are case-insensitive.
// A Store belongs to one story session and is not safe for concurrent use.
type Store struct {
	active map[string]struct{}
	known  map[string]struct{}
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		active: make(map[string]struct{}),
		known:  make(map[string]struct{}),
	}
}

func normalize(name string) string {
	return strings.ToLower(name)
}

func (s *Store) Set(name string) {
	s.active[normalize(name)] = struct{}{}
}

func (s *Store) Unset(name string) {
	delete(s.active, normalize(name))
}

func (s *Store) SetAll(names []string) {
	for _, name := range names {
		s.Set(name)
	}
}

func (s *Store) UnsetAll(names []string) {
	for _, name := range names {
		s.Unset(name)
	}
}

// ResetAll clears every set flag.
func (s *Store) ResetAll() {
	s.active = make(map[string]struct{})
}

func (s *Store) IsSet(name string) bool {
	_, ok := s.active[normalize(name)]
	return ok
}

func (s *Store) IsUnset(name string) bool {
	return !s.IsSet(name)
}

// ApplyRule sets the rule's setFlags and then unsets its unsetFlags, so a
// flag listed in both ends unset. A nil rule is a no-op.
func (s *Store) ApplyRule(rule *models.FlagRule) {
	if rule == nil {
		return
	}
	s.SetAll(rule.SetFlags)
	s.UnsetAll(rule.UnsetFlags)
}

// Active returns the set flags in sorted order.
func (s *Store) Active() []string {
	return sortedKeys(s.active)
}

// PopulateAllFlags records every flag name the book mentions. Used for debugging views.
func (s *Store) PopulateAllFlags(book *models.Book) {
	if book == nil {
		return
	}
	collect := func(names []string) {
		for _, name := range names {
			s.known[name] = struct{}{}
		}
	}
	collectRule := func(rule *models.FlagRule) {
		if rule != nil {
			collect(rule.SetFlags)
			collect(rule.UnsetFlags)
		}
	}

	for i := range book.Pages {
		page := &book.Pages[i]
		collectRule(page.EnterRule())
		if exit := page.ExitEvent(); exit != nil {
			collectRule(&exit.FlagRule)
		}
		for _, action := range page.Actions {
			for _, behavior := range action.Behaviors {
				collect(behavior.SetFlags)
				collect(behavior.UnsetFlags)
			}
		}
	}
}

// Known returns the flag names collected by PopulateAllFlags, as written in the book.
func (s *Store) Known() []string {
	return sortedKeys(s.known)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
