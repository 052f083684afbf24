// internal/models/page.go
package models

import (
	"encoding/json"
	"fmt"
)

// PageCategory selects how a page is presented and what it can do.
type PageCategory string

const (
	CategoryText  PageCategory = "text"
	CategoryImage PageCategory = "image"
	CategoryTitle PageCategory = "title"
)

// Page is one serialized page of a book.
type Page struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	Category     PageCategory  `json:"category,omitempty"`
	Actions      []Action      `json:"actions"`
	Events       *PageEvents   `json:"events,omitempty"`
	Text         []TextElement `json:"text,omitempty"`
	Verbs        []Verb        `json:"verbs,omitempty"`
	ImageURL     string        `json:"imageUrl,omitempty"`
	ImageCaption string        `json:"imageCaption,omitempty"`
	NextPage     string        `json:"nextPage,omitempty"`
	Title        string        `json:"title,omitempty"`
	Subtitle     string        `json:"subtitle,omitempty"`
}

// PageEvents holds the flag rules applied when entering and leaving a page.
type PageEvents struct {
	Enter *FlagRule  `json:"enter,omitempty"`
	Exit  *ExitEvent `json:"exit,omitempty"`
}

// EnterRule returns the enter rule or nil.
func (p *Page) EnterRule() *FlagRule {
	if p.Events == nil {
		return nil
	}
	return p.Events.Enter
}

// ExitEvent returns the exit event or nil.
func (p *Page) ExitEvent() *ExitEvent {
	if p.Events == nil {
		return nil
	}
	return p.Events.Exit
}

// FlagRule sets and then unsets flags.
type FlagRule struct {
	SetFlags   FlagList `json:"setFlags,omitempty"`
	UnsetFlags FlagList `json:"unsetFlags,omitempty"`
}

// ExitEvent is the exit flag rule plus the optional "after N actions" timer.
type ExitEvent struct {
	FlagRule
	Timer *Timer `json:"timer,omitempty"`
}

// Timer moves the player to Target after Count executed actions on the page.
type Timer struct {
	Count  *int    `json:"count"`
	Target *string `json:"target"`
}

// Armed reports whether the timer has both a count and a target.
func (t *Timer) Armed() bool {
	return t != nil && t.Count != nil && t.Target != nil && *t.Target != ""
}

// Verb is a player-invokable action shown on a text page.
type Verb struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TextElement is one segment of page text. Elem is "", "p", "br", "b", "i" or "span".
// A segment with an ID is an interactive noun. Text may be a string or, in
// older stories, a nested list of segments which is decoded into Children.
type TextElement struct {
	Elem     string        `json:"elem,omitempty"`
	ID       string        `json:"id,omitempty"`
	Text     string        `json:"-"`
	Children []TextElement `json:"-"`
}

type textElementWire struct {
	Elem string          `json:"elem,omitempty"`
	ID   string          `json:"id,omitempty"`
	Text json.RawMessage `json:"text,omitempty"`
}

// UnmarshalJSON accepts text as a string or an array of segments.
func (t *TextElement) UnmarshalJSON(data []byte) error {
	var wire textElementWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*t = TextElement{Elem: wire.Elem, ID: wire.ID}
	if len(wire.Text) == 0 || string(wire.Text) == "null" {
		return nil
	}
	switch wire.Text[0] {
	case '"':
		return json.Unmarshal(wire.Text, &t.Text)
	case '[':
		return json.Unmarshal(wire.Text, &t.Children)
	default:
		return fmt.Errorf("text segment: unsupported text value %s", string(wire.Text))
	}
}

// MarshalJSON writes the same shape UnmarshalJSON reads.
func (t TextElement) MarshalJSON() ([]byte, error) {
	wire := textElementWire{Elem: t.Elem, ID: t.ID}
	var err error
	switch {
	case t.Children != nil:
		wire.Text, err = json.Marshal(t.Children)
	case t.Text != "":
		wire.Text, err = json.Marshal(t.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire)
}
