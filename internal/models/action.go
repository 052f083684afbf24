// internal/models/action.go
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Connectives used in behavior conditions.
const (
	ConnectiveAnd = "and"
	ConnectiveOr  = "or"
)

// Paragraph placements for NewParagraph.
const (
	PlacementAfter   = "after"
	PlacementEnd     = "end"
	PlacementReplace = "replace"
)

// Action binds a verb to a noun and lists the behaviors it can trigger.
type Action struct {
	Name      string     `json:"name,omitempty"`
	Noun      string     `json:"noun"`
	Verb      string     `json:"verb"`
	Behaviors []Behavior `json:"behaviors"`
}

// Behavior is one conditional effect of an action. The last behavior of an
// action is its default.
type Behavior struct {
	Name         string        `json:"name"`
	Condition    *Condition    `json:"condition,omitempty"`
	NewParagraph *NewParagraph `json:"newParagraph,omitempty"`
	ChangeNoun   *string       `json:"changeNoun,omitempty"`
	SetFlags     FlagList      `json:"setFlags,omitempty"`
	UnsetFlags   FlagList      `json:"unsetFlags,omitempty"`
	TurnTo       *TurnTo       `json:"turnTo,omitempty"`
}

// FlagRule returns the behavior's flag changes as a rule.
func (b *Behavior) FlagRule() *FlagRule {
	return &FlagRule{SetFlags: b.SetFlags, UnsetFlags: b.UnsetFlags}
}

// Condition gates a behavior on flag state.
type Condition struct {
	Connective string   `json:"connective"`
	SetFlags   []string `json:"setFlags"`
	UnsetFlags []string `json:"unsetFlags"`
}

// IsEmpty reports the "no condition" marker: absent, or both lists empty.
func (c *Condition) IsEmpty() bool {
	return c == nil || len(c.SetFlags)+len(c.UnsetFlags) == 0
}

// NewParagraph adds or replaces story text.
type NewParagraph struct {
	Placement string `json:"placement"`
	Text      string `json:"text"`
}

// FlagList is a list of flag names. The book format also writes an empty
// list as "" which decodes to nil.
type FlagList []string

// UnmarshalJSON accepts an array, "" or null.
func (f *FlagList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*f = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if s != "" {
			return fmt.Errorf("flag list: expected array, got string %q", s)
		}
		*f = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// TurnTo is a navigation target. The wire format is either a page id string
// or {"page": id, "immediately": bool}.
type TurnTo struct {
	Page        string `json:"page,omitempty"`
	Immediately bool   `json:"immediately,omitempty"`
}

// UnmarshalJSON accepts both wire shapes.
func (t *TurnTo) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		*t = TurnTo{}
		return json.Unmarshal(trimmed, &t.Page)
	}
	type plain TurnTo
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*t = TurnTo(p)
	return nil
}
