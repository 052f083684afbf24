// internal/engine/content.go
package engine

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

// ChangeKind says where a content change goes.
type ChangeKind string

const (
	ChangeInsertAfter ChangeKind = "insert_after" // new paragraph after the noun's paragraph
	ChangeAppend      ChangeKind = "append"       // new paragraph at the end of the page
	ChangeReplace     ChangeKind = "replace"      // replace the noun's paragraph
	ChangeNounText    ChangeKind = "replace_noun" // replace the noun's own text
)

// ContentChange describes one text mutation. When the new text contains a
// [bracketed] part, HasNoun is set and the acted-on noun is re-attached in
// place of the brackets with NounText as its new label: Before + noun + After.
type ContentChange struct {
	Kind     ChangeKind `json:"kind"`
	PageID   string     `json:"page_id"`
	NounID   string     `json:"noun_id"`
	Text     string     `json:"text"`
	HasNoun  bool       `json:"has_noun,omitempty"`
	Before   string     `json:"before,omitempty"`
	NounText string     `json:"noun_text,omitempty"`
	After    string     `json:"after,omitempty"`
}

var bracketPattern = regexp.MustCompile(`^(.*?)\[(.+?)\](.*)`)

// processStoryText applies the book format's text conventions: underscores are spaces.
func processStoryText(text string) string {
	return strings.ReplaceAll(text, "_", " ")
}

func newContentChange(kind ChangeKind, pageID, nounID, raw string) ContentChange {
	text := processStoryText(raw)
	change := ContentChange{Kind: kind, PageID: pageID, NounID: nounID, Text: text}
	if m := bracketPattern.FindStringSubmatch(text); m != nil {
		change.HasNoun = true
		change.Before, change.NounText, change.After = m[1], m[2], m[3]
	}
	return change
}

func placementKind(placement string) (ChangeKind, error) {
	switch placement {
	case models.PlacementAfter:
		return ChangeInsertAfter, nil
	case models.PlacementEnd:
		return ChangeAppend, nil
	case models.PlacementReplace:
		return ChangeReplace, nil
	default:
		return "", apperrors.NewConfigurationError(
			fmt.Sprintf("paragraph placement %q", placement),
			apperrors.ErrUnknownPlacement,
		)
	}
}

// contentChanges builds the changes a behavior makes, in the order they are emitted.
func contentChanges(b *models.Behavior, pageID, nounID string) ([]ContentChange, error) {
	var changes []ContentChange

	if b.NewParagraph != nil {
		kind, err := placementKind(b.NewParagraph.Placement)
		if err != nil {
			return nil, err
		}
		changes = append(changes, newContentChange(kind, pageID, nounID, b.NewParagraph.Text))
	}

	if b.ChangeNoun != nil {
		changes = append(changes, newContentChange(ChangeNounText, pageID, nounID, *b.ChangeNoun))
	}

	return changes, nil
}
