// internal/engine/view.go
package engine

import (
	"fmt"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

// PageView is a page flattened for presentation.
type PageView struct {
	ID         string              `json:"id"`
	Category   models.PageCategory `json:"category"`
	Paragraphs []Paragraph         `json:"paragraphs,omitempty"`
	Verbs      []models.Verb       `json:"verbs,omitempty"`
	Image      *ImageView          `json:"image,omitempty"`
	Title      *TitleView          `json:"title,omitempty"`
	// IsEnding means the story stops here and the renderer offers a restart.
	IsEnding bool `json:"is_ending"`
}

// Paragraph is a run of inline text.
type Paragraph struct {
	Runs []Run `json:"runs"`
}

// Run is one inline piece of text. A run with a NounID is interactive.
type Run struct {
	Text      string `json:"text,omitempty"`
	Style     string `json:"style,omitempty"` // "", "b", "i" or "span"
	NounID    string `json:"noun_id,omitempty"`
	LineBreak bool   `json:"line_break,omitempty"`
}

// ImageView holds the fields of an image page.
type ImageView struct {
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	NextPage string `json:"next_page,omitempty"`
}

// TitleView holds the fields of the title page.
type TitleView struct {
	Title    string    `json:"title"`
	Subtitle Paragraph `json:"subtitle"`
	Verb     string    `json:"verb"`
}

// NounIDs lists the interactive nouns of the view in reading order.
func (v *PageView) NounIDs() []string {
	var ids []string
	collect := func(p Paragraph) {
		for _, run := range p.Runs {
			if run.NounID != "" {
				ids = append(ids, run.NounID)
			}
		}
	}
	for _, p := range v.Paragraphs {
		collect(p)
	}
	if v.Title != nil {
		collect(v.Title.Subtitle)
	}
	return ids
}

// flattenText turns serialized text segments into paragraphs. The first
// segment is allowed to be a redundant "p".
func flattenText(segments []models.TextElement) ([]Paragraph, error) {
	f := &flattener{}
	for i, seg := range segments {
		if err := f.segment(seg, i == 0, "", ""); err != nil {
			return nil, err
		}
	}
	if len(f.current.Runs) > 0 {
		f.paragraphs = append(f.paragraphs, f.current)
	}
	return f.paragraphs, nil
}

type flattener struct {
	paragraphs []Paragraph
	current    Paragraph
}

func (f *flattener) segment(seg models.TextElement, isFirst bool, style, nounID string) error {
	switch seg.Elem {
	case "":
		if seg.Children != nil {
			return f.children(seg.Children, style, nounID)
		}
		if seg.Text != "" {
			f.current.Runs = append(f.current.Runs, Run{Text: seg.Text, Style: style, NounID: nounID})
		}

	case "p":
		if isFirst {
			return nil
		}
		f.paragraphs = append(f.paragraphs, f.current)
		f.current = Paragraph{}

	case "br":
		f.current.Runs = append(f.current.Runs, Run{LineBreak: true})

	case "b", "i", "span":
		id := nounID
		if seg.ID != "" {
			id = seg.ID
		}
		if seg.Children != nil {
			return f.children(seg.Children, seg.Elem, id)
		}
		f.current.Runs = append(f.current.Runs, Run{Text: processStoryText(seg.Text), Style: seg.Elem, NounID: id})

	default:
		return apperrors.NewConfigurationError(
			fmt.Sprintf("page segment with elem %q", seg.Elem),
			apperrors.ErrUnknownElement,
		)
	}
	return nil
}

func (f *flattener) children(children []models.TextElement, style, nounID string) error {
	for _, child := range children {
		if err := f.segment(child, false, style, nounID); err != nil {
			return err
		}
	}
	return nil
}

// titleSubtitle builds the title page subtitle. The bracketed word becomes the start noun.
func titleSubtitle(subtitle, author string) Paragraph {
	text := subtitle
	if text == "" {
		if author == "" {
			author = "Anonymous"
		}
		text = "A [story] by " + author
	}

	processed := processStoryText(text)
	m := bracketPattern.FindStringSubmatch(processed)
	if m == nil {
		return Paragraph{Runs: []Run{{Text: processed, Style: "span", NounID: TitleStartNoun}}}
	}

	var runs []Run
	if m[1] != "" {
		runs = append(runs, Run{Text: m[1]})
	}
	runs = append(runs, Run{Text: m[2], Style: "span", NounID: TitleStartNoun})
	if m[3] != "" {
		runs = append(runs, Run{Text: m[3]})
	}
	return Paragraph{Runs: runs}
}
