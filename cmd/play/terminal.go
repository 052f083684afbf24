// cmd/play/terminal.go
package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/Corphon/GamebookRuntime/internal/engine"
)

// terminal renders pages as plain text. Interactive nouns are shown in
// brackets and the verbs of the page are listed below the text.
type terminal struct {
	out     io.Writer
	pending string
}

func newTerminal(out io.Writer) *terminal {
	return &terminal{out: out}
}

func (t *terminal) RenderPage(view engine.PageView) {
	t.pending = ""
	fmt.Fprintln(t.out)

	switch {
	case view.Title != nil:
		fmt.Fprintf(t.out, "== %s ==\n", view.Title.Title)
		fmt.Fprintln(t.out, renderParagraph(view.Title.Subtitle))
		fmt.Fprintf(t.out, "(type anything to %s)\n", view.Title.Verb)
		return
	case view.Image != nil:
		if view.Image.Title != "" {
			fmt.Fprintf(t.out, "== %s ==\n", view.Image.Title)
		}
		if view.Image.Subtitle != "" {
			fmt.Fprintln(t.out, view.Image.Subtitle)
		}
		fmt.Fprintf(t.out, "[image] %s\n", view.Image.URL)
		if view.Image.Caption != "" {
			fmt.Fprintln(t.out, view.Image.Caption)
		}
		if view.Image.NextPage != "" {
			fmt.Fprintln(t.out, "(n to turn the page)")
		}
	}

	for _, p := range view.Paragraphs {
		fmt.Fprintln(t.out, renderParagraph(p))
		fmt.Fprintln(t.out)
	}

	if len(view.Verbs) > 0 {
		names := make([]string, 0, len(view.Verbs))
		for _, v := range view.Verbs {
			names = append(names, v.Name)
		}
		fmt.Fprintf(t.out, "verbs: %s\n", strings.Join(names, ", "))
	}
	if view.IsEnding {
		fmt.Fprintln(t.out, "THE END (r to restart)")
	}
}

func (t *terminal) ChangeContent(change engine.ContentChange) {
	text := change.Text
	if change.HasNoun {
		text = change.Before + "[" + change.NounText + "]" + change.After
	}
	switch change.Kind {
	case engine.ChangeNounText:
		fmt.Fprintf(t.out, "  (%s is now [%s])\n", change.NounID, text)
	default:
		fmt.Fprintf(t.out, "%s\n", text)
	}
}

func (t *terminal) RequestNavigation(pageID string, immediate bool) {
	if !immediate {
		t.pending = pageID
	}
}

func (t *terminal) prompt(story *engine.Story) {
	if t.pending != "" && story.Pending() != nil {
		fmt.Fprint(t.out, "(c to continue) > ")
		return
	}
	fmt.Fprint(t.out, "> ")
}

func (t *terminal) help() {
	fmt.Fprintln(t.out, "commands: <verb> [noun], c continue, n next page, r [page] restart, look, flags, q quit")
}

// verbID maps a typed verb to its id by name, then by id.
func (t *terminal) verbID(view *engine.PageView, typed string) string {
	if view == nil {
		return typed
	}
	for _, v := range view.Verbs {
		if strings.EqualFold(v.Name, typed) {
			return v.ID
		}
	}
	return typed
}

// nounID maps a typed noun to its id by its label on the page, then by id.
func (t *terminal) nounID(view *engine.PageView, typed string) string {
	if view == nil {
		return typed
	}
	for _, p := range view.Paragraphs {
		for _, run := range p.Runs {
			if run.NounID != "" && strings.EqualFold(strings.TrimSpace(run.Text), typed) {
				return run.NounID
			}
		}
	}
	return typed
}

// labels returns the on-page text for each noun id.
func (t *terminal) labels(view *engine.PageView, nounIDs []string) []string {
	out := make([]string, 0, len(nounIDs))
	for _, id := range nounIDs {
		label := id
		if view != nil {
		search:
			for _, p := range view.Paragraphs {
				for _, run := range p.Runs {
					if run.NounID == id {
						label = strings.TrimSpace(run.Text)
						break search
					}
				}
			}
		}
		out = append(out, label)
	}
	return out
}

func renderParagraph(p engine.Paragraph) string {
	var b strings.Builder
	for _, run := range p.Runs {
		switch {
		case run.LineBreak:
			b.WriteString("\n")
		case run.NounID != "":
			b.WriteString("[" + run.Text + "]")
		case run.Style == "b":
			b.WriteString("*" + run.Text + "*")
		case run.Style == "i":
			b.WriteString("_" + run.Text + "_")
		default:
			b.WriteString(run.Text)
		}
	}
	return b.String()
}
