package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Corphon/GamebookRuntime/internal/models"
	"github.com/Corphon/GamebookRuntime/internal/utils"
)

const cellarBook = `{
	"name": "The Cellar",
	"author": "Ann",
	"savefile": 2,
	"startpage": "hall",
	"cover": {"enabled": true, "author": "Ann"},
	"pages": [
		{
			"id": "hall",
			"text": [
				{"elem": "p"},
				{"text": "A "},
				{"elem": "span", "id": "door", "text": "door"},
				{"text": " and a "},
				{"elem": "span", "id": "lamp", "text": "lamp"},
				{"elem": "p"},
				{"text": "Nothing_else."}
			],
			"verbs": [{"id": "open", "name": "Open"}, {"id": "take", "name": "Take"}],
			"events": {
				"enter": {"setFlags": ["InHall"]},
				"exit": {
					"setFlags": ["visited"],
					"unsetFlags": ["inhall"],
					"timer": {"count": 2, "target": "dark"}
				}
			},
			"actions": [
				{"verb": "open", "noun": "door", "behaviors": [
					{"name": "locked", "condition": {"connective": "and", "setFlags": [], "unsetFlags": ["haskey"]},
					 "newParagraph": {"placement": "after", "text": "The door is locked."}},
					{"name": "open", "turnTo": "cellar", "setFlags": ["door_open"],
					 "newParagraph": {"placement": "end", "text": "It creaks open."}}
				]},
				{"verb": "take", "noun": "lamp", "behaviors": [
					{"name": "take lamp", "setFlags": ["haslamp", "haskey"], "changeNoun": "lit_[lamp]"}
				]},
				{"verb": "take", "noun": "door", "behaviors": [
					{"name": "nope", "condition": {"connective": "and", "setFlags": ["never"], "unsetFlags": []}}
				]}
			]
		},
		{
			"id": "cellar",
			"text": [{"text": "Cellar. The end."}],
			"events": {"enter": {"setFlags": ["incellar"]}},
			"actions": []
		},
		{
			"id": "dark",
			"text": [{"text": "Lights out."}],
			"verbs": [{"id": "wait", "name": "Wait"}],
			"actions": []
		},
		{"id": "pic", "category": "image", "imageUrl": "cellar.png", "imageCaption": "Steps", "nextPage": "cellar", "actions": []},
		{"id": "weird", "category": "video", "actions": []},
		{
			"id": "broken",
			"text": [{"text": "A "}, {"elem": "span", "id": "gate", "text": "gate"}],
			"verbs": [{"id": "open", "name": "Open"}],
			"actions": [
				{"verb": "open", "noun": "gate", "behaviors": [
					{"name": "bad placement", "newParagraph": {"placement": "middle", "text": "?"}}
				]},
				{"verb": "push", "noun": "gate", "behaviors": [{"name": "to nowhere", "turnTo": "missing"}]},
				{"verb": "kick", "noun": "ghost", "behaviors": [{"name": "ghost"}]},
				{"verb": "xor", "noun": "gate", "behaviors": [
					{"name": "x", "condition": {"connective": "xor", "setFlags": ["a"], "unsetFlags": []}},
					{"name": "d"}
				]}
			]
		}
	]
}`

func loadCellarBook(t *testing.T) *models.Book {
	t.Helper()
	var book models.Book
	require.NoError(t, json.Unmarshal([]byte(cellarBook), &book))
	return &book
}

func newTestStory(t *testing.T) (*Story, *Recorder, *utils.MetricsCollector) {
	t.Helper()
	rec := NewRecorder(nil)
	metrics := utils.NewMetricsCollector()
	logger := utils.NewLogger(nil, utils.ERROR)
	return NewStory(rec, WithLogger(logger), WithMetrics(metrics)), rec, metrics
}

func startedStory(t *testing.T) (*Story, *Recorder, *utils.MetricsCollector) {
	t.Helper()
	story, rec, metrics := newTestStory(t)
	require.NoError(t, story.Start(loadCellarBook(t), StartOptions{}))
	rec.Drain()
	return story, rec, metrics
}

func kinds(instructions []Instruction) []string {
	out := make([]string, len(instructions))
	for i, in := range instructions {
		out[i] = in.Kind
	}
	return out
}
