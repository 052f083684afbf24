package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBehaviorDecodesLegacyShapes(t *testing.T) {
	raw := `{
		"name": "open door",
		"setFlags": "",
		"unsetFlags": ["Locked"],
		"turnTo": "hall",
		"changeNoun": "open [door]"
	}`

	var b Behavior
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	assert.Empty(t, b.SetFlags)
	assert.Equal(t, FlagList{"Locked"}, b.UnsetFlags)
	require.NotNil(t, b.TurnTo)
	assert.Equal(t, "hall", b.TurnTo.Page)
	assert.False(t, b.TurnTo.Immediately)
	require.NotNil(t, b.ChangeNoun)
	assert.Equal(t, "open [door]", *b.ChangeNoun)
}

func TestTurnToObject(t *testing.T) {
	var b Behavior
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","turnTo":{"page":"p2","immediately":true}}`), &b))
	assert.Equal(t, &TurnTo{Page: "p2", Immediately: true}, b.TurnTo)
}

func TestFlagListRejectsNonEmptyString(t *testing.T) {
	var f FlagList
	assert.Error(t, json.Unmarshal([]byte(`"a"`), &f))
}

func TestConditionIsEmpty(t *testing.T) {
	var nilCond *Condition
	assert.True(t, nilCond.IsEmpty())
	assert.True(t, (&Condition{Connective: "and"}).IsEmpty())
	assert.False(t, (&Condition{Connective: "and", UnsetFlags: []string{"x"}}).IsEmpty())
}

func TestTextElementNestedText(t *testing.T) {
	raw := `[{"text":"You see a "},{"elem":"span","id":"door","text":"door"},{"elem":"b","text":[{"text":"bold"}]}]`

	var segments []TextElement
	require.NoError(t, json.Unmarshal([]byte(raw), &segments))
	require.Len(t, segments, 3)
	assert.Equal(t, "You see a ", segments[0].Text)
	assert.Equal(t, "door", segments[1].ID)
	require.Len(t, segments[2].Children, 1)
	assert.Equal(t, "bold", segments[2].Children[0].Text)

	out, err := json.Marshal(segments)
	require.NoError(t, err)
	var again []TextElement
	require.NoError(t, json.Unmarshal(out, &again))
	assert.Equal(t, segments, again)
}

func TestTimerArmed(t *testing.T) {
	count := 2
	target := "end"
	empty := ""

	assert.False(t, (*Timer)(nil).Armed())
	assert.False(t, (&Timer{Count: &count}).Armed())
	assert.False(t, (&Timer{Count: &count, Target: &empty}).Armed())
	assert.True(t, (&Timer{Count: &count, Target: &target}).Armed())
}

func TestFindPage(t *testing.T) {
	book := &Book{Pages: []Page{{ID: "a"}, {ID: "b"}}}
	require.NotNil(t, book.FindPage("b"))
	assert.Equal(t, "b", book.FindPage("b").ID)
	assert.Nil(t, book.FindPage("c"))
}
