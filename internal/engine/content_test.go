package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/GamebookRuntime/internal/errors"
	"github.com/Corphon/GamebookRuntime/internal/models"
)

func TestContentChangesPlacements(t *testing.T) {
	tests := []struct {
		placement string
		want      ChangeKind
	}{
		{models.PlacementAfter, ChangeInsertAfter},
		{models.PlacementEnd, ChangeAppend},
		{models.PlacementReplace, ChangeReplace},
	}

	for _, tt := range tests {
		t.Run(tt.placement, func(t *testing.T) {
			b := &models.Behavior{NewParagraph: &models.NewParagraph{Placement: tt.placement, Text: "The_[box] opens."}}
			changes, err := contentChanges(b, "room", "box")
			require.NoError(t, err)
			require.Len(t, changes, 1)
			assert.Equal(t, ContentChange{
				Kind:     tt.want,
				PageID:   "room",
				NounID:   "box",
				Text:     "The [box] opens.",
				HasNoun:  true,
				Before:   "The ",
				NounText: "box",
				After:    " opens.",
			}, changes[0])
		})
	}
}

func TestContentChangesOrder(t *testing.T) {
	noun := "open box"
	b := &models.Behavior{
		NewParagraph: &models.NewParagraph{Placement: models.PlacementEnd, Text: "Done."},
		ChangeNoun:   &noun,
	}

	changes, err := contentChanges(b, "room", "box")
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, ChangeAppend, changes[0].Kind)
	assert.Equal(t, ChangeNounText, changes[1].Kind)
	assert.Equal(t, "open box", changes[1].Text)
	assert.False(t, changes[1].HasNoun)
}

func TestContentChangesUnknownPlacement(t *testing.T) {
	b := &models.Behavior{NewParagraph: &models.NewParagraph{Placement: "before", Text: "x"}}
	_, err := contentChanges(b, "room", "box")
	assert.ErrorIs(t, err, apperrors.ErrUnknownPlacement)
	assert.True(t, apperrors.IsConfigurationError(err))
}

func TestContentChangesNone(t *testing.T) {
	changes, err := contentChanges(&models.Behavior{Name: "flags only"}, "room", "box")
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRecorderDrain(t *testing.T) {
	var seen []string
	rec := NewRecorder(func(in Instruction) { seen = append(seen, in.Kind) })

	rec.RequestNavigation("next", false)
	rec.ChangeContent(ContentChange{Kind: ChangeAppend})
	assert.Len(t, rec.Instructions(), 2)

	drained := rec.Drain()
	require.Len(t, drained, 2)
	assert.Equal(t, &Navigation{PageID: "next"}, drained[0].Navigation)
	assert.Empty(t, rec.Instructions())
	assert.Equal(t, []string{InstructionNavigate, InstructionChange}, seen)
}
