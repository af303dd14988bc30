package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// TestConstants verifies that all defined constants hold their expected string values.
// These values travel over the wire to the model and to collective memory.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		// LLM ModelTiers
		{"TierFast", schemas.TierFast, "fast"},
		{"TierPowerful", schemas.TierPowerful, "powerful"},

		// ActionKinds
		{"ActionClick", schemas.ActionClick, "Click"},
		{"ActionType", schemas.ActionType, "Type"},
		{"ActionEnter", schemas.ActionEnter, "Enter"},
		{"ActionHover", schemas.ActionHover, "Hover"},
		{"ActionScroll", schemas.ActionScroll, "Scroll"},
		{"ActionBack", schemas.ActionBack, "Back"},
		{"ActionWait", schemas.ActionWait, "Wait"},
		{"ActionGoto", schemas.ActionGoto, "Goto"},

		// ErrorCodes
		{"ErrCodeElementNotFound", schemas.ErrCodeElementNotFound, "ELEMENT_NOT_FOUND"},
		{"ErrCodeNavigationError", schemas.ErrCodeNavigationError, "NAVIGATION_ERROR"},
		{"ErrCodeTargetCrashed", schemas.ErrCodeTargetCrashed, "TARGET_CRASHED"},
		{"ErrCodeBrowserClosed", schemas.ErrCodeBrowserClosed, "BROWSER_CLOSED"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprintf("%v", tc.constant))
		})
	}
}

func TestAllActionKindsIsComplete(t *testing.T) {
	assert.Len(t, schemas.AllActionKinds, 8)
	seen := make(map[schemas.ActionKind]bool)
	for _, k := range schemas.AllActionKinds {
		assert.False(t, seen[k], "duplicate kind %s", k)
		seen[k] = true
	}
}

func TestBrowserActionString(t *testing.T) {
	assert.Equal(t, `Type(2, "{{Username}}")`, schemas.BrowserAction{Kind: schemas.ActionType, Index: 2, Text: "{{Username}}"}.String())
	assert.Equal(t, "Click(4)", schemas.BrowserAction{Kind: schemas.ActionClick, Index: 4}.String())
	assert.Equal(t, "Scroll(down)", schemas.BrowserAction{Kind: schemas.ActionScroll, Direction: schemas.ScrollDown}.String())
	assert.Equal(t, "Back", schemas.BrowserAction{Kind: schemas.ActionBack}.String())
}

func TestObservationElementByIndex(t *testing.T) {
	obs := schemas.Observation{Elements: []schemas.Element{{Index: 1, Tag: "input"}, {Index: 2, Tag: "button"}}}
	el, ok := obs.ElementByIndex(2)
	assert.True(t, ok)
	assert.Equal(t, "button", el.Tag)
	_, ok = obs.ElementByIndex(9)
	assert.False(t, ok)
}
