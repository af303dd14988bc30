package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

func TestHTMLText(t *testing.T) {
	src := `<!doctype html>
<html>
<head><title> Contact us </title><style>body { color: red }</style></head>
<body>
  <h1>Contact</h1>
  <div>Sales: <a href="mailto:sales@example.com">sales@example.com</a></div>
  <ul><li>Support</li><li><a href="javascript:void(0)">Chat</a></li></ul>
  <noscript>enable js</noscript>
  <script>track()</script>
</body>
</html>`

	title, text, err := HTMLText(src)
	require.NoError(t, err)
	assert.Equal(t, "Contact us", title)
	assert.Equal(t, "Contact\nSales: sales@example.com (mailto:sales@example.com)\nSupport\nChat", text)
}

func TestCondenseText(t *testing.T) {
	assert.Equal(t, "a b\nc", condenseText(" a   b \n\n\t c ", 0))
	assert.Equal(t, "ab\n[truncated]", condenseText("abcdef", 2))
	assert.Equal(t, "é", condenseText("é", 1), "limit counts runes")
}

func TestBuildObserveScript(t *testing.T) {
	script := buildObserveScript(0)
	assert.Contains(t, script, `const attr = "data-hdr-index";`)
	assert.Contains(t, script, "const maxElements = 200;")
	assert.NotContains(t, script, "%!")
	assert.Contains(t, buildObserveScript(7), "const maxElements = 7;")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want schemas.ErrorCode
	}{
		{errors.New("Target crashed"), schemas.ErrCodeTargetCrashed},
		{errors.New("Page crashed!"), schemas.ErrCodeTargetCrashed},
		{errors.New("Target page, context or browser has been closed"), schemas.ErrCodeBrowserClosed},
		{fmt.Errorf("run: %w", ErrClosed), schemas.ErrCodeBrowserClosed},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), schemas.ErrCodeTimeoutError},
		{errors.New("Timeout 3000ms exceeded"), schemas.ErrCodeTimeoutError},
		{errors.New("element is not clickable"), schemas.ErrCodeExecutionFailure},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestWrapActionErrorKeepsCode(t *testing.T) {
	inner := actionErr(schemas.ActionType, schemas.ErrCodeElementNotFound, "gone")
	wrapped := wrapActionError(schemas.ActionType, fmt.Errorf("outer: %w", inner))
	assert.Equal(t, schemas.ErrCodeElementNotFound, CodeOf(wrapped))
	assert.Nil(t, wrapActionError(schemas.ActionType, nil))
	assert.Equal(t, schemas.ErrCodeExecutionFailure, CodeOf(errors.New("plain")))
	assert.True(t, strings.HasPrefix(inner.Error(), "Type failed (ELEMENT_NOT_FOUND)"))
}
