package schemas

import "fmt"

// -- Observation Schemas --

// Element is one interactive node of the current page. Index is stable for the
// lifetime of a single observation and is how actions address elements.
type Element struct {
	Index int    `json:"index"`
	Tag   string `json:"tag"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"` // Accessible name, label, placeholder or visible text.
	Type  string `json:"type,omitempty"` // Input type for form controls.
	Value string `json:"value,omitempty"`
	Href  string `json:"href,omitempty"`
}

// Observation is the browser's rendering of the current page state handed to
// the model. It carries no executable handles.
type Observation struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Elements []Element `json:"elements"`
	Text     string    `json:"text,omitempty"` // Condensed visible text of the page.
}

// ElementByIndex returns the element with the given index, if present.
func (o Observation) ElementByIndex(index int) (Element, bool) {
	for _, el := range o.Elements {
		if el.Index == index {
			return el, true
		}
	}
	return Element{}, false
}

// -- Browser Action Schemas --

// ActionKind is the closed set of browser actions the model may request.
type ActionKind string

const (
	ActionClick  ActionKind = "Click"  // Clicks an element by index.
	ActionType   ActionKind = "Type"   // Replaces the value of an input with text.
	ActionEnter  ActionKind = "Enter"  // Presses Enter while an element is focused.
	ActionHover  ActionKind = "Hover"  // Moves the pointer over an element.
	ActionScroll ActionKind = "Scroll" // Scrolls the viewport up or down.
	ActionBack   ActionKind = "Back"   // Navigates back in history.
	ActionWait   ActionKind = "Wait"   // Pauses to let the page settle.
	ActionGoto   ActionKind = "Goto"   // Navigates to an absolute URL.
)

// AllActionKinds lists every ActionKind in catalogue order.
var AllActionKinds = []ActionKind{
	ActionClick, ActionType, ActionEnter, ActionHover,
	ActionScroll, ActionBack, ActionWait, ActionGoto,
}

// ScrollDirection is the direction parameter of a Scroll action.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// MaxWaitMs is the longest pause a Wait action may request.
const MaxWaitMs = 10000

// BrowserAction is a single concrete step for the browser. Which fields are
// meaningful depends on Kind. Element indices start at 1.
type BrowserAction struct {
	Kind       ActionKind      `json:"kind"`
	Index      int             `json:"index,omitempty"`
	Text       string          `json:"text,omitempty"`
	Direction  ScrollDirection `json:"direction,omitempty"`
	URL        string          `json:"url,omitempty"`
	DurationMs int             `json:"durationMs,omitempty"`
}

// String renders a compact human readable form of the action. Text is shown as
// given, so callers must only format unresolved (placeholder) actions.
func (a BrowserAction) String() string {
	switch a.Kind {
	case ActionClick, ActionEnter, ActionHover:
		return fmt.Sprintf("%s(%d)", a.Kind, a.Index)
	case ActionType:
		return fmt.Sprintf("%s(%d, %q)", a.Kind, a.Index, a.Text)
	case ActionScroll:
		return fmt.Sprintf("%s(%s)", a.Kind, a.Direction)
	case ActionGoto:
		return fmt.Sprintf("%s(%s)", a.Kind, a.URL)
	case ActionWait:
		return fmt.Sprintf("%s(%dms)", a.Kind, a.DurationMs)
	default:
		return string(a.Kind)
	}
}

// -- Executor Error Codes --

// ErrorCode is a string type used for structured error reporting from action executors.
// Using a custom type ensures that only predefined constants can be used where an
// ErrorCode is expected, preventing a class of bugs.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	// -- Browser/DOM Errors --
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"
	// -- Catastrophic Browser Errors --
	// ErrCodeTargetCrashed means the renderer for the page is gone.
	ErrCodeTargetCrashed ErrorCode = "TARGET_CRASHED"
	// ErrCodeBrowserClosed means the page or browser was closed underneath the caller.
	ErrCodeBrowserClosed ErrorCode = "BROWSER_CLOSED"
)
