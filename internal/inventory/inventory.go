// Package inventory holds caller supplied secrets that the model may refer to
// by name but must never see. The model writes {{Name}} placeholders and the
// browser loop resolves them right before execution.
package inventory

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// ErrUnresolved is wrapped by every ResolutionError.
var ErrUnresolved = errors.New("inventory placeholder could not be resolved")

// ResolutionError reports a placeholder that names no inventory entry.
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no inventory entry named %q", e.Name)
}

func (e *ResolutionError) Unwrap() error { return ErrUnresolved }

// placeholderPattern matches {{Name}} with optional inner whitespace.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Placeholder returns the textual reference the model uses for an entry.
func Placeholder(name string) string {
	return "{{" + name + "}}"
}

// Entry is a single named secret. Value never leaves the process through
// JSON, fmt or zap.
type Entry struct {
	Name  string `json:"name"`
	Value string `json:"-"`
	Type  string `json:"type"`
}

// String masks the value.
func (e Entry) String() string {
	return fmt.Sprintf("%s(%s)=***", e.Name, e.Type)
}

// MarshalLogObject implements zapcore.ObjectMarshaler without the value.
func (e Entry) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", e.Name)
	enc.AddString("type", e.Type)
	return nil
}

// Inventory is an immutable set of entries keyed by name. A nil *Inventory is
// valid and empty.
type Inventory struct {
	entries map[string]Entry
	names   []string
	// censorOrder lists entries with non-empty values, longest value first, so
	// a value that contains another is replaced as a whole.
	censorOrder []Entry
}

// New builds an inventory. Names must be non-empty and unique.
func New(entries []Entry) (*Inventory, error) {
	inv := &Inventory{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, errors.New("inventory entry has an empty name")
		}
		if !placeholderPattern.MatchString(Placeholder(e.Name)) {
			return nil, fmt.Errorf("inventory entry name %q contains unsupported characters", e.Name)
		}
		if _, dup := inv.entries[e.Name]; dup {
			return nil, fmt.Errorf("duplicate inventory entry %q", e.Name)
		}
		if e.Type == "" {
			e.Type = "string"
		}
		inv.entries[e.Name] = e
		inv.names = append(inv.names, e.Name)
		if e.Value != "" {
			inv.censorOrder = append(inv.censorOrder, e)
		}
	}
	sort.Strings(inv.names)
	sort.SliceStable(inv.censorOrder, func(i, j int) bool {
		return len(inv.censorOrder[i].Value) > len(inv.censorOrder[j].Value)
	})
	return inv, nil
}

// Len returns the number of entries.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.entries)
}

// Names returns the sorted entry names.
func (inv *Inventory) Names() []string {
	if inv == nil {
		return nil
	}
	return append([]string(nil), inv.names...)
}

// Lookup returns the entry with the given name.
func (inv *Inventory) Lookup(name string) (Entry, bool) {
	if inv == nil {
		return Entry{}, false
	}
	e, ok := inv.entries[name]
	return e, ok
}

// Describe lists name and type of every entry, sorted by name. This is the
// only view of the inventory that may be shown to the model.
func (inv *Inventory) Describe() []Entry {
	out := make([]Entry, 0, inv.Len())
	for _, name := range inv.Names() {
		e := inv.entries[name]
		out = append(out, Entry{Name: e.Name, Type: e.Type})
	}
	return out
}

// Resolve substitutes every {{Name}} placeholder in text. The first unknown
// name fails the whole resolution.
func (inv *Inventory) Resolve(text string) (string, error) {
	var firstErr error
	out := placeholderPattern.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		e, ok := inv.Lookup(name)
		if !ok {
			if firstErr == nil {
				firstErr = &ResolutionError{Name: name}
			}
			return m
		}
		return e.Value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// ResolveAction returns a copy of action with placeholders in its free text
// fields resolved. The input is left untouched so that history keeps the
// placeholder form.
func (inv *Inventory) ResolveAction(action schemas.BrowserAction) (schemas.BrowserAction, error) {
	resolved := action
	var err error
	if resolved.Text, err = inv.Resolve(action.Text); err != nil {
		return schemas.BrowserAction{}, err
	}
	if resolved.URL, err = inv.Resolve(action.URL); err != nil {
		return schemas.BrowserAction{}, err
	}
	return resolved, nil
}

// Censor replaces every literal entry value in text with its placeholder.
func (inv *Inventory) Censor(text string) string {
	if inv == nil || text == "" {
		return text
	}
	for _, e := range inv.censorOrder {
		text = strings.ReplaceAll(text, e.Value, Placeholder(e.Name))
	}
	return text
}

// CensorObservation returns a copy of obs with every text field censored.
func (inv *Inventory) CensorObservation(obs schemas.Observation) schemas.Observation {
	if inv.Len() == 0 {
		return obs
	}
	out := obs
	out.URL = inv.Censor(obs.URL)
	out.Title = inv.Censor(obs.Title)
	out.Text = inv.Censor(obs.Text)
	out.Elements = make([]schemas.Element, len(obs.Elements))
	for i, el := range obs.Elements {
		el.Name = inv.Censor(el.Name)
		el.Value = inv.Censor(el.Value)
		el.Href = inv.Censor(el.Href)
		out.Elements[i] = el
	}
	return out
}
