package browser

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/hdr-browser/api/schemas"
)

// indexAttribute marks observed elements so actions can find them again.
const indexAttribute = "data-hdr-index"

func selectorFor(index int) string {
	return fmt.Sprintf(`[%s="%d"]`, indexAttribute, index)
}

// observeScript tags every visible interactive element with a 1-based index
// and returns them with the page title, URL and visible text. It is a single
// expression so both engines can evaluate it unchanged.
const observeScript = `(() => {
  const attr = %q;
  const maxElements = %d;
  document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
  const selector = 'a[href], button, input, select, textarea, summary, [role="button"], [role="link"], [role="checkbox"], [role="tab"], [role="menuitem"], [onclick], [contenteditable="true"]';
  const visible = el => {
    const style = window.getComputedStyle(el);
    if (style.visibility === 'hidden' || style.display === 'none') return false;
    if (el.type === 'hidden') return false;
    const r = el.getBoundingClientRect();
    return r.width > 0 && r.height > 0;
  };
  const clean = s => (s || '').replace(/\s+/g, ' ').trim().slice(0, 120);
  const labelFor = el => {
    if (el.labels && el.labels.length) return el.labels[0].innerText;
    return el.getAttribute('aria-label') || el.getAttribute('placeholder') || el.getAttribute('title') ||
      el.getAttribute('name') || el.innerText || el.getAttribute('alt') || '';
  };
  const elements = [];
  for (const el of document.querySelectorAll(selector)) {
    if (elements.length >= maxElements) break;
    if (!visible(el) || el.disabled) continue;
    const index = elements.length + 1;
    el.setAttribute(attr, String(index));
    const tag = el.tagName.toLowerCase();
    const item = { index: index, tag: tag, name: clean(labelFor(el)) };
    const role = el.getAttribute('role');
    if (role) item.role = role;
    if (tag === 'input') item.type = (el.getAttribute('type') || 'text').toLowerCase();
    if ((tag === 'input' || tag === 'textarea' || tag === 'select') && el.value) item.value = clean(el.value);
    if (tag === 'a') item.href = el.href;
    elements.push(item);
  }
  const body = document.body ? document.body.innerText : '';
  return { url: location.href, title: document.title, elements: elements, text: body };
})()`

func buildObserveScript(maxElements int) string {
	if maxElements <= 0 {
		maxElements = 200
	}
	return fmt.Sprintf(observeScript, indexAttribute, maxElements)
}

// existsScript reports whether an indexed element is still attached.
func existsScript(index int) string {
	return fmt.Sprintf(`document.querySelector(%q) !== null`, selectorFor(index))
}

// centerScript returns the viewport coordinates of an element's center.
func centerScript(selector string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  el.scrollIntoView({block: 'center', inline: 'center'});
  const r = el.getBoundingClientRect();
  return [r.left + r.width / 2, r.top + r.height / 2];
})()`, selector)
}

func scrollScript(direction schemas.ScrollDirection) string {
	sign := 1
	if direction == schemas.ScrollUp {
		sign = -1
	}
	return fmt.Sprintf(`window.scrollBy(0, %d * Math.round(window.innerHeight * 0.8))`, sign)
}

// normalizeObservation collapses whitespace in the page text and applies the
// configured size limit.
func normalizeObservation(obs schemas.Observation, maxText int) schemas.Observation {
	obs.Text = condenseText(obs.Text, maxText)
	if obs.Elements == nil {
		obs.Elements = []schemas.Element{}
	}
	return obs
}

// condenseText joins non-empty lines with single newlines and truncates to
// maxLen runes when maxLen > 0.
func condenseText(text string, maxLen int) string {
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	out := strings.Join(kept, "\n")
	if maxLen > 0 {
		if r := []rune(out); len(r) > maxLen {
			out = string(r[:maxLen]) + "\n[truncated]"
		}
	}
	return out
}
