package browser

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skippedContent holds elements whose text never reaches the model.
var skippedContent = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

// blockElements end the current line of text.
var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Form: true, atom.Pre: true,
	atom.Blockquote: true, atom.Td: true, atom.Th: true,
}

// HTMLText extracts the document title and the readable text of an HTML
// document. Link targets are kept inline so extraction can see them.
func HTMLText(src string) (title, text string, err error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse page HTML: %w", err)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Title {
				if title == "" && n.FirstChild != nil {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			}
			if skippedContent[n.DataAtom] {
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				sb.WriteString(t)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.A {
				if href := attr(n, "href"); href != "" && !strings.HasPrefix(href, "javascript:") {
					fmt.Fprintf(&sb, "(%s) ", href)
				}
			}
			if blockElements[n.DataAtom] {
				sb.WriteByte('\n')
			}
		}
	}
	walk(doc)
	return title, condenseText(sb.String(), 0), nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
