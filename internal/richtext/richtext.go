// Package richtext holds admin-authored HTML. Stored markup is trusted:
// only authenticated admins can write it and public pages render it
// verbatim. Sanitize is an optional extra pass applied on write.
package richtext

import (
	"html/template"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// HTML is markup written through the admin editor.
type HTML string

// Trusted marks h as safe for html/template. Callers must only pass
// admin-authored content.
func (h HTML) Trusted() template.HTML {
	return template.HTML(h)
}

// Text returns the visible text of h with whitespace collapsed.
func (h HTML) Text() string {
	if h == "" {
		return ""
	}
	nodes, err := parseFragment(string(h))
	if err != nil {
		return strings.Join(strings.Fields(string(h)), " ")
	}
	var sb strings.Builder
	for _, n := range nodes {
		collectText(n, &sb)
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// IsEmpty reports whether h renders no text, as with "<p><br></p>".
func (h HTML) IsEmpty() bool {
	return h.Text() == "" && !strings.Contains(string(h), "<img")
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteString(" ")
	case html.ElementNode:
		switch n.Data {
		case "script", "style":
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
}

// Field binds one HTML-valued draft field to its editor.
type Field struct {
	Name string

	mu       sync.Mutex
	value    HTML
	onChange func(HTML)
}

// NewField returns a field holding initial. onChange runs after every edit.
func NewField(name string, initial HTML, onChange func(HTML)) *Field {
	return &Field{Name: name, value: initial, onChange: onChange}
}

func (f *Field) Value() HTML {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

// OnChange replaces the value with newHTML as typed by the author.
func (f *Field) OnChange(newHTML string) {
	f.mu.Lock()
	f.value = HTML(newHTML)
	fn := f.onChange
	f.mu.Unlock()
	if fn != nil {
		fn(HTML(newHTML))
	}
}
