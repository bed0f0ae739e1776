package richtext

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// droppedElements are removed together with their content.
var droppedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
	atom.Frame:    true,
	atom.Frameset: true,
	atom.Link:     true,
	atom.Meta:     true,
	atom.Base:     true,
	atom.Form:     true,
	atom.Noscript: true,
	atom.Template: true,
}

var urlAttributes = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"formaction": true,
	"xlink:href": true,
	"poster":     true,
	"background": true,
}

// Sanitize removes active content from h while keeping formatting markup:
// script-like elements, event handler attributes and javascript: URLs.
func Sanitize(h HTML) (HTML, error) {
	if h == "" {
		return "", nil
	}
	nodes, err := parseFragment(string(h))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	for _, n := range nodes {
		clean(n)
		if n.Type == html.ElementNode && droppedElements[n.DataAtom] {
			continue
		}
		if err := html.Render(&sb, n); err != nil {
			return "", fmt.Errorf("render html: %w", err)
		}
	}
	return HTML(sb.String()), nil
}

func parseFragment(s string) ([]*html.Node, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	return html.ParseFragment(strings.NewReader(s), body)
}

func clean(n *html.Node) {
	if n.Type == html.ElementNode {
		n.Attr = cleanAttrs(n.Attr)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && droppedElements[c.DataAtom]:
			n.RemoveChild(c)
		default:
			clean(c)
		}
		c = next
	}
}

func cleanAttrs(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, a := range attrs {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if key == "style" && unsafeStyle(a.Val) {
			continue
		}
		if urlAttributes[key] && unsafeURL(a.Val) {
			continue
		}
		kept = append(kept, a)
	}
	return kept
}

func unsafeURL(v string) bool {
	// browsers ignore embedded whitespace and control characters in schemes
	var sb strings.Builder
	for _, r := range v {
		if r > ' ' {
			sb.WriteRune(r)
		}
	}
	u := strings.ToLower(sb.String())
	switch {
	case strings.HasPrefix(u, "javascript:"), strings.HasPrefix(u, "vbscript:"):
		return true
	case strings.HasPrefix(u, "data:"):
		return !strings.HasPrefix(u, "data:image/") || strings.HasPrefix(u, "data:image/svg")
	}
	return false
}

func unsafeStyle(v string) bool {
	s := strings.ToLower(v)
	return strings.Contains(s, "expression(") || strings.Contains(s, "javascript:") || strings.Contains(s, "url(")
}
