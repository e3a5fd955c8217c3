// Package security holds the HTML sanitizer used for safe raw interpolation
// and the origin allow-list used by the live-reload endpoint.
package security

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultDeniedElements are removed, subtree included, from sanitized fragments.
var DefaultDeniedElements = []string{
	"script", "iframe", "object", "embed", "style", "link", "meta",
}

// Policy describes what the sanitizer strips from an HTML fragment.
type Policy struct {
	deniedElements map[string]bool
	urlAttributes  map[string]bool
	deniedSchemes  []string
	stripHandlers  bool
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithDeniedElements replaces the element deny-list.
func WithDeniedElements(elements ...string) PolicyOption {
	return func(p *Policy) {
		p.deniedElements = make(map[string]bool, len(elements))
		for _, e := range elements {
			p.deniedElements[strings.ToLower(strings.TrimSpace(e))] = true
		}
	}
}

// WithDeniedSchemes replaces the URL schemes rejected in href/src.
func WithDeniedSchemes(schemes ...string) PolicyOption {
	return func(p *Policy) {
		p.deniedSchemes = p.deniedSchemes[:0]
		for _, s := range schemes {
			s = strings.ToLower(strings.TrimSpace(s))
			if !strings.HasSuffix(s, ":") {
				s += ":"
			}
			p.deniedSchemes = append(p.deniedSchemes, s)
		}
	}
}

// NewPolicy returns the default policy with opts applied.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		urlAttributes: map[string]bool{"href": true, "src": true},
		deniedSchemes: []string{"javascript:"},
		stripHandlers: true,
	}
	WithDeniedElements(DefaultDeniedElements...)(p)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DeniedElements lists the element names the policy removes.
func (p *Policy) DeniedElements() []string {
	out := make([]string, 0, len(p.deniedElements))
	for e := range p.deniedElements {
		out = append(out, e)
	}
	return out
}

// Sanitize parses fragment as HTML body content and returns it with denied
// elements, inline event handlers and script URLs removed.
func (p *Policy) Sanitize(fragment string) (string, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), body)
	if err != nil {
		return "", fmt.Errorf("parsing fragment: %w", err)
	}

	var b strings.Builder
	for _, n := range nodes {
		if p.denied(n) {
			continue
		}
		p.clean(n)
		if err := render(&b, n); err != nil {
			return "", fmt.Errorf("rendering fragment: %w", err)
		}
	}
	return b.String(), nil
}

func (p *Policy) denied(n *html.Node) bool {
	return n.Type == html.ElementNode && p.deniedElements[strings.ToLower(n.Data)]
}

// clean strips attributes from n and removes denied descendants.
func (p *Policy) clean(n *html.Node) {
	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if p.unsafeAttr(a) {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}

	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if p.denied(c) {
			n.RemoveChild(c)
		} else {
			p.clean(c)
		}
		c = next
	}
}

func (p *Policy) unsafeAttr(a html.Attribute) bool {
	key := strings.ToLower(a.Key)
	if p.stripHandlers && strings.HasPrefix(key, "on") {
		return true
	}
	if p.urlAttributes[key] {
		val := strings.ToLower(strings.TrimSpace(a.Val))
		for _, scheme := range p.deniedSchemes {
			if strings.HasPrefix(val, scheme) {
				return true
			}
		}
	}
	return false
}

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

var rawTextElements = map[string]bool{
	"script": true, "style": true, "xmp": true, "iframe": true,
	"noembed": true, "noframes": true, "noscript": true, "plaintext": true,
}

// render serializes n in HTML5 form: void elements carry no closing slash
// and attribute values are always double-quoted.
func render(w io.StringWriter, n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		if n.Parent != nil && rawTextElements[n.Parent.Data] {
			_, err := w.WriteString(n.Data)
			return err
		}
		_, err := w.WriteString(html.EscapeString(n.Data))
		return err
	case html.CommentNode:
		_, err := w.WriteString("<!--" + n.Data + "-->")
		return err
	case html.ElementNode:
		var b strings.Builder
		b.WriteString("<")
		b.WriteString(n.Data)
		for _, a := range n.Attr {
			b.WriteString(" ")
			if a.Namespace != "" {
				b.WriteString(a.Namespace)
				b.WriteString(":")
			}
			b.WriteString(a.Key)
			b.WriteString(`="`)
			b.WriteString(html.EscapeString(a.Val))
			b.WriteString(`"`)
		}
		b.WriteString(">")
		if _, err := w.WriteString(b.String()); err != nil {
			return err
		}
		if voidElements[n.Data] {
			return nil
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := render(w, c); err != nil {
				return err
			}
		}
		_, err := w.WriteString("</" + n.Data + ">")
		return err
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := render(w, c); err != nil {
				return err
			}
		}
		return nil
	}
}
