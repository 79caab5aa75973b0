package diagram

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is a minimal element tree. draw.io documents carry no mixed content,
// so an element keeps either child elements or a single trimmed text value.
type node struct {
	name     string
	attrs    []attr
	children []*node
	text     string
}

type attr struct {
	name  string
	value string
}

// ParseError reports a document that is not well-formed XML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return "parse diagram xml: " + e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

var errNoElement = errors.New("no root element")

// parse decodes s into a tree with exactly one top-level element.
func parse(s string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity

	var (
		top   *node
		stack []*node
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &ParseError{Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: qualified(t.Name)}
			for _, a := range t.Attr {
				n.attrs = append(n.attrs, attr{name: qualified(a.Name), value: a.Value})
			}
			if len(stack) == 0 {
				if top != nil {
					return nil, &ParseError{Err: fmt.Errorf("unexpected second top-level element <%s>", n.name)}
				}
				top = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			if len(stack) == 0 {
				return nil, &ParseError{Err: fmt.Errorf("unexpected text outside the root element: %q", truncate(text, 40))}
			}
			cur := stack[len(stack)-1]
			cur.text += text
		}
	}
	if top == nil {
		return nil, &ParseError{Err: errNoElement}
	}
	if len(stack) != 0 {
		return nil, &ParseError{Err: fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].name)}
	}
	return top, nil
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	// The decoder resolves known prefixes to namespace URLs; only the xmlns
	// declarations are worth keeping verbatim.
	if n.Space == "xmlns" {
		return "xmlns:" + n.Local
	}
	return n.Local
}

func (n *node) attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.name == name {
			return a.value, true
		}
	}
	return "", false
}

func (n *node) id() string {
	v, _ := n.attr("id")
	return v
}

func (n *node) child(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (n *node) childrenNamed(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// walk visits every descendant of n in document order.
func (n *node) walk(fn func(*node)) {
	for _, c := range n.children {
		fn(c)
		c.walk(fn)
	}
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"\n", "&#xa;",
		"\r", "&#xd;",
		"\t", "&#x9;",
	)
)

// render serializes n with two-space indentation.
func render(n *node) string {
	var b strings.Builder
	write(&b, n, 0)
	return strings.TrimRight(b.String(), "\n")
}

func write(b *strings.Builder, n *node, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(n.name)
	for _, a := range n.attrs {
		b.WriteByte(' ')
		b.WriteString(a.name)
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.value))
		b.WriteByte('"')
	}
	switch {
	case len(n.children) == 0 && n.text == "":
		b.WriteString("/>\n")
	case len(n.children) == 0:
		b.WriteByte('>')
		b.WriteString(textEscaper.Replace(n.text))
		b.WriteString("</")
		b.WriteString(n.name)
		b.WriteString(">\n")
	default:
		b.WriteString(">\n")
		if n.text != "" {
			b.WriteString(indent + "  ")
			b.WriteString(textEscaper.Replace(n.text))
			b.WriteByte('\n')
		}
		for _, c := range n.children {
			write(b, c, depth+1)
		}
		b.WriteString(indent)
		b.WriteString("</")
		b.WriteString(n.name)
		b.WriteString(">\n")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
