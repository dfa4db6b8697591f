package convert

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// node is a minimal element tree; IDoc segments are matched by local name only.
type node struct {
	name     string
	text     strings.Builder
	children []*node
}

func parseTree(source string) (*node, error) {
	dec := xml.NewDecoder(strings.NewReader(source))
	dec.CharsetReader = charsetReader

	var root *node
	var stack []*node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("document has no root element")
	}
	return root, nil
}

// find returns the first descendant named name in document order.
func (n *node) find(name string) *node {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
		if found := c.find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll returns every descendant named name in document order.
func (n *node) findAll(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
		out = append(out, c.findAll(name)...)
	}
	return out
}

// childrenNamed returns the direct children named name.
func (n *node) childrenNamed(name string) []*node {
	var out []*node
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// childText returns the text of the first direct child named name, or "".
func (n *node) childText(name string) string {
	if n == nil {
		return ""
	}
	for _, c := range n.children {
		if c.name == name {
			return c.text.String()
		}
	}
	return ""
}

// charsetReader accepts the single-byte declarations SAP systems commonly emit.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	var enc *charmap.Charmap
	switch strings.ToLower(label) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return input, nil
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		enc = charmap.ISO8859_1
	case "iso-8859-15", "iso8859-15", "latin9", "latin-9":
		enc = charmap.ISO8859_15
	case "windows-1252", "cp1252":
		enc = charmap.Windows1252
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
