package doctree

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// WriteOptions controls XML serialization.
type WriteOptions struct {
	// Indent re-indents element-only content with the given string. Empty
	// keeps all character data exactly as parsed.
	Indent string
	// Declaration emits an XML declaration when the document has none.
	Declaration bool
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", "\"", "&quot;",
		"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;",
	)
)

// Write serializes doc as XML.
func Write(w io.Writer, doc *Document, opts WriteOptions) error {
	if doc == nil || doc.Root == nil {
		return fmt.Errorf("write %s: document has no root element", docName(doc))
	}
	bw := bufio.NewWriter(w)
	enc := &encoder{w: bw, indent: opts.Indent}

	hasDecl := len(doc.Prolog) > 0 && doc.Prolog[0].Kind == ProcInstNode && doc.Prolog[0].Name == "xml"
	if opts.Declaration && !hasDecl {
		enc.str(`<?xml version="1.0" encoding="utf-8"?>`)
		enc.str("\n")
	}
	for _, n := range doc.Prolog {
		enc.node(n, 0)
		enc.str("\n")
	}
	enc.node(doc.Root, 0)
	for _, n := range doc.Epilog {
		enc.str("\n")
		enc.node(n, 0)
	}
	if opts.Indent != "" {
		enc.str("\n")
	}
	if enc.err != nil {
		return fmt.Errorf("write %s: %w", docName(doc), enc.err)
	}
	return bw.Flush()
}

// WriteString serializes doc and returns the XML text.
func WriteString(doc *Document, opts WriteOptions) (string, error) {
	var sb strings.Builder
	if err := Write(&sb, doc, opts); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func docName(doc *Document) string {
	if doc == nil || doc.Name == "" {
		return "document"
	}
	return doc.Name
}

type encoder struct {
	w      *bufio.Writer
	indent string
	err    error
}

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.WriteString(s)
}

func (e *encoder) node(n *Node, depth int) {
	switch n.Kind {
	case TextNode:
		e.str(textEscaper.Replace(n.Text))
	case CommentNode:
		e.str("<!--" + n.Text + "-->")
	case ProcInstNode:
		if n.Text == "" {
			e.str("<?" + n.Name + "?>")
		} else {
			e.str("<?" + n.Name + " " + n.Text + "?>")
		}
	case DirectiveNode:
		e.str("<!" + n.Text + ">")
	case ElementNode:
		e.element(n, depth)
	}
}

func (e *encoder) element(n *Node, depth int) {
	e.str("<" + n.Name)
	for _, a := range n.Attrs {
		e.str(" " + a.Name + `="` + attrEscaper.Replace(a.Value) + `"`)
	}
	if len(n.Children) == 0 {
		e.str(" />")
		return
	}
	e.str(">")

	if e.indent != "" && elementOnly(n) {
		wrote := false
		for _, c := range n.Children {
			if c.Kind == TextNode {
				continue
			}
			e.str("\n" + strings.Repeat(e.indent, depth+1))
			e.node(c, depth+1)
			wrote = true
		}
		if wrote {
			e.str("\n" + strings.Repeat(e.indent, depth))
		}
	} else {
		for _, c := range n.Children {
			e.node(c, depth+1)
		}
	}
	e.str("</" + n.Name + ">")
}

// elementOnly reports whether n has no character data besides whitespace.
func elementOnly(n *Node) bool {
	for _, c := range n.Children {
		if c.Kind == TextNode && strings.TrimSpace(c.Text) != "" {
			return false
		}
	}
	return true
}
