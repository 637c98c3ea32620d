package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// XMLParser handles XML documentation files. Namespace prefixes are kept as
// written so the tree serializes back the way it was read.
type XMLParser struct{}

func (p *XMLParser) Parse(r io.Reader, filename string) (*doctree.Document, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true

	doc := &doctree.Document{Name: filename}
	var stack []*doctree.Node
	rootClosed := false

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootClosed {
				return nil, fmt.Errorf("parse xml: unexpected element <%s> after document end", qualified(t.Name))
			}
			elem := doctree.NewElement(qualified(t.Name))
			for _, a := range t.Attr {
				elem.Attrs = append(elem.Attrs, &doctree.Attr{Name: qualified(a.Name), Value: a.Value})
			}
			if len(stack) == 0 {
				doc.Root = elem
			} else {
				stack[len(stack)-1].Append(elem)
			}
			stack = append(stack, elem)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse xml: unexpected </%s>", qualified(t.Name))
			}
			top := stack[len(stack)-1]
			if name := qualified(t.Name); name != top.Name {
				return nil, fmt.Errorf("parse xml: element <%s> closed by </%s>", top.Name, name)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				rootClosed = true
			}

		case xml.CharData:
			if len(stack) == 0 {
				if strings.TrimSpace(strings.TrimPrefix(string(t), "\uFEFF")) != "" {
					return nil, fmt.Errorf("parse xml: character data outside root element")
				}
				continue
			}
			appendText(stack[len(stack)-1], string(t))

		case xml.Comment:
			addOutside(doc, stack, rootClosed, doctree.NewComment(string(t)))

		case xml.ProcInst:
			addOutside(doc, stack, rootClosed, &doctree.Node{
				Kind: doctree.ProcInstNode,
				Name: t.Target,
				Text: strings.TrimSpace(string(t.Inst)),
			})

		case xml.Directive:
			addOutside(doc, stack, rootClosed, &doctree.Node{
				Kind: doctree.DirectiveNode,
				Text: string(t),
			})
		}
	}

	if len(stack) > 0 {
		return nil, fmt.Errorf("parse xml: unclosed element <%s>: %w", stack[len(stack)-1].Name, io.ErrUnexpectedEOF)
	}
	if doc.Root == nil {
		return nil, fmt.Errorf("parse xml: no root element: %w", io.ErrUnexpectedEOF)
	}
	return doc, nil
}

// appendText merges adjacent character data (text and CDATA sections arrive
// as separate tokens).
func appendText(parent *doctree.Node, text string) {
	if n := len(parent.Children); n > 0 && parent.Children[n-1].Kind == doctree.TextNode {
		parent.Children[n-1].Text += text
		return
	}
	parent.Append(doctree.NewText(text))
}

func addOutside(doc *doctree.Document, stack []*doctree.Node, rootClosed bool, n *doctree.Node) {
	switch {
	case len(stack) > 0:
		stack[len(stack)-1].Append(n)
	case rootClosed:
		doc.Epilog = append(doc.Epilog, n)
	default:
		doc.Prolog = append(doc.Prolog, n)
	}
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}
