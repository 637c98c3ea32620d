package render

import (
	"bytes"
	"fmt"
	"io"

	"github.com/yuin/goldmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// HTMLRenderer converts each member's Markdown section with goldmark and
// assembles the fragments into a standalone page.
type HTMLRenderer struct{}

func (r *HTMLRenderer) Render(w io.Writer, doc *doctree.Document) error {
	if doc == nil || doc.Root == nil {
		return fmt.Errorf("render html: document has no root element")
	}
	page, body := newPage(Title(doc))

	md := goldmark.New()
	h1 := element(atom.H1, "h1")
	h1.AppendChild(&html.Node{Type: html.TextNode, Data: Title(doc)})
	body.AppendChild(h1)

	for _, m := range Members(doc, Style{Markdown: true}) {
		var buf bytes.Buffer
		if err := md.Convert([]byte(MemberMarkdown(m)), &buf); err != nil {
			return fmt.Errorf("render html %s: %w", m.Name, err)
		}
		section := element(atom.Section, "section")
		section.Attr = []html.Attribute{{Key: "id", Val: m.Name}}
		nodes, err := html.ParseFragment(&buf, element(atom.Section, "section"))
		if err != nil {
			return fmt.Errorf("parse html fragment %s: %w", m.Name, err)
		}
		for _, n := range nodes {
			section.AppendChild(n)
		}
		body.AppendChild(section)
	}

	if _, err := io.WriteString(w, "<!DOCTYPE html>\n"); err != nil {
		return err
	}
	return html.Render(w, page)
}

func element(a atom.Atom, tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: tag}
}

func newPage(title string) (page, body *html.Node) {
	page = element(atom.Html, "html")
	head := element(atom.Head, "head")
	meta := element(atom.Meta, "meta")
	meta.Attr = []html.Attribute{{Key: "charset", Val: "utf-8"}}
	head.AppendChild(meta)
	t := element(atom.Title, "title")
	t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	head.AppendChild(t)
	body = element(atom.Body, "body")
	page.AppendChild(head)
	page.AppendChild(body)
	return page, body
}
