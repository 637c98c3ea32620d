package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// DOCXRenderer writes a Word document with a bold heading per member.
type DOCXRenderer struct{}

func (r *DOCXRenderer) Render(w io.Writer, doc *doctree.Document) error {
	if doc == nil || doc.Root == nil {
		return fmt.Errorf("render docx: document has no root element")
	}
	out := docx.New().WithDefaultTheme()
	out.AddParagraph().AddText(Title(doc)).Bold().Size("36")

	for _, m := range Members(doc, Style{}) {
		out.AddParagraph().AddText(m.Name).Bold().Size("28")
		paragraphs(out, m.Summary)
		labelled(out, "Type parameter", m.TypeParams)
		labelled(out, "Parameter", m.Params)
		if m.Returns != "" {
			p := out.AddParagraph()
			p.AddText("Returns: ").Bold()
			p.AddText(flatten(m.Returns))
		}
		if m.Value != "" {
			p := out.AddParagraph()
			p.AddText("Value: ").Bold()
			p.AddText(flatten(m.Value))
		}
		labelled(out, "Exception", m.Exceptions)
		if m.Remarks != "" {
			out.AddParagraph().AddText("Remarks").Bold()
			paragraphs(out, m.Remarks)
		}
		for _, ex := range m.Examples {
			out.AddParagraph().AddText("Example").Bold()
			paragraphs(out, ex)
		}
		if len(m.SeeAlso) > 0 {
			p := out.AddParagraph()
			p.AddText("See also: ").Bold()
			p.AddText(strings.Join(m.SeeAlso, ", "))
		}
	}

	if _, err := out.WriteTo(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}

func paragraphs(out *docx.Docx, text string) {
	if text == "" {
		return
	}
	for _, p := range strings.Split(text, "\n\n") {
		out.AddParagraph().AddText(p)
	}
}

func labelled(out *docx.Docx, label string, items []Item) {
	for _, it := range items {
		p := out.AddParagraph()
		p.AddText(label + " " + it.Name + ": ").Bold()
		p.AddText(flatten(it.Text))
	}
}

func flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
