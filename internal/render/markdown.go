package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// MarkdownRenderer writes one section per member.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(w io.Writer, doc *doctree.Document) error {
	if doc == nil || doc.Root == nil {
		return fmt.Errorf("render markdown: document has no root element")
	}
	bw := bufio.NewWriter(w)
	bw.WriteString(Markdown(doc))
	return bw.Flush()
}

// Markdown returns the Markdown text for doc.
func Markdown(doc *doctree.Document) string {
	var sb strings.Builder
	sb.WriteString("# " + mdEscaper.Replace(Title(doc)) + "\n")
	for _, m := range Members(doc, Style{Markdown: true}) {
		sb.WriteString("\n")
		sb.WriteString(MemberMarkdown(m))
	}
	return sb.String()
}

// MemberMarkdown renders a single member section.
func MemberMarkdown(m Member) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## `%s`\n", m.Name)
	para := func(text string) {
		if text != "" {
			sb.WriteString("\n" + text + "\n")
		}
	}
	items := func(heading string, list []Item) {
		if len(list) == 0 {
			return
		}
		sb.WriteString("\n**" + heading + "**\n\n")
		for _, it := range list {
			line := "- `" + it.Name + "`"
			if it.Text != "" {
				line += ": " + indentContinuation(it.Text)
			}
			sb.WriteString(line + "\n")
		}
	}

	para(m.Summary)
	items("Type parameters", m.TypeParams)
	items("Parameters", m.Params)
	if m.Returns != "" {
		para("**Returns:** " + m.Returns)
	}
	if m.Value != "" {
		para("**Value:** " + m.Value)
	}
	items("Exceptions", m.Exceptions)
	if m.Remarks != "" {
		sb.WriteString("\n### Remarks\n")
		para(m.Remarks)
	}
	for _, ex := range m.Examples {
		sb.WriteString("\n### Example\n")
		para(ex)
	}
	if len(m.SeeAlso) > 0 {
		sb.WriteString("\n**See also**\n\n")
		for _, s := range m.SeeAlso {
			sb.WriteString("- `" + s + "`\n")
		}
	}
	return sb.String()
}

// indentContinuation keeps multi-paragraph text inside a list item.
func indentContinuation(text string) string {
	return strings.ReplaceAll(text, "\n", "\n  ")
}
