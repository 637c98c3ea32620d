package render

import (
	"path/filepath"
	"strings"

	"github.com/dgallion1/docinherit/internal/doctree"
)

// Item is a named entry such as a parameter or an exception.
type Item struct {
	Name string
	Text string
}

// Member is the reader-facing content of one member element.
type Member struct {
	Name       string
	Summary    string
	TypeParams []Item
	Params     []Item
	Returns    string
	Value      string
	Exceptions []Item
	Remarks    string
	Examples   []string
	SeeAlso    []string
}

// Title names the document: the assembly name when present, otherwise the
// file name without extension.
func Title(doc *doctree.Document) string {
	if doc == nil {
		return "Documentation"
	}
	if doc.Root != nil {
		for _, c := range doc.Root.Elements() {
			if !c.IsElement("assembly") {
				continue
			}
			for _, n := range c.Elements() {
				if n.IsElement("name") {
					if t := strings.TrimSpace(n.InnerText()); t != "" {
						return t
					}
				}
			}
		}
	}
	if doc.Name != "" {
		base := filepath.Base(doc.Name)
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "Documentation"
}

// Members collects every named member element in document order. Inline
// markup is converted with style.
func Members(doc *doctree.Document, style Style) []Member {
	if doc == nil || doc.Root == nil {
		return nil
	}
	var out []Member
	for _, n := range doc.Root.DescendantsAndSelf() {
		if !n.IsElement("member") {
			continue
		}
		name, _ := n.AttrValue("name")
		if strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, collect(n, name, style))
	}
	return out
}

func collect(n *doctree.Node, name string, style Style) Member {
	m := Member{Name: name}
	for _, c := range n.Elements() {
		switch c.Name {
		case "summary":
			m.Summary = join(m.Summary, style.Block(c))
		case "remarks":
			m.Remarks = join(m.Remarks, style.Block(c))
		case "returns":
			m.Returns = join(m.Returns, style.Block(c))
		case "value":
			m.Value = join(m.Value, style.Block(c))
		case "typeparam":
			v, _ := c.AttrValue("name")
			m.TypeParams = append(m.TypeParams, Item{Name: v, Text: style.Block(c)})
		case "param":
			v, _ := c.AttrValue("name")
			m.Params = append(m.Params, Item{Name: v, Text: style.Block(c)})
		case "exception":
			v, _ := c.AttrValue("cref")
			m.Exceptions = append(m.Exceptions, Item{Name: CrefName(v), Text: style.Block(c)})
		case "example":
			if t := style.Block(c); t != "" {
				m.Examples = append(m.Examples, t)
			}
		case "seealso":
			if v, ok := c.AttrValue("cref"); ok {
				m.SeeAlso = append(m.SeeAlso, CrefName(v))
			} else if v, ok := c.AttrValue("href"); ok {
				m.SeeAlso = append(m.SeeAlso, v)
			}
		}
	}
	return m
}

func join(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + "\n\n" + b
	}
}

// CrefName strips the kind prefix from a documentation identifier,
// "M:Ns.Type.Run(System.Int32)" becomes "Ns.Type.Run(System.Int32)".
func CrefName(cref string) string {
	if len(cref) > 2 && cref[1] == ':' {
		return cref[2:]
	}
	return cref
}

// Style converts inline documentation markup into text.
type Style struct {
	// Markdown renders code references and emphasis with Markdown syntax.
	// Without it the output is plain text.
	Markdown bool
}

// Block converts the content of n into paragraphs separated by blank lines.
func (s Style) Block(n *doctree.Node) string {
	var sb strings.Builder
	s.inline(&sb, n)
	return tidy(sb.String())
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "`", "\\`", "*", `\*`, "_", `\_`, "<", `\<`, "[", `\[`, "#", `\#`,
)

func (s Style) code(sb *strings.Builder, text string) {
	if s.Markdown {
		sb.WriteString("`" + strings.ReplaceAll(text, "`", "'") + "`")
		return
	}
	sb.WriteString(text)
}

func (s Style) inline(sb *strings.Builder, n *doctree.Node) {
	for _, c := range n.Children {
		switch c.Kind {
		case doctree.TextNode:
			text := collapseSpace(c.Text)
			if s.Markdown {
				text = mdEscaper.Replace(text)
			}
			sb.WriteString(text)
		case doctree.ElementNode:
			s.element(sb, c)
		}
	}
}

func (s Style) element(sb *strings.Builder, c *doctree.Node) {
	switch c.Name {
	case "see", "seealso":
		if v, ok := c.AttrValue("langword"); ok {
			s.code(sb, v)
			return
		}
		if v, ok := c.AttrValue("href"); ok {
			label := strings.TrimSpace(c.InnerText())
			if label == "" {
				label = v
			}
			if s.Markdown {
				sb.WriteString("[" + mdEscaper.Replace(label) + "](" + v + ")")
			} else {
				sb.WriteString(label)
			}
			return
		}
		if t := strings.TrimSpace(c.InnerText()); t != "" {
			s.code(sb, t)
			return
		}
		v, _ := c.AttrValue("cref")
		s.code(sb, CrefName(v))
	case "paramref", "typeparamref":
		v, _ := c.AttrValue("name")
		s.code(sb, v)
	case "c":
		s.code(sb, collapseSpace(c.InnerText()))
	case "code":
		code := strings.Trim(c.InnerText(), "\n")
		if s.Markdown {
			sb.WriteString("\n\n```\n" + code + "\n```\n\n")
		} else {
			sb.WriteString("\n\n" + code + "\n\n")
		}
	case "para":
		sb.WriteString("\n\n")
		s.inline(sb, c)
		sb.WriteString("\n\n")
	case "list":
		sb.WriteString("\n\n")
		for _, item := range c.Elements() {
			if !item.IsElement("item") {
				continue
			}
			sb.WriteString("- ")
			var line strings.Builder
			s.inline(&line, item)
			sb.WriteString(strings.TrimSpace(line.String()))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	case "b", "strong":
		if s.Markdown {
			sb.WriteString("**")
			s.inline(sb, c)
			sb.WriteString("**")
		} else {
			s.inline(sb, c)
		}
	case "i", "em":
		if s.Markdown {
			sb.WriteString("*")
			s.inline(sb, c)
			sb.WriteString("*")
		} else {
			s.inline(sb, c)
		}
	default:
		s.inline(sb, c)
	}
}

func collapseSpace(s string) string {
	if s == "" {
		return ""
	}
	lead := s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r'
	last := s[len(s)-1]
	trail := last == ' ' || last == '\n' || last == '\t' || last == '\r'
	body := strings.Join(strings.Fields(s), " ")
	if body == "" {
		return " "
	}
	if lead {
		body = " " + body
	}
	if trail {
		body += " "
	}
	return body
}

// tidy trims each paragraph and drops empty ones. Fenced code keeps its lines.
func tidy(s string) string {
	var paras []string
	inFence := false
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			paras = append(paras, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "```") {
			if !inFence {
				flush()
			}
			cur = append(cur, line)
			inFence = !inFence
			if !inFence {
				flush()
			}
			continue
		}
		if inFence {
			cur = append(cur, line)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return strings.Join(paras, "\n\n")
}
