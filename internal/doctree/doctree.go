package doctree

import "strings"

// Kind identifies what a Node holds.
type Kind int

const (
	ElementNode Kind = iota
	TextNode
	CommentNode
	ProcInstNode
	DirectiveNode
)

// Document is the root of a parsed documentation file.
type Document struct {
	Name   string  // Source path or upload name
	Prolog []*Node // Declaration, comments and directives before the root element
	Root   *Node   // Document element
	Epilog []*Node // Comments after the root element
}

// Attr is a single element attribute. Two attributes are the same attribute
// only if they are the same pointer.
type Attr struct {
	Name  string
	Value string
}

// Node is an element or a piece of character data in the tree.
// Element identity is pointer identity.
type Node struct {
	Kind     Kind
	Name     string  // Tag name for elements, target for processing instructions
	Attrs    []*Attr // Element attributes in document order
	Text     string  // Character data, comment body, instruction or directive content
	Children []*Node

	parent *Node
}

// NewElement creates a detached element.
func NewElement(name string, attrs ...*Attr) *Node {
	return &Node{Kind: ElementNode, Name: name, Attrs: attrs}
}

// NewText creates a detached character data node.
func NewText(text string) *Node {
	return &Node{Kind: TextNode, Text: text}
}

// NewComment creates a detached comment node.
func NewComment(text string) *Node {
	return &Node{Kind: CommentNode, Text: text}
}

// IsElement reports whether n is an element, optionally with the given tag.
func (n *Node) IsElement(name ...string) bool {
	if n == nil || n.Kind != ElementNode {
		return false
	}
	return len(name) == 0 || n.Name == name[0]
}

// Parent returns the containing element, or nil for a root or detached node.
func (n *Node) Parent() *Node {
	return n.parent
}

// Attr returns the attribute with the given name, or nil.
func (n *Node) Attr(name string) *Attr {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AttrValue returns the value of the named attribute and whether it exists.
func (n *Node) AttrValue(name string) (string, bool) {
	if a := n.Attr(name); a != nil {
		return a.Value, true
	}
	return "", false
}

// SetAttr sets or adds an attribute, keeping names unique.
func (n *Node) SetAttr(name, value string) {
	if a := n.Attr(name); a != nil {
		a.Value = value
		return
	}
	n.Attrs = append(n.Attrs, &Attr{Name: name, Value: value})
}

// Append adds children to the end of n, detaching them from any previous parent.
func (n *Node) Append(children ...*Node) *Node {
	for _, c := range children {
		if c.parent != nil && c.parent != n {
			c.Remove()
		}
		c.parent = n
		n.Children = append(n.Children, c)
	}
	return n
}

// SetChildren replaces the whole child list. Nodes that were children before
// and are not in the new list become detached.
func (n *Node) SetChildren(children []*Node) {
	keep := make(map[*Node]bool, len(children))
	for _, c := range children {
		keep[c] = true
	}
	for _, old := range n.Children {
		if !keep[old] {
			old.parent = nil
		}
	}
	list := make([]*Node, 0, len(children))
	for _, c := range children {
		if c.parent != nil && c.parent != n {
			c.Remove()
		}
		c.parent = n
		list = append(list, c)
	}
	n.Children = list
}

// Remove detaches n from its parent. It is a no-op for detached nodes.
func (n *Node) Remove() {
	p := n.parent
	if p == nil {
		return
	}
	if i := n.Index(); i >= 0 {
		p.Children = append(p.Children[:i:i], p.Children[i+1:]...)
	}
	n.parent = nil
}

// Index returns the position of n among its parent's children, or -1.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	for i, c := range n.parent.Children {
		if c == n {
			return i
		}
	}
	return -1
}

// Elements returns the element children of n in order.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// DescendantsAndSelf returns n and every element below it in document order.
// The slice is a snapshot; mutating the tree afterwards does not change it.
func (n *Node) DescendantsAndSelf() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(e *Node) {
		if e.Kind != ElementNode {
			return
		}
		out = append(out, e)
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(n)
	return out
}

// Copy returns a detached deep copy of n. Attributes are copied too, so the
// copy shares no identity with the original.
func (n *Node) Copy() *Node {
	c := &Node{Kind: n.Kind, Name: n.Name, Text: n.Text}
	if len(n.Attrs) > 0 {
		c.Attrs = make([]*Attr, len(n.Attrs))
		for i, a := range n.Attrs {
			c.Attrs[i] = &Attr{Name: a.Name, Value: a.Value}
		}
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			cc := child.Copy()
			cc.parent = c
			c.Children[i] = cc
		}
	}
	return c
}

// InnerText concatenates all character data below n.
func (n *Node) InnerText() string {
	var sb strings.Builder
	var walk func(*Node)
	walk = func(e *Node) {
		switch e.Kind {
		case TextNode:
			sb.WriteString(e.Text)
		case ElementNode:
			for _, c := range e.Children {
				walk(c)
			}
		}
	}
	walk(n)
	return sb.String()
}
