// Package resolve implements <inheritdoc> resolution over documentation trees:
// a member index built across every input tree, a splice of the referenced
// member's children in place of each placeholder, and removal of duplicate
// siblings after the splice.
package resolve

import (
	"sort"
	"strings"

	"github.com/dgallion1/docinherit/internal/doctree"
)

const (
	MemberTag      = "member"
	MemberNameAttr = "name"
	InheritTag     = "inheritdoc"
	CrefAttr       = "cref"
)

// DuplicatePolicy decides which member wins when two share an identifier.
type DuplicatePolicy int

const (
	// LastWins keeps the member visited last.
	LastWins DuplicatePolicy = iota
	// FirstWins keeps the member visited first.
	FirstWins
)

// Index maps member identifiers to their documentation nodes. It is
// read-only once BuildIndex returns and safe for concurrent lookups.
type Index struct {
	members    map[string]*doctree.Node
	duplicates []string
}

type indexConfig struct {
	policy DuplicatePolicy
}

// IndexOption configures BuildIndex.
type IndexOption func(*indexConfig)

// WithDuplicatePolicy sets how repeated identifiers are handled.
func WithDuplicatePolicy(p DuplicatePolicy) IndexOption {
	return func(c *indexConfig) { c.policy = p }
}

// BuildIndex scans trees in order, depth-first, and records every member
// element that carries a non-blank name. The trees are not modified.
func BuildIndex(trees []*doctree.Node, opts ...IndexOption) *Index {
	cfg := indexConfig{policy: LastWins}
	for _, o := range opts {
		o(&cfg)
	}

	idx := &Index{members: make(map[string]*doctree.Node)}
	seenDup := make(map[string]bool)
	for _, root := range trees {
		if root == nil {
			continue
		}
		for _, n := range root.DescendantsAndSelf() {
			if !n.IsElement(MemberTag) {
				continue
			}
			name, ok := n.AttrValue(MemberNameAttr)
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			if _, exists := idx.members[name]; exists {
				if !seenDup[name] {
					seenDup[name] = true
					idx.duplicates = append(idx.duplicates, name)
				}
				if cfg.policy == FirstWins {
					continue
				}
			}
			idx.members[name] = n
		}
	}
	return idx
}

// Lookup returns the member node for an identifier.
func (idx *Index) Lookup(name string) (*doctree.Node, bool) {
	if idx == nil {
		return nil, false
	}
	n, ok := idx.members[name]
	return n, ok
}

// Len returns the number of indexed members.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.members)
}

// Names returns all identifiers, sorted.
func (idx *Index) Names() []string {
	if idx == nil {
		return nil
	}
	names := make([]string, 0, len(idx.members))
	for name := range idx.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Duplicates returns identifiers that appeared more than once, in the order
// the second occurrence was found.
func (idx *Index) Duplicates() []string {
	if idx == nil {
		return nil
	}
	return append([]string(nil), idx.duplicates...)
}

// Overlay answers lookups from an index built over a copy of one tree, but
// returns the tree's own live members in place of their copies. A tree
// resolved through its Overlay sees splices already made to its members,
// while members of every other tree stay as they were indexed.
type Overlay struct {
	idx  *Index
	live map[*doctree.Node]*doctree.Node
}

// NewOverlay pairs the members of frozen with those of live. frozen must be an
// unmodified copy of live.
func NewOverlay(idx *Index, frozen, live *doctree.Node) *Overlay {
	o := &Overlay{idx: idx, live: make(map[*doctree.Node]*doctree.Node)}
	if frozen == nil || live == nil {
		return o
	}
	fs, ls := frozen.DescendantsAndSelf(), live.DescendantsAndSelf()
	if len(fs) != len(ls) {
		return o
	}
	for i, n := range fs {
		if n.IsElement(MemberTag) {
			o.live[n] = ls[i]
		}
	}
	return o
}

// Lookup returns the live member when the indexed one belongs to the
// overlaid tree.
func (o *Overlay) Lookup(name string) (*doctree.Node, bool) {
	n, ok := o.idx.Lookup(name)
	if !ok {
		return nil, false
	}
	if live, ok := o.live[n]; ok {
		return live, true
	}
	return n, true
}
