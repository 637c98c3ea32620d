package resolve

import "github.com/dgallion1/docinherit/internal/doctree"

// Report summarizes one Resolve call.
type Report struct {
	Resolved   int      // Placeholders replaced
	Removed    int      // Duplicate siblings dropped after splices
	Unresolved []string // Crefs of placeholders still in the tree after the last pass
	Passes     int      // Snapshot passes run
}

type resolveConfig struct {
	maxPasses int
}

// ResolveOption configures Resolve.
type ResolveOption func(*resolveConfig)

// MaxPasses sets how many snapshot passes Resolve may run. One pass resolves
// only placeholders present before resolution started; placeholders copied in
// by a splice are left for the next pass. Further passes run only while the
// previous one resolved something, so a reference cycle grows the tree by at
// most n splices per placeholder. Values below 1 mean 1.
func MaxPasses(n int) ResolveOption {
	return func(c *resolveConfig) {
		if n < 1 {
			n = 1
		}
		c.maxPasses = n
	}
}

// Members looks up member definitions by identifier.
type Members interface {
	Lookup(name string) (*doctree.Node, bool)
}

// Resolve replaces every <inheritdoc cref="..."/> under root whose cref is in
// idx with copies of the referenced member's children, then drops duplicate
// siblings around each splice. The tree is modified in place; idx is only read.
func Resolve(root *doctree.Node, idx Members, opts ...ResolveOption) Report {
	cfg := resolveConfig{maxPasses: 1}
	for _, o := range opts {
		o(&cfg)
	}

	var rep Report
	if root == nil {
		return rep
	}
	for rep.Passes < cfg.maxPasses {
		rep.Passes++
		resolved, removed := resolvePass(root, idx)
		rep.Resolved += resolved
		rep.Removed += removed
		if resolved == 0 {
			break
		}
	}
	rep.Unresolved = remaining(root)
	return rep
}

func resolvePass(root *doctree.Node, idx Members) (resolved, removed int) {
	// The work list is fixed before the first splice; nodes added by a splice
	// are not visited in this pass.
	for _, node := range root.DescendantsAndSelf() {
		if !node.IsElement(InheritTag) {
			continue
		}
		cref, ok := node.AttrValue(CrefAttr)
		if !ok || idx == nil {
			continue
		}
		member, ok := idx.Lookup(cref)
		if !ok {
			continue
		}
		parent := node.Parent()
		if parent == nil {
			// The root, or a placeholder already dropped by an earlier dedupe.
			continue
		}
		removed += splice(parent, node, member)
		resolved++
	}
	return resolved, removed
}

// remaining lists the crefs of placeholders left under root, whether their
// member is unknown or they were copied in by the last pass.
func remaining(root *doctree.Node) []string {
	var out []string
	for _, node := range root.DescendantsAndSelf() {
		if !node.IsElement(InheritTag) {
			continue
		}
		if cref, ok := node.AttrValue(CrefAttr); ok {
			out = append(out, cref)
		}
	}
	return out
}

// splice rebuilds parent's children as: those before placeholder, copies of
// member's children, those after placeholder.
func splice(parent, placeholder, member *doctree.Node) int {
	// Copy first: member may be parent itself.
	inherited := make([]*doctree.Node, 0, len(member.Children))
	for _, c := range member.Children {
		inherited = append(inherited, c.Copy())
	}

	at := placeholder.Index()
	children := make([]*doctree.Node, 0, len(parent.Children)-1+len(inherited))
	children = append(children, parent.Children[:at]...)
	children = append(children, inherited...)
	children = append(children, parent.Children[at+1:]...)

	parent.SetChildren(children)
	return Dedupe(parent)
}
