package resolve

import "github.com/dgallion1/docinherit/internal/doctree"

// Dedupe removes every element child of parent that has a corresponding
// element among its later siblings, so the last of each same-shaped group
// survives. Surviving children keep their order; character data is never
// removed. It returns the number of elements removed.
func Dedupe(parent *doctree.Node) int {
	if parent == nil {
		return 0
	}
	removed := 0
	elems := parent.Elements()
	for i, child := range elems {
		for _, sibling := range elems[i+1:] {
			if Corresponds(child, sibling) {
				child.Remove()
				removed++
				break
			}
		}
	}
	return removed
}

// Corresponds reports whether target has the same shape as source: the same
// node, or the same tag with every attribute of source present on target.
// Attribute values and content are not compared, and target may carry extra
// attributes.
func Corresponds(source, target *doctree.Node) bool {
	if source == nil || target == nil {
		return false
	}
	if source == target {
		return true
	}
	if source.Name != target.Name {
		return false
	}
	for _, a := range source.Attrs {
		if !AttrCorresponds(a, target.Attr(a.Name)) {
			return false
		}
	}
	return true
}

// AttrCorresponds reports whether two attributes are the same attribute or
// share a name.
func AttrCorresponds(source, target *doctree.Attr) bool {
	if source == nil || target == nil {
		return false
	}
	return source == target || source.Name == target.Name
}
