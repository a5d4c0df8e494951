package relation

// Edge is a (parent, child) pair within a relation tree.
type Edge struct {
	Parent *Relation
	Child  *Relation
}

// Find performs a depth-first search of root for the given entity name and
// returns the (parent, matched) pair (§4.2). If entity is the root's own
// entity, parent is nil and matched is root. If entity is not found at all,
// matched is nil. Repeated entity names within one tree are allowed; the
// first DFS match wins.
func Find(root *Relation, entity string) (parent *Relation, matched *Relation) {
	if root.Entity == entity {
		return nil, root
	}
	return findChild(root, entity)
}

func findChild(parent *Relation, entity string) (*Relation, *Relation) {
	for _, child := range parent.Children {
		if child.Entity == entity {
			return parent, child
		}
		if p, m := findChild(child, entity); m != nil {
			return p, m
		}
	}
	return nil, nil
}

// Edges enumerates every (parent, child) edge in the subtree rooted at
// root, in depth-first order. Used by the scrub step (§4.5) and by index
// construction (§4.1's createChildIndices equivalent).
func Edges(root *Relation) []Edge {
	var out []Edge
	var walk func(parent *Relation)
	walk = func(parent *Relation) {
		for _, child := range parent.Children {
			out = append(out, Edge{Parent: parent, Child: child})
			walk(child)
		}
	}
	walk(root)
	return out
}

// EntityUsedIn reports whether entity appears anywhere in the subtree
// rooted at root (including root itself).
func EntityUsedIn(root *Relation, entity string) bool {
	_, matched := Find(root, entity)
	return matched != nil
}
