// Package relation parses and validates the user-supplied denormalization
// tree and provides lookup helpers over it (§3 Relation, §4.2 Relation
// lookup).
package relation

import (
	"encoding/json"
	"fmt"
	"io"
)

// Relation is a node in a denormalization tree. See §3 for the field
// invariants: DenormalizedName is present iff the node is root; JoinKey and
// ParentKey are both present iff the node is a child.
type Relation struct {
	// Entity is the logical name of the input stream this node reads from.
	Entity string `json:"Entity"`
	// DenormalizedName is the output name, required on the root and absent
	// otherwise.
	DenormalizedName string `json:"DenormalizedName,omitempty"`
	// JoinKey is the field of this entity's record compared against the
	// parent's ParentKey. Required off-root.
	JoinKey string `json:"JoinKey,omitempty"`
	// ParentKey is the field of the parent entity's record matched against
	// this node's JoinKey. Required off-root.
	ParentKey string `json:"ParentKey,omitempty"`
	// Children is the ordered sequence of child relations.
	Children []*Relation `json:"Children,omitempty"`
}

// IsRoot reports whether r is a root relation.
func (r *Relation) IsRoot() bool {
	return r.DenormalizedName != ""
}

// Load parses one relations JSON document (an array of root Relations) from
// r, matching §6's "Relations file (JSON)" schema.
func Load(r io.Reader) ([]*Relation, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var roots []*Relation
	if err := dec.Decode(&roots); err != nil {
		return nil, fmt.Errorf("decode relations: %w", err)
	}
	if err := ValidateRoots(roots); err != nil {
		return nil, err
	}
	return roots, nil
}

// ValidateRoots validates every top-level relation and its descendants,
// matching the original's validateRootRelations/validateChildRelation.
func ValidateRoots(roots []*Relation) error {
	if len(roots) == 0 {
		return fmt.Errorf("relation: at least one root relation is required")
	}
	for _, root := range roots {
		if root.Entity == "" {
			return fmt.Errorf("relation: root relation %q must correspond to an input entity", root.DenormalizedName)
		}
		if root.DenormalizedName == "" {
			return fmt.Errorf("relation: root relation for entity %q must have a denormalized name", root.Entity)
		}
		if root.JoinKey != "" || root.ParentKey != "" {
			return fmt.Errorf("relation: root relation %q must not have a join key or parent key", root.DenormalizedName)
		}
		// A root with no children is valid (a single-table root, §8 S1) —
		// it just denormalizes to a flat record with no nested subtrees.
		if err := validateChildren(root.DenormalizedName, root.Children, make(map[*Relation]bool)); err != nil {
			return err
		}
	}
	return nil
}

func validateChildren(rootName string, children []*Relation, ancestors map[*Relation]bool) error {
	for _, child := range children {
		if child.Entity == "" {
			return fmt.Errorf("relation: a child relation under root %q must correspond to an input entity", rootName)
		}
		if child.JoinKey == "" {
			return fmt.Errorf("relation: child relation %q under root %q must have a join key", child.Entity, rootName)
		}
		if child.ParentKey == "" {
			return fmt.Errorf("relation: child relation %q under root %q must have a parent key", child.Entity, rootName)
		}
		if child.DenormalizedName != "" {
			return fmt.Errorf("relation: child relation %q under root %q must not have a denormalized name", child.Entity, rootName)
		}
		if ancestors[child] {
			return fmt.Errorf("relation: cycle detected at entity %q under root %q", child.Entity, rootName)
		}
		if len(child.Children) > 0 {
			next := make(map[*Relation]bool, len(ancestors)+1)
			for k := range ancestors {
				next[k] = true
			}
			next[child] = true
			if err := validateChildren(rootName, child.Children, next); err != nil {
				return err
			}
		}
	}
	return nil
}
