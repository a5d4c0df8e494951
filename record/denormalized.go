package record

// Denormalized is the nested record produced by the emit engine (§3
// Denormalized record, §6 Denormalized output). It marshals to JSON as
// {"Record": {...}, "Children": {"<entity>": [Denormalized, ...]}}.
type Denormalized struct {
	Record   map[string]any             `json:"Record"`
	Children map[string][]*Denormalized `json:"Children"`
}

// NewDenormalized builds a Denormalized node from a flat record.
func NewDenormalized(flat map[string]any) *Denormalized {
	return &Denormalized{
		Record:   flat,
		Children: make(map[string][]*Denormalized),
	}
}

// SetChildren assigns the ordered child sequence for the given child entity
// name. Callers must pass an already PK-sorted slice (§3: "the sequence is
// ordered by the child primary key's canonical byte order").
func (d *Denormalized) SetChildren(entity string, children []*Denormalized) {
	if d.Children == nil {
		d.Children = make(map[string][]*Denormalized)
	}
	d.Children[entity] = children
}
