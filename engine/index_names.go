package engine

import "fmt"

// joinIndexName builds the stable index name for a child entity's join
// index, shared across every root relation that uses that entity (§3
// Indices, §9 "Shared indices across roots"). It does not embed a root
// entity: two roots referencing the same child entity share this index.
func joinIndexName(childEntity, childJoinKey string) string {
	return fmt.Sprintf("JK|%s|%s", childEntity, childJoinKey)
}

// parentIndexName builds the stable index name for one (root, parent,
// child) edge's parent index. Unlike the join index, this embeds the
// root entity, so two roots sharing a child entity still keep
// independent parent indices (§9).
func parentIndexName(rootEntity, parentEntity, childParentKey string) string {
	return fmt.Sprintf("PaK|%s|%s|%s", rootEntity, parentEntity, childParentKey)
}

// pendingSetKey builds the metadata-keyspace key under which a root's
// pending set is persisted (§3 Pending set, §6 State store).
func pendingSetKey(denormalizedName string) []byte {
	return []byte("PK|" + denormalizedName)
}
