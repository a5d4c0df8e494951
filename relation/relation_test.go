package relation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateRoots_ValidTree(t *testing.T) {
	roots := []*Relation{
		{
			Entity:           "media",
			DenormalizedName: "media_denormalized",
			Children: []*Relation{
				{Entity: "caption", JoinKey: "media_id", ParentKey: "id"},
			},
		},
	}
	require.NoError(t, ValidateRoots(roots))
}

func TestValidateRoots_NoRoots(t *testing.T) {
	err := ValidateRoots(nil)
	require.Error(t, err)
}

func TestValidateRoots_RootMissingEntity(t *testing.T) {
	err := ValidateRoots([]*Relation{{DenormalizedName: "media_denormalized"}})
	require.Error(t, err)
}

func TestValidateRoots_RootMissingDenormalizedName(t *testing.T) {
	err := ValidateRoots([]*Relation{{Entity: "media"}})
	require.Error(t, err)
}

func TestValidateRoots_RootMustNotCarryJoinOrParentKey(t *testing.T) {
	err := ValidateRoots([]*Relation{
		{Entity: "media", DenormalizedName: "media_denormalized", JoinKey: "media_id"},
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "join key or parent key"))

	err = ValidateRoots([]*Relation{
		{Entity: "media", DenormalizedName: "media_denormalized", ParentKey: "id"},
	})
	require.Error(t, err)
}

func TestValidateRoots_ChildMissingJoinKey(t *testing.T) {
	err := ValidateRoots([]*Relation{
		{
			Entity:           "media",
			DenormalizedName: "media_denormalized",
			Children:         []*Relation{{Entity: "caption", ParentKey: "id"}},
		},
	})
	require.Error(t, err)
}

func TestValidateRoots_ChildMissingParentKey(t *testing.T) {
	err := ValidateRoots([]*Relation{
		{
			Entity:           "media",
			DenormalizedName: "media_denormalized",
			Children:         []*Relation{{Entity: "caption", JoinKey: "media_id"}},
		},
	})
	require.Error(t, err)
}

func TestValidateRoots_ChildMustNotCarryDenormalizedName(t *testing.T) {
	err := ValidateRoots([]*Relation{
		{
			Entity:           "media",
			DenormalizedName: "media_denormalized",
			Children: []*Relation{
				{Entity: "caption", JoinKey: "media_id", ParentKey: "id", DenormalizedName: "caption_denormalized"},
			},
		},
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "must not have a denormalized name"))
}

func TestValidateRoots_CycleDetected(t *testing.T) {
	child := &Relation{Entity: "caption", JoinKey: "media_id", ParentKey: "id"}
	child.Children = []*Relation{child}
	err := ValidateRoots([]*Relation{
		{Entity: "media", DenormalizedName: "media_denormalized", Children: []*Relation{child}},
	})
	require.Error(t, err)
}
