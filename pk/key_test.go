package pk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromAny_Nil(t *testing.T) {
	require.True(t, FromAny(nil).IsZero())
}

func TestFromAny_String(t *testing.T) {
	require.Equal(t, Key("m-1"), FromAny("m-1"))
}

func TestFromAny_NumericTypesAgree(t *testing.T) {
	// The same logical ID decoded by a JSON codec (float64) and by some
	// other codec (int64) must land on the same key.
	require.True(t, FromAny(int64(42)).Equal(FromAny(float64(42))))
	require.True(t, FromAny(int(7)).Equal(FromAny(float32(7))))
}

func TestFromAny_LargeFloatDoesNotUseScientificNotation(t *testing.T) {
	k := FromAny(float64(123456789012345))
	require.Equal(t, "123456789012345", string(k))
	require.True(t, k.Equal(FromAny(int64(123456789012345))))
}

func TestFromAny_NonIntegralFloatKeepsFraction(t *testing.T) {
	k := FromAny(float64(3.5))
	require.Equal(t, "3.5", string(k))
}

func TestSort_OrdersAscendingByBytes(t *testing.T) {
	keys := []Key{Key("c"), Key("a"), Key("b")}
	Sort(keys)
	require.Equal(t, []Key{Key("a"), Key("b"), Key("c")}, keys)
}

func TestKey_EqualAndCompare(t *testing.T) {
	require.Equal(t, 0, Key("a").Compare(Key("a")))
	require.Equal(t, -1, Key("a").Compare(Key("b")))
	require.True(t, Key("x").Equal(New([]byte("x"))))
}
