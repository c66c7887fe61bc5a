package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsFloatCoercions(t *testing.T) {
	f, ok := Int(5).AsFloat()
	require.True(t, ok)
	assert.Equal(t, 5.0, f)

	f, ok = String("3.14").AsFloat()
	require.True(t, ok)
	assert.Equal(t, 3.14, f)

	_, ok = String("abc").AsFloat()
	assert.False(t, ok)
}

func TestAsIntTruncatesTowardZero(t *testing.T) {
	i, ok := Float(3.9).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(3), i)

	i, ok = Float(-3.9).AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(-3), i)
}

func TestTruthyJinjaSemantics(t *testing.T) {
	assert.False(t, Undefined.Truthy())
	assert.False(t, None.Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.False(t, Int(0).Truthy())
	assert.False(t, Float(0).Truthy())
	assert.False(t, String("").Truthy())
	assert.False(t, List(nil).Truthy())
	assert.False(t, Dict(nil).Truthy())
	assert.True(t, String("x").Truthy())
	assert.True(t, List([]Value{Int(1)}).Truthy())
}

func TestEqualMixedTypes(t *testing.T) {
	assert.True(t, Equal(Int(1), Float(1.0)))
	assert.True(t, Equal(String("a"), String("a")))
	assert.True(t, Equal(Undefined, Undefined))
	assert.True(t, Equal(None, None))
	assert.False(t, Equal(Undefined, None))
	assert.True(t, Equal(List([]Value{Int(1), Int(2)}), List([]Value{Int(1), Int(2)})))
	assert.False(t, Equal(List([]Value{Int(1)}), List([]Value{Int(1), Int(2)})))
}

func TestArithmeticIntPreservingExceptDivision(t *testing.T) {
	_, e := setupEngine(t)
	assert.Equal(t, "7", evalRaw(t, e, `3 + 4`).String())
	assert.Equal(t, "1.75", evalRaw(t, e, `7 / 4`).String())
	assert.Equal(t, "1", evalRaw(t, e, `7 // 4`).String())
	assert.Equal(t, "-2", evalRaw(t, e, `-7 // 4`).String())
	assert.Equal(t, "3", evalRaw(t, e, `7 % 4`).String())
	assert.Equal(t, "1", evalRaw(t, e, `-7 % 4`).String())
}

func TestComparisonChaining(t *testing.T) {
	_, e := setupEngine(t)
	assert.True(t, evalRaw(t, e, `1 < 2 < 3`).Truthy())
	assert.False(t, evalRaw(t, e, `1 < 2 < 1`).Truthy())
}

func TestMembershipIn(t *testing.T) {
	_, e := setupEngine(t)
	assert.True(t, evalRaw(t, e, `2 in [1, 2, 3]`).Truthy())
	assert.False(t, evalRaw(t, e, `9 in [1, 2, 3]`).Truthy())
	assert.True(t, evalRaw(t, e, `9 not in [1, 2, 3]`).Truthy())
}

func TestTernaryExpression(t *testing.T) {
	_, e := setupEngine(t)
	assert.Equal(t, "yes", evalRaw(t, e, `'yes' if 1 == 1 else 'no'`).String())
	assert.Equal(t, "no", evalRaw(t, e, `'yes' if 1 == 2 else 'no'`).String())
}

func TestAttrSubscriptOnListAndDict(t *testing.T) {
	_, e := setupEngine(t)
	assert.Equal(t, "2", evalRaw(t, e, `[1,2,3][1]`).String())
	assert.Equal(t, "3", evalRaw(t, e, `[1,2,3][-1]`).String())
	assert.Equal(t, "bar", evalRaw(t, e, `{"foo": "bar"}['foo']`).String())
}
