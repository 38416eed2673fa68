package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaimMapPreservesInsertionOrder(t *testing.T) {
	m := NewClaimMap(
		ClaimEntry{Key: "b", Value: String("1")},
		ClaimEntry{Key: "a", Value: Number(2)},
	)
	m.Set("c", Bool(true))
	m.Set("b", String("replaced"))

	assert.Equal(t, []string{"b", "a", "c"}, m.Keys())
	s, ok := m.GetString("b")
	require.True(t, ok)
	assert.Equal(t, "replaced", s)

	m.Delete("a")
	assert.Equal(t, []string{"b", "c"}, m.Keys())
}

func TestClaimValueVariants(t *testing.T) {
	s, ok := String("x").AsString()
	assert.True(t, ok)
	assert.Equal(t, "x", s)

	_, ok = String("x").AsNumber()
	assert.False(t, ok)

	n, ok := Number(1.5).AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.5, n)

	b, ok := Bool(true).AsBool()
	assert.True(t, ok)
	assert.True(t, b)

	assert.False(t, ClaimValue{}.IsValid())
	assert.Equal(t, "1.5", Number(1.5).Text())
	assert.Equal(t, "false", Bool(false).Text())
}

func TestClaimDepth(t *testing.T) {
	inner := NewClaimMap(ClaimEntry{Key: "port", Value: Number(49497)})
	outer := NewClaimMap(ClaimEntry{Key: "net", Value: Map(inner)})
	deep := NewClaimMap(ClaimEntry{Key: "outer", Value: Map(outer)})

	assert.Equal(t, 0, String("x").Depth())
	assert.Equal(t, 1, Map(inner).Depth())
	assert.Equal(t, 1, outer.Depth())
	assert.Equal(t, 2, deep.Depth())
}

func TestMapCopiesInput(t *testing.T) {
	inner := NewClaimMap(ClaimEntry{Key: "k", Value: String("v")})
	wrapped := Map(inner)
	inner.Set("k", String("changed"))

	got, ok := wrapped.AsMap()
	require.True(t, ok)
	v, _ := got.GetString("k")
	assert.Equal(t, "v", v)
}

func TestClaimValueEqual(t *testing.T) {
	a := Map(NewClaimMap(ClaimEntry{Key: "k", Value: Number(1)}))
	b := Map(NewClaimMap(ClaimEntry{Key: "k", Value: Number(1)}))
	c := Map(NewClaimMap(ClaimEntry{Key: "k", Value: String("1")}))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, String("1").Equal(Number(1)))
}

func TestNormalizeCapabilities(t *testing.T) {
	assert.Nil(t, NormalizeCapabilities(nil))
	assert.Equal(t, []string{}, NormalizeCapabilities([]string{""}))
	assert.Equal(t, []string{"led", "wifi"}, NormalizeCapabilities([]string{"wifi", "led", "wifi", ""}))
}
