package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveBaseOffsetChain(t *testing.T) {
	c, tbl := testCompiler(t, "chain")
	a := trivialClass(tbl, "A", 8)
	b := trivialClass(tbl, "B", 24)
	d := trivialClass(tbl, "D", 48)
	addBase(tbl, b, a, 16)
	addBase(tbl, d, b, 8)

	off, err := c.ResolveBaseOffset(d, a)
	require.NoError(t, err)
	assert.False(t, off.IsVirtual())
	assert.Equal(t, uint64(24), off.NonVirtual, "offset must be the sum of per-edge offsets")

	same, err := c.ResolveBaseOffset(d, d)
	require.NoError(t, err)
	assert.True(t, same.IsZero())
}

func TestResolveBaseOffsetNotABase(t *testing.T) {
	c, tbl := testCompiler(t, "notabase")
	a := trivialClass(tbl, "A", 8)
	b := trivialClass(tbl, "B", 8)

	_, err := c.ResolveBaseOffset(a, b)
	require.ErrorIs(t, err, ErrNotABase)
}

func TestResolveBaseOffsetAmbiguousDiamond(t *testing.T) {
	c, tbl := testCompiler(t, "diamond")
	top := trivialClass(tbl, "Top", 8)
	left := trivialClass(tbl, "Left", 16)
	right := trivialClass(tbl, "Right", 16)
	bottom := trivialClass(tbl, "Bottom", 40)
	addBase(tbl, left, top, 0)
	addBase(tbl, right, top, 0)
	addBase(tbl, bottom, left, 0)
	addBase(tbl, bottom, right, 16)

	_, err := c.ResolveBaseOffset(bottom, top)
	require.ErrorIs(t, err, ErrAmbiguousBase)
}

func TestResolveVirtualBaseSharedAcrossPaths(t *testing.T) {
	c, tbl := testCompiler(t, "vdiamond")
	top := trivialClass(tbl, "Top", 8)
	left := trivialClass(tbl, "Left", 16)
	right := trivialClass(tbl, "Right", 16)
	bottom := trivialClass(tbl, "Bottom", 48)
	addVBase(tbl, left, top, 8, -3)
	addVBase(tbl, right, top, 8, -3)
	addBase(tbl, bottom, left, 0)
	addBase(tbl, bottom, right, 16)

	// Two paths reach Top, but both cross the same virtual edge, so the
	// shared sub-object resolves unambiguously with a dynamic lookup.
	off, err := c.ResolveBaseOffset(bottom, top)
	require.NoError(t, err)
	assert.True(t, off.IsVirtual())
	assert.Equal(t, top, off.VBase)
}

func TestAddressOfBaseNullChecked(t *testing.T) {
	c, tbl := testCompiler(t, "nullcheck")
	a := trivialClass(tbl, "A", 8)
	d := trivialClass(tbl, "D", 24)
	addBase(tbl, d, a, 16)

	fn := beginFunc(c, "cast_test")
	_, err := c.AddressOfBase(fn.Param(0), d, a, true)
	require.NoError(t, err)
	endFunc(c)

	ir := c.GenerateIR()
	assert.Contains(t, ir, "cast.null")
	assert.Contains(t, ir, "cast.notnull")
	assert.Contains(t, ir, "cast.end")
	assert.Contains(t, ir, "phi")
	assert.Contains(t, ir, "i64 16")
}

func TestAddressOfBaseZeroOffsetEmitsNoBranch(t *testing.T) {
	c, tbl := testCompiler(t, "zerooff")
	a := trivialClass(tbl, "A", 8)
	d := trivialClass(tbl, "D", 24)
	addBase(tbl, d, a, 0)

	fn := beginFunc(c, "cast_zero")
	_, err := c.AddressOfBase(fn.Param(0), d, a, true)
	require.NoError(t, err)
	endFunc(c)

	ir := c.GenerateIR()
	assert.NotContains(t, ir, "cast.null")
}

func TestAddressOfVirtualBaseLoadsIndirectionEntry(t *testing.T) {
	c, tbl := testCompiler(t, "vload")
	v := trivialClass(tbl, "V", 8)
	d := trivialClass(tbl, "D", 32)
	addVBase(tbl, d, v, 24, -3)

	fn := beginFunc(c, "vcast")
	_, err := c.AddressOfBase(fn.Param(0), d, v, false)
	require.NoError(t, err)
	endFunc(c)

	ir := c.GenerateIR()
	assert.Contains(t, ir, "vbase.offset")
	assert.Contains(t, ir, "i64 -3")
}

func TestAddressOfDerivedRoundTrip(t *testing.T) {
	c, tbl := testCompiler(t, "roundtrip")
	a := trivialClass(tbl, "A", 8)
	d := trivialClass(tbl, "D", 24)
	addBase(tbl, d, a, 16)

	fn := beginFunc(c, "round")
	baseAddr, err := c.AddressOfBase(fn.Param(0), d, a, false)
	require.NoError(t, err)
	_, err = c.AddressOfDerived(baseAddr, d, a, false)
	require.NoError(t, err)
	endFunc(c)

	// Forward adds the offset, backward subtracts it again.
	ir := c.GenerateIR()
	assert.Contains(t, ir, "i64 16")
	assert.Contains(t, ir, "sub i64")
	assert.Contains(t, ir, ", 16")
}

func TestAddressOfDerivedVirtualPathPanics(t *testing.T) {
	c, tbl := testCompiler(t, "vreverse")
	v := trivialClass(tbl, "V", 8)
	d := trivialClass(tbl, "D", 32)
	addVBase(tbl, d, v, 24, -3)

	fn := beginFunc(c, "vrev")
	require.Panics(t, func() {
		_, _ = c.AddressOfDerived(fn.Param(0), d, v, false)
	})
}

func TestComputeThunkAdjustment(t *testing.T) {
	c, tbl := testCompiler(t, "thunk")
	a := trivialClass(tbl, "A", 8)
	v := trivialClass(tbl, "V", 8)
	d := trivialClass(tbl, "D", 48)
	addBase(tbl, d, a, 8)
	addVBase(tbl, d, v, 40, -4)

	adj, err := c.ComputeThunkAdjustment(d, a)
	require.NoError(t, err)
	assert.Equal(t, ThunkAdjustment{NonVirtual: 8}, adj)

	vadj, err := c.ComputeThunkAdjustment(d, v)
	require.NoError(t, err)
	assert.True(t, vadj.Virtual)
	assert.Equal(t, int64(-4), vadj.VBaseIndex)
}

func TestEmitThunkAdjustmentNonVirtual(t *testing.T) {
	c, tbl := testCompiler(t, "thunknv")
	a := trivialClass(tbl, "A", 8)
	d := trivialClass(tbl, "D", 48)
	addBase(tbl, d, a, 8)

	adj, err := c.ComputeThunkAdjustment(d, a)
	require.NoError(t, err)

	fn := beginFunc(c, "thunk_nv")
	c.EmitThunkAdjustment(fn.Param(0), d, adj)
	endFunc(c)

	// A fixed displacement needs no vtable load.
	ir := c.GenerateIR()
	assert.Contains(t, ir, "this.adjusted")
	assert.Contains(t, ir, "i64 8")
	assert.NotContains(t, ir, "vbase.offset")
}

func TestEmitThunkAdjustmentVirtualLoadsVBaseOffset(t *testing.T) {
	c, tbl := testCompiler(t, "thunkv")
	v := trivialClass(tbl, "V", 8)
	d := trivialClass(tbl, "D", 48)
	addVBase(tbl, d, v, 40, -4)

	adj, err := c.ComputeThunkAdjustment(d, v)
	require.NoError(t, err)

	fn := beginFunc(c, "thunk_v")
	c.EmitThunkAdjustment(fn.Param(0), d, adj)
	endFunc(c)

	ir := c.GenerateIR()
	requireOrder(t, ir,
		"load ptr",
		"i64 -4",
		"vbase.offset",
		"this.adjust",
		"this.adjusted",
	)
}
