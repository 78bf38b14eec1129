package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quill-lang/quill/ast"
)

func TestSizeOfScalars(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, uint64(1), tbl.SizeOf(ast.I1))
	assert.Equal(t, uint64(1), tbl.SizeOf(ast.I8))
	assert.Equal(t, uint64(4), tbl.SizeOf(ast.I32))
	assert.Equal(t, uint64(8), tbl.SizeOf(ast.I64))
	assert.Equal(t, uint64(8), tbl.SizeOf(ast.F64))
	assert.Equal(t, uint64(16), tbl.SizeOf(ast.Complex{Width: 64}))
}

func TestSizeOfPointerShapes(t *testing.T) {
	tbl := NewTable()
	assert.Equal(t, uint64(8), tbl.SizeOf(ast.Ptr{Elem: ast.I8}))
	assert.Equal(t, uint64(8), tbl.SizeOf(ast.Ref{Elem: ast.I64}))
	assert.Equal(t, uint64(8), tbl.SizeOf(ast.Closure{}))
}

func TestSizeOfArrayMultipliesElement(t *testing.T) {
	tbl := NewTable()
	arr := ast.Array{Elem: ast.I32, Count: 6}
	assert.Equal(t, uint64(24), tbl.SizeOf(arr))
	assert.Equal(t, uint64(4), tbl.AlignOf(arr))
}

func TestClassSizeComesFromRegisteredLayout(t *testing.T) {
	tbl := NewTable()
	decl := &ast.ClassDecl{Name: "Widget"}
	tbl.Add(decl, 24, 8)

	ct := ast.Class{Decl: decl}
	assert.Equal(t, uint64(24), tbl.SizeOf(ct))
	assert.Equal(t, uint64(8), tbl.AlignOf(ct))
}

func TestUnregisteredClassPanics(t *testing.T) {
	tbl := NewTable()
	decl := &ast.ClassDecl{Name: "Ghost"}
	assert.Panics(t, func() { tbl.SizeOf(ast.Class{Decl: decl}) })
	assert.Panics(t, func() { tbl.BaseOffset(decl, decl) })
}

func TestMissingEdgesPanic(t *testing.T) {
	tbl := NewTable()
	a := &ast.ClassDecl{Name: "A"}
	b := &ast.ClassDecl{Name: "B"}
	tbl.Add(a, 8, 8)

	assert.Panics(t, func() { tbl.BaseOffset(a, b) })
	assert.Panics(t, func() { tbl.VBaseOffset(a, b) })
	assert.Panics(t, func() { tbl.FieldOffset(a, 0) })
	assert.Panics(t, func() { tbl.VBaseOffsetIndex(a, b) })
	assert.Panics(t, func() { tbl.SubVBTIndex(a, b) })
}

func TestAddressPointReportsPresence(t *testing.T) {
	tbl := NewTable()
	a := &ast.ClassDecl{Name: "A"}
	cl := tbl.Add(a, 16, 8)
	cl.AddressPoints[SubObject{Class: a, Offset: 0}] = 2

	ap, ok := tbl.AddressPoint(a, SubObject{Class: a, Offset: 0})
	assert.True(t, ok)
	assert.Equal(t, uint64(2), ap)

	_, ok = tbl.AddressPoint(a, SubObject{Class: a, Offset: 8})
	assert.False(t, ok)
}

func TestRoundUp(t *testing.T) {
	assert.Equal(t, uint64(0), RoundUp(0, 8))
	assert.Equal(t, uint64(8), RoundUp(1, 8))
	assert.Equal(t, uint64(8), RoundUp(8, 8))
	assert.Equal(t, uint64(48), RoundUp(41, 16))
	assert.Equal(t, uint64(5), RoundUp(5, 1))
}
