// Package layout is the boundary to the record-layout service. The lowering
// engine never computes sizes, base offsets or vtable address points itself;
// it queries them here. Table is a precomputed-table implementation used by
// tests and the fixture driver.
package layout

import (
	"fmt"

	"github.com/quill-lang/quill/ast"
)

// SubObject keys one (static type, byte offset) pair inside a complete
// object. Every dynamic sub-object has its own vtable address point.
type SubObject struct {
	Class  *ast.ClassDecl
	Offset uint64
}

// Info answers the layout queries the lowering engine needs. All offsets
// and sizes are in bytes. A query for a class the service has no layout for
// is a compiler bug; implementations panic rather than return zero values.
type Info interface {
	SizeOf(t ast.Type) uint64
	AlignOf(t ast.Type) uint64

	// BaseOffset is the offset of a direct non-virtual base sub-object.
	BaseOffset(class, base *ast.ClassDecl) uint64
	// VBaseOffset is the offset of a virtual base within a complete object
	// of class. Valid only when class is the most-derived type.
	VBaseOffset(class, vbase *ast.ClassDecl) uint64
	// FieldOffset is the offset of the i-th declared field.
	FieldOffset(class *ast.ClassDecl, i int) uint64

	// AddressPoint is the vtable slot index to store at (sub, offset)
	// while constructing a complete object. The bool reports
	// presence; a missing address point for a dynamic sub-object is an
	// internal-consistency failure at the caller.
	AddressPoint(complete *ast.ClassDecl, sub SubObject) (uint64, bool)
	// VBaseOffsetIndex is the (negative) vtable slot holding the runtime
	// offset of vbase relative to a sub-object of class.
	VBaseOffsetIndex(class, vbase *ast.ClassDecl) int64
	// SubVBTIndex is the index of base's sub-table within class's
	// virtual-base table, used when a base-variant constructor call needs
	// a VBT argument.
	SubVBTIndex(class, base *ast.ClassDecl) uint64

	// PointerSize is the target pointer width in bytes; PointerAlign its
	// alignment. Closure records and by-reference capture slots use these.
	PointerSize() uint64
	PointerAlign() uint64
}

// ClassLayout is the precomputed layout of one class.
type ClassLayout struct {
	Size  uint64
	Align uint64

	BaseOffsets  map[*ast.ClassDecl]uint64 // direct non-virtual bases
	VBaseOffsets map[*ast.ClassDecl]uint64 // virtual bases in the complete object
	FieldOffsets []uint64

	AddressPoints map[SubObject]uint64
	VBaseIndices  map[*ast.ClassDecl]int64
	SubVBTIndices map[*ast.ClassDecl]uint64
}

// Table is an Info backed by explicit per-class tables.
type Table struct {
	Classes map[*ast.ClassDecl]*ClassLayout

	PtrSize  uint64
	PtrAlign uint64
}

// NewTable returns an empty table for a 64-bit target.
func NewTable() *Table {
	return &Table{
		Classes:  make(map[*ast.ClassDecl]*ClassLayout),
		PtrSize:  8,
		PtrAlign: 8,
	}
}

// Add registers a class layout and returns it for further population.
func (t *Table) Add(c *ast.ClassDecl, size, align uint64) *ClassLayout {
	cl := &ClassLayout{
		Size:          size,
		Align:         align,
		BaseOffsets:   make(map[*ast.ClassDecl]uint64),
		VBaseOffsets:  make(map[*ast.ClassDecl]uint64),
		AddressPoints: make(map[SubObject]uint64),
		VBaseIndices:  make(map[*ast.ClassDecl]int64),
		SubVBTIndices: make(map[*ast.ClassDecl]uint64),
	}
	t.Classes[c] = cl
	return cl
}

func (t *Table) classLayout(c *ast.ClassDecl) *ClassLayout {
	cl, ok := t.Classes[c]
	if !ok {
		panic(fmt.Sprintf("layout: no layout recorded for class %s", c.Name))
	}
	return cl
}

func (t *Table) SizeOf(ty ast.Type) uint64 {
	switch v := ty.(type) {
	case ast.Int:
		return byteWidth(v.Width)
	case ast.Float:
		return byteWidth(v.Width)
	case ast.Complex:
		return 2 * byteWidth(v.Width)
	case ast.Ptr, ast.Ref, ast.Closure:
		return t.PtrSize
	case ast.Class:
		return t.classLayout(v.Decl).Size
	case ast.Array:
		return v.Count * t.SizeOf(v.Elem)
	}
	panic(fmt.Sprintf("layout: no size for type %s", ty.String()))
}

func (t *Table) AlignOf(ty ast.Type) uint64 {
	switch v := ty.(type) {
	case ast.Int:
		return byteWidth(v.Width)
	case ast.Float:
		return byteWidth(v.Width)
	case ast.Complex:
		return byteWidth(v.Width)
	case ast.Ptr, ast.Ref, ast.Closure:
		return t.PtrAlign
	case ast.Class:
		return t.classLayout(v.Decl).Align
	case ast.Array:
		return t.AlignOf(v.Elem)
	}
	panic(fmt.Sprintf("layout: no alignment for type %s", ty.String()))
}

func (t *Table) BaseOffset(class, base *ast.ClassDecl) uint64 {
	off, ok := t.classLayout(class).BaseOffsets[base]
	if !ok {
		panic(fmt.Sprintf("layout: %s has no recorded offset for base %s", class.Name, base.Name))
	}
	return off
}

func (t *Table) VBaseOffset(class, vbase *ast.ClassDecl) uint64 {
	off, ok := t.classLayout(class).VBaseOffsets[vbase]
	if !ok {
		panic(fmt.Sprintf("layout: %s has no recorded offset for virtual base %s", class.Name, vbase.Name))
	}
	return off
}

func (t *Table) FieldOffset(class *ast.ClassDecl, i int) uint64 {
	cl := t.classLayout(class)
	if i < 0 || i >= len(cl.FieldOffsets) {
		panic(fmt.Sprintf("layout: %s has no recorded offset for field %d", class.Name, i))
	}
	return cl.FieldOffsets[i]
}

func (t *Table) AddressPoint(complete *ast.ClassDecl, sub SubObject) (uint64, bool) {
	ap, ok := t.classLayout(complete).AddressPoints[sub]
	return ap, ok
}

func (t *Table) VBaseOffsetIndex(class, vbase *ast.ClassDecl) int64 {
	idx, ok := t.classLayout(class).VBaseIndices[vbase]
	if !ok {
		panic(fmt.Sprintf("layout: %s has no vbase offset slot for %s", class.Name, vbase.Name))
	}
	return idx
}

func (t *Table) SubVBTIndex(class, base *ast.ClassDecl) uint64 {
	idx, ok := t.classLayout(class).SubVBTIndices[base]
	if !ok {
		panic(fmt.Sprintf("layout: %s has no sub-VBT index for %s", class.Name, base.Name))
	}
	return idx
}

func (t *Table) PointerSize() uint64  { return t.PtrSize }
func (t *Table) PointerAlign() uint64 { return t.PtrAlign }

func byteWidth(bits uint32) uint64 {
	b := uint64((bits + 7) / 8)
	if b == 0 {
		return 1
	}
	return b
}

// RoundUp aligns n up to the next multiple of align. Align must be a power
// of two greater than zero.
func RoundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}
