package compiler

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
)

func testCompiler(t *testing.T, name string) (*Compiler, *layout.Table) {
	t.Helper()
	ctx := llvm.NewContext()
	t.Cleanup(ctx.Dispose)

	tbl := layout.NewTable()
	return NewCompiler(ctx, name, tbl, nil), tbl
}

// beginFunc opens a fresh void function so tests can emit straight-line
// code through the builder.
func beginFunc(c *Compiler, name string) llvm.Value {
	fnTy := llvm.FunctionType(c.Context.VoidType(), []llvm.Type{llvm.PointerType(c.Context.Int8Type(), 0)}, false)
	fn := llvm.AddFunction(c.Module, name, fnTy)
	c.startFunction(fn)
	return fn
}

func endFunc(c *Compiler) {
	c.builder.CreateRetVoid()
}

// trivialClass registers a class with no codegen obligations of its own.
func trivialClass(tbl *layout.Table, name string, size uint64) *ast.ClassDecl {
	decl := &ast.ClassDecl{
		Name:              name,
		TrivialCopyCtor:   true,
		TrivialCopyAssign: true,
		TrivialDtor:       true,
	}
	tbl.Add(decl, size, 8)
	return decl
}

// heavyClass registers a class whose copy and destroy are non-trivial.
func heavyClass(tbl *layout.Table, name string, size uint64) *ast.ClassDecl {
	decl := &ast.ClassDecl{Name: name}
	decl.Dtor = &ast.DestructorDecl{Class: decl}
	tbl.Add(decl, size, 8)
	return decl
}

// addBase wires base under derived at offset and records the layout edge.
func addBase(tbl *layout.Table, derived, base *ast.ClassDecl, offset uint64) {
	derived.Bases = append(derived.Bases, &ast.BaseSpecifier{Class: base})
	tbl.Classes[derived].BaseOffsets[base] = offset
}

// addVBase wires a virtual base with its complete-object offset and
// indirection slot.
func addVBase(tbl *layout.Table, derived, vbase *ast.ClassDecl, offset uint64, slot int64) {
	derived.Bases = append(derived.Bases, &ast.BaseSpecifier{Class: vbase, Virtual: true})
	derived.VBases = append(derived.VBases, vbase)
	cl := tbl.Classes[derived]
	cl.VBaseOffsets[vbase] = offset
	cl.VBaseIndices[vbase] = slot
	cl.SubVBTIndices[vbase] = 0
}

func addField(tbl *layout.Table, class *ast.ClassDecl, name string, ft ast.Type, offset uint64) *ast.Field {
	f := &ast.Field{Name: name, Type: ft}
	class.Fields = append(class.Fields, f)
	tbl.Classes[class].FieldOffsets = append(tbl.Classes[class].FieldOffsets, offset)
	return f
}

// requireOrder asserts that each needle occurs in ir after the previous
// one.
func requireOrder(t *testing.T, ir string, needles ...string) {
	t.Helper()
	pos := 0
	for _, n := range needles {
		idx := strings.Index(ir[pos:], n)
		require.GreaterOrEqual(t, idx, 0, "expected %q after position %d in IR:\n%s", n, pos, ir)
		pos += idx + len(n)
	}
}

func TestTypeBuilderRejectsOverflowingArrayCount(t *testing.T) {
	c, _ := testCompiler(t, "overflow")
	require.Panics(t, func() {
		c.mapToLLVMType(ast.Array{Elem: ast.I64, Count: math.MaxUint64})
	})
}
