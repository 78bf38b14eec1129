package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

func captureSetOf(caps ...Capture) *CaptureSet {
	return &CaptureSet{Captures: caps}
}

func TestBuildCaptureRecordSingleScalarSlot(t *testing.T) {
	c, _ := testCompiler(t, "rec")
	x := &ast.VarDecl{Name: "x", VType: ast.I64}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: x}))
	require.Len(t, rec.Slots, 1)
	assert.Equal(t, uint64(32), rec.Slots[0].Offset)
	assert.Equal(t, uint64(8), rec.Slots[0].Size)
	assert.Equal(t, uint64(40), rec.Size)
	assert.False(t, rec.HasNonTrivial)
	assert.Equal(t, uint32(0), rec.flags())
}

func TestBuildCaptureRecordByRefSlotIsPointerSized(t *testing.T) {
	c, _ := testCompiler(t, "rec")
	x := &ast.VarDecl{Name: "x", VType: ast.I8, ByRef: true}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: x, ByRef: true}))
	require.Len(t, rec.Slots, 1)
	s := rec.Slots[0]
	assert.Equal(t, c.Layout.PointerSize(), s.Size)
	assert.True(t, s.ByRef)
	assert.True(t, s.NeedsHelpers)
	assert.True(t, rec.HasNonTrivial)
	assert.Equal(t, uint64(captureFieldByRef), s.flavor())
	assert.Equal(t, recordHasHelpers, rec.flags())
}

func TestBuildCaptureRecordPaddingBetweenSlots(t *testing.T) {
	c, _ := testCompiler(t, "rec")
	small := &ast.VarDecl{Name: "small", VType: ast.I8}
	wide := &ast.VarDecl{Name: "wide", VType: ast.I64}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: small}, Capture{Decl: wide}))
	require.Len(t, rec.Slots, 3)

	assert.Equal(t, uint64(32), rec.Slots[0].Offset)
	assert.Equal(t, uint64(1), rec.Slots[0].Size)

	assert.True(t, rec.Slots[1].Padding)
	assert.Equal(t, uint64(33), rec.Slots[1].Offset)
	assert.Equal(t, uint64(7), rec.Slots[1].Size)

	assert.Equal(t, wide, rec.Slots[2].Decl)
	assert.Equal(t, uint64(40), rec.Slots[2].Offset)
	assert.Equal(t, uint64(48), rec.Size)
}

func TestBuildCaptureRecordTailRoundedToAlignment(t *testing.T) {
	c, _ := testCompiler(t, "rec")
	wide := &ast.VarDecl{Name: "wide", VType: ast.I64}
	small := &ast.VarDecl{Name: "small", VType: ast.I8}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: wide}, Capture{Decl: small}))
	require.Len(t, rec.Slots, 2)
	assert.Equal(t, uint64(40), rec.Slots[1].Offset)
	assert.Equal(t, uint64(48), rec.Size, "tail padding folds into the record size")
}

func TestBuildCaptureRecordNonTrivialClassValue(t *testing.T) {
	c, tbl := testCompiler(t, "rec")
	cls := heavyClass(tbl, "Res", 16)
	v := &ast.VarDecl{Name: "r", VType: ast.Class{Decl: cls}}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: v}))
	require.Len(t, rec.Slots, 1)
	assert.True(t, rec.Slots[0].NeedsHelpers)
	assert.True(t, rec.HasNonTrivial)
	assert.Equal(t, uint64(captureFieldValue), rec.Slots[0].flavor())
}

func TestBuildCaptureRecordClosureCapture(t *testing.T) {
	c, _ := testCompiler(t, "rec")
	inner := &ast.VarDecl{Name: "cb", VType: ast.Closure{Params: []ast.Type{ast.I64}}}

	rec := c.BuildCaptureRecord(captureSetOf(Capture{Decl: inner}))
	require.Len(t, rec.Slots, 1)
	assert.True(t, rec.Slots[0].NeedsHelpers)
	assert.Equal(t, uint64(captureFieldClosure), rec.Slots[0].flavor())
}

func TestCapturelessClosurePromotedToGlobal(t *testing.T) {
	c, _ := testCompiler(t, "promote")
	beginFunc(c, "host")
	c.EmitClosureLiteral(&ast.ClosureExpr{Context: &ast.DeclContext{Name: "cl"}})
	endFunc(c)

	ir := c.GenerateIR()
	assert.Contains(t, ir, "_QCL_0.global")
	assert.Contains(t, ir, "define internal void @_QCL_0_invoke")
	assert.NotContains(t, ir, "alloca [32 x i8]")
}

func TestCapturingClosureBuildsStackRecord(t *testing.T) {
	c, _ := testCompiler(t, "stackrec")
	beginFunc(c, "host")

	x := &ast.VarDecl{Name: "x", VType: ast.I64}
	slot := c.builder.CreateAlloca(c.Context.Int64Type(), "x")
	Put(c.Scopes, x, &Symbol{Ptr: slot, Type: ast.I64})

	cl := closureOf(&ast.DeclContext{Name: "cl"}, exprStmt(ref(x)))
	c.EmitClosureLiteral(cl)
	endFunc(c)

	ir := c.GenerateIR()
	// 32-byte header plus one 8-byte slot.
	assert.Contains(t, ir, "alloca [40 x i8]")
	assert.Contains(t, ir, "_QCD_0")
	assert.NotContains(t, ir, "_QCL_0.global")
}

func TestStackRecordStoresCellAddressForByRefCapture(t *testing.T) {
	c, _ := testCompiler(t, "byref")
	beginFunc(c, "host")

	x := &ast.VarDecl{Name: "x", VType: ast.I64, ByRef: true}
	slot := c.builder.CreateAlloca(c.Context.Int64Type(), "x")
	Put(c.Scopes, x, &Symbol{Ptr: slot, Type: ast.I64})

	c.EmitClosureLiteral(closureOf(&ast.DeclContext{Name: "cl"}, exprStmt(ref(x))))
	endFunc(c)

	ir := c.GenerateIR()
	// Helper participation for a shared cell; the record holds the cell's
	// address, not a snapshot of the value.
	assert.Contains(t, ir, "_QCH_copy_0")
	assert.Contains(t, ir, "_QCH_destroy_1")
	assert.Contains(t, ir, "store ptr %x,")
	// Only the entry point touches the record slot. The store in the host
	// goes through the raw field address, so a second slot computation
	// there would be dead weight.
	assert.Equal(t, 1, strings.Count(ir, "x.cap"))
}

func TestEmitClosureCallLoadsEntryPointThroughHeader(t *testing.T) {
	c, _ := testCompiler(t, "call")
	fn := beginFunc(c, "host")

	ct := ast.Closure{Params: []ast.Type{ast.I64}, Result: ast.I64}
	c.EmitClosureCall(fn.Param(0), ct, []llvm.Value{c.ConstI64(7)})
	endFunc(c)

	ir := c.GenerateIR()
	requireOrder(t, ir, "invoke.addr", "load ptr", "call i64")
}
