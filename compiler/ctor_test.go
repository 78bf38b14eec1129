package compiler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
)

func TestOrderInitializersReordersToDeclarationOrder(t *testing.T) {
	_, tbl := testCompiler(t, "reorder")
	b1 := heavyClass(tbl, "B1", 8)
	b2 := heavyClass(tbl, "B2", 8)
	d := heavyClass(tbl, "D", 48)
	addBase(tbl, d, b1, 0)
	addBase(tbl, d, b2, 8)
	fx := addField(tbl, d, "x", ast.I64, 16)
	fy := addField(tbl, d, "y", ast.I64, 24)

	// Source order: y, B2, x, B1. Declaration order must win.
	ctor := &ast.ConstructorDecl{
		Class: d,
		Inits: []*ast.Initializer{
			{Member: fy},
			{Base: b2},
			{Member: fx},
			{Base: b1},
		},
	}
	ordered := orderInitializers(ctor, CtorComplete)
	require.Len(t, ordered, 4)
	assert.Equal(t, b1, ordered[0].base)
	assert.Equal(t, b2, ordered[1].base)
	assert.Equal(t, fx, ordered[2].field)
	assert.Equal(t, fy, ordered[3].field)
}

func TestOrderInitializersBaseVariantSkipsVirtualBases(t *testing.T) {
	_, tbl := testCompiler(t, "skipvbase")
	v := heavyClass(tbl, "V", 8)
	d := heavyClass(tbl, "D", 32)
	addVBase(tbl, d, v, 24, -3)
	addField(tbl, d, "x", ast.I64, 8)

	ctor := &ast.ConstructorDecl{Class: d, Inits: []*ast.Initializer{{Base: v}}}

	complete := orderInitializers(ctor, CtorComplete)
	require.Len(t, complete, 2)
	assert.Equal(t, v, complete[0].vbase)

	base := orderInitializers(ctor, CtorBase)
	require.Len(t, base, 1)
	assert.Nil(t, base[0].vbase)
}

func TestConstructorVtableBetweenBasesAndMembers(t *testing.T) {
	c, tbl := testCompiler(t, "vtorder")
	b := heavyClass(tbl, "B", 8)
	b.Ctors = append(b.Ctors, &ast.ConstructorDecl{Class: b, IsDefault: true})
	d := heavyClass(tbl, "D", 32)
	d.Dynamic = true
	addBase(tbl, d, b, 0)
	m := heavyClass(tbl, "M", 8)
	m.Ctors = append(m.Ctors, &ast.ConstructorDecl{Class: m, IsDefault: true})
	addField(tbl, d, "m", ast.Class{Decl: m}, 8)
	tbl.Classes[d].AddressPoints[layout.SubObject{Class: d, Offset: 0}] = 2

	ctor := &ast.ConstructorDecl{Class: d}
	c.EmitConstructor(ctor, CtorComplete)

	// Base constructor call, then the vtable store, then the member's
	// constructor call.
	ir := c.GenerateIR()
	requireOrder(t, ir, "call void @_QC2_B", "vtable.addrpoint", "call void @_QC1_M")
}

func TestConstructorFailurePathReversesCleanups(t *testing.T) {
	c, tbl := testCompiler(t, "ctorfail")
	m1 := heavyClass(tbl, "M1", 8)
	m2 := heavyClass(tbl, "M2", 8)
	d := heavyClass(tbl, "D", 32)
	addField(tbl, d, "a", ast.Class{Decl: m1}, 0)
	addField(tbl, d, "b", ast.Class{Decl: m2}, 8)

	c.EmitConstructor(&ast.ConstructorDecl{Class: d}, CtorComplete)
	ir := c.GenerateIR()

	failIdx := strings.Index(ir, "ctor.fail")
	require.GreaterOrEqual(t, failIdx, 0, "expected a failure path:\n%s", ir)
	fail := ir[failIdx:]
	requireOrder(t, fail, "call void @_QD1_M2", "call void @_QD1_M1")
}

func TestConstructorFailurePathIgnoresClosureBodyLocals(t *testing.T) {
	c, tbl := testCompiler(t, "ctorfailcl")
	res := heavyClass(tbl, "Res", 8)
	m := heavyClass(tbl, "M", 8)
	d := heavyClass(tbl, "D", 16)
	f := addField(tbl, d, "m", ast.Class{Decl: m}, 0)

	// The member's constructor argument is a closure whose body declares
	// a non-trivially-destructible local. That local's obligation belongs
	// to the closure's entry point, not to the constructor being emitted
	// around it.
	ctx := &ast.DeclContext{Name: "cl"}
	local := &ast.VarDecl{Name: "res", VType: ast.Class{Decl: res}, Owner: ctx}
	cl := &ast.ClosureExpr{Context: ctx, Body: []ast.Statement{&ast.DeclStatement{Decl: local}}}

	ctor := &ast.ConstructorDecl{
		Class: d,
		Inits: []*ast.Initializer{
			{Member: f, Ctor: &ast.ConstructorDecl{Class: m}, Args: []ast.Expression{cl}},
		},
	}
	c.EmitConstructor(ctor, CtorComplete)
	ir := c.GenerateIR()

	failIdx := strings.Index(ir, "ctor.fail")
	require.GreaterOrEqual(t, failIdx, 0, "expected a failure path:\n%s", ir)
	requireOrder(t, ir[failIdx:], "call void @_QD1_M")
	assert.NotContains(t, ir, "_QD1_Res")
}

func TestConstructorNoFailurePathWithoutEH(t *testing.T) {
	c, tbl := testCompiler(t, "noeh")
	c.EH = false
	m := heavyClass(tbl, "M", 8)
	d := heavyClass(tbl, "D", 16)
	addField(tbl, d, "a", ast.Class{Decl: m}, 0)

	c.EmitConstructor(&ast.ConstructorDecl{Class: d}, CtorComplete)
	assert.NotContains(t, c.GenerateIR(), "ctor.fail")
}

func TestMemberArrayZeroFilledWithoutInitializer(t *testing.T) {
	c, tbl := testCompiler(t, "zerofill")
	d := heavyClass(tbl, "D", 40)
	addField(tbl, d, "buf", ast.Array{Elem: ast.I64, Count: 4}, 0)

	c.EmitConstructor(&ast.ConstructorDecl{Class: d}, CtorComplete)
	ir := c.GenerateIR()
	assert.Contains(t, ir, "@memset")
	assert.Contains(t, ir, "i64 32")
}

func TestReferenceMemberBindsAddress(t *testing.T) {
	c, tbl := testCompiler(t, "refbind")
	d := heavyClass(tbl, "D", 16)
	f := addField(tbl, d, "r", ast.Ref{Elem: ast.I64}, 0)

	target := &ast.VarDecl{Name: "cell", VType: ast.I64}
	ctor := &ast.ConstructorDecl{
		Class:  d,
		Params: []*ast.VarDecl{target},
		Inits: []*ast.Initializer{
			{Member: f, Init: &ast.VarRef{Decl: target}},
		},
	}
	c.EmitConstructor(ctor, CtorComplete)
	ir := c.GenerateIR()
	assert.Contains(t, ir, "store ptr")
}

func TestTrivialDefaultCtorElided(t *testing.T) {
	c, tbl := testCompiler(t, "elide")
	pod := trivialClass(tbl, "Pod", 8)
	d := heavyClass(tbl, "D", 16)
	addBase(tbl, d, pod, 0)

	c.EmitConstructor(&ast.ConstructorDecl{Class: d}, CtorComplete)
	ir := c.GenerateIR()
	assert.NotContains(t, ir, "_QC2_Pod", "trivial default construction emits nothing")
}

func TestTrivialCopyCtorLowersToMemcpy(t *testing.T) {
	c, tbl := testCompiler(t, "trivcopy")
	pod := trivialClass(tbl, "Pod", 24)

	fn := beginFunc(c, "copy_pod")
	src := c.builder.CreateAlloca(llvm.ArrayType(c.Context.Int8Type(), 24), "src")
	ctor := &ast.ConstructorDecl{Class: pod, IsCopy: true, Trivial: true, Implicit: true}
	c.EmitCtorCall(ctor, CtorComplete, fn.Param(0), []llvm.Value{src}, pod, pod)
	endFunc(c)

	ir := c.GenerateIR()
	assert.Contains(t, ir, "@memcpy")
	assert.Contains(t, ir, "i64 24")
	assert.NotContains(t, ir, "_QC1_Pod")
}

func TestBaseCtorCallThreadsVBTArgument(t *testing.T) {
	c, tbl := testCompiler(t, "vbtthread")
	v := heavyClass(tbl, "V", 8)
	b := heavyClass(tbl, "B", 24)
	addVBase(tbl, b, v, 16, -3)
	d := heavyClass(tbl, "D", 56)
	addBase(tbl, d, b, 0)
	addVBase(tbl, d, v, 48, -3)
	tbl.Classes[d].SubVBTIndices[b] = 1

	c.EmitConstructor(&ast.ConstructorDecl{Class: d}, CtorComplete)
	ir := c.GenerateIR()

	// B's base-variant constructor takes the sub-table sliced from D's
	// virtual-base table.
	assert.Contains(t, ir, "@_QVBT_D")
	assert.Contains(t, ir, "sub.vbt")
	assert.Contains(t, ir, "call void @_QC2_B(ptr")
}
