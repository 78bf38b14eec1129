package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// orderedInit pairs one initialization target with the source-order
// initializer that covers it, if any. Bases always precede members, and
// each group runs in declaration order regardless of how the source wrote
// the initializer list; the reordering happens here.
type orderedInit struct {
	vbase *ast.ClassDecl
	base  *ast.ClassDecl
	field *ast.Field
	init  *ast.Initializer
}

func orderInitializers(ctor *ast.ConstructorDecl, variant CtorVariant) []orderedInit {
	class := ctor.Class

	baseInit := make(map[*ast.ClassDecl]*ast.Initializer)
	fieldInit := make(map[*ast.Field]*ast.Initializer)
	for _, in := range ctor.Inits {
		if in.IsBaseInitializer() {
			baseInit[in.Base] = in
		} else {
			fieldInit[in.Member] = in
		}
	}

	var ordered []orderedInit
	if variant == CtorComplete {
		for _, vb := range class.VBases {
			ordered = append(ordered, orderedInit{vbase: vb, init: baseInit[vb]})
		}
	}
	for _, spec := range class.Bases {
		if spec.Virtual {
			// Initialized above when this instantiation owns the complete
			// object, by an outer constructor otherwise.
			continue
		}
		ordered = append(ordered, orderedInit{base: spec.Class, init: baseInit[spec.Class]})
	}
	for _, f := range class.Fields {
		ordered = append(ordered, orderedInit{field: f, init: fieldInit[f]})
	}
	return ordered
}

// EmitConstructor lowers one variant of a constructor: virtual bases
// (Complete only), non-virtual bases, vtable pointers, then members. When
// exception-aware codegen is on, a failure path destroying the completed
// sub-objects in reverse order is emitted alongside the normal return.
func (c *Compiler) EmitConstructor(ctor *ast.ConstructorDecl, variant CtorVariant) llvm.Value {
	class := ctor.Class
	fn := c.ctorFunction(ctor, variant)
	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	this := fn.Param(0)
	paramBase := 1
	if needsVBTParameter(class, variant == CtorBase) {
		c.curVBT = fn.Param(1)
		paramBase = 2
		defer func() { c.curVBT = llvm.Value{} }()
	}

	PushScope(&c.Scopes, FuncScope)
	defer PopScope(&c.Scopes)
	for i, p := range ctor.Params {
		ty := c.mapToLLVMType(p.VType)
		slot := c.builder.CreateAlloca(ty, p.Name)
		c.builder.CreateStore(fn.Param(paramBase+i), slot)
		Put(c.Scopes, p, &Symbol{Ptr: slot, Type: p.VType})
	}

	prevCleanups := c.pushCleanupScope()
	defer c.popCleanupScope(prevCleanups)

	vtableInstalled := false
	for _, oi := range orderInitializers(ctor, variant) {
		// Vtable pointers go in after the last base and before the first
		// member, so member initializer expressions dispatch virtually to
		// this class's own overrides.
		if oi.field != nil && !vtableInstalled {
			c.InstallVTablePointers(class, this)
			vtableInstalled = true
		}
		c.emitOneInit(class, oi, this)
	}
	if !vtableInstalled {
		c.InstallVTablePointers(class, this)
	}
	c.builder.CreateRetVoid()

	if c.EH && len(c.curCleanups.pending) > 0 {
		failBB := c.createBasicBlock("ctor.fail")
		c.builder.SetInsertPointAtEnd(failBB)
		c.emitPendingCleanups()
		c.builder.CreateRetVoid()
	}
	return fn
}

func (c *Compiler) emitOneInit(class *ast.ClassDecl, oi orderedInit, this llvm.Value) {
	switch {
	case oi.vbase != nil:
		addr := c.byteGEP(this, c.Layout.VBaseOffset(class, oi.vbase), oi.vbase.Name+".vbase")
		c.emitBaseInit(class, oi.vbase, oi.init, addr)
	case oi.base != nil:
		addr := c.byteGEP(this, c.Layout.BaseOffset(class, oi.base), oi.base.Name+".base")
		c.emitBaseInit(class, oi.base, oi.init, addr)
	default:
		c.emitMemberInit(class, oi.field, oi.init, this)
	}
}

// defaultCtorIsTrivial reports whether default-constructing class emits no
// code at all: no vtable pointers, no user constructor, and every base and
// class-typed member trivially default-constructible in turn.
func defaultCtorIsTrivial(class *ast.ClassDecl) bool {
	if class.Dynamic || len(class.VBases) > 0 || len(class.Ctors) > 0 {
		return false
	}
	for _, spec := range class.Bases {
		if !defaultCtorIsTrivial(spec.Class) {
			return false
		}
	}
	for _, f := range class.Fields {
		if cls := ast.ClassOf(ast.ElementType(f.Type)); cls != nil && !defaultCtorIsTrivial(cls) {
			return false
		}
	}
	return true
}

func implicitDefaultCtor(class *ast.ClassDecl) *ast.ConstructorDecl {
	return &ast.ConstructorDecl{
		Class:     class,
		Implicit:  true,
		IsDefault: true,
		Trivial:   defaultCtorIsTrivial(class),
	}
}

func (c *Compiler) emitBaseInit(class, base *ast.ClassDecl, init *ast.Initializer, addr llvm.Value) {
	var ctor *ast.ConstructorDecl
	var args []llvm.Value
	if init != nil {
		ctor = init.Ctor
		for _, a := range init.Args {
			args = append(args, c.compileExpr(a))
		}
	}
	if ctor == nil {
		ctor = implicitDefaultCtor(base)
	}
	c.EmitCtorCall(ctor, CtorBase, addr, args, class, base)
	c.registerCleanup(class, base, addr, DtorBase)
}

func (c *Compiler) emitMemberInit(class *ast.ClassDecl, f *ast.Field, init *ast.Initializer, this llvm.Value) {
	idx := class.FieldIndex(f)
	addr := c.byteGEP(this, c.Layout.FieldOffset(class, idx), f.Name+".member")

	switch ft := f.Type.(type) {
	case ast.Class:
		var ctor *ast.ConstructorDecl
		var args []llvm.Value
		if init != nil {
			ctor = init.Ctor
			for _, a := range init.Args {
				args = append(args, c.compileExpr(a))
			}
		}
		if ctor == nil {
			ctor = implicitDefaultCtor(ft.Decl)
		}
		c.EmitCtorCall(ctor, CtorComplete, addr, args, class, ft.Decl)
		c.registerCleanup(ft.Decl, ft.Decl, addr, DtorComplete)
	case ast.Array:
		if init == nil {
			c.emitMemSet(addr, 0, c.Layout.SizeOf(ft))
			return
		}
		elem := ast.ClassOf(ast.ElementType(ft))
		if elem == nil {
			c.unsupported(init.Token, fmt.Sprintf("explicit initializer for scalar array member %s", f.Name))
			return
		}
		c.emitArrayCtorLoop(elem, init.Ctor, addr, ft.Count)
		c.registerCleanup(elem, elem, addr, DtorComplete)
	case ast.Ref:
		if init == nil || init.Init == nil {
			panic(fmt.Sprintf("reference member %s.%s has no initializer", class.Name, f.Name))
		}
		// References bind directly: store the initializer's address.
		ref := c.compileAddr(init.Init)
		slot := c.builder.CreateBitCast(addr, llvm.PointerType(c.i8PtrType(), 0), "")
		c.builder.CreateStore(c.bitcastToI8Ptr(ref), slot)
	default:
		if init == nil || init.Init == nil {
			return
		}
		if !ast.IsScalar(f.Type) {
			c.unsupported(init.Token, fmt.Sprintf("initializer for member %s of type %s", f.Name, f.Type.String()))
			return
		}
		v := c.compileExpr(init.Init)
		ty := c.mapToLLVMType(f.Type)
		slot := c.builder.CreateBitCast(addr, llvm.PointerType(ty, 0), "")
		c.builder.CreateStore(v, slot)
	}
}

// EmitCtorCall invokes a constructor variant on addr. Trivial constructors
// are elided: a trivial default constructor emits nothing, a trivial copy
// is one block copy of the object's bytes.
func (c *Compiler) EmitCtorCall(ctor *ast.ConstructorDecl, variant CtorVariant, addr llvm.Value, args []llvm.Value, enclosing, class *ast.ClassDecl) {
	if ctor.Trivial {
		if ctor.IsCopy {
			if len(args) != 1 {
				panic(fmt.Sprintf("trivial copy of %s expects one source address", class.Name))
			}
			c.emitMemCpy(addr, args[0], c.Layout.SizeOf(ast.Class{Decl: class}))
		}
		return
	}

	fn := c.ctorFunction(ctor, variant)
	callArgs := []llvm.Value{c.bitcastToI8Ptr(addr)}
	if needsVBTParameter(class, variant == CtorBase) {
		callArgs = append(callArgs, c.subVBT(enclosing, class))
	}
	callArgs = append(callArgs, args...)
	c.builder.CreateCall(c.ctorFnType(ctor, variant), fn, callArgs, "")
}

// emitArrayCtorLoop constructs each element of a class-typed array with a
// counted forward loop.
func (c *Compiler) emitArrayCtorLoop(elem *ast.ClassDecl, ctor *ast.ConstructorDecl, addr llvm.Value, count uint64) {
	if ctor == nil {
		ctor = implicitDefaultCtor(elem)
	}
	if ctor.Trivial && ctor.IsDefault {
		return
	}
	i64 := c.Context.Int64Type()
	stride := c.Layout.SizeOf(ast.Class{Decl: elem})

	idxAddr := c.builder.CreateAlloca(i64, "ctor.idx")
	c.builder.CreateStore(c.ConstI64(0), idxAddr)

	condBB := c.createBasicBlock("for.cond")
	bodyBB := c.createBasicBlock("for.body")
	incBB := c.createBasicBlock("for.inc")
	endBB := c.createBasicBlock("for.end")
	c.builder.CreateBr(condBB)

	c.builder.SetInsertPointAtEnd(condBB)
	idx := c.builder.CreateLoad(i64, idxAddr, "idx")
	cmp := c.builder.CreateICmp(llvm.IntULT, idx, c.ConstI64(count), "")
	c.builder.CreateCondBr(cmp, bodyBB, endBB)

	c.builder.SetInsertPointAtEnd(bodyBB)
	off := c.builder.CreateMul(idx, c.ConstI64(stride), "")
	elemAddr := c.byteGEPValue(addr, off, "elem")
	c.EmitCtorCall(ctor, CtorComplete, elemAddr, nil, elem, elem)
	c.builder.CreateBr(incBB)

	c.builder.SetInsertPointAtEnd(incBB)
	idx = c.builder.CreateLoad(i64, idxAddr, "")
	c.builder.CreateStore(c.builder.CreateAdd(idx, c.ConstI64(1), ""), idxAddr)
	c.builder.CreateBr(condBB)

	c.builder.SetInsertPointAtEnd(endBB)
}
