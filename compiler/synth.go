package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// copyStep is one memberwise unit of a synthesized copy operation: a
// virtual base, a direct non-virtual base, or a declared member. Trivial
// steps lower to one block copy; the rest call the sub-object's own copy
// operation.
type copyStep struct {
	VBase *ast.ClassDecl
	Base  *ast.ClassDecl
	Field *ast.Field

	Trivial bool
}

// copyPlan lists the steps of an implicit copy in execution order:
// virtual bases once each (complete-object variants only), then direct
// non-virtual bases in declaration order, then members in declaration
// order. Virtual bases never appear in the per-base portion, no matter how
// many paths reach them; each is copied exactly once by the leading pass.
func copyPlan(class *ast.ClassDecl, forAssign, completeObject bool) []copyStep {
	var plan []copyStep
	if completeObject {
		for _, vb := range class.VBases {
			plan = append(plan, copyStep{VBase: vb, Trivial: trivialCopy(vb, forAssign)})
		}
	}
	for _, spec := range class.Bases {
		if spec.Virtual {
			continue
		}
		plan = append(plan, copyStep{Base: spec.Class, Trivial: trivialCopy(spec.Class, forAssign)})
	}
	for _, f := range class.Fields {
		plan = append(plan, copyStep{Field: f, Trivial: trivialFieldCopy(f, forAssign)})
	}
	return plan
}

func trivialCopy(class *ast.ClassDecl, forAssign bool) bool {
	if forAssign {
		return class.TrivialCopyAssign
	}
	return class.TrivialCopyCtor
}

func trivialFieldCopy(f *ast.Field, forAssign bool) bool {
	if cls := ast.ClassOf(ast.ElementType(f.Type)); cls != nil {
		return trivialCopy(cls, forAssign)
	}
	return true
}

// SynthesizeCopyCtor emits both variants of the implicit copy constructor
// for a class whose copy is neither user-declared nor trivial. Trivial
// copies never reach here; callers lower them to one memcpy at the use
// site.
func (c *Compiler) SynthesizeCopyCtor(class *ast.ClassDecl) {
	if class.HasUserCopyCtor || class.TrivialCopyCtor {
		panic(fmt.Sprintf("copy constructor of %s needs no synthesis", class.Name))
	}
	c.emitSynthesizedCopyCtor(class, CtorComplete)
	c.emitSynthesizedCopyCtor(class, CtorBase)
}

func (c *Compiler) emitSynthesizedCopyCtor(class *ast.ClassDecl, variant CtorVariant) {
	ctor := &ast.ConstructorDecl{Class: class, Implicit: true, IsCopy: true}
	fn := c.ctorFunction(ctor, variant)
	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	this := fn.Param(0)
	src := fn.Param(fn.ParamsCount() - 1)
	if needsVBTParameter(class, variant == CtorBase) {
		c.curVBT = fn.Param(1)
		defer func() { c.curVBT = llvm.Value{} }()
	}

	for _, step := range copyPlan(class, false, variant == CtorComplete) {
		c.emitCopyStep(class, step, this, src, false)
	}

	// The copy gets the identity of its own class, not whatever dynamic
	// type the source had.
	c.InstallVTablePointers(class, this)
	c.builder.CreateRetVoid()
}

// SynthesizeCopyAssign emits the implicit copy-assignment operator. Same
// step plan as the copy constructor; sub-objects are assigned rather than
// constructed, and the function returns this.
func (c *Compiler) SynthesizeCopyAssign(class *ast.ClassDecl) {
	if class.HasUserCopyAssign || class.TrivialCopyAssign {
		panic(fmt.Sprintf("copy assignment of %s needs no synthesis", class.Name))
	}
	fn := c.copyAssignFunction(class)
	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	this := fn.Param(0)
	src := fn.Param(1)

	for _, step := range copyPlan(class, true, true) {
		c.emitCopyStep(class, step, this, src, true)
	}
	c.builder.CreateRet(this)
}

func (c *Compiler) emitCopyStep(class *ast.ClassDecl, step copyStep, this, src llvm.Value, forAssign bool) {
	switch {
	case step.VBase != nil:
		off := c.Layout.VBaseOffset(class, step.VBase)
		c.emitSubObjectCopy(class, step.VBase, off, this, src, step.Trivial, forAssign)
	case step.Base != nil:
		off := c.Layout.BaseOffset(class, step.Base)
		c.emitSubObjectCopy(class, step.Base, off, this, src, step.Trivial, forAssign)
	default:
		c.emitFieldCopy(class, step.Field, this, src, step.Trivial, forAssign)
	}
}

// emitSubObjectCopy copies one base sub-object at a known offset, either
// bitwise or through the base's own copy operation.
func (c *Compiler) emitSubObjectCopy(class, base *ast.ClassDecl, off uint64, this, src llvm.Value, trivial, forAssign bool) {
	dstAddr := c.byteGEP(this, off, base.Name+".dst")
	srcAddr := c.byteGEP(src, off, base.Name+".src")
	if trivial {
		c.emitMemCpy(dstAddr, srcAddr, c.Layout.SizeOf(ast.Class{Decl: base}))
		return
	}
	if forAssign {
		fn := c.copyAssignFunction(base)
		c.builder.CreateCall(c.copyAssignFnType(), fn, []llvm.Value{dstAddr, srcAddr}, "")
		return
	}
	c.emitCopyCtorCall(class, base, dstAddr, srcAddr)
}

// emitCopyCtorCall invokes base's base-variant copy constructor on a
// sub-object, threading a virtual-base-table argument when the callee
// needs one to find its own virtual bases inside the complete object.
func (c *Compiler) emitCopyCtorCall(class, base *ast.ClassDecl, dst, src llvm.Value) {
	ctor := base.CopyCtor()
	if ctor == nil {
		ctor = &ast.ConstructorDecl{Class: base, Implicit: true, IsCopy: true}
	}
	fn := c.ctorFunction(ctor, CtorBase)
	args := []llvm.Value{dst}
	if len(base.VBases) > 0 {
		args = append(args, c.subVBT(class, base))
	}
	args = append(args, src)
	c.builder.CreateCall(c.ctorFnType(ctor, CtorBase), fn, args, "")
}

// subVBT produces the virtual-base-table argument for constructing the
// base sub-object of class: a slice of the current table when one is in
// flight, otherwise of class's own global table.
func (c *Compiler) subVBT(class, base *ast.ClassDecl) llvm.Value {
	idx := c.Layout.SubVBTIndex(class, base)
	table := c.curVBT
	if table.IsNil() {
		table = c.builder.CreateBitCast(c.vbtGlobal(class), c.i8PtrType(), "")
	}
	if idx == 0 {
		return table
	}
	return c.builder.CreateGEP(c.Context.Int8Type(), table, []llvm.Value{c.ConstI64(idx)}, "sub.vbt")
}

func (c *Compiler) emitFieldCopy(class *ast.ClassDecl, f *ast.Field, this, src llvm.Value, trivial, forAssign bool) {
	idx := class.FieldIndex(f)
	off := c.Layout.FieldOffset(class, idx)
	dstAddr := c.byteGEP(this, off, f.Name+".dst")
	srcAddr := c.byteGEP(src, off, f.Name+".src")

	switch ft := f.Type.(type) {
	case ast.Class:
		if trivial {
			c.emitMemCpy(dstAddr, srcAddr, c.Layout.SizeOf(ft))
			return
		}
		if forAssign {
			fn := c.copyAssignFunction(ft.Decl)
			c.builder.CreateCall(c.copyAssignFnType(), fn, []llvm.Value{dstAddr, srcAddr}, "")
			return
		}
		// A member is a complete object of its own type.
		ctor := ft.Decl.CopyCtor()
		if ctor == nil {
			ctor = &ast.ConstructorDecl{Class: ft.Decl, Implicit: true, IsCopy: true}
		}
		c.builder.CreateCall(c.ctorFnType(ctor, CtorComplete), c.ctorFunction(ctor, CtorComplete),
			[]llvm.Value{dstAddr, srcAddr}, "")
	case ast.Array:
		elem := ast.ClassOf(ast.ElementType(ft))
		if trivial || elem == nil {
			c.emitMemCpy(dstAddr, srcAddr, c.Layout.SizeOf(ft))
			return
		}
		c.emitArrayCopyLoop(elem, dstAddr, srcAddr, ft.Count, forAssign)
	case ast.Ref:
		// Reference members copy the stored address.
		slotTy := c.i8PtrType()
		srcSlot := c.builder.CreateBitCast(srcAddr, llvm.PointerType(slotTy, 0), "")
		dstSlot := c.builder.CreateBitCast(dstAddr, llvm.PointerType(slotTy, 0), "")
		v := c.builder.CreateLoad(slotTy, srcSlot, f.Name)
		c.builder.CreateStore(v, dstSlot)
	default:
		if !ast.IsScalar(f.Type) {
			c.unsupported(class.Token, fmt.Sprintf("copy of member %s of type %s", f.Name, f.Type.String()))
			return
		}
		ty := c.mapToLLVMType(f.Type)
		srcSlot := c.builder.CreateBitCast(srcAddr, llvm.PointerType(ty, 0), "")
		dstSlot := c.builder.CreateBitCast(dstAddr, llvm.PointerType(ty, 0), "")
		v := c.builder.CreateLoad(ty, srcSlot, f.Name)
		c.builder.CreateStore(v, dstSlot)
	}
}

// emitArrayCopyLoop copies an array of class-typed elements with a counted
// loop: an unsigned index from zero, compared unsigned-less-than against
// the element count. The loop is never unrolled, keeping code size
// independent of the bound.
func (c *Compiler) emitArrayCopyLoop(elem *ast.ClassDecl, dst, src llvm.Value, count uint64, forAssign bool) {
	i64 := c.Context.Int64Type()
	stride := c.Layout.SizeOf(ast.Class{Decl: elem})

	idxAddr := c.builder.CreateAlloca(i64, "copy.idx")
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
	dstElem := c.byteGEPValue(dst, off, "elem.dst")
	srcElem := c.byteGEPValue(src, off, "elem.src")
	if forAssign {
		fn := c.copyAssignFunction(elem)
		c.builder.CreateCall(c.copyAssignFnType(), fn, []llvm.Value{dstElem, srcElem}, "")
	} else {
		ctor := elem.CopyCtor()
		if ctor == nil {
			ctor = &ast.ConstructorDecl{Class: elem, Implicit: true, IsCopy: true}
		}
		c.builder.CreateCall(c.ctorFnType(ctor, CtorComplete), c.ctorFunction(ctor, CtorComplete),
			[]llvm.Value{dstElem, srcElem}, "")
	}
	c.builder.CreateBr(incBB)

	c.builder.SetInsertPointAtEnd(incBB)
	idx = c.builder.CreateLoad(i64, idxAddr, "")
	next := c.builder.CreateAdd(idx, c.ConstI64(1), "")
	c.builder.CreateStore(next, idxAddr)
	c.builder.CreateBr(condBB)

	c.builder.SetInsertPointAtEnd(endBB)
}

func (c *Compiler) emitMemCpy(dst, src llvm.Value, size uint64) {
	fnTy, fn := c.GetCFunc(MEMCPY)
	c.builder.CreateCall(fnTy, fn, []llvm.Value{
		c.bitcastToI8Ptr(dst),
		c.bitcastToI8Ptr(src),
		c.ConstI64(size),
	}, "")
}

func (c *Compiler) emitMemSet(dst llvm.Value, val uint8, size uint64) {
	fnTy, fn := c.GetCFunc(MEMSET)
	c.builder.CreateCall(fnTy, fn, []llvm.Value{
		c.bitcastToI8Ptr(dst),
		c.ConstI32(uint64(val)),
		c.ConstI64(size),
	}, "")
}
