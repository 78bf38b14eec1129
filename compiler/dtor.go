package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// EmitDestructor lowers one destructor variant. Destruction is the exact
// reverse of construction: members before bases, each group in reverse
// declaration order, virtual bases last of all and only in the
// complete-object variant. Every destroy step is unconditional; callers
// guarantee a destructor never runs twice on one address.
func (c *Compiler) EmitDestructor(dtor *ast.DestructorDecl, variant DtorVariant) llvm.Value {
	class := dtor.Class
	fn := c.dtorFunction(class, variant)
	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	this := fn.Param(0)
	if needsVBTParameter(class, variant == DtorBase) {
		c.curVBT = fn.Param(1)
		defer func() { c.curVBT = llvm.Value{} }()
	}

	switch variant {
	case DtorDeleting:
		// One call does all the member-level work, then the storage goes.
		c.emitDtorCall(class, class, this, DtorComplete)
		fnTy, free := c.GetCFunc(FREE)
		c.builder.CreateCall(fnTy, free, []llvm.Value{c.bitcastToI8Ptr(this)}, "")
	case DtorComplete:
		c.emitDtorCall(class, class, this, DtorBase)
		for i := len(class.VBases) - 1; i >= 0; i-- {
			vb := class.VBases[i]
			if vb.TrivialDtor {
				continue
			}
			addr := c.byteGEP(this, c.Layout.VBaseOffset(class, vb), vb.Name+".vbase")
			c.emitDtorCall(class, vb, addr, DtorBase)
		}
	case DtorBase:
		c.emitMemberDestruction(class, this)
		for i := len(class.Bases) - 1; i >= 0; i-- {
			spec := class.Bases[i]
			if spec.Virtual || spec.Class.TrivialDtor {
				continue
			}
			addr := c.byteGEP(this, c.Layout.BaseOffset(class, spec.Class), spec.Class.Name+".base")
			c.emitDtorCall(class, spec.Class, addr, DtorBase)
		}
	}
	c.builder.CreateRetVoid()
	return fn
}

func (c *Compiler) emitMemberDestruction(class *ast.ClassDecl, this llvm.Value) {
	for i := len(class.Fields) - 1; i >= 0; i-- {
		f := class.Fields[i]
		elem := ast.ClassOf(ast.ElementType(f.Type))
		if elem == nil || elem.TrivialDtor {
			continue
		}
		addr := c.byteGEP(this, c.Layout.FieldOffset(class, i), f.Name+".member")
		if arr, ok := f.Type.(ast.Array); ok {
			c.emitArrayDtorLoop(elem, addr, arr.Count)
			continue
		}
		c.emitDtorCall(elem, elem, addr, DtorComplete)
	}
}

// emitArrayDtorLoop destroys array elements in reverse: the counter starts
// at the element count, and each iteration decrements before use, so the
// last-constructed element is the first destroyed.
func (c *Compiler) emitArrayDtorLoop(elem *ast.ClassDecl, addr llvm.Value, count uint64) {
	i64 := c.Context.Int64Type()
	stride := c.Layout.SizeOf(ast.Class{Decl: elem})

	idxAddr := c.builder.CreateAlloca(i64, "dtor.idx")
	c.builder.CreateStore(c.ConstI64(count), idxAddr)

	condBB := c.createBasicBlock("dtor.cond")
	bodyBB := c.createBasicBlock("dtor.body")
	endBB := c.createBasicBlock("dtor.end")
	c.builder.CreateBr(condBB)

	c.builder.SetInsertPointAtEnd(condBB)
	idx := c.builder.CreateLoad(i64, idxAddr, "idx")
	cmp := c.builder.CreateICmp(llvm.IntNE, idx, c.ConstI64(0), "")
	c.builder.CreateCondBr(cmp, bodyBB, endBB)

	c.builder.SetInsertPointAtEnd(bodyBB)
	idx = c.builder.CreateLoad(i64, idxAddr, "")
	prev := c.builder.CreateSub(idx, c.ConstI64(1), "")
	c.builder.CreateStore(prev, idxAddr)
	off := c.builder.CreateMul(prev, c.ConstI64(stride), "")
	elemAddr := c.byteGEPValue(addr, off, "elem")
	c.emitDtorCall(elem, elem, elemAddr, DtorComplete)
	c.builder.CreateBr(condBB)

	c.builder.SetInsertPointAtEnd(endBB)
}

// EmitGlobalDtorHelper wraps the complete-object destruction of one global
// in a parameterless function suitable for registration with the runtime's
// at-exit mechanism.
func (c *Compiler) EmitGlobalDtorHelper(class *ast.ClassDecl, global llvm.Value) llvm.Value {
	name := fmt.Sprintf("__tcf_%d", c.tcfCounter)
	c.tcfCounter++

	fnTy := llvm.FunctionType(c.Context.VoidType(), nil, false)
	fn := llvm.AddFunction(c.Module, name, fnTy)
	fn.SetLinkage(llvm.InternalLinkage)

	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	c.emitDtorCall(class, class, global, DtorComplete)
	c.builder.CreateRetVoid()
	return fn
}
