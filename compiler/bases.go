package compiler

import (
	"errors"
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// Base conversion failures a caller can act on. Anything else the resolver
// hits is an internal-consistency failure and panics.
var (
	ErrNotABase      = errors.New("class is not a base of the derived class")
	ErrAmbiguousBase = errors.New("base class is reachable through multiple paths")
)

// BaseOffset describes how to reach a base sub-object from a derived
// object's address. When VBase is nil the whole offset is the compile-time
// constant NonVirtual. Otherwise codegen must first load the runtime offset
// of VBase from the object's indirection table, then add NonVirtual, which
// covers the statically-known remainder of the path below the virtual
// crossing.
type BaseOffset struct {
	NonVirtual uint64
	VBase      *ast.ClassDecl
}

func (o BaseOffset) IsVirtual() bool { return o.VBase != nil }

func (o BaseOffset) IsZero() bool { return o.VBase == nil && o.NonVirtual == 0 }

// ThunkAdjustment is the this-pointer fixup applied when a call crosses
// from a derived class's convention to a base class's. VBaseIndex is the
// indirection-table slot to read first when Virtual is set.
type ThunkAdjustment struct {
	NonVirtual uint64
	Virtual    bool
	VBaseIndex int64
}

// ResolveBaseOffset walks the inheritance DAG from derived to base. The
// search is over the immutable declarations; it emits nothing. Paths that
// cross the same virtual base collapse into one descriptor, since the
// virtual base is a single shared sub-object no matter how it is reached.
func (c *Compiler) ResolveBaseOffset(derived, base *ast.ClassDecl) (BaseOffset, error) {
	if derived == base {
		return BaseOffset{}, nil
	}

	var found []BaseOffset
	var walk func(cur *ast.ClassDecl, acc BaseOffset)
	walk = func(cur *ast.ClassDecl, acc BaseOffset) {
		if cur == base {
			found = append(found, acc)
			return
		}
		for _, spec := range cur.Bases {
			if spec.Virtual {
				// Everything below a virtual crossing is static
				// relative to the virtual base's own start.
				walk(spec.Class, BaseOffset{VBase: spec.Class})
				continue
			}
			next := acc
			next.NonVirtual += c.Layout.BaseOffset(cur, spec.Class)
			walk(spec.Class, next)
		}
	}
	walk(derived, BaseOffset{})

	if len(found) == 0 {
		return BaseOffset{}, ErrNotABase
	}
	distinct := found[:1]
	for _, o := range found[1:] {
		if o != distinct[len(distinct)-1] {
			dup := false
			for _, d := range distinct {
				if d == o {
					dup = true
					break
				}
			}
			if !dup {
				distinct = append(distinct, o)
			}
		}
	}
	if len(distinct) > 1 {
		return BaseOffset{}, ErrAmbiguousBase
	}
	return distinct[0], nil
}

// ComputeThunkAdjustment resolves the this-pointer fixup for forwarding a
// call on derived to an override declared in base.
func (c *Compiler) ComputeThunkAdjustment(derived, base *ast.ClassDecl) (ThunkAdjustment, error) {
	off, err := c.ResolveBaseOffset(derived, base)
	if err != nil {
		return ThunkAdjustment{}, err
	}
	adj := ThunkAdjustment{NonVirtual: off.NonVirtual}
	if off.IsVirtual() {
		adj.Virtual = true
		adj.VBaseIndex = c.Layout.VBaseOffsetIndex(derived, off.VBase)
	}
	return adj, nil
}

// loadVBaseOffset reads the runtime offset of vbase from the indirection
// table an object of class carries. The object's first pointer slot holds
// the table pointer; the offset lives at a (negative) slot index supplied
// by the layout service.
func (c *Compiler) loadVBaseOffset(this llvm.Value, class, vbase *ast.ClassDecl) llvm.Value {
	i64 := c.Context.Int64Type()
	tablePtrAddr := c.builder.CreateBitCast(this, llvm.PointerType(c.i8PtrType(), 0), "vtable.addr")
	tablePtr := c.builder.CreateLoad(c.i8PtrType(), tablePtrAddr, "vtable")
	slots := c.builder.CreateBitCast(tablePtr, llvm.PointerType(i64, 0), "")
	idx := c.Layout.VBaseOffsetIndex(class, vbase)
	slotAddr := c.builder.CreateGEP(i64, slots, []llvm.Value{llvm.ConstInt(i64, uint64(idx), true)}, "vbase.offset.addr")
	return c.builder.CreateLoad(i64, slotAddr, "vbase.offset")
}

// baseOffsetValue materializes a resolved BaseOffset as a runtime i64,
// loading the indirection entry when the path crossed a virtual base.
func (c *Compiler) baseOffsetValue(this llvm.Value, derived *ast.ClassDecl, off BaseOffset) llvm.Value {
	if !off.IsVirtual() {
		return c.ConstI64(off.NonVirtual)
	}
	dyn := c.loadVBaseOffset(this, derived, off.VBase)
	if off.NonVirtual == 0 {
		return dyn
	}
	return c.builder.CreateAdd(dyn, c.ConstI64(off.NonVirtual), "base.offset")
}

// AddressOfBase converts a pointer to a derived object into a pointer to
// one of its base sub-objects. With nullCheck, a null input yields a null
// result through an explicit branch and merge rather than offset
// arithmetic on null.
func (c *Compiler) AddressOfBase(this llvm.Value, derived, base *ast.ClassDecl, nullCheck bool) (llvm.Value, error) {
	off, err := c.ResolveBaseOffset(derived, base)
	if err != nil {
		return llvm.Value{}, err
	}
	this = c.bitcastToI8Ptr(this)
	if off.IsZero() {
		return this, nil
	}

	if !nullCheck {
		return c.byteGEPValue(this, c.baseOffsetValue(this, derived, off), "base.addr"), nil
	}

	nullBB := c.createBasicBlock("cast.null")
	notNullBB := c.createBasicBlock("cast.notnull")
	endBB := c.createBasicBlock("cast.end")

	isNull := c.builder.CreateICmp(llvm.IntEQ, this, llvm.ConstPointerNull(c.i8PtrType()), "")
	c.builder.CreateCondBr(isNull, nullBB, notNullBB)

	c.builder.SetInsertPointAtEnd(nullBB)
	c.builder.CreateBr(endBB)

	c.builder.SetInsertPointAtEnd(notNullBB)
	adjusted := c.byteGEPValue(this, c.baseOffsetValue(this, derived, off), "base.addr")
	notNullExit := c.builder.GetInsertBlock()
	c.builder.CreateBr(endBB)

	c.builder.SetInsertPointAtEnd(endBB)
	phi := c.builder.CreatePHI(c.i8PtrType(), "base.cast")
	phi.AddIncoming(
		[]llvm.Value{llvm.ConstPointerNull(c.i8PtrType()), adjusted},
		[]llvm.BasicBlock{nullBB, notNullExit},
	)
	return phi, nil
}

// AddressOfDerived is the inverse conversion: a pointer known to reference
// a base sub-object inside a complete derived object is adjusted back to
// the derived object's start. Only purely non-virtual paths can be
// reversed; semantic analysis rejects virtual downcasts before lowering,
// so hitting one here is a compiler bug.
func (c *Compiler) AddressOfDerived(base llvm.Value, derived, baseClass *ast.ClassDecl, nullCheck bool) (llvm.Value, error) {
	off, err := c.ResolveBaseOffset(derived, baseClass)
	if err != nil {
		return llvm.Value{}, err
	}
	if off.IsVirtual() {
		panic(fmt.Sprintf("cannot reverse a virtual base path from %s to %s", baseClass.Name, derived.Name))
	}
	base = c.bitcastToI8Ptr(base)
	if off.NonVirtual == 0 {
		return base, nil
	}

	i64 := c.Context.Int64Type()
	adjust := func(v llvm.Value) llvm.Value {
		asInt := c.builder.CreatePtrToInt(v, i64, "")
		asInt = c.builder.CreateSub(asInt, c.ConstI64(off.NonVirtual), "")
		return c.builder.CreateIntToPtr(asInt, c.i8PtrType(), "derived.addr")
	}

	if !nullCheck {
		return adjust(base), nil
	}

	nullBB := c.createBasicBlock("cast.null")
	notNullBB := c.createBasicBlock("cast.notnull")
	endBB := c.createBasicBlock("cast.end")

	isNull := c.builder.CreateICmp(llvm.IntEQ, base, llvm.ConstPointerNull(c.i8PtrType()), "")
	c.builder.CreateCondBr(isNull, nullBB, notNullBB)

	c.builder.SetInsertPointAtEnd(nullBB)
	c.builder.CreateBr(endBB)

	c.builder.SetInsertPointAtEnd(notNullBB)
	adjusted := adjust(base)
	c.builder.CreateBr(endBB)

	c.builder.SetInsertPointAtEnd(endBB)
	phi := c.builder.CreatePHI(c.i8PtrType(), "derived.cast")
	phi.AddIncoming(
		[]llvm.Value{llvm.ConstPointerNull(c.i8PtrType()), adjusted},
		[]llvm.BasicBlock{nullBB, notNullBB},
	)
	return phi, nil
}

// EmitThunkAdjustment applies adj to a this pointer inside a generated
// thunk body.
func (c *Compiler) EmitThunkAdjustment(this llvm.Value, class *ast.ClassDecl, adj ThunkAdjustment) llvm.Value {
	this = c.bitcastToI8Ptr(this)
	off := c.ConstI64(adj.NonVirtual)
	if adj.Virtual {
		i64 := c.Context.Int64Type()
		tablePtrAddr := c.builder.CreateBitCast(this, llvm.PointerType(c.i8PtrType(), 0), "")
		tablePtr := c.builder.CreateLoad(c.i8PtrType(), tablePtrAddr, "vtable")
		slots := c.builder.CreateBitCast(tablePtr, llvm.PointerType(i64, 0), "")
		slotAddr := c.builder.CreateGEP(i64, slots, []llvm.Value{llvm.ConstInt(i64, uint64(adj.VBaseIndex), true)}, "")
		dyn := c.builder.CreateLoad(i64, slotAddr, "vbase.offset")
		off = c.builder.CreateAdd(dyn, off, "this.adjust")
	}
	return c.byteGEPValue(this, off, "this.adjusted")
}
