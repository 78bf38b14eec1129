package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
)

// Every closure value starts with the same fixed header, so any closure
// can be invoked generically by loading the entry-point field through a
// known offset:
//
//	+0  dispatch tag (pointer)
//	+8  flags (i32)
//	+12 reserved (i32)
//	+16 entry-point pointer
//	+24 descriptor pointer
//
// Captured-variable slots follow from offset 32.
const (
	recordTagOffset    = 0
	recordFlagsOffset  = 8
	recordInvokeOffset = 16
	recordDescOffset   = 24
	recordHeaderSize   = 32
)

// Flags word bits.
const (
	recordHasHelpers uint32 = 1 << 25
	recordIsGlobal   uint32 = 1 << 28
)

// Flavor tags passed to the capture runtime primitives.
const (
	captureFieldValue   = 3 // class value needing a real copy/destroy
	captureFieldClosure = 7 // captured closure value
	captureFieldByRef   = 8 // address of a shared storage cell
)

// CaptureSlot is one laid-out field of a capture record. Padding slots
// carry no declaration.
type CaptureSlot struct {
	Decl *ast.VarDecl

	Offset uint64
	Size   uint64
	Align  uint64

	ByRef        bool
	NeedsHelpers bool
	Padding      bool
}

func (s CaptureSlot) flavor() uint64 {
	switch {
	case s.ByRef:
		return captureFieldByRef
	case s.Decl != nil && s.Decl.VType.Kind() == ast.ClosureKind:
		return captureFieldClosure
	default:
		return captureFieldValue
	}
}

// CaptureRecord is the per-closure byte layout: the fixed header, then one
// slot per captured variable in first-reference order, with padding slots
// where alignment demands them.
type CaptureRecord struct {
	Slots []CaptureSlot
	Size  uint64
	Align uint64

	HasNonTrivial bool
	Set           *CaptureSet
}

// slotFor returns the data slot of a captured declaration.
func (r *CaptureRecord) slotFor(d *ast.VarDecl) (CaptureSlot, bool) {
	for _, s := range r.Slots {
		if s.Decl == d {
			return s, true
		}
	}
	return CaptureSlot{}, false
}

// BuildCaptureRecord assigns byte offsets to a capture set. By-reference
// captures get a pointer-sized slot holding the shared cell's address; by
// value captures get a slot of the variable's own size and alignment.
// Offsets are monotonically non-decreasing; no reordering is performed.
func (c *Compiler) BuildCaptureRecord(set *CaptureSet) *CaptureRecord {
	rec := &CaptureRecord{
		Align: c.Layout.PointerAlign(),
		Set:   set,
	}

	offset := uint64(recordHeaderSize)
	for _, cap := range set.Captures {
		var size, align uint64
		needs := false
		if cap.ByRef {
			size, align = c.Layout.PointerSize(), c.Layout.PointerAlign()
			needs = true
		} else {
			size, align = c.Layout.SizeOf(cap.Decl.VType), c.Layout.AlignOf(cap.Decl.VType)
			needs = captureNeedsHelpers(cap.Decl.VType)
		}

		if aligned := layout.RoundUp(offset, align); aligned > offset {
			rec.Slots = append(rec.Slots, CaptureSlot{
				Offset:  offset,
				Size:    aligned - offset,
				Align:   1,
				Padding: true,
			})
			offset = aligned
		}
		rec.Slots = append(rec.Slots, CaptureSlot{
			Decl:         cap.Decl,
			Offset:       offset,
			Size:         size,
			Align:        align,
			ByRef:        cap.ByRef,
			NeedsHelpers: needs,
		})
		offset += size
		if align > rec.Align {
			rec.Align = align
		}
		if needs {
			rec.HasNonTrivial = true
		}
	}
	rec.Size = layout.RoundUp(offset, rec.Align)
	return rec
}

// captureNeedsHelpers reports whether a by-value capture of this type
// needs runtime copy/destroy participation: captured closures must be
// retained, and class values with non-trivial copy or destroy cannot be
// moved bitwise.
func captureNeedsHelpers(t ast.Type) bool {
	if t.Kind() == ast.ClosureKind {
		return true
	}
	if cls := ast.ClassOf(t); cls != nil {
		return !cls.TrivialCopyCtor || !cls.TrivialDtor
	}
	return false
}

func (r *CaptureRecord) flags() uint32 {
	var f uint32
	if r.HasNonTrivial {
		f |= recordHasHelpers
	}
	return f
}

// EmitClosureLiteral lowers one evaluation of a closure expression to an
// opaque record pointer. Captureless closures without nested closures are
// promoted to a single shared constant; everything else builds a fresh
// stack record per evaluation.
func (c *Compiler) EmitClosureLiteral(expr *ast.ClosureExpr) llvm.Value {
	set := AnalyzeCaptures(expr)
	rec := c.BuildCaptureRecord(set)

	id := c.closureCounter
	c.closureCounter++

	invoke := c.generateEntryPoint(expr, rec, id)

	if set.CanBeGlobal() {
		return c.emitGlobalClosure(rec, invoke, id)
	}
	return c.emitStackClosure(rec, invoke, id)
}

func (c *Compiler) emitGlobalClosure(rec *CaptureRecord, invoke llvm.Value, id int) llvm.Value {
	i32 := c.Context.Int32Type()
	fields := []llvm.Value{
		c.closureTag(true),
		llvm.ConstInt(i32, uint64(rec.flags()|recordIsGlobal), false),
		llvm.ConstInt(i32, 0, false),
		llvm.ConstBitCast(invoke, c.i8PtrType()),
		c.recordDescriptor(rec, id),
	}
	init := llvm.ConstStruct(fields, false)
	g := llvm.AddGlobal(c.Module, init.Type(), fmt.Sprintf("_QCL_%d.global", id))
	g.SetInitializer(init)
	g.SetLinkage(llvm.InternalLinkage)
	g.SetGlobalConstant(true)
	return llvm.ConstBitCast(g, c.i8PtrType())
}

func (c *Compiler) emitStackClosure(rec *CaptureRecord, invoke llvm.Value, id int) llvm.Value {
	recTy := llvm.ArrayType(c.Context.Int8Type(), arrayLen(rec.Size))
	slot := c.builder.CreateAlloca(recTy, fmt.Sprintf("closure%d", id))
	base := c.bitcastToI8Ptr(slot)

	c.storePtrField(base, recordTagOffset, c.closureTag(false))
	c.storeI32Field(base, recordFlagsOffset, rec.flags())
	c.storeI32Field(base, recordFlagsOffset+4, 0)
	c.storePtrField(base, recordInvokeOffset, c.builder.CreateBitCast(invoke, c.i8PtrType(), ""))
	c.storePtrField(base, recordDescOffset, c.recordDescriptor(rec, id))

	for _, s := range rec.Slots {
		if s.Padding {
			continue
		}
		sym, ok := Get(c.Scopes, s.Decl)
		if !ok {
			// Capturing a variable the enclosing closure itself captured:
			// forward it out of the current record.
			sym = c.capturedSymbol(s.Decl)
		}
		if s.ByRef {
			c.storePtrField(base, s.Offset, c.bitcastToI8Ptr(sym.Ptr))
			continue
		}
		c.emitCaptureCopy(c.byteGEP(base, s.Offset, s.Decl.Name+".cap"), sym)
	}
	return base
}

// emitCaptureCopy snapshots one by-value capture into its record slot.
func (c *Compiler) emitCaptureCopy(fieldAddr llvm.Value, sym *Symbol) {
	if cls := ast.ClassOf(sym.Type); cls != nil {
		if cls.TrivialCopyCtor {
			c.emitMemCpy(fieldAddr, sym.Ptr, c.Layout.SizeOf(sym.Type))
			return
		}
		ctor := cls.CopyCtor()
		if ctor == nil {
			ctor = &ast.ConstructorDecl{Class: cls, Implicit: true, IsCopy: true}
		}
		c.builder.CreateCall(c.ctorFnType(ctor, CtorComplete), c.ctorFunction(ctor, CtorComplete),
			[]llvm.Value{c.bitcastToI8Ptr(fieldAddr), c.bitcastToI8Ptr(sym.Ptr)}, "")
		return
	}
	ty := c.mapToLLVMType(sym.Type)
	v := c.builder.CreateLoad(ty, sym.Ptr, "")
	slot := c.builder.CreateBitCast(fieldAddr, llvm.PointerType(ty, 0), "")
	c.builder.CreateStore(v, slot)
}

// recordDescriptor builds the read-only descriptor shared by every
// instance of one closure shape: reserved word, total record size, and,
// when any slot is non-trivial, the copy and destroy helper entry points.
func (c *Compiler) recordDescriptor(rec *CaptureRecord, id int) llvm.Value {
	i64 := c.Context.Int64Type()
	fields := []llvm.Value{
		llvm.ConstInt(i64, 0, false),
		llvm.ConstInt(i64, rec.Size, false),
	}
	if rec.HasNonTrivial {
		fields = append(fields,
			llvm.ConstBitCast(c.GenerateCopyHelper(rec), c.i8PtrType()),
			llvm.ConstBitCast(c.GenerateDestroyHelper(rec), c.i8PtrType()),
		)
	}
	init := llvm.ConstStruct(fields, false)
	g := llvm.AddGlobal(c.Module, init.Type(), fmt.Sprintf("_QCD_%d", id))
	g.SetInitializer(init)
	g.SetLinkage(llvm.InternalLinkage)
	g.SetGlobalConstant(true)
	return llvm.ConstBitCast(g, c.i8PtrType())
}

// generateEntryPoint compiles the closure body as an ordinary function
// whose first parameter is the record pointer.
func (c *Compiler) generateEntryPoint(expr *ast.ClosureExpr, rec *CaptureRecord, id int) llvm.Value {
	params := []llvm.Type{c.i8PtrType()}
	for _, p := range expr.Params {
		params = append(params, c.mapToLLVMType(p.VType))
	}
	retTy := c.Context.VoidType()
	if expr.Result != nil {
		retTy = c.mapToLLVMType(expr.Result)
	}
	fnTy := llvm.FunctionType(retTy, params, false)
	fn := llvm.AddFunction(c.Module, fmt.Sprintf("_QCL_%d_invoke", id), fnTy)
	fn.SetLinkage(llvm.InternalLinkage)

	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)
	prevRec, prevRecPtr := c.curRecord, c.curRecordPtr
	c.curRecord, c.curRecordPtr = rec, fn.Param(0)
	defer func() { c.curRecord, c.curRecordPtr = prevRec, prevRecPtr }()

	// Obligations from the body's own declarations must not leak onto the
	// list of a constructor that is mid-emission in the outer function.
	prevCleanups := c.pushCleanupScope()
	defer c.popCleanupScope(prevCleanups)

	PushScope(&c.Scopes, FuncScope)
	defer PopScope(&c.Scopes)
	for i, p := range expr.Params {
		ty := c.mapToLLVMType(p.VType)
		slot := c.builder.CreateAlloca(ty, p.Name)
		c.builder.CreateStore(fn.Param(i+1), slot)
		Put(c.Scopes, p, &Symbol{Ptr: slot, Type: p.VType})
	}

	terminated := c.compileStatements(expr.Body)
	if !terminated {
		if expr.Result != nil {
			c.builder.CreateRet(llvm.ConstNull(retTy))
		} else {
			c.builder.CreateRetVoid()
		}
	}
	return fn
}

// capturedSymbol recovers the address of a captured variable through the
// current record. Misses here mean scope resolution and capture analysis
// disagree, which is a compiler bug.
func (c *Compiler) capturedSymbol(d *ast.VarDecl) *Symbol {
	if c.curRecord == nil {
		panic(fmt.Sprintf("variable %s is not in scope and no capture record is active", d.Name))
	}
	slot, ok := c.curRecord.slotFor(d)
	if !ok {
		panic(fmt.Sprintf("variable %s was not captured by the current closure", d.Name))
	}
	addr := c.byteGEP(c.curRecordPtr, slot.Offset, d.Name+".cap")
	if slot.ByRef {
		// The slot holds the shared cell's address, not the value.
		cell := c.builder.CreateBitCast(addr, llvm.PointerType(c.i8PtrType(), 0), "")
		addr = c.builder.CreateLoad(c.i8PtrType(), cell, d.Name+".ref")
	}
	return &Symbol{Ptr: addr, Type: d.VType, Captured: true}
}

// EmitClosureCall invokes a closure value: the entry point is loaded
// through the fixed header offset, so the caller needs nothing but the
// record pointer and the argument list.
func (c *Compiler) EmitClosureCall(closure llvm.Value, ct ast.Closure, args []llvm.Value) llvm.Value {
	base := c.bitcastToI8Ptr(closure)
	invokeAddr := c.byteGEP(base, recordInvokeOffset, "invoke.addr")
	slot := c.builder.CreateBitCast(invokeAddr, llvm.PointerType(c.i8PtrType(), 0), "")
	invoke := c.builder.CreateLoad(c.i8PtrType(), slot, "invoke")

	params := []llvm.Type{c.i8PtrType()}
	for _, p := range ct.Params {
		params = append(params, c.mapToLLVMType(p))
	}
	retTy := c.Context.VoidType()
	if ct.Result != nil {
		retTy = c.mapToLLVMType(ct.Result)
	}
	fnTy := llvm.FunctionType(retTy, params, false)
	fnPtr := c.builder.CreateBitCast(invoke, llvm.PointerType(fnTy, 0), "")

	name := ""
	if ct.Result != nil {
		name = "call"
	}
	return c.builder.CreateCall(fnTy, fnPtr, append([]llvm.Value{base}, args...), name)
}

// closureTag returns the dispatch tag global for stack or promoted
// closures, declared on first use and resolved by the runtime.
func (c *Compiler) closureTag(global bool) llvm.Value {
	if global {
		if c.globalClosureTag.IsNil() {
			c.globalClosureTag = llvm.AddGlobal(c.Module, c.i8PtrType(), "_QClosureGlobalTag")
		}
		return llvm.ConstBitCast(c.globalClosureTag, c.i8PtrType())
	}
	if c.stackClosureTag.IsNil() {
		c.stackClosureTag = llvm.AddGlobal(c.Module, c.i8PtrType(), "_QClosureStackTag")
	}
	return llvm.ConstBitCast(c.stackClosureTag, c.i8PtrType())
}

func (c *Compiler) storePtrField(base llvm.Value, off uint64, v llvm.Value) {
	addr := c.byteGEP(base, off, "")
	slot := c.builder.CreateBitCast(addr, llvm.PointerType(c.i8PtrType(), 0), "")
	c.builder.CreateStore(v, slot)
}

func (c *Compiler) storeI32Field(base llvm.Value, off uint64, v uint32) {
	addr := c.byteGEP(base, off, "")
	slot := c.builder.CreateBitCast(addr, llvm.PointerType(c.Context.Int32Type(), 0), "")
	c.builder.CreateStore(llvm.ConstInt(c.Context.Int32Type(), uint64(v), false), slot)
}
