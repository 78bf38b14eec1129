package compiler

import (
	"fmt"

	"fortio.org/safecast"
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
	"github.com/quill-lang/quill/layout"
	"github.com/quill-lang/quill/token"
)

// CtorVariant selects which constructor body is being emitted. The Complete
// variant initializes virtual bases; the Base variant assumes an outer
// Complete constructor has already done so.
type CtorVariant int

const (
	CtorComplete CtorVariant = iota
	CtorBase
)

// DtorVariant mirrors CtorVariant for destruction, plus the Deleting
// variant that also releases the object's storage.
type DtorVariant int

const (
	DtorDeleting DtorVariant = iota
	DtorComplete
	DtorBase
)

type Compiler struct {
	Context llvm.Context
	Module  llvm.Module
	builder llvm.Builder

	// Layout answers every size/offset/address-point question. The
	// lowering engine performs no layout computation of its own.
	Layout layout.Info

	// Helpers is the process-wide cache of generated capture-record
	// copy/destroy helpers, shared across closures with identical shapes.
	// It is passed in explicitly so its lifetime and ownership are visible.
	Helpers *HelperFuncTable

	// EH enables cleanup-obligation registration during constructor
	// lowering: a failing initializer destroys the already-constructed
	// sub-objects in reverse order before propagating the failure.
	EH bool

	Errors []*token.CompileError

	Scopes []Scope

	tmpCounter     int
	closureCounter int
	tcfCounter     int

	vtables map[*ast.ClassDecl]llvm.Value
	vbts    map[*ast.ClassDecl]llvm.Value

	// State for the function currently being emitted.
	curFn       llvm.Value
	curVBT      llvm.Value
	curCleanups *cleanupScope

	// State while emitting a closure entry point: the record layout and the
	// record pointer parameter, used to recover captured variables.
	curRecord    *CaptureRecord
	curRecordPtr llvm.Value

	// Globals for the closure dispatch tags, created on first use.
	stackClosureTag  llvm.Value
	globalClosureTag llvm.Value
}

func NewCompiler(ctx llvm.Context, name string, li layout.Info, helpers *HelperFuncTable) *Compiler {
	module := ctx.NewModule(name)
	builder := ctx.NewBuilder()

	if helpers == nil {
		helpers = NewHelperFuncTable()
	}

	return &Compiler{
		Context: ctx,
		Module:  module,
		builder: builder,
		Layout:  li,
		Helpers: helpers,
		EH:      true,
		Errors:  []*token.CompileError{},
		Scopes:  []Scope{NewScope(FuncScope)},
		vtables: make(map[*ast.ClassDecl]llvm.Value),
		vbts:    make(map[*ast.ClassDecl]llvm.Value),
	}
}

func (c *Compiler) GenerateIR() string {
	return c.Module.String()
}

// mapToLLVMType lowers a resolved Quill type. Class objects are modeled as
// byte arrays of their laid-out size; all sub-object addressing is explicit
// byte arithmetic against the layout service, never LLVM struct indices.
func (c *Compiler) mapToLLVMType(t ast.Type) llvm.Type {
	switch t.Kind() {
	case ast.IntKind:
		intType := t.(ast.Int)
		switch intType.Width {
		case 1:
			return c.Context.Int1Type()
		case 8:
			return c.Context.Int8Type()
		case 16:
			return c.Context.Int16Type()
		case 32:
			return c.Context.Int32Type()
		case 64:
			return c.Context.Int64Type()
		default:
			panic(fmt.Sprintf("unsupported int width: %d", intType.Width))
		}
	case ast.FloatKind:
		floatType := t.(ast.Float)
		switch floatType.Width {
		case 32:
			return c.Context.FloatType()
		case 64:
			return c.Context.DoubleType()
		default:
			panic(fmt.Sprintf("unsupported float width: %d", floatType.Width))
		}
	case ast.ComplexKind:
		comp := t.(ast.Complex)
		elem := c.mapToLLVMType(ast.Float{Width: comp.Width})
		return llvm.StructType([]llvm.Type{elem, elem}, false)
	case ast.PtrKind:
		return llvm.PointerType(c.mapToLLVMType(t.(ast.Ptr).Elem), 0)
	case ast.RefKind:
		return llvm.PointerType(c.mapToLLVMType(t.(ast.Ref).Elem), 0)
	case ast.ClosureKind:
		// A closure value is an opaque pointer to its capture record.
		return llvm.PointerType(c.Context.Int8Type(), 0)
	case ast.ClassKind:
		return llvm.ArrayType(c.Context.Int8Type(), arrayLen(c.Layout.SizeOf(t)))
	case ast.ArrayKind:
		arr := t.(ast.Array)
		return llvm.ArrayType(c.mapToLLVMType(arr.Elem), arrayLen(arr.Count))
	default:
		panic("unknown type in mapToLLVMType: " + t.String())
	}
}

// arrayLen narrows a byte or element count to the int the LLVM bindings
// take. A count that cannot be represented is an internal-consistency
// failure, not a user diagnostic.
func arrayLen(n uint64) int {
	v, err := safecast.Conv[int](n)
	if err != nil {
		panic(fmt.Sprintf("array length %d overflows the LLVM type builder", n))
	}
	return v
}

func (c *Compiler) i8PtrType() llvm.Type {
	return llvm.PointerType(c.Context.Int8Type(), 0)
}

func (c *Compiler) ConstI64(v uint64) llvm.Value {
	return llvm.ConstInt(c.Context.Int64Type(), v, false)
}

func (c *Compiler) ConstI32(v uint64) llvm.Value {
	return llvm.ConstInt(c.Context.Int32Type(), v, false)
}

func (c *Compiler) tmpName(prefix string) string {
	name := fmt.Sprintf("%s%d", prefix, c.tmpCounter)
	c.tmpCounter++
	return name
}

func (c *Compiler) createBasicBlock(name string) llvm.BasicBlock {
	return c.Context.AddBasicBlock(c.curFn, name)
}

// byteGEP produces addr + off as an i8 pointer.
func (c *Compiler) byteGEP(addr llvm.Value, off uint64, name string) llvm.Value {
	if off == 0 {
		return c.bitcastToI8Ptr(addr)
	}
	base := c.bitcastToI8Ptr(addr)
	return c.builder.CreateGEP(c.Context.Int8Type(), base, []llvm.Value{c.ConstI64(off)}, name)
}

// byteGEPValue is byteGEP with a runtime byte offset.
func (c *Compiler) byteGEPValue(addr llvm.Value, off llvm.Value, name string) llvm.Value {
	base := c.bitcastToI8Ptr(addr)
	return c.builder.CreateGEP(c.Context.Int8Type(), base, []llvm.Value{off}, name)
}

func (c *Compiler) bitcastToI8Ptr(v llvm.Value) llvm.Value {
	if v.Type() == c.i8PtrType() {
		return v
	}
	return c.builder.CreateBitCast(v, c.i8PtrType(), "")
}

// unsupported records a construct the lowering core does not handle. The
// current function's codegen is abandoned; the rest of the compilation
// continues.
func (c *Compiler) unsupported(pos token.Pos, what string) {
	c.Errors = append(c.Errors, &token.CompileError{
		Pos: pos,
		Msg: "unsupported construct in lowering: " + what,
	})
}

// startFunction positions the builder in a fresh entry block of fn and
// makes fn the current emission target. It returns the previous state so
// nested function generation (helpers, entry points) can restore it.
func (c *Compiler) startFunction(fn llvm.Value) (prevFn llvm.Value, prevBlock llvm.BasicBlock) {
	prevFn, prevBlock = c.curFn, c.builder.GetInsertBlock()
	c.curFn = fn
	entry := c.Context.AddBasicBlock(fn, "entry")
	c.builder.SetInsertPointAtEnd(entry)
	return prevFn, prevBlock
}

func (c *Compiler) finishFunction(prevFn llvm.Value, prevBlock llvm.BasicBlock) {
	c.curFn = prevFn
	if !prevBlock.IsNil() {
		c.builder.SetInsertPointAtEnd(prevBlock)
	}
}

// Function declaration helpers. Every generated function takes byte
// pointers for object addresses; typed access happens through explicit
// offsets, so the signatures stay uniform across classes.

// needsVBTParameter reports whether a base-variant constructor or
// destructor of class must receive a virtual-base-table argument from its
// caller. Complete variants locate the table themselves.
func needsVBTParameter(class *ast.ClassDecl, base bool) bool {
	return base && len(class.VBases) > 0
}

func (c *Compiler) ctorFnType(ctor *ast.ConstructorDecl, variant CtorVariant) llvm.Type {
	params := []llvm.Type{c.i8PtrType()}
	if needsVBTParameter(ctor.Class, variant == CtorBase) {
		params = append(params, c.i8PtrType())
	}
	if ctor.IsCopy {
		params = append(params, c.i8PtrType())
	} else {
		for _, p := range ctor.Params {
			params = append(params, c.mapToLLVMType(p.VType))
		}
	}
	return llvm.FunctionType(c.Context.VoidType(), params, false)
}

func (c *Compiler) ctorFunction(ctor *ast.ConstructorDecl, variant CtorVariant) llvm.Value {
	name := MangleCtor(ctor.Class, variant)
	fn := c.Module.NamedFunction(name)
	if fn.IsNil() {
		fn = llvm.AddFunction(c.Module, name, c.ctorFnType(ctor, variant))
	}
	return fn
}

func (c *Compiler) dtorFnType(class *ast.ClassDecl, variant DtorVariant) llvm.Type {
	params := []llvm.Type{c.i8PtrType()}
	if needsVBTParameter(class, variant == DtorBase) {
		params = append(params, c.i8PtrType())
	}
	return llvm.FunctionType(c.Context.VoidType(), params, false)
}

func (c *Compiler) dtorFunction(class *ast.ClassDecl, variant DtorVariant) llvm.Value {
	name := MangleDtor(class, variant)
	fn := c.Module.NamedFunction(name)
	if fn.IsNil() {
		fn = llvm.AddFunction(c.Module, name, c.dtorFnType(class, variant))
	}
	return fn
}

func (c *Compiler) copyAssignFnType() llvm.Type {
	return llvm.FunctionType(c.i8PtrType(), []llvm.Type{c.i8PtrType(), c.i8PtrType()}, false)
}

func (c *Compiler) copyAssignFunction(class *ast.ClassDecl) llvm.Value {
	name := MangleCopyAssign(class)
	fn := c.Module.NamedFunction(name)
	if fn.IsNil() {
		fn = llvm.AddFunction(c.Module, name, c.copyAssignFnType())
	}
	return fn
}

// vtableGlobal returns (declaring if needed) the vtable array global for a
// dynamic class. The vtable's contents are produced by a separate vtable
// builder; lowering only takes addresses into it.
func (c *Compiler) vtableGlobal(class *ast.ClassDecl) llvm.Value {
	if g, ok := c.vtables[class]; ok {
		return g
	}
	g := llvm.AddGlobal(c.Module, c.i8PtrType(), MangleVTable(class))
	c.vtables[class] = g
	return g
}

// vbtGlobal returns the virtual-base-table global for a class with virtual
// bases: an array of sub-table entries indexed by layout.SubVBTIndex.
func (c *Compiler) vbtGlobal(class *ast.ClassDecl) llvm.Value {
	if g, ok := c.vbts[class]; ok {
		return g
	}
	g := llvm.AddGlobal(c.Module, c.i8PtrType(), MangleVBT(class))
	c.vbts[class] = g
	return g
}
