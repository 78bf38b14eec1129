package compiler

import (
	"fmt"
	"strings"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// helperKey identifies one capture-record shape: the byte layout of its
// flagged slots and the combined flag mask. Structurally identical records
// from unrelated closures share one generated helper through this key.
type helperKey struct {
	Layout string
	Flags  uint32
}

// HelperFuncTable caches generated copy and destroy helpers for the whole
// lowering run. The pipeline is single-threaded, so lookup-or-insert with
// no locking is safe; entries are never evicted. The cached values are
// function handles inside one llvm.Module, so a table must only ever be
// shared between compilers emitting into the same module.
type HelperFuncTable struct {
	copies    map[helperKey]llvm.Value
	destroys  map[helperKey]llvm.Value
	generated int
}

func NewHelperFuncTable() *HelperFuncTable {
	return &HelperFuncTable{
		copies:   make(map[helperKey]llvm.Value),
		destroys: make(map[helperKey]llvm.Value),
	}
}

// Generated reports how many distinct helper functions have been emitted,
// counting shared ones once.
func (t *HelperFuncTable) Generated() int { return t.generated }

// keyFor folds a record's flagged slots into a value-comparable key:
// record size and alignment class, then (offset, size, flavor) per slot
// needing runtime participation, plus the record's flag mask. Slots that
// copy bitwise do not influence sharing.
func (r *CaptureRecord) key() helperKey {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d", r.Size, r.Align)
	for _, s := range r.Slots {
		if !s.NeedsHelpers {
			continue
		}
		fmt.Fprintf(&b, ";%d:%d:%d", s.Offset, s.Size, s.flavor())
	}
	return helperKey{Layout: b.String(), Flags: r.flags()}
}

// GenerateCopyHelper returns the copy helper for a record shape,
// generating it on first sight. The helper takes destination and source
// record pointers and hands each flagged slot to the runtime's
// retain/copy primitive with its flavor tag.
func (c *Compiler) GenerateCopyHelper(rec *CaptureRecord) llvm.Value {
	key := rec.key()
	if fn, ok := c.Helpers.copies[key]; ok {
		return fn
	}

	fnTy := llvm.FunctionType(c.Context.VoidType(), []llvm.Type{c.i8PtrType(), c.i8PtrType()}, false)
	fn := llvm.AddFunction(c.Module, fmt.Sprintf("_QCH_copy_%d", c.Helpers.generated), fnTy)
	fn.SetLinkage(llvm.InternalLinkage)
	c.Helpers.copies[key] = fn
	c.Helpers.generated++

	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)
	prevCleanups := c.pushCleanupScope()
	defer c.popCleanupScope(prevCleanups)

	dst, src := fn.Param(0), fn.Param(1)
	assignTy, assign := c.GetCFunc(CAPTURE_ASSIGN)
	for _, s := range rec.Slots {
		if !s.NeedsHelpers {
			continue
		}
		dstField := c.byteGEP(dst, s.Offset, "dst.field")
		srcField := c.byteGEP(src, s.Offset, "src.field")
		if s.flavor() == captureFieldValue {
			// A class value lives inline in the slot; its own copy
			// constructor does the work, not the generic primitive.
			cls := ast.ClassOf(s.Decl.VType)
			ctor := cls.CopyCtor()
			if ctor == nil {
				ctor = &ast.ConstructorDecl{Class: cls, Implicit: true, IsCopy: true}
			}
			c.builder.CreateCall(c.ctorFnType(ctor, CtorComplete), c.ctorFunction(ctor, CtorComplete),
				[]llvm.Value{dstField, srcField}, "")
			continue
		}
		srcSlot := c.builder.CreateBitCast(srcField, llvm.PointerType(c.i8PtrType(), 0), "")
		srcVal := c.builder.CreateLoad(c.i8PtrType(), srcSlot, "")
		c.builder.CreateCall(assignTy, assign, []llvm.Value{
			dstField, srcVal, c.ConstI32(s.flavor()),
		}, "")
	}
	c.builder.CreateRetVoid()
	return fn
}

// GenerateDestroyHelper is the release-side mirror of GenerateCopyHelper.
func (c *Compiler) GenerateDestroyHelper(rec *CaptureRecord) llvm.Value {
	key := rec.key()
	if fn, ok := c.Helpers.destroys[key]; ok {
		return fn
	}

	fnTy := llvm.FunctionType(c.Context.VoidType(), []llvm.Type{c.i8PtrType()}, false)
	fn := llvm.AddFunction(c.Module, fmt.Sprintf("_QCH_destroy_%d", c.Helpers.generated), fnTy)
	fn.SetLinkage(llvm.InternalLinkage)
	c.Helpers.destroys[key] = fn
	c.Helpers.generated++

	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)
	prevCleanups := c.pushCleanupScope()
	defer c.popCleanupScope(prevCleanups)

	rec0 := fn.Param(0)
	releaseTy, release := c.GetCFunc(CAPTURE_RELEASE)
	for _, s := range rec.Slots {
		if !s.NeedsHelpers {
			continue
		}
		field := c.byteGEP(rec0, s.Offset, "field")
		if s.flavor() == captureFieldValue {
			cls := ast.ClassOf(s.Decl.VType)
			c.emitDtorCall(cls, cls, field, DtorComplete)
			continue
		}
		slot := c.builder.CreateBitCast(field, llvm.PointerType(c.i8PtrType(), 0), "")
		val := c.builder.CreateLoad(c.i8PtrType(), slot, "")
		c.builder.CreateCall(releaseTy, release, []llvm.Value{
			val, c.ConstI32(s.flavor()),
		}, "")
	}
	c.builder.CreateRetVoid()
	return fn
}
