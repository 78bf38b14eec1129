package compiler

import (
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// cleanupObligation is one not-yet-released destructor call: a sub-object
// that has been fully constructed and must be destroyed if a later
// initializer in the same constructor fails. enclosing is the class whose
// virtual-base table is in scope when the obligation drains; base-variant
// calls slice their sub-table out of it.
type cleanupObligation struct {
	enclosing *ast.ClassDecl
	class     *ast.ClassDecl
	addr      llvm.Value
	variant   DtorVariant
}

// cleanupScope is the per-constructor list of pending obligations. It is
// owned exclusively by the constructor-lowering call that created it and
// discarded when that constructor's body is fully lowered. Obligations are
// pushed as each initializer completes and drained in reverse on the
// failure path.
type cleanupScope struct {
	pending []cleanupObligation
}

func (c *Compiler) pushCleanupScope() *cleanupScope {
	prev := c.curCleanups
	c.curCleanups = &cleanupScope{}
	return prev
}

func (c *Compiler) popCleanupScope(prev *cleanupScope) {
	c.curCleanups = prev
}

// registerCleanup records a destructor obligation for a just-completed
// sub-object. No-op when exception-aware codegen is off or the type is
// trivially destructible.
func (c *Compiler) registerCleanup(enclosing, class *ast.ClassDecl, addr llvm.Value, variant DtorVariant) {
	if !c.EH || class.TrivialDtor || c.curCleanups == nil {
		return
	}
	c.curCleanups.pending = append(c.curCleanups.pending, cleanupObligation{
		enclosing: enclosing,
		class:     class,
		addr:      addr,
		variant:   variant,
	})
}

// emitPendingCleanups drains the current scope's obligations in reverse
// registration order into the current block. This is the body of the
// failure path: exactly the already-constructed sub-objects are destroyed,
// newest first, before the failure propagates outward.
func (c *Compiler) emitPendingCleanups() {
	if c.curCleanups == nil {
		return
	}
	for i := len(c.curCleanups.pending) - 1; i >= 0; i-- {
		ob := c.curCleanups.pending[i]
		c.emitDtorCall(ob.enclosing, ob.class, ob.addr, ob.variant)
	}
}

// emitDtorCall invokes one destructor variant on addr. Trivial destructors
// emit nothing. enclosing is the class whose virtual-base table is live at
// the call site; when a base-variant call needs a table and the target is
// a proper sub-object of enclosing, its sub-table is sliced out exactly as
// construction slices it.
func (c *Compiler) emitDtorCall(enclosing, class *ast.ClassDecl, addr llvm.Value, variant DtorVariant) {
	if class.TrivialDtor && variant != DtorDeleting {
		return
	}
	fn := c.dtorFunction(class, variant)
	args := []llvm.Value{c.bitcastToI8Ptr(addr)}
	if needsVBTParameter(class, variant == DtorBase) {
		if enclosing == class {
			args = append(args, c.subVBTSelf(class))
		} else {
			args = append(args, c.subVBT(enclosing, class))
		}
	}
	c.builder.CreateCall(c.dtorFnType(class, variant), fn, args, "")
}

// subVBTSelf is the virtual-base-table argument for a base-variant call on
// a complete object of class.
func (c *Compiler) subVBTSelf(class *ast.ClassDecl) llvm.Value {
	if !c.curVBT.IsNil() {
		return c.curVBT
	}
	return c.builder.CreateBitCast(c.vbtGlobal(class), c.i8PtrType(), "")
}
