package compiler

import (
	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// CompileClass emits every function a class definition requires: declared
// constructors in both variants, the synthesized copy operations when the
// implicit ones are non-trivial, and the destructor variants.
func (c *Compiler) CompileClass(class *ast.ClassDecl) {
	emittedDefault := false
	for _, ctor := range class.Ctors {
		if ctor.IsCopy && ctor.Implicit {
			continue
		}
		c.EmitConstructor(ctor, CtorComplete)
		c.EmitConstructor(ctor, CtorBase)
		if ctor.IsDefault {
			emittedDefault = true
		}
	}
	if !emittedDefault && !defaultCtorIsTrivial(class) {
		dflt := implicitDefaultCtor(class)
		c.EmitConstructor(dflt, CtorComplete)
		c.EmitConstructor(dflt, CtorBase)
	}

	if !class.HasUserCopyCtor && !class.TrivialCopyCtor {
		c.SynthesizeCopyCtor(class)
	}
	if !class.HasUserCopyAssign && !class.TrivialCopyAssign {
		c.SynthesizeCopyAssign(class)
	}

	if class.Dtor != nil && !class.Dtor.Trivial {
		c.EmitDestructor(class.Dtor, DtorBase)
		c.EmitDestructor(class.Dtor, DtorComplete)
		if class.Dynamic {
			c.EmitDestructor(class.Dtor, DtorDeleting)
		}
	}
}

// CompileClosureHost wraps one closure expression in a host function that
// materializes the enclosing-scope locals the closure captures, then
// evaluates the literal. This is how closures enter the module when the
// engine is driven by fixtures instead of a frontend.
func (c *Compiler) CompileClosureHost(name string, locals []*ast.VarDecl, expr *ast.ClosureExpr) llvm.Value {
	fnTy := llvm.FunctionType(c.Context.VoidType(), nil, false)
	fn := llvm.AddFunction(c.Module, name, fnTy)

	prevFn, prevBlock := c.startFunction(fn)
	defer c.finishFunction(prevFn, prevBlock)

	PushScope(&c.Scopes, FuncScope)
	defer PopScope(&c.Scopes)

	prevCleanups := c.pushCleanupScope()
	defer c.popCleanupScope(prevCleanups)

	for _, l := range locals {
		ty := c.mapToLLVMType(l.VType)
		slot := c.builder.CreateAlloca(ty, l.Name)
		Put(c.Scopes, l, &Symbol{Ptr: slot, Type: l.VType})
		if cls := ast.ClassOf(l.VType); cls != nil {
			c.EmitCtorCall(implicitDefaultCtor(cls), CtorComplete, slot, nil, cls, cls)
		}
	}

	c.EmitClosureLiteral(expr)
	c.builder.CreateRetVoid()
	return fn
}
