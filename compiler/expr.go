package compiler

import (
	"fmt"

	"tinygo.org/x/go-llvm"

	"github.com/quill-lang/quill/ast"
)

// compileStatements lowers a body into the current block. The return value
// reports whether the body ended in a terminator; callers emit the default
// return otherwise. Statements after a return are unreachable and dropped.
func (c *Compiler) compileStatements(stmts []ast.Statement) bool {
	for _, stmt := range stmts {
		switch s := stmt.(type) {
		case *ast.DeclStatement:
			c.compileDecl(s)
		case *ast.AssignStatement:
			addr := c.compileAddr(s.Target)
			c.storeTyped(addr, c.compileValueOrAddr(s.Value), s.Target.Type())
		case *ast.ExprStatement:
			c.compileExpr(s.Expr)
		case *ast.ReturnStatement:
			if s.Value != nil {
				c.builder.CreateRet(c.compileExpr(s.Value))
			} else {
				c.builder.CreateRetVoid()
			}
			return true
		default:
			panic(fmt.Sprintf("unknown statement %T", stmt))
		}
	}
	return false
}

func (c *Compiler) compileDecl(s *ast.DeclStatement) {
	d := s.Decl
	ty := c.mapToLLVMType(d.VType)
	slot := c.builder.CreateAlloca(ty, d.Name)
	Put(c.Scopes, d, &Symbol{Ptr: slot, Type: d.VType})

	if s.Value == nil {
		if cls := ast.ClassOf(d.VType); cls != nil {
			ctor := implicitDefaultCtor(cls)
			c.EmitCtorCall(ctor, CtorComplete, slot, nil, cls, cls)
			c.registerCleanup(cls, cls, slot, DtorComplete)
		}
		return
	}
	c.storeTyped(slot, c.compileValueOrAddr(s.Value), d.VType)
}

// compileValueOrAddr yields a scalar value, or the source address for
// class-typed expressions, which are always handled by reference.
func (c *Compiler) compileValueOrAddr(e ast.Expression) llvm.Value {
	if ast.ClassOf(e.Type()) != nil {
		return c.compileAddr(e)
	}
	return c.compileExpr(e)
}

func (c *Compiler) compileExpr(e ast.Expression) llvm.Value {
	switch v := e.(type) {
	case *ast.IntLit:
		return llvm.ConstInt(c.mapToLLVMType(v.LType), uint64(v.Value), true)
	case *ast.FloatLit:
		return llvm.ConstFloat(c.mapToLLVMType(v.LType), v.Value)
	case *ast.VarRef:
		if v.Decl.VType.Kind() == ast.ComplexKind {
			// Complex values have no scalar lowering here.
			c.unsupported(v.Token, fmt.Sprintf("complex-typed variable %s on a scalar path", v.Decl.Name))
			return llvm.Undef(c.mapToLLVMType(v.Decl.VType))
		}
		sym := c.lookupSymbol(v.Decl)
		ty := c.mapToLLVMType(v.Decl.VType)
		addr := c.typedPtr(sym.Ptr, ty)
		return c.builder.CreateLoad(ty, addr, v.Decl.Name)
	case *ast.AddrOf:
		return c.compileAddr(v.Operand)
	case *ast.BinaryExpr:
		return c.compileBinary(v)
	case *ast.ClosureExpr:
		return c.EmitClosureLiteral(v)
	case *ast.CallExpr:
		return c.compileCall(v)
	default:
		panic(fmt.Sprintf("unknown expression %T", e))
	}
}

// compileAddr lowers an expression to the address of its storage.
func (c *Compiler) compileAddr(e ast.Expression) llvm.Value {
	ref, ok := e.(*ast.VarRef)
	if !ok {
		panic(fmt.Sprintf("cannot take the address of %T", e))
	}
	return c.lookupSymbol(ref.Decl).Ptr
}

// lookupSymbol resolves a declaration to its storage, falling back to the
// active capture record when scope search stops at the function boundary.
func (c *Compiler) lookupSymbol(d *ast.VarDecl) *Symbol {
	if sym, ok := Get(c.Scopes, d); ok {
		return sym
	}
	return c.capturedSymbol(d)
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) llvm.Value {
	l := c.compileExpr(e.Left)
	r := c.compileExpr(e.Right)

	if e.Left.Type().Kind() == ast.FloatKind {
		switch e.Op {
		case "+":
			return c.builder.CreateFAdd(l, r, "")
		case "-":
			return c.builder.CreateFSub(l, r, "")
		case "*":
			return c.builder.CreateFMul(l, r, "")
		case "/":
			return c.builder.CreateFDiv(l, r, "")
		case "<":
			return c.builder.CreateFCmp(llvm.FloatOLT, l, r, "")
		case "==":
			return c.builder.CreateFCmp(llvm.FloatOEQ, l, r, "")
		}
		panic("unknown float operator " + e.Op)
	}

	switch e.Op {
	case "+":
		return c.builder.CreateAdd(l, r, "")
	case "-":
		return c.builder.CreateSub(l, r, "")
	case "*":
		return c.builder.CreateMul(l, r, "")
	case "/":
		return c.builder.CreateSDiv(l, r, "")
	case "<":
		return c.builder.CreateICmp(llvm.IntSLT, l, r, "")
	case "==":
		return c.builder.CreateICmp(llvm.IntEQ, l, r, "")
	}
	panic("unknown integer operator " + e.Op)
}

func (c *Compiler) compileCall(e *ast.CallExpr) llvm.Value {
	args := make([]llvm.Value, len(e.Args))
	for i, a := range e.Args {
		args[i] = c.compileExpr(a)
	}

	ct, ok := e.Callee.Type().(ast.Closure)
	if !ok {
		panic(fmt.Sprintf("call of non-invocable type %s", e.Callee.Type()))
	}

	// Free functions are called directly, never through a record.
	if ref, isRef := e.Callee.(*ast.VarRef); isRef && ref.Decl.IsFunc {
		params := make([]llvm.Type, len(ct.Params))
		for i, p := range ct.Params {
			params[i] = c.mapToLLVMType(p)
		}
		retTy := c.Context.VoidType()
		name := ""
		if ct.Result != nil {
			retTy = c.mapToLLVMType(ct.Result)
			name = "call"
		}
		fnTy := llvm.FunctionType(retTy, params, false)
		fn := c.Module.NamedFunction(ref.Decl.Name)
		if fn.IsNil() {
			fn = llvm.AddFunction(c.Module, ref.Decl.Name, fnTy)
		}
		return c.builder.CreateCall(fnTy, fn, args, name)
	}

	closure := c.compileExpr(e.Callee)
	return c.EmitClosureCall(closure, ct, args)
}

// storeTyped stores v through an address that may still be a raw byte
// pointer.
func (c *Compiler) storeTyped(addr, v llvm.Value, t ast.Type) {
	if cls := ast.ClassOf(t); cls != nil {
		// Class-typed assignment goes through the copy-assignment
		// operator; the value here is the source address.
		if cls.TrivialCopyAssign {
			c.emitMemCpy(addr, v, c.Layout.SizeOf(t))
			return
		}
		c.builder.CreateCall(c.copyAssignFnType(), c.copyAssignFunction(cls),
			[]llvm.Value{c.bitcastToI8Ptr(addr), c.bitcastToI8Ptr(v)}, "")
		return
	}
	ty := c.mapToLLVMType(t)
	c.builder.CreateStore(v, c.typedPtr(addr, ty))
}

func (c *Compiler) typedPtr(addr llvm.Value, elem llvm.Type) llvm.Value {
	want := llvm.PointerType(elem, 0)
	if addr.Type() == want {
		return addr
	}
	return c.builder.CreateBitCast(addr, want, "")
}
