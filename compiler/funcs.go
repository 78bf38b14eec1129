package compiler

import "tinygo.org/x/go-llvm"

const (
	// System functions
	MEMCPY = "memcpy"
	MEMSET = "memset"
	FREE   = "free"

	// Capture runtime primitives (runtime/quill_capture.c)
	CAPTURE_ASSIGN  = "quill_capture_assign"
	CAPTURE_RELEASE = "quill_capture_release"
)

// GetFnType returns the LLVM FunctionType for a runtime helper name, like
// "memcpy" or "quill_capture_release".
func (c *Compiler) GetFnType(name string) llvm.Type {
	i8Ptr := llvm.PointerType(c.Context.Int8Type(), 0)
	switch name {
	case MEMCPY:
		return llvm.FunctionType(
			i8Ptr,
			[]llvm.Type{i8Ptr, i8Ptr, c.Context.Int64Type()},
			false,
		)
	case MEMSET:
		return llvm.FunctionType(
			i8Ptr,
			[]llvm.Type{i8Ptr, c.Context.Int32Type(), c.Context.Int64Type()},
			false,
		)
	case FREE:
		return llvm.FunctionType(
			c.Context.VoidType(),
			[]llvm.Type{i8Ptr},
			false,
		)
	case CAPTURE_ASSIGN:
		return llvm.FunctionType(
			c.Context.VoidType(),
			[]llvm.Type{i8Ptr, i8Ptr, c.Context.Int32Type()},
			false,
		)
	case CAPTURE_RELEASE:
		return llvm.FunctionType(
			c.Context.VoidType(),
			[]llvm.Type{i8Ptr, c.Context.Int32Type()},
			false,
		)
	default:
		panic("Unknown function name: " + name)
	}
}

func (c *Compiler) GetCFunc(name string) (llvm.Type, llvm.Value) {
	fnType := c.GetFnType(name)
	fn := c.Module.NamedFunction(name)
	if fn.IsNil() {
		fn = llvm.AddFunction(c.Module, name, fnType)
	}

	return fnType, fn
}
