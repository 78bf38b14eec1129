package ast

import (
	"fmt"
	"strings"
)

type Kind int

const (
	UnresolvedKind Kind = iota
	IntKind
	FloatKind
	ComplexKind
	PtrKind
	RefKind
	ClassKind
	ArrayKind
	ClosureKind
)

// Type is the interface for all resolved Quill types. Upstream semantic
// analysis has already checked everything; lowering only inspects kinds,
// widths and class structure.
type Type interface {
	String() string
	Kind() Kind
}

// Common concrete types (aliases) for readability.
var (
	I1  Type = Int{Width: 1}
	I8  Type = Int{Width: 8}
	I32 Type = Int{Width: 32}
	I64 Type = Int{Width: 64}
	F64 Type = Float{Width: 64}
)

// Int represents an integer type with a given bit width.
type Int struct {
	Width uint32 // e.g. 8, 16, 32, 64
}

func (i Int) String() string {
	return fmt.Sprintf("I%d", i.Width)
}

func (i Int) Kind() Kind {
	return IntKind
}

// Float represents a floating-point type with a given precision.
type Float struct {
	Width uint32 // e.g. 32, 64
}

func (f Float) String() string {
	return fmt.Sprintf("F%d", f.Width)
}

func (f Float) Kind() Kind {
	return FloatKind
}

// Complex is a paired-float type. The lowering core does not support it on
// scalar paths; it exists so that the unsupported-construct diagnostic has
// something concrete to fire on.
type Complex struct {
	Width uint32 // per component
}

func (c Complex) String() string {
	return fmt.Sprintf("C%d", c.Width)
}

func (c Complex) Kind() Kind {
	return ComplexKind
}

// Ptr represents a pointer type to some element type.
type Ptr struct {
	Elem Type
}

func (p Ptr) String() string {
	return fmt.Sprintf("Ptr_%s", p.Elem.String())
}

func (p Ptr) Kind() Kind {
	return PtrKind
}

// Ref represents a reference type. Reference-typed members bind to storage
// during construction instead of copying a value.
type Ref struct {
	Elem Type
}

func (r Ref) String() string {
	return fmt.Sprintf("Ref_%s", r.Elem.String())
}

func (r Ref) Kind() Kind {
	return RefKind
}

// Class is the type of an object of a class declaration.
type Class struct {
	Decl *ClassDecl
}

func (c Class) String() string {
	return c.Decl.Name
}

func (c Class) Kind() Kind {
	return ClassKind
}

// Array is a constant-size array type. Variable-length arrays never reach
// the lowering core.
type Array struct {
	Elem  Type
	Count uint64
}

func (a Array) String() string {
	return fmt.Sprintf("[%d]%s", a.Count, a.Elem.String())
}

func (a Array) Kind() Kind {
	return ArrayKind
}

// Closure is the type of a closure value: an opaque pointer to a capture
// record whose header carries the entry point.
type Closure struct {
	Params []Type
	Result Type // nil for no result
}

func (c Closure) String() string {
	var sb strings.Builder
	sb.WriteString("^(")
	for i, p := range c.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(p.String())
	}
	sb.WriteString(")")
	if c.Result != nil {
		sb.WriteString(" ")
		sb.WriteString(c.Result.String())
	}
	return sb.String()
}

func (c Closure) Kind() Kind {
	return ClosureKind
}

// IsScalar reports whether t is copied by a plain load and store.
func IsScalar(t Type) bool {
	switch t.Kind() {
	case IntKind, FloatKind, PtrKind, ClosureKind:
		return true
	}
	return false
}

// ElementType strips array layers down to the underlying element type.
func ElementType(t Type) Type {
	for t.Kind() == ArrayKind {
		t = t.(Array).Elem
	}
	return t
}

// ClassOf returns the class declaration behind t, unwrapping arrays, or nil
// if the underlying type is not a class type.
func ClassOf(t Type) *ClassDecl {
	u := ElementType(t)
	if u.Kind() != ClassKind {
		return nil
	}
	return u.(Class).Decl
}
